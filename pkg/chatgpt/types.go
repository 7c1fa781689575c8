package chatgpt

import (
	"encoding/json"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleTool      Role = "tool"
)

// NormalizeRole maps the role spellings seen in the wild onto the canonical
// set. The backend sometimes labels assistant turns "model" and user turns
// "human" depending on which surface produced the node.
func NormalizeRole(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "assistant", "model", "chatgpt":
		return RoleAssistant
	case "user", "human":
		return RoleUser
	case "system":
		return RoleSystem
	case "tool":
		return RoleTool
	default:
		return Role(strings.ToLower(strings.TrimSpace(role)))
	}
}

type Author struct {
	Role     string                 `json:"role"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type Content struct {
	ContentType string   `json:"content_type,omitempty"`
	Parts       []string `json:"parts"`
}

// EndTurn keeps the wire field's full tri-state: absent, explicit null, or a
// boolean. The backend uses an explicit null on an assistant node to mean
// "more assistant text follows in the next node", while an absent field means
// the turn is complete. Collapsing this to a bool inverts the rendering of
// multi-node replies.
type EndTurn struct {
	Present bool
	Value   *bool
}

func (e *EndTurn) UnmarshalJSON(data []byte) error {
	e.Present = true
	e.Value = nil
	if string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, &e.Value)
}

func (e EndTurn) MarshalJSON() ([]byte, error) {
	if e.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*e.Value)
}

// SoftBreak reports whether the node is a soft line break within one logical
// reply, i.e. end_turn was present but null.
func (e EndTurn) SoftBreak() bool {
	return e.Present && e.Value == nil
}

// Message is one node payload in the conversation tree. The role lives either
// under author.role or in a plain role field depending on the schema
// generation; use Role() rather than reading either field directly.
type Message struct {
	ID        string                 `json:"id"`
	Author    *Author                `json:"author,omitempty"`
	RawRole   string                 `json:"role,omitempty"`
	Content   Content                `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	EndTurn   EndTurn                `json:"end_turn,omitempty"`
	Recipient string                 `json:"recipient,omitempty"`
}

func (m *Message) Role() Role {
	if m.Author != nil {
		return NormalizeRole(m.Author.Role)
	}
	return NormalizeRole(m.RawRole)
}

func (m *Message) Text() string {
	if len(m.Content.Parts) == 0 {
		return ""
	}
	return m.Content.Parts[0]
}

// ModelSlug returns the model recorded in the node metadata, or "".
func (m *Message) ModelSlug() string {
	if m.Metadata == nil {
		return ""
	}
	slug, _ := m.Metadata["model_slug"].(string)
	return slug
}

// Node is one entry of a conversation's mapping. The root marker has no
// parent and usually no message.
type Node struct {
	ID       string   `json:"id"`
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children,omitempty"`
	Message  *Message `json:"message,omitempty"`
}

// Conversation is the remote message tree, reachable from CurrentNode via
// parent pointers.
type Conversation struct {
	Title       string          `json:"title"`
	CurrentNode string          `json:"current_node"`
	Mapping     map[string]Node `json:"mapping"`
}

type ConversationItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Conversations struct {
	Items  []ConversationItem `json:"items"`
	Total  int                `json:"total"`
	Offset int                `json:"offset"`
	Limit  int                `json:"limit"`
}

type Model struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// StreamEvent is one decoded server-sent event of a talk/regenerate/continue
// stream. Message.Content.Parts carries the full text so far, not a delta.
type StreamEvent struct {
	Error          string   `json:"error,omitempty"`
	Message        *Message `json:"message,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
}
