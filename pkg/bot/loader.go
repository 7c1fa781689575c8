package bot

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/pandora/pkg/chatgpt"
)

// ConversationFetcher is the slice of the backend client the loader needs.
type ConversationFetcher interface {
	GetConversation(ctx context.Context, conversationID string, tokenKey string) (*chatgpt.Conversation, error)
}

// ConversationLoader rebuilds a ConversationState from the remote message
// tree, walking parent pointers from the current leaf back to the root and
// replaying the turns onto the transcript writer.
type ConversationLoader struct {
	client   ConversationFetcher
	w        io.Writer
	tokenKey string

	// renderAssistant, when set, post-processes assistant text before it is
	// written (markdown rendering on a tty).
	renderAssistant func(string) (string, error)

	// banner is called with the conversation title once it is known, before
	// the transcript is replayed.
	banner func(title string)
}

type LoaderOption func(*ConversationLoader)

func WithTranscriptWriter(w io.Writer) LoaderOption {
	return func(l *ConversationLoader) {
		l.w = w
	}
}

func WithTokenKey(tokenKey string) LoaderOption {
	return func(l *ConversationLoader) {
		l.tokenKey = tokenKey
	}
}

func WithAssistantRenderer(render func(string) (string, error)) LoaderOption {
	return func(l *ConversationLoader) {
		l.renderAssistant = render
	}
}

func WithBanner(banner func(title string)) LoaderOption {
	return func(l *ConversationLoader) {
		l.banner = banner
	}
}

func NewConversationLoader(client ConversationFetcher, options ...LoaderOption) *ConversationLoader {
	ret := &ConversationLoader{
		client: client,
		w:      io.Discard,
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

// Load fetches the conversation and walks it root to leaf. An empty
// conversation id is the "start fresh" short-circuit: no fetch, nil state.
func (l *ConversationLoader) Load(ctx context.Context, conversationID string) (*ConversationState, error) {
	if conversationID == "" {
		return nil, nil
	}

	conversation, err := l.client.GetConversation(ctx, conversationID, l.tokenKey)
	if err != nil {
		return nil, err
	}

	state := NewConversationState(
		WithConversationID(conversationID),
		WithTitle(conversation.Title),
	)

	if l.banner != nil {
		l.banner(conversation.Title)
	}

	nodes := l.pathToRoot(conversation)
	log.Debug().Str("conversation_id", conversationID).Int("nodes", len(nodes)).Msg("loaded conversation path")

	merge := false
	for _, node := range nodes {
		message := node.Message
		if message == nil {
			continue
		}

		if slug := message.ModelSlug(); slug != "" {
			state.ModelSlug = slug
		}

		var prompt *ChatPrompt
		switch message.Role() {
		case chatgpt.RoleUser:
			prompt = state.UserPrompt
			state.History = append(state.History, NewChatPrompt(message.Text(),
				WithParentID(node.Parent),
				WithMessageID(node.ID),
			))

			merge = false
			fmt.Fprintf(l.w, "You:\n%s\n", message.Text())

		case chatgpt.RoleAssistant:
			prompt = state.AssistantPrompt

			if !merge {
				fmt.Fprintf(l.w, "ChatGPT:\n")
			}
			fmt.Fprintf(l.w, "%s\n", l.renderedAssistantText(message.Text()))

			merge = message.EndTurn.SoftBreak()

		default:
			// system and tool nodes are part of the tree but not of the
			// transcript
			continue
		}

		prompt.Text = message.Text()
		prompt.ParentID = node.Parent
		prompt.MessageID = node.ID

		if !merge {
			fmt.Fprintln(l.w)
		}
	}

	return state, nil
}

// pathToRoot walks parent links from the current leaf upward and returns the
// nodes in root-to-leaf order. The walk is iterative and guarded against
// cycles; the parentless root marker is excluded.
func (l *ConversationLoader) pathToRoot(conversation *chatgpt.Conversation) []chatgpt.Node {
	var nodes []chatgpt.Node
	seen := map[string]bool{}

	current := conversation.CurrentNode
	for current != "" && !seen[current] {
		seen[current] = true

		node, ok := conversation.Mapping[current]
		if !ok {
			log.Warn().Str("node_id", current).Msg("dangling parent pointer in conversation mapping")
			break
		}
		if node.Parent == "" {
			break
		}

		nodes = append([]chatgpt.Node{node}, nodes...)
		current = node.Parent
	}

	return nodes
}

func (l *ConversationLoader) renderedAssistantText(text string) string {
	if l.renderAssistant == nil {
		return text
	}
	rendered, err := l.renderAssistant(text)
	if err != nil {
		log.Warn().Err(err).Msg("failed to render assistant text")
		return text
	}
	return rendered
}
