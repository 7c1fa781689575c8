package bot

// ConversationState is the session's view of one conversation: the active
// user and assistant turns, the ordered user turn history, and the edit
// sub-state. Exactly one state is live at a time; starting, loading or
// deleting a conversation replaces it wholesale.
//
// UserPrompt and AssistantPrompt are the two active slots of the remote tree
// path. The ReplyStreamConsumer is the only component that mutates them while
// a reply streams; the TurnController reads them between turns.
type ConversationState struct {
	Title          string
	ConversationID string
	ModelSlug      string

	UserPrompt      *ChatPrompt
	AssistantPrompt *ChatPrompt

	// History holds the user turns from root to leaf.
	History []*ChatPrompt

	// EditIndex is a 1-based position in History marking the turn being
	// revised; 0 means normal append mode.
	EditIndex int
}

type StateOption func(*ConversationState)

func WithConversationID(conversationID string) StateOption {
	return func(s *ConversationState) {
		s.ConversationID = conversationID
	}
}

func WithModelSlug(modelSlug string) StateOption {
	return func(s *ConversationState) {
		s.ModelSlug = modelSlug
	}
}

func WithTitle(title string) StateOption {
	return func(s *ConversationState) {
		s.Title = title
	}
}

func NewConversationState(options ...StateOption) *ConversationState {
	ret := &ConversationState{
		UserPrompt:      NewChatPrompt(""),
		AssistantPrompt: NewChatPrompt(""),
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

// Established reports whether the conversation exists on the remote side.
func (s *ConversationState) Established() bool {
	return s.ConversationID != ""
}
