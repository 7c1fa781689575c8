package bot

import (
	"github.com/google/uuid"
)

// ChatPrompt is one turn's text plus its position in the remote message tree.
// Ids the server has not assigned yet are generated locally so a turn can be
// referenced before it is acknowledged.
type ChatPrompt struct {
	Text      string
	ParentID  string
	MessageID string
}

type ChatPromptOption func(*ChatPrompt)

func WithParentID(parentID string) ChatPromptOption {
	return func(p *ChatPrompt) {
		p.ParentID = parentID
	}
}

func WithMessageID(messageID string) ChatPromptOption {
	return func(p *ChatPrompt) {
		p.MessageID = messageID
	}
}

// NewChatPrompt builds a prompt with fresh ids for whatever the options don't
// supply. Ids are generated per call; prompts never share a default instance.
func NewChatPrompt(text string, options ...ChatPromptOption) *ChatPrompt {
	ret := &ChatPrompt{
		Text:      text,
		ParentID:  uuid.NewString(),
		MessageID: uuid.NewString(),
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}
