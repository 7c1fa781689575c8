package bot

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/pandora/pkg/chatgpt"
	"github.com/go-go-golems/pandora/pkg/events"
)

// Generator is the slice of the backend client the controller drives.
type Generator interface {
	Talk(ctx context.Context, req chatgpt.TalkRequest) (*chatgpt.StreamResult, error)
	RegenerateReply(ctx context.Context, req chatgpt.TalkRequest) (*chatgpt.StreamResult, error)
	Goon(ctx context.Context, req chatgpt.GoonRequest) (*chatgpt.StreamResult, error)
	GenConversationTitle(ctx context.Context, conversationID, model, messageID, tokenKey string) (string, error)
}

// TurnController orchestrates one exchange: prepare the outgoing user turn,
// invoke the remote generation operation, and drive the stream consumer.
type TurnController struct {
	client    Generator
	state     *ConversationState
	publisher *events.PublisherManager
	tokenKey  string
}

func NewTurnController(client Generator, state *ConversationState, publisher *events.PublisherManager, tokenKey string) *TurnController {
	return &TurnController{
		client:    client,
		state:     state,
		publisher: publisher,
		tokenKey:  tokenKey,
	}
}

// Talk sends text as a new user turn, or as a revision when an edit index is
// set. On a conversation's very first successful turn it also asks the
// backend for a generated title.
func (t *TurnController) Talk(ctx context.Context, text string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	firstTurn := !t.state.Established()

	if idx := t.state.EditIndex; idx > 0 && idx <= len(t.state.History) {
		// splice: the new turn takes the edited entry's parent, everything
		// from the edited entry onward is dropped
		edited := t.state.History[idx-1]
		t.state.UserPrompt = NewChatPrompt(text, WithParentID(edited.ParentID))
		t.state.History = t.state.History[:idx-1]
		t.state.EditIndex = 0
	} else {
		t.state.EditIndex = 0
		t.state.UserPrompt = NewChatPrompt(text, WithParentID(t.state.AssistantPrompt.MessageID))
	}

	result, err := t.client.Talk(ctx, chatgpt.TalkRequest{
		Text:           text,
		Model:          t.state.ModelSlug,
		MessageID:      t.state.UserPrompt.MessageID,
		ParentID:       t.state.UserPrompt.ParentID,
		ConversationID: t.state.ConversationID,
		TokenKey:       t.tokenKey,
	})
	if err != nil {
		return err
	}

	consumer := NewReplyStreamConsumer(t.state, t.publisher)
	if err := consumer.Consume(result); err != nil {
		return err
	}

	t.state.History = append(t.state.History, t.state.UserPrompt)

	if firstTurn {
		title, err := t.client.GenConversationTitle(ctx, t.state.ConversationID, t.state.ModelSlug,
			t.state.AssistantPrompt.MessageID, t.tokenKey)
		if err != nil {
			// the turn itself already completed; a missing title is not
			// worth aborting over
			log.Warn().Err(err).Msg("failed to generate conversation title")
			return nil
		}
		t.state.Title = title
	}

	return nil
}

// Regenerate asks for a fresh assistant reply to the existing user turn.
func (t *TurnController) Regenerate(ctx context.Context) error {
	if !t.state.Established() {
		return &PreconditionFailedError{Reason: "conversation has not been created"}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result, err := t.client.RegenerateReply(ctx, chatgpt.TalkRequest{
		Text:           t.state.UserPrompt.Text,
		Model:          t.state.ModelSlug,
		MessageID:      t.state.UserPrompt.MessageID,
		ParentID:       t.state.UserPrompt.ParentID,
		ConversationID: t.state.ConversationID,
		TokenKey:       t.tokenKey,
	})
	if err != nil {
		return err
	}

	return NewReplyStreamConsumer(t.state, t.publisher).Consume(result)
}

// Continue extends a truncated assistant reply off its message id.
func (t *TurnController) Continue(ctx context.Context) error {
	if !t.state.Established() {
		return &PreconditionFailedError{Reason: "conversation has not been created"}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result, err := t.client.Goon(ctx, chatgpt.GoonRequest{
		Model:          t.state.ModelSlug,
		MessageID:      t.state.AssistantPrompt.MessageID,
		ConversationID: t.state.ConversationID,
		TokenKey:       t.tokenKey,
	})
	if err != nil {
		return err
	}

	return NewReplyStreamConsumer(t.state, t.publisher).Consume(result)
}
