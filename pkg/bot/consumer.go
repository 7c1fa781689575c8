package bot

import (
	"net/http"
	"strings"

	"github.com/go-go-golems/pandora/pkg/chatgpt"
	"github.com/go-go-golems/pandora/pkg/events"
)

// ReplyStreamConsumer folds one generation stream into the conversation
// state. The backend sends cumulative text (each event carries the full
// assistant text so far), so the consumer keeps a per-stream offset and
// publishes only the suffix beyond what it already emitted.
type ReplyStreamConsumer struct {
	state     *ConversationState
	publisher *events.PublisherManager
}

func NewReplyStreamConsumer(state *ConversationState, publisher *events.PublisherManager) *ReplyStreamConsumer {
	return &ReplyStreamConsumer{
		state:     state,
		publisher: publisher,
	}
}

// Consume drains the stream. It fails fast on a non-200 initial status, an
// error field inside an event, or an event without a message; any of those
// aborts the turn.
func (c *ReplyStreamConsumer) Consume(result *chatgpt.StreamResult) error {
	if result.StatusCode != http.StatusOK {
		return &RemoteRequestFailedError{
			Status: result.StatusCode,
			Detail: strings.TrimSpace(string(result.Raw)),
		}
	}

	c.publisher.PublishBlind(events.NewStartEvent(c.metadata()))

	offset := 0
	for event := range result.Events {
		if event.Error != "" {
			err := &RemoteStreamError{Detail: event.Error}
			c.publisher.PublishBlind(events.NewErrorEvent(c.metadata(), err))
			return err
		}
		if event.Message == nil {
			err := &MalformedEventError{Reason: "miss message property"}
			c.publisher.PublishBlind(events.NewErrorEvent(c.metadata(), err))
			return err
		}

		message := event.Message
		completion := message.Text()

		delta := ""
		if message.Role() == chatgpt.RoleAssistant && offset <= len(completion) {
			delta = completion[offset:]
			offset += len(delta)
		}

		c.state.ConversationID = event.ConversationID
		c.state.AssistantPrompt.Text = completion
		c.state.AssistantPrompt.ParentID = c.state.UserPrompt.MessageID
		c.state.AssistantPrompt.MessageID = message.ID

		// the backend splices a system node between the user turn and the
		// reply; the next user turn has to parent off of it
		if message.Role() == chatgpt.RoleSystem {
			c.state.UserPrompt.ParentID = message.ID
		}

		if delta != "" {
			c.publisher.PublishBlind(events.NewPartialCompletionEvent(c.metadata(), delta, completion))
		}
	}

	c.publisher.PublishBlind(events.NewFinalEvent(c.metadata(), c.state.AssistantPrompt.Text))

	return nil
}

func (c *ReplyStreamConsumer) metadata() events.EventMetadata {
	return events.EventMetadata{
		MessageID:      c.state.AssistantPrompt.MessageID,
		ConversationID: c.state.ConversationID,
		ModelSlug:      c.state.ModelSlug,
	}
}
