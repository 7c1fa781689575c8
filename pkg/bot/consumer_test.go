package bot

import (
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/pandora/pkg/chatgpt"
	"github.com/go-go-golems/pandora/pkg/events"
)

// capturePublisher collects published messages so tests can decode the event
// sequence a consumer produced.
type capturePublisher struct {
	msgs []*message.Message
}

func (p *capturePublisher) Publish(topic string, msgs ...*message.Message) error {
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *capturePublisher) Close() error {
	return nil
}

func (p *capturePublisher) Events(t *testing.T) []events.Event {
	t.Helper()
	var ret []events.Event
	for _, msg := range p.msgs {
		e, err := events.NewEventFromJson(msg.Payload)
		require.NoError(t, err)
		ret = append(ret, e)
	}
	return ret
}

func (p *capturePublisher) Deltas(t *testing.T) []string {
	t.Helper()
	var ret []string
	for _, e := range p.Events(t) {
		if partial, ok := e.(*events.EventPartialCompletion); ok {
			ret = append(ret, partial.Delta)
		}
	}
	return ret
}

func newCapturingManager() (*events.PublisherManager, *capturePublisher) {
	capture := &capturePublisher{}
	manager := events.NewPublisherManager()
	manager.SubscribePublisher("chat", capture)
	return manager, capture
}

func assistantEvent(conversationID, messageID, text string) chatgpt.StreamEvent {
	return chatgpt.StreamEvent{
		ConversationID: conversationID,
		Message: &chatgpt.Message{
			ID:      messageID,
			Author:  &chatgpt.Author{Role: "assistant"},
			Content: chatgpt.Content{Parts: []string{text}},
		},
	}
}

func streamOf(evts ...chatgpt.StreamEvent) *chatgpt.StreamResult {
	ch := make(chan chatgpt.StreamEvent, len(evts))
	for _, e := range evts {
		ch <- e
	}
	close(ch)
	return &chatgpt.StreamResult{StatusCode: 200, Events: ch}
}

func TestConsumeEmitsExactSuffixDeltas(t *testing.T) {
	// cumulative prefixes of the final string, arbitrary split points
	final := "Hello, world! This is a streamed reply."
	splits := []int{3, 5, 13, 13, 27, len(final)}

	var evts []chatgpt.StreamEvent
	for _, n := range splits {
		evts = append(evts, assistantEvent("conv-1", "msg-1", final[:n]))
	}

	state := NewConversationState(WithModelSlug("text-davinci-002-render"))
	manager, capture := newCapturingManager()

	err := NewReplyStreamConsumer(state, manager).Consume(streamOf(evts...))
	require.NoError(t, err)

	assert.Equal(t, final, strings.Join(capture.Deltas(t), ""))
	assert.Equal(t, final, state.AssistantPrompt.Text)
	assert.Equal(t, "conv-1", state.ConversationID)
	assert.Equal(t, "msg-1", state.AssistantPrompt.MessageID)
	assert.Equal(t, state.UserPrompt.MessageID, state.AssistantPrompt.ParentID)
}

func TestConsumeRepeatedTextEmitsNothingTwice(t *testing.T) {
	state := NewConversationState()
	manager, capture := newCapturingManager()

	err := NewReplyStreamConsumer(state, manager).Consume(streamOf(
		assistantEvent("conv-1", "msg-1", "same text"),
		assistantEvent("conv-1", "msg-1", "same text"),
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"same text"}, capture.Deltas(t))
}

func TestConsumeSystemEventReparentsUserPrompt(t *testing.T) {
	state := NewConversationState()
	manager, capture := newCapturingManager()

	systemEvent := chatgpt.StreamEvent{
		ConversationID: "conv-1",
		Message: &chatgpt.Message{
			ID:      "sys-1",
			Author:  &chatgpt.Author{Role: "system"},
			Content: chatgpt.Content{Parts: []string{""}},
		},
	}

	err := NewReplyStreamConsumer(state, manager).Consume(streamOf(
		systemEvent,
		assistantEvent("conv-1", "msg-1", "reply"),
	))
	require.NoError(t, err)

	assert.Equal(t, "sys-1", state.UserPrompt.ParentID)
	// the system event contributes no visible text
	assert.Equal(t, []string{"reply"}, capture.Deltas(t))
}

func TestConsumeNon200FailsWithoutMutation(t *testing.T) {
	state := NewConversationState()
	manager, capture := newCapturingManager()

	closed := make(chan chatgpt.StreamEvent)
	close(closed)
	err := NewReplyStreamConsumer(state, manager).Consume(&chatgpt.StreamResult{
		StatusCode: 429,
		Raw:        []byte(`{"detail": "rate limited"}`),
		Events:     closed,
	})

	var requestErr *RemoteRequestFailedError
	require.ErrorAs(t, err, &requestErr)
	assert.Equal(t, 429, requestErr.Status)
	assert.Contains(t, requestErr.Detail, "rate limited")

	assert.Empty(t, state.ConversationID)
	assert.Empty(t, state.AssistantPrompt.Text)
	assert.Empty(t, capture.msgs)
}

func TestConsumeErrorEventAbortsStream(t *testing.T) {
	state := NewConversationState()
	manager, capture := newCapturingManager()

	err := NewReplyStreamConsumer(state, manager).Consume(streamOf(
		assistantEvent("conv-1", "msg-1", "partial"),
		chatgpt.StreamEvent{Error: "something broke"},
		assistantEvent("conv-1", "msg-1", "partial and more"),
	))

	var streamErr *RemoteStreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "something broke", streamErr.Detail)
	// only the text before the error was emitted
	assert.Equal(t, []string{"partial"}, capture.Deltas(t))
}

func TestConsumeMissingMessageFails(t *testing.T) {
	state := NewConversationState()
	manager, _ := newCapturingManager()

	err := NewReplyStreamConsumer(state, manager).Consume(streamOf(
		chatgpt.StreamEvent{ConversationID: "conv-1"},
	))

	var malformed *MalformedEventError
	require.ErrorAs(t, err, &malformed)
}

func TestConsumeAdoptsServerConversationID(t *testing.T) {
	state := NewConversationState()
	require.False(t, state.Established())

	manager, _ := newCapturingManager()
	err := NewReplyStreamConsumer(state, manager).Consume(streamOf(
		assistantEvent("conv-fresh", "msg-1", "hi"),
	))
	require.NoError(t, err)

	assert.True(t, state.Established())
	assert.Equal(t, "conv-fresh", state.ConversationID)
}
