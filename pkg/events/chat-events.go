package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"
)

// EventMetadata ties an event back to the conversation node that produced it.
type EventMetadata struct {
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ModelSlug      string `json:"model_slug,omitempty"`
}

func (m EventMetadata) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("message_id", m.MessageID)
	ev.Str("conversation_id", m.ConversationID)
}

type Event interface {
	Type() EventType
	Metadata() EventMetadata
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

var _ Event = (*EventImpl)(nil)

// EventPartialCompletionStart marks the beginning of a streamed reply.
type EventPartialCompletionStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventPartialCompletionStart {
	return &EventPartialCompletionStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata},
	}
}

// EventPartialCompletion carries one streamed increment. Delta is the newly
// produced text, Completion the full text so far.
type EventPartialCompletion struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl:  EventImpl{Type_: EventTypePartialCompletion, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata},
		Text:      text,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
	}
}

// NewEventFromJson decodes a serialized event back into its concrete type.
func NewEventFromJson(b []byte) (Event, error) {
	var base EventImpl
	if err := json.Unmarshal(b, &base); err != nil {
		return nil, err
	}

	switch base.Type_ {
	case EventTypeStart:
		ret := &EventPartialCompletionStart{}
		if err := json.Unmarshal(b, ret); err != nil {
			return nil, err
		}
		return ret, nil
	case EventTypePartialCompletion:
		ret := &EventPartialCompletion{}
		if err := json.Unmarshal(b, ret); err != nil {
			return nil, err
		}
		return ret, nil
	case EventTypeFinal:
		ret := &EventFinal{}
		if err := json.Unmarshal(b, ret); err != nil {
			return nil, err
		}
		return ret, nil
	case EventTypeError:
		ret := &EventError{}
		if err := json.Unmarshal(b, ret); err != nil {
			return nil, err
		}
		return ret, nil
	default:
		return nil, errors.Errorf("unknown event type %q", base.Type_)
	}
}
