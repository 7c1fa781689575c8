package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
)

// StepPrinterFunc returns a watermill handler that renders the reply stream
// to w: a "name:" header when a reply starts, raw deltas while it streams,
// and a closing newline when it finishes.
func StepPrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventPartialCompletionStart:
			if name != "" {
				if _, err := fmt.Fprintf(w, "%s:\n", name); err != nil {
					return err
				}
			}

		case *EventPartialCompletion:
			if _, err := fmt.Fprintf(w, "%s", p_.Delta); err != nil {
				return err
			}

		case *EventFinal:
			if !strings.HasSuffix(p_.Text, "\n") {
				if _, err := fmt.Fprintf(w, "\n"); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "\n"); err != nil {
				return err
			}

		case *EventError:
			// the turn's error surfaces synchronously in the session loop;
			// nothing to render here
		}

		return nil
	}
}
