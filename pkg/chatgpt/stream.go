package chatgpt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

const (
	actionNext     = "next"
	actionVariant  = "variant"
	actionContinue = "continue"
)

// StreamResult is what the three generation operations return: the initial
// HTTP status, the raw body when the status is not 200, and the decoded event
// stream when it is. Exactly one of Raw and Events carries data.
type StreamResult struct {
	StatusCode int
	Raw        []byte
	Events     <-chan StreamEvent
}

type TalkRequest struct {
	Text           string
	Model          string
	MessageID      string
	ParentID       string
	ConversationID string
	TokenKey       string
}

type GoonRequest struct {
	Model          string
	MessageID      string
	ConversationID string
	TokenKey       string
}

type conversationRequest struct {
	Action          string        `json:"action"`
	Messages        []wireMessage `json:"messages,omitempty"`
	Model           string        `json:"model"`
	ParentMessageID string        `json:"parent_message_id,omitempty"`
	ConversationID  string        `json:"conversation_id,omitempty"`
}

type wireMessage struct {
	ID      string  `json:"id"`
	Author  Author  `json:"author"`
	Content Content `json:"content"`
}

func newWireMessage(id, text string) wireMessage {
	return wireMessage{
		ID:     id,
		Author: Author{Role: string(RoleUser)},
		Content: Content{
			ContentType: "text",
			Parts:       []string{text},
		},
	}
}

// Talk sends a new user turn and streams the reply.
func (c *Client) Talk(ctx context.Context, req TalkRequest) (*StreamResult, error) {
	return c.postConversation(ctx, req.TokenKey, &conversationRequest{
		Action:          actionNext,
		Messages:        []wireMessage{newWireMessage(req.MessageID, req.Text)},
		Model:           req.Model,
		ParentMessageID: req.ParentID,
		ConversationID:  req.ConversationID,
	})
}

// RegenerateReply asks for a new assistant reply to an existing user turn.
func (c *Client) RegenerateReply(ctx context.Context, req TalkRequest) (*StreamResult, error) {
	return c.postConversation(ctx, req.TokenKey, &conversationRequest{
		Action:          actionVariant,
		Messages:        []wireMessage{newWireMessage(req.MessageID, req.Text)},
		Model:           req.Model,
		ParentMessageID: req.ParentID,
		ConversationID:  req.ConversationID,
	})
}

// Goon continues a truncated assistant reply off its message id.
func (c *Client) Goon(ctx context.Context, req GoonRequest) (*StreamResult, error) {
	return c.postConversation(ctx, req.TokenKey, &conversationRequest{
		Action:          actionContinue,
		Model:           req.Model,
		ParentMessageID: req.MessageID,
		ConversationID:  req.ConversationID,
	})
}

func (c *Client) postConversation(ctx context.Context, tokenKey string, body *conversationRequest) (*StreamResult, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiPrefix+"/backend-api/conversation", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if err := c.setHeaders(ctx, req, tokenKey); err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		closed := make(chan StreamEvent)
		close(closed)
		return &StreamResult{StatusCode: resp.StatusCode, Raw: raw, Events: closed}, nil
	}

	events := make(chan StreamEvent)
	go streamEvents(ctx, resp, events)

	return &StreamResult{StatusCode: resp.StatusCode, Events: events}, nil
}

var doneSentinel = []byte("[DONE]")

// streamEvents reads "data: " SSE lines off the response body and decodes
// each into a StreamEvent. The channel is closed on [DONE], EOF, or context
// cancellation; cancelling the request context also unblocks the body read.
func streamEvents(ctx context.Context, resp *http.Response, events chan StreamEvent) {
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)
	defer close(events)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("event stream terminated")
			}
			return
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		data := bytes.TrimSpace(line[6:])
		if bytes.Equal(data, doneSentinel) {
			return
		}

		var event StreamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Debug().Err(err).Str("data", string(data)).Msg("skipping undecodable stream event")
			continue
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return
		}
	}
}
