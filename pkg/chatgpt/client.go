package chatgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultAPIPrefix = "https://chat.openai.com"

// TokenSource resolves an access token for a token key. An empty key selects
// the default token when only one is stored.
type TokenSource interface {
	AccessToken(ctx context.Context, key string) (string, error)
	Keys(ctx context.Context) ([]string, error)
}

// Client talks to the conversation backend. It only knows the wire contract;
// conversation bookkeeping lives in pkg/bot.
type Client struct {
	httpClient *http.Client
	apiPrefix  string
	tokens     TokenSource
	userAgent  string
}

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

func NewClient(apiPrefix string, tokens TokenSource, options ...ClientOption) *Client {
	if apiPrefix == "" {
		apiPrefix = DefaultAPIPrefix
	}
	ret := &Client{
		httpClient: &http.Client{},
		apiPrefix:  apiPrefix,
		tokens:     tokens,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// ListTokenKeys exposes the stored token keys so the session can offer a
// selection menu.
func (c *Client) ListTokenKeys(ctx context.Context) ([]string, error) {
	return c.tokens.Keys(ctx)
}

func (c *Client) GetAccessToken(ctx context.Context, tokenKey string) (string, error) {
	return c.tokens.AccessToken(ctx, tokenKey)
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, tokenKey string) error {
	accessToken, err := c.tokens.AccessToken(ctx, tokenKey)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path, tokenKey string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiPrefix+path, reader)
	if err != nil {
		return err
	}
	if err := c.setHeaders(ctx, req, tokenKey); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("backend request failed")
		return errors.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(bytes.TrimSpace(respBody)))
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) ListConversations(ctx context.Context, offset, limit int, tokenKey string) (*Conversations, error) {
	path := fmt.Sprintf("/backend-api/conversations?offset=%d&limit=%d", offset, limit)
	ret := &Conversations{}
	if err := c.doJSON(ctx, http.MethodGet, path, tokenKey, nil, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) GetConversation(ctx context.Context, conversationID string, tokenKey string) (*Conversation, error) {
	ret := &Conversation{}
	err := c.doJSON(ctx, http.MethodGet, "/backend-api/conversation/"+url.PathEscape(conversationID), tokenKey, nil, ret)
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) GenConversationTitle(ctx context.Context, conversationID, model, messageID, tokenKey string) (string, error) {
	body := map[string]string{
		"model":      model,
		"message_id": messageID,
	}
	ret := struct {
		Title string `json:"title"`
	}{}
	err := c.doJSON(ctx, http.MethodPost, "/backend-api/conversation/gen_title/"+url.PathEscape(conversationID), tokenKey, body, &ret)
	if err != nil {
		return "", err
	}
	return ret.Title, nil
}

func (c *Client) SetConversationTitle(ctx context.Context, conversationID, title, tokenKey string) (bool, error) {
	return c.patchConversation(ctx, "/backend-api/conversation/"+url.PathEscape(conversationID), tokenKey,
		map[string]interface{}{"title": title})
}

// DelConversation hides a conversation. The backend models deletion as
// flipping is_visible rather than removing the record.
func (c *Client) DelConversation(ctx context.Context, conversationID, tokenKey string) (bool, error) {
	return c.patchConversation(ctx, "/backend-api/conversation/"+url.PathEscape(conversationID), tokenKey,
		map[string]interface{}{"is_visible": false})
}

func (c *Client) ClearConversations(ctx context.Context, tokenKey string) (bool, error) {
	return c.patchConversation(ctx, "/backend-api/conversations", tokenKey,
		map[string]interface{}{"is_visible": false})
}

func (c *Client) patchConversation(ctx context.Context, path, tokenKey string, body map[string]interface{}) (bool, error) {
	ret := struct {
		Success bool `json:"success"`
	}{}
	if err := c.doJSON(ctx, http.MethodPatch, path, tokenKey, body, &ret); err != nil {
		return false, err
	}
	return ret.Success, nil
}

func (c *Client) ListModels(ctx context.Context, tokenKey string) ([]Model, error) {
	ret := struct {
		Models []Model `json:"models"`
	}{}
	if err := c.doJSON(ctx, http.MethodGet, "/backend-api/models", tokenKey, nil, &ret); err != nil {
		return nil, err
	}
	return ret.Models, nil
}
