package chatgpt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct {
	token string
}

func (s *staticTokens) AccessToken(_ context.Context, _ string) (string, error) {
	return s.token, nil
}

func (s *staticTokens) Keys(_ context.Context) ([]string, error) {
	return []string{"default"}, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, &staticTokens{token: "secret-token"}), server
}

func TestListConversations(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/backend-api/conversations", r.URL.Path)
		assert.Equal(t, "40", r.URL.Query().Get("offset"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(Conversations{
			Items:  []ConversationItem{{ID: "c1", Title: "First"}},
			Total:  41,
			Offset: 40,
			Limit:  20,
		})
	})

	conversations, err := client.ListConversations(context.Background(), 40, 20, "")
	require.NoError(t, err)
	assert.Equal(t, 41, conversations.Total)
	require.Len(t, conversations.Items, 1)
	assert.Equal(t, "First", conversations.Items[0].Title)
}

func TestGetConversation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/backend-api/conversation/c1", r.URL.Path)
		fmt.Fprint(w, `{"title": "T", "current_node": "n1", "mapping": {"n1": {"id": "n1"}}}`)
	})

	conversation, err := client.GetConversation(context.Background(), "c1", "")
	require.NoError(t, err)
	assert.Equal(t, "T", conversation.Title)
	assert.Equal(t, "n1", conversation.CurrentNode)
	assert.Contains(t, conversation.Mapping, "n1")
}

func TestGenConversationTitle(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/backend-api/conversation/gen_title/c1", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4", body["model"])
		assert.Equal(t, "m1", body["message_id"])

		fmt.Fprint(w, `{"title": "A Fitting Title"}`)
	})

	title, err := client.GenConversationTitle(context.Background(), "c1", "gpt-4", "m1", "")
	require.NoError(t, err)
	assert.Equal(t, "A Fitting Title", title)
}

func TestSetConversationTitle(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Renamed", body["title"])

		fmt.Fprint(w, `{"success": true}`)
	})

	ok, err := client.SetConversationTitle(context.Background(), "c1", "Renamed", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDelConversationPatchesVisibility(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, false, body["is_visible"])

		fmt.Fprint(w, `{"success": true}`)
	})

	ok, err := client.DelConversation(context.Background(), "c1", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListModels(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/backend-api/models", r.URL.Path)
		fmt.Fprint(w, `{"models": [{"slug": "gpt-4", "title": "GPT-4", "description": "smart"}]}`)
	})

	models, err := client.ListModels(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "gpt-4", models[0].Slug)
}

func TestNon200SurfacesBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail": "token expired"}`)
	})

	_, err := client.ListConversations(context.Background(), 0, 20, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "token expired")
}
