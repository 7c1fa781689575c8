package bot

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/pandora/pkg/chatgpt"
)

type fakeFetcher struct {
	conversation *chatgpt.Conversation
	calls        int
}

func (f *fakeFetcher) GetConversation(_ context.Context, _ string, _ string) (*chatgpt.Conversation, error) {
	f.calls++
	return f.conversation, nil
}

func parseConversation(t *testing.T, raw string) *chatgpt.Conversation {
	t.Helper()
	conversation := &chatgpt.Conversation{}
	require.NoError(t, json.Unmarshal([]byte(raw), conversation))
	return conversation
}

const alternatingConversation = `{
  "title": "Some Chat",
  "current_node": "n4",
  "mapping": {
    "root": {"id": "root", "children": ["n1"]},
    "n1": {"id": "n1", "parent": "root", "message": {
      "id": "n1", "author": {"role": "user"},
      "content": {"parts": ["first question"]}, "metadata": {}}},
    "n2": {"id": "n2", "parent": "n1", "message": {
      "id": "n2", "author": {"role": "assistant"},
      "content": {"parts": ["first answer"]},
      "metadata": {"model_slug": "gpt-4"}, "end_turn": true}},
    "n3": {"id": "n3", "parent": "n2", "message": {
      "id": "n3", "role": "user",
      "content": {"parts": ["second question"]}, "metadata": {}}},
    "n4": {"id": "n4", "parent": "n3", "message": {
      "id": "n4", "author": {"role": "assistant"},
      "content": {"parts": ["second answer"]}, "metadata": {}}}
  }
}`

func TestLoadEmptyIDIsANoOp(t *testing.T) {
	fetcher := &fakeFetcher{}
	loader := NewConversationLoader(fetcher)

	state, err := loader.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Zero(t, fetcher.calls)
}

func TestLoadRebuildsHistoryRootToLeaf(t *testing.T) {
	fetcher := &fakeFetcher{conversation: parseConversation(t, alternatingConversation)}
	var transcript strings.Builder
	loader := NewConversationLoader(fetcher,
		WithTranscriptWriter(&transcript),
		WithTokenKey("default"),
	)

	state, err := loader.Load(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, "Some Chat", state.Title)
	assert.Equal(t, "conv-1", state.ConversationID)
	assert.Equal(t, "gpt-4", state.ModelSlug)

	// one history entry per user node, in root-to-leaf order, each carrying
	// the remote node's own id and parent
	require.Len(t, state.History, 2)
	assert.Equal(t, "first question", state.History[0].Text)
	assert.Equal(t, "n1", state.History[0].MessageID)
	assert.Equal(t, "root", state.History[0].ParentID)
	assert.Equal(t, "second question", state.History[1].Text)
	assert.Equal(t, "n3", state.History[1].MessageID)
	assert.Equal(t, "n2", state.History[1].ParentID)

	// active slots point at the leaf-most turns
	assert.Equal(t, "second question", state.UserPrompt.Text)
	assert.Equal(t, "n3", state.UserPrompt.MessageID)
	assert.Equal(t, "second answer", state.AssistantPrompt.Text)
	assert.Equal(t, "n4", state.AssistantPrompt.MessageID)
	assert.Equal(t, "n3", state.AssistantPrompt.ParentID)

	out := transcript.String()
	assert.Contains(t, out, "You:\nfirst question\n")
	assert.Contains(t, out, "ChatGPT:\nfirst answer\n")
	assert.Contains(t, out, "You:\nsecond question\n")
}

const softBreakConversation = `{
  "title": "Split Reply",
  "current_node": "n3",
  "mapping": {
    "root": {"id": "root", "children": ["n1"]},
    "n1": {"id": "n1", "parent": "root", "message": {
      "id": "n1", "author": {"role": "user"},
      "content": {"parts": ["question"]}, "metadata": {}}},
    "n2": {"id": "n2", "parent": "n1", "message": {
      "id": "n2", "author": {"role": "assistant"},
      "content": {"parts": ["part one"]}, "metadata": {}, "end_turn": null}},
    "n3": {"id": "n3", "parent": "n2", "message": {
      "id": "n3", "author": {"role": "assistant"},
      "content": {"parts": ["part two"]}, "metadata": {}, "end_turn": true}}
  }
}`

func TestLoadMergesSoftBreakAssistantNodes(t *testing.T) {
	fetcher := &fakeFetcher{conversation: parseConversation(t, softBreakConversation)}
	var transcript strings.Builder
	loader := NewConversationLoader(fetcher, WithTranscriptWriter(&transcript))

	_, err := loader.Load(context.Background(), "conv-1")
	require.NoError(t, err)

	// one continuous block: a single ChatGPT header and no blank line
	// between the two parts
	assert.Equal(t, 1, strings.Count(transcript.String(), "ChatGPT:"))
	assert.Contains(t, transcript.String(), "ChatGPT:\npart one\npart two\n\n")
}

const assistantThenUserConversation = `{
  "title": "Boundary",
  "current_node": "n3",
  "mapping": {
    "root": {"id": "root", "children": ["n1"]},
    "n1": {"id": "n1", "parent": "root", "message": {
      "id": "n1", "author": {"role": "user"},
      "content": {"parts": ["question"]}, "metadata": {}}},
    "n2": {"id": "n2", "parent": "n1", "message": {
      "id": "n2", "author": {"role": "assistant"},
      "content": {"parts": ["answer"]}, "metadata": {}, "end_turn": null}},
    "n3": {"id": "n3", "parent": "n2", "message": {
      "id": "n3", "author": {"role": "user"},
      "content": {"parts": ["followup"]}, "metadata": {}}}
  }
}`

func TestLoadAssistantThenUserAlwaysSeparates(t *testing.T) {
	fetcher := &fakeFetcher{conversation: parseConversation(t, assistantThenUserConversation)}
	var transcript strings.Builder
	loader := NewConversationLoader(fetcher, WithTranscriptWriter(&transcript))

	_, err := loader.Load(context.Background(), "conv-1")
	require.NoError(t, err)

	// even though the assistant node carried a null end_turn, a user turn
	// never merges into it: it gets its own header and closes with a
	// turn boundary
	assert.Contains(t, transcript.String(), "answer\nYou:\nfollowup\n\n")
}

const skippedRolesConversation = `{
  "title": "With System",
  "current_node": "n3",
  "mapping": {
    "root": {"id": "root", "children": ["s1"]},
    "s1": {"id": "s1", "parent": "root", "message": {
      "id": "s1", "author": {"role": "system"},
      "content": {"parts": [""]}, "metadata": {}}},
    "n1": {"id": "n1", "parent": "s1", "message": {
      "id": "n1", "author": {"role": "user"},
      "content": {"parts": ["question"]}, "metadata": {}}},
    "n2": {"id": "n2", "parent": "n1", "message": {
      "id": "n2", "author": {"role": "tool"},
      "content": {"parts": ["tool output"]}, "metadata": {}}},
    "n3": {"id": "n3", "parent": "n2", "message": {
      "id": "n3", "author": {"role": "assistant"},
      "content": {"parts": ["answer"]}, "metadata": {}}}
  }
}`

func TestLoadSkipsSystemAndToolNodes(t *testing.T) {
	fetcher := &fakeFetcher{conversation: parseConversation(t, skippedRolesConversation)}
	var transcript strings.Builder
	loader := NewConversationLoader(fetcher, WithTranscriptWriter(&transcript))

	state, err := loader.Load(context.Background(), "conv-1")
	require.NoError(t, err)

	require.Len(t, state.History, 1)
	assert.NotContains(t, transcript.String(), "tool output")
	assert.Contains(t, transcript.String(), "answer")
}

func TestLoadBannerFiresBeforeTranscript(t *testing.T) {
	fetcher := &fakeFetcher{conversation: parseConversation(t, alternatingConversation)}
	var transcript strings.Builder
	var bannerTitle string
	loader := NewConversationLoader(fetcher,
		WithTranscriptWriter(&transcript),
		WithBanner(func(title string) {
			bannerTitle = title
			require.Empty(t, transcript.String())
		}),
	)

	_, err := loader.Load(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "Some Chat", bannerTitle)
}

func TestLoadSurvivesCycles(t *testing.T) {
	cyclic := parseConversation(t, `{
	  "title": "Cycle",
	  "current_node": "a",
	  "mapping": {
	    "a": {"id": "a", "parent": "b", "message": {
	      "id": "a", "author": {"role": "assistant"},
	      "content": {"parts": ["answer"]}, "metadata": {}}},
	    "b": {"id": "b", "parent": "a", "message": {
	      "id": "b", "author": {"role": "user"},
	      "content": {"parts": ["question"]}, "metadata": {}}}
	  }
	}`)

	fetcher := &fakeFetcher{conversation: cyclic}
	loader := NewConversationLoader(fetcher)

	state, err := loader.Load(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Len(t, state.History, 1)
}
