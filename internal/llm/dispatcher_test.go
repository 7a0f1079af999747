package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newDispatcher(t *testing.T, base string) *Dispatcher {
	t.Helper()
	reg := NewRegistry()
	t.Cleanup(func() { _ = reg.Close() })
	require.NoError(t, reg.Register(ModelConfig{
		Name:    "gen",
		Type:    ModelAPI,
		APIBase: base,
		APIKeys: []string{"k1"},
	}))
	return NewDispatcher(reg, NewHistory(""), nil)
}

func TestChatAppendsHistory(t *testing.T) {
	srv := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hello back"}}]}`)
	})

	d := newDispatcher(t, srv.URL+"/v1")
	reply, err := d.Chat(context.Background(), "gen", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello back", reply)

	msgs := d.History().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello back", msgs[1].Content)
}

func TestChatRetriesOnServerError(t *testing.T) {
	var calls atomic.Int64
	srv := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"recovered"}}]}`)
	})

	d := newDispatcher(t, srv.URL+"/v1")
	reply, err := d.Chat(context.Background(), "gen", "hi")
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply)
	assert.Equal(t, int64(3), calls.Load())
}

func sseChunk(reasoning, content string) string {
	chunk := map[string]any{
		"choices": []map[string]any{{
			"delta": map[string]string{
				"reasoning_content": reasoning,
				"content":           content,
			},
		}},
	}
	raw, _ := json.Marshal(chunk)
	return "data: " + string(raw) + "\n\n"
}

func TestStreamReasoningAssemblyLaw(t *testing.T) {
	srv := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("because of X. ", ""))
		fmt.Fprint(w, sseChunk("therefore Y.", ""))
		fmt.Fprint(w, sseChunk("", "The result "))
		fmt.Fprint(w, sseChunk("", "is Z."))
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	d := newDispatcher(t, srv.URL+"/v1")

	var segments []string
	assembled, err := d.StreamReasoning(context.Background(), "gen", "why Z?", func(seg string) {
		segments = append(segments, seg)
	})
	require.NoError(t, err)

	want := "<think>\nbecause of X. therefore Y.\n</think>\n\n<answer>\nThe result is Z.\n</answer>"
	assert.Equal(t, want, assembled)

	// Assembly law: concatenated segments equal the stored assistant message
	assert.Equal(t, assembled, strings.Join(segments, ""))

	msgs := d.History().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, assembled, msgs[1].Content)
	assert.Equal(t, true, msgs[1].Metadata["reasoning"])
}

func TestStreamReasoningNoReasoningField(t *testing.T) {
	srv := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("", "just an answer"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	d := newDispatcher(t, srv.URL+"/v1")
	assembled, err := d.StreamReasoning(context.Background(), "gen", "q", nil)
	require.NoError(t, err)

	assert.Equal(t, "<answer>\njust an answer\n</answer>", assembled)

	msgs := d.History().Messages()
	assert.Equal(t, false, msgs[1].Metadata["reasoning"])
}

func TestStreamFailureDoesNotRecordAssistant(t *testing.T) {
	srv := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	d := newDispatcher(t, srv.URL+"/v1")
	_, err := d.StreamReasoning(context.Background(), "gen", "q", nil)
	require.Error(t, err)

	// The user message stays, no assistant message was stored
	msgs := d.History().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleUser, msgs[0].Role)
}

func TestChatOnceSkipsHistory(t *testing.T) {
	srv := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{\"keywords\":[\"x\"]}"}}]}`)
	})

	d := newDispatcher(t, srv.URL+"/v1")
	reply, err := d.ChatOnce(context.Background(), "gen", "extract")
	require.NoError(t, err)
	assert.Contains(t, reply, "keywords")
	assert.Equal(t, 0, d.History().Len())
}

func TestHistorySaveOnAdd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")

	h := NewHistory(path)
	h.SetSystemPrompt("you are helpful")
	h.AddMessage(RoleUser, "question", nil)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var msgs []Message
	require.NoError(t, json.Unmarshal(raw, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)

	// Round trip
	loaded := NewHistory("")
	require.NoError(t, loaded.LoadFromJSON(path))
	assert.Equal(t, 2, loaded.Len())
}

func TestHistorySetSystemPromptReplaces(t *testing.T) {
	h := NewHistory("")
	h.SetSystemPrompt("first")
	h.AddMessage(RoleUser, "msg", nil)
	h.SetSystemPrompt("second")

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Content)
	assert.Equal(t, RoleUser, msgs[1].Role)
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory("")
	h.AddMessage(RoleUser, "a", nil)
	h.ClearHistory()
	assert.Equal(t, 0, h.Len())
}
