package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markis/turing-chat/internal/config"
	"github.com/markis/turing-chat/internal/stream"
)

// recorder collects callbacks and counts terminal calls.
type recorder struct {
	chunks    []string
	statuses  []string
	ragCounts []int
	maps      []json.RawMessage
	ends      [][]string
	completes int
	errs      []error
}

func (r *recorder) callbacks() stream.Callbacks {
	return stream.Callbacks{
		Chunk:        func(s string) { r.chunks = append(r.chunks, s) },
		ChangeStatus: func(s string) { r.statuses = append(r.statuses, s) },
		RagInfo:      func(n int) { r.ragCounts = append(r.ragCounts, n) },
		MapInfo:      func(raw json.RawMessage) { r.maps = append(r.maps, raw) },
		End: func(docs, sources []string, maps []json.RawMessage) {
			r.ends = append(r.ends, docs, sources)
			r.maps = append(r.maps, maps...)
		},
		Complete: func() { r.completes++ },
		Error:    func(err error) { r.errs = append(r.errs, err) },
	}
}

func (r *recorder) terminalCount() int {
	return r.completes + len(r.errs)
}

// newServer starts a test server counting the requests it receives.
func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server, &count
}

// writeFlushed writes each part and flushes it so the client sees separate reads.
func writeFlushed(w http.ResponseWriter, parts ...string) {
	flusher, _ := w.(http.Flusher)
	for _, part := range parts {
		_, _ = io.WriteString(w, part)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func chatConfig(url string) config.ChatConfig {
	return config.ChatConfig{URL: url, APIKey: "sk-test", Model: "deepseek-chat", Temperature: 1.0, MaxTokens: 2000}
}

var conversation = []Message{
	{Role: RoleUser, Content: "first question"},
	{Role: RoleAssistant, Content: "first answer"},
	{Role: RoleUser, Content: "where is the museum?"},
}

func TestChatClient_Stream(t *testing.T) {
	var captured ChatRequest
	var headers http.Header
	server, count := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		// Splits land mid-line and inside the multi-byte "博".
		writeFlushed(w,
			"data: {\"choices\":[{\"delta\":{\"content\":\"The \"},\"finish_reason\":null}]}\n\ndata: {\"cho",
			"ices\":[{\"delta\":{\"content\":\"\xe5\x8d",
			"\x9a museum\"},\"finish_reason\":null}]}\n\n",
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n",
		)
	})

	var r recorder
	err := NewChatClient(chatConfig(server.URL)).SendMessageStream(context.Background(), conversation, r.callbacks())

	require.NoError(t, err)
	assert.Equal(t, int32(1), count.Load())
	assert.Equal(t, []string{"The ", "博 museum"}, r.chunks)
	assert.Equal(t, 1, r.completes)
	assert.Empty(t, r.errs)

	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "text/event-stream", headers.Get("Accept"))
	assert.Equal(t, ChatRequest{
		Model:       "deepseek-chat",
		Messages:    conversation,
		Stream:      true,
		Temperature: 1.0,
		MaxTokens:   2000,
	}, captured)
}

func TestChatClient_MissingAPIKey(t *testing.T) {
	server, count := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	cfg := chatConfig(server.URL)
	cfg.APIKey = ""

	var r recorder
	err := NewChatClient(cfg).SendMessageStream(context.Background(), conversation, r.callbacks())

	assert.ErrorIs(t, err, stream.ErrConfiguration)
	assert.Equal(t, int32(0), count.Load())
	assert.Equal(t, 0, r.terminalCount())
}

func TestChatClient_ErrorStatus(t *testing.T) {
	server, count := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Authentication Fails (no such user)","type":"authentication_error"}}`)
	})

	var r recorder
	err := NewChatClient(chatConfig(server.URL)).SendMessageStream(context.Background(), conversation, r.callbacks())

	assert.Equal(t, int32(1), count.Load(), "errors must not be retried")
	require.Len(t, r.errs, 1)
	assert.Equal(t, 0, r.completes)
	assert.Empty(t, r.chunks)

	var terr *stream.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusUnauthorized, terr.StatusCode)
	assert.Equal(t, "Authentication Fails (no such user)", terr.Message)
	assert.ErrorIs(t, err, stream.ErrTransport)
	assert.EqualError(t, err, "API request failed: 401 Unauthorized - Authentication Fails (no such user)")
}

func TestChatClient_ErrorStatusWithoutBody(t *testing.T) {
	server, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	var r recorder
	err := NewChatClient(chatConfig(server.URL)).SendMessageStream(context.Background(), conversation, r.callbacks())

	assert.EqualError(t, err, "API request failed: 502 Bad Gateway - unknown error")
	assert.Equal(t, 1, r.terminalCount())
}

func TestChatClient_MalformedLineDoesNotAbort(t *testing.T) {
	server, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		writeFlushed(w, "data: {bad\ndata: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n")
	})

	var r recorder
	err := NewChatClient(chatConfig(server.URL)).SendMessageStream(context.Background(), conversation, r.callbacks())

	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, r.chunks)
	assert.Equal(t, 1, r.completes)
	assert.Empty(t, r.errs)
}

func TestChatClient_NoMessages(t *testing.T) {
	server, count := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var r recorder
	err := NewChatClient(chatConfig(server.URL)).SendMessageStream(context.Background(), nil, r.callbacks())

	assert.ErrorIs(t, err, stream.ErrNoMessages)
	assert.Equal(t, int32(0), count.Load())
	assert.Equal(t, 1, r.terminalCount())
}

func TestChatClient_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	var r recorder
	err := NewChatClient(chatConfig(url)).SendMessageStream(context.Background(), conversation, r.callbacks())

	var terr *stream.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Zero(t, terr.StatusCode)
	assert.Len(t, r.errs, 1)
	assert.Equal(t, 0, r.completes)
}

func TestChatClient_CancelMidStream(t *testing.T) {
	release := make(chan struct{})
	server, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		writeFlushed(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n")
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	var r recorder
	cb := r.callbacks()
	cb.Chunk = func(s string) {
		r.chunks = append(r.chunks, s)
		cancel()
	}

	done := make(chan error, 1)
	go func() { done <- NewChatClient(chatConfig(server.URL)).SendMessageStream(ctx, conversation, cb) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after cancellation")
	}
	assert.Equal(t, []string{"first"}, r.chunks)
	assert.Equal(t, 0, r.completes)
	assert.Len(t, r.errs, 1)
}

func TestTuringClient_Stream(t *testing.T) {
	var captured TuringRequest
	server, count := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		writeFlushed(w,
			`{"type":"status","content":"query_classified"}`+"\n",
			`{"type":"status","content":"rag_retrieval_start"}`+"\n"+`{"type":"rag_info","doc_count":2,"use_rag":true}`+"\n",
			`{"type":"status","content":"brand_new_stage"}`+"\n",
			`{"type":"token","content":"The museum "}`+"\n"+`{"type":"tok`,
			`en","content":"is north."}`+"\n",
			`{"type":"map_info","content":{"lng":116.39,"lat":39.9}}`+"\n",
			`{"type":"end","rag_docs":["doc a","doc b"],"rag_sources":["a.pdf","b.pdf"]}`+"\n",
		)
	})

	var r recorder
	err := NewTuringClient(config.TuringConfig{URL: server.URL}).SendMessageStream(context.Background(), conversation, r.callbacks())

	require.NoError(t, err)
	assert.Equal(t, int32(1), count.Load())
	assert.Equal(t, TuringRequest{Query: "where is the museum?"}, captured)
	assert.Equal(t, []string{"Thinking...", "Retrieving relevant documents..."}, r.statuses)
	assert.Equal(t, []int{2}, r.ragCounts)
	assert.Equal(t, []string{"The museum ", "is north."}, r.chunks)
	assert.Equal(t, [][]string{{"doc a", "doc b"}, {"a.pdf", "b.pdf"}}, r.ends)
	require.Len(t, r.maps, 1)
	assert.JSONEq(t, `{"lng":116.39,"lat":39.9}`, string(r.maps[0]))
	assert.Equal(t, 1, r.completes)
	assert.Empty(t, r.errs)
}

func TestTuringClient_EndDefaults(t *testing.T) {
	server, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		writeFlushed(w, `{"type":"end"}`+"\n")
	})

	var docs, sources []string
	var maps []json.RawMessage
	ends := 0
	err := NewTuringClient(config.TuringConfig{URL: server.URL}).SendMessageStream(context.Background(), conversation, stream.Callbacks{
		End: func(d, s []string, m []json.RawMessage) {
			ends++
			docs, sources, maps = d, s, m
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, ends)
	assert.Equal(t, []string{}, docs)
	assert.Equal(t, []string{}, sources)
	assert.Equal(t, []json.RawMessage{}, maps)
}

func TestTuringClient_NoUserMessage(t *testing.T) {
	server, count := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var r recorder
	err := NewTuringClient(config.TuringConfig{URL: server.URL}).SendMessageStream(
		context.Background(),
		[]Message{{Role: RoleAssistant, Content: "hello, how can I help?"}},
		r.callbacks(),
	)

	assert.ErrorIs(t, err, stream.ErrNoUserMessage)
	assert.Equal(t, int32(0), count.Load())
	require.Len(t, r.errs, 1)
	assert.Equal(t, 0, r.completes)
}

func TestTuringClient_ErrorStatus(t *testing.T) {
	server, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	})

	var r recorder
	err := NewTuringClient(config.TuringConfig{URL: server.URL}).SendMessageStream(context.Background(), conversation, r.callbacks())

	assert.ErrorIs(t, err, stream.ErrTransport)
	assert.Equal(t, 1, r.terminalCount())
}

func TestTuringClient_ConcurrentInvocations(t *testing.T) {
	server, count := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req TuringRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusOK)
		writeFlushed(w, fmt.Sprintf(`{"type":"token","content":%q}`+"\n", req.Query))
	})
	c := NewTuringClient(config.TuringConfig{URL: server.URL})

	const n = 8
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			var got string
			err := c.SendMessageStream(context.Background(), []Message{{Role: RoleUser, Content: fmt.Sprintf("q%d", i)}}, stream.Callbacks{
				Chunk: func(s string) { got += s },
			})
			if err != nil {
				got = err.Error()
			}
			results <- got
		}(i)
	}

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		seen[<-results] = true
	}
	for i := 0; i < n; i++ {
		assert.True(t, seen[fmt.Sprintf("q%d", i)])
	}
	assert.Equal(t, int32(n), count.Load())
}

func TestLastUserMessage(t *testing.T) {
	msg, ok := LastUserMessage(conversation)
	assert.True(t, ok)
	assert.Equal(t, "where is the museum?", msg.Content)

	_, ok = LastUserMessage(nil)
	assert.False(t, ok)
}

func TestBackendInterface(t *testing.T) {
	var _ Backend = (*ChatClient)(nil)
	var _ Backend = (*TuringClient)(nil)
	assert.True(t, errors.Is(&stream.TransportError{StatusCode: 500}, stream.ErrTransport))
}
