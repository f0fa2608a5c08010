package render

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markis/turing-chat/internal/client"
	"github.com/markis/turing-chat/internal/history"
	"github.com/markis/turing-chat/internal/stream"
)

var (
	_ stream.TuringHandler  = (*TerminalRenderer)(nil)
	_ stream.MapInfoHandler = (*TerminalRenderer)(nil)
)

func newPlain() (*TerminalRenderer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewTerminalRenderer(&out, &errOut, Options{Plain: true}), &out, &errOut
}

func TestTerminalRenderer_FlushesAtParagraphBreaks(t *testing.T) {
	r, out, _ := newPlain()

	r.OnChunk("Hello")
	assert.Empty(t, out.String(), "nothing is printed before a paragraph break")

	r.OnChunk("\n\nWor")
	assert.Equal(t, "Hello\n\n", out.String())

	r.OnChunk("ld")
	r.OnComplete()
	assert.Equal(t, "Hello\n\nWorld\n", out.String())
	assert.NoError(t, r.Err())
}

func TestTerminalRenderer_TuringEvents(t *testing.T) {
	r, out, errOut := newPlain()

	events := []stream.Event{
		{Kind: stream.KindStatus, Content: "Thinking..."},
		{Kind: stream.KindRagInfo, DocCount: 2},
		{Kind: stream.KindMapInfo, MapInfo: []byte(`{"lat":1}`)},
		{Kind: stream.KindChunk, Content: "The museum is north."},
		{Kind: stream.KindEnd, Docs: []string{"a", "b"}, Sources: []string{"guide.pdf", "map.pdf"}},
		{Kind: stream.KindComplete},
	}
	d := stream.NewDispatcher(r)
	for _, ev := range events {
		d.Handle(ev)
	}

	assert.Equal(t, "Thinking...\nFound 2 relevant documents\n", errOut.String())
	assert.Equal(t, "The museum is north.\nSources:\n  1. guide.pdf\n  2. map.pdf\n\n", out.String())
}

func TestTerminalRenderer_EndWithoutSources(t *testing.T) {
	r, out, _ := newPlain()

	r.OnChunk("answer")
	r.OnEnd([]string{}, []string{}, nil)
	r.OnComplete()

	assert.Equal(t, "answer\n", out.String())
}

func TestTerminalRenderer_ErrorPrintsPartialAnswer(t *testing.T) {
	r, out, _ := newPlain()

	r.OnChunk("half an ans")
	r.OnError(errors.New("connection reset"))
	assert.Equal(t, "half an ans\n", out.String())

	r2, out2, _ := newPlain()
	r2.OnError(errors.New("boom"))
	assert.Empty(t, out2.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestTerminalRenderer_WriteError(t *testing.T) {
	r := NewTerminalRenderer(failingWriter{}, &bytes.Buffer{}, Options{Plain: true})

	r.OnChunk("text\n\n")
	r.OnChunk("more\n\n")
	r.OnComplete()

	require.Error(t, r.Err())
	assert.Contains(t, r.Err().Error(), "broken pipe")
}

func TestTerminalRenderer_Markdown(t *testing.T) {
	var out bytes.Buffer
	r := NewTerminalRenderer(&out, &bytes.Buffer{}, Options{Wrap: 80})

	r.OnChunk("# Campus guide\n\nThe **library** opens at nine.")
	r.OnComplete()

	require.NoError(t, r.Err())
	assert.Contains(t, out.String(), "Campus guide")
	assert.Contains(t, out.String(), "library")
}

func TestFindMarkdownBreakPoint(t *testing.T) {
	assert.Equal(t, -1, findMarkdownBreakPoint("no break"))
	assert.Equal(t, 3, findMarkdownBreakPoint("a\n\nb"))
	assert.Equal(t, 6, findMarkdownBreakPoint("a\n\nb\n\nc"))
}

func TestPrintHistory(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	groups := []history.DayGroup{{
		Day: day,
		Conversations: []*history.Conversation{
			{ID: "c2", Title: "Library hours", UpdatedAt: day.Add(14 * time.Hour)},
			{ID: "c1", Title: "New conversation", UpdatedAt: day.Add(9*time.Hour + 5*time.Minute)},
		},
	}}

	var b strings.Builder
	require.NoError(t, PrintHistory(&b, groups))
	assert.Equal(t, "Sun, Mar 1 2026\n  c2  14:00  Library hours\n  c1  09:05  New conversation\n", b.String())

	b.Reset()
	require.NoError(t, PrintHistory(&b, nil))
	assert.Equal(t, "No conversations yet.\n", b.String())
}

func TestPrintConversation(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	conv := &history.Conversation{
		Title: "Library hours",
		Messages: []history.Message{
			{Role: client.RoleUser, Content: "When does it open?", Timestamp: ts},
			{Role: client.RoleAssistant, Content: "At nine.", Timestamp: ts.Add(time.Minute)},
		},
	}

	var b strings.Builder
	require.NoError(t, PrintConversation(&b, conv))
	assert.Equal(t, "# Library hours\n\n[2026-03-01 09:30] user\nWhen does it open?\n\n[2026-03-01 09:31] assistant\nAt nine.\n", b.String())
}
