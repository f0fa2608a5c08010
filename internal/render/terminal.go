package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/cli/go-gh/v2/pkg/markdown"
	"github.com/rs/zerolog/log"
)

// Options configures a TerminalRenderer.
type Options struct {
	Plain bool
	Wrap  int
}

// TerminalRenderer prints a streamed answer. It implements the stream
// handler interfaces: answer text goes to out, progress to errOut.
type TerminalRenderer struct {
	out       io.Writer
	errOut    io.Writer
	markdown  *glamour.TermRenderer
	plainText bool
	buffer    strings.Builder
	err       error
}

func NewTerminalRenderer(out, errOut io.Writer, opts Options) *TerminalRenderer {
	t := &TerminalRenderer{
		out:       out,
		errOut:    errOut,
		plainText: opts.Plain,
	}
	if !opts.Plain {
		wrap := opts.Wrap
		if wrap <= 0 {
			wrap = 120
		}
		md, err := glamour.NewTermRenderer(
			markdown.WithWrap(wrap),
			glamour.WithAutoStyle(),
		)
		if err != nil {
			log.Warn().Err(err).Msg("markdown renderer unavailable, falling back to plain text")
			t.plainText = true
		} else {
			t.markdown = md
		}
	}
	return t
}

func (t *TerminalRenderer) OnChunk(content string) {
	t.buffer.WriteString(content)
	content = t.buffer.String()

	if idx := findMarkdownBreakPoint(content); idx > 0 {
		t.renderContent(content[:idx])
		remaining := content[idx:]
		t.buffer.Reset()
		t.buffer.WriteString(remaining)
	}
}

func (t *TerminalRenderer) OnChangeStatus(phrase string) {
	fmt.Fprintln(t.errOut, phrase)
}

func (t *TerminalRenderer) OnRagInfo(count int) {
	fmt.Fprintf(t.errOut, "Found %d relevant documents\n", count)
}

func (t *TerminalRenderer) OnMapInfo(raw json.RawMessage) {
	log.Debug().RawJSON("map_info", raw).Msg("map information received")
}

// OnEnd flushes the answer and lists the documents it was drawn from.
func (t *TerminalRenderer) OnEnd(_ []string, sources []string, _ []json.RawMessage) {
	t.flush()
	if len(sources) == 0 {
		return
	}
	var b strings.Builder
	b.WriteString("\nSources:\n")
	for i, src := range sources {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, src)
	}
	t.write(b.String())
}

func (t *TerminalRenderer) OnComplete() {
	t.flush()
	t.write("\n")
}

// OnError prints whatever partial answer was received. Reporting the error
// itself is left to the caller.
func (t *TerminalRenderer) OnError(error) {
	if t.buffer.Len() > 0 {
		t.flush()
		t.write("\n")
	}
}

// Err returns the first error hit while writing output.
func (t *TerminalRenderer) Err() error {
	return t.err
}

func (t *TerminalRenderer) flush() {
	if remaining := t.buffer.String(); remaining != "" {
		t.renderContent(remaining)
		t.buffer.Reset()
	}
}

func (t *TerminalRenderer) renderContent(content string) {
	if t.plainText {
		t.write(content)
		return
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	if strings.HasPrefix(content, "#") {
		t.write("\n")
	}

	mdContent, err := t.markdown.Render(content)
	if err != nil {
		t.setErr(fmt.Errorf("failed to render markdown: %w", err))
		t.write(content + "\n")
		return
	}
	t.write(strings.TrimSpace(mdContent) + "\n")
}

func (t *TerminalRenderer) write(s string) {
	if _, err := io.WriteString(t.out, s); err != nil {
		t.setErr(fmt.Errorf("failed to write output: %w", err))
	}
}

func (t *TerminalRenderer) setErr(err error) {
	if t.err == nil {
		t.err = err
	}
}

func findMarkdownBreakPoint(content string) int {
	const marker string = "\n\n"
	lastBreak := -1
	idx := strings.LastIndex(content, marker)
	if idx > lastBreak {
		lastBreak = idx + len(marker)
	}
	return lastBreak
}
