package stream

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// Opener issues the request and returns the response body to stream.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Run performs one full request/response cycle: it opens the body with open
// and then processes it. Failures before a body is available end the stream
// with a single error event.
func (p *Parser) Run(open Opener) {
	if err := p.transition(StateRequesting); err != nil {
		log.Error().Err(err).Msg("parser reused")
		return
	}

	body, err := open(p.ctx)
	if err != nil {
		defer close(p.events)
		p.fail(err)
		return
	}
	p.Process(body)
}

// Process reads body until end-of-stream, emitting events for every complete
// line. The body is always closed, and the event channel is closed after the
// terminal event.
func (p *Parser) Process(body io.ReadCloser) {
	defer close(p.events)
	defer func() {
		if err := body.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close response body")
		}
	}()

	// Process may be called directly on a body the caller opened itself.
	if p.State() == StateIdle {
		_ = p.transition(StateRequesting)
	}

	reader := newTextReader(body)
	buf := make([]byte, readSize)
	var lines lineBuffer
	var partial strings.Builder

	for {
		if err := p.ctx.Err(); err != nil {
			p.fail(err)
			return
		}
		if err := p.transition(StateStreaming); err != nil {
			log.Error().Err(err).Msg("unexpected parser state")
			return
		}

		n, err := reader.Read(buf)
		if n > 0 {
			for _, line := range lines.Feed(buf[:n]) {
				p.handleLine(line, &partial)
			}
		}

		if errors.Is(err, io.EOF) {
			// The last line of a body need not end in a newline.
			if rest := lines.Rest(); strings.TrimSpace(rest) != "" {
				p.handleLine(rest, &partial)
			}
			lines.Reset()
			p.complete()
			return
		}
		if err != nil {
			lines.Reset()
			if ctxErr := p.ctx.Err(); ctxErr != nil {
				p.fail(ctxErr)
				return
			}
			p.fail(&StreamError{Partial: partial.String(), Err: err})
			return
		}
	}
}

func (p *Parser) handleLine(line string, partial *strings.Builder) {
	events, err := p.decoder.DecodeLine(line)
	if err != nil {
		log.Warn().Err(err).Msg("skipping malformed stream line")
		return
	}
	for _, ev := range events {
		if ev.Kind == KindChunk {
			partial.WriteString(ev.Content)
		}
		p.events <- ev
	}
}

func (p *Parser) complete() {
	if err := p.transition(StateCompleted); err != nil {
		log.Error().Err(err).Msg("dropping completion")
		return
	}
	p.events <- Event{Kind: KindComplete}
}

func (p *Parser) fail(err error) {
	if terr := p.transition(StateFailed); terr != nil {
		log.Error().Err(terr).AnErr("cause", err).Msg("dropping failure")
		return
	}
	p.events <- Event{Kind: KindError, Err: err}
}
