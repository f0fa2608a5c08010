package client

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/markis/turing-chat/internal/config"
	"github.com/markis/turing-chat/internal/stream"
)

// TuringRequest is the body sent to the query endpoint.
type TuringRequest struct {
	Query string `json:"query"`
}

// TuringClient streams answers from the retrieval-augmented query service.
// The service is stateless: only the latest user message is sent.
type TuringClient struct {
	base
	cfg config.TuringConfig
}

func NewTuringClient(cfg config.TuringConfig, opts ...Option) *TuringClient {
	return &TuringClient{base: newBase(opts), cfg: cfg}
}

// Stream queries the service with the most recent user message. A
// conversation without one ends in an error event before any request.
func (c *TuringClient) Stream(ctx context.Context, messages []Message) (<-chan stream.Event, error) {
	return send(ctx, stream.NewTuringDecoder(), func(ctx context.Context) (io.ReadCloser, error) {
		query, ok := LastUserMessage(messages)
		if !ok {
			return nil, stream.ErrNoUserMessage
		}
		log.Debug().Str("url", c.cfg.URL).Int("query_len", len(query.Content)).Msg("sending turing query")
		return c.post(ctx, c.cfg.URL, map[string]string{"Accept": "application/x-ndjson"}, TuringRequest{Query: query.Content})
	}), nil
}

// SendMessageStream streams the answer into h. Handlers implementing
// stream.TuringHandler also receive status, RAG and end events.
func (c *TuringClient) SendMessageStream(ctx context.Context, messages []Message, h stream.Handler) error {
	events, err := c.Stream(ctx, messages)
	if err != nil {
		return err
	}
	return stream.Dispatch(events, h)
}

// LastUserMessage returns the most recent message authored by the user.
func LastUserMessage(messages []Message) (Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i], true
		}
	}
	return Message{}, false
}
