package client

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/markis/turing-chat/internal/config"
	"github.com/markis/turing-chat/internal/stream"
)

// ChatRequest is the body sent to the chat-completion endpoint.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// ChatClient streams completions from a chat-completion API.
type ChatClient struct {
	base
	cfg config.ChatConfig
}

func NewChatClient(cfg config.ChatConfig, opts ...Option) *ChatClient {
	return &ChatClient{base: newBase(opts), cfg: cfg}
}

// Stream sends messages and returns the event stream of the reply. A missing
// API key is reported immediately, before any request is made; every other
// failure arrives as the stream's terminal error event.
func (c *ChatClient) Stream(ctx context.Context, messages []Message) (<-chan stream.Event, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: chat API key is not set; put it in the config file or %s", stream.ErrConfiguration, config.EnvChatKey)
	}

	return send(ctx, stream.NewChatDecoder(), func(ctx context.Context) (io.ReadCloser, error) {
		if len(messages) == 0 {
			return nil, stream.ErrNoMessages
		}
		log.Debug().Str("url", c.cfg.URL).Str("model", c.cfg.Model).Int("messages", len(messages)).Msg("sending chat request")
		return c.post(ctx, c.cfg.URL, c.headers(), c.prepareInput(messages))
	}), nil
}

// SendMessageStream streams the reply to messages into h. It returns the
// error delivered to h.OnError, or a configuration error without calling h.
func (c *ChatClient) SendMessageStream(ctx context.Context, messages []Message, h stream.Handler) error {
	events, err := c.Stream(ctx, messages)
	if err != nil {
		return err
	}
	return stream.Dispatch(events, h)
}

func (c *ChatClient) headers() map[string]string {
	return map[string]string{
		"Accept":        "text/event-stream",
		"Authorization": "Bearer " + c.cfg.APIKey,
	}
}

// prepareInput copies messages into the request payload.
func (c *ChatClient) prepareInput(messages []Message) ChatRequest {
	formatted := make([]Message, len(messages))
	for i, msg := range messages {
		formatted[i] = Message{Role: msg.Role, Content: msg.Content}
	}
	return ChatRequest{
		Model:       c.cfg.Model,
		Messages:    formatted,
		Stream:      true,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
}
