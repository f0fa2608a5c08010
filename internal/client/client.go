package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/markis/turing-chat/internal/stream"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn of a conversation as sent to a backend.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Backend streams a reply to a conversation.
type Backend interface {
	Stream(ctx context.Context, messages []Message) (<-chan stream.Event, error)
}

// Option customizes a client.
type Option func(*base)

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *base) {
		b.http = c
	}
}

// getHTTPClient returns a singleton HTTP client
var (
	httpClient     *http.Client
	httpClientOnce sync.Once
)

// getHTTPClient returns the shared client. It sets no overall timeout since
// streamed responses stay open for as long as the server keeps writing;
// callers bound requests through their context.
func getHTTPClient() *http.Client {
	httpClientOnce.Do(func() {
		transport := &http.Transport{
			Proxy:              http.ProxyFromEnvironment,
			MaxIdleConns:       100,
			IdleConnTimeout:    90 * time.Second,
			DisableCompression: false,
			DisableKeepAlives:  false,
			ForceAttemptHTTP2:  true,
		}

		// Add context-aware dial options
		transport.DialContext = (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext

		httpClient = &http.Client{
			Transport: transport,
		}
	})
	return httpClient
}

type base struct {
	http *http.Client
}

func newBase(opts []Option) base {
	b := base{http: getHTTPClient()}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// errorResponse is the error body returned by the chat API.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// post sends payload as JSON and returns the body of a successful response.
// The caller owns the returned body.
func (b *base) post(ctx context.Context, url string, headers map[string]string, payload any) (io.ReadCloser, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, &stream.TransportError{Err: errors.Wrap(err, "failed to create request")}
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, &stream.TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer closeBody(resp.Body)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		var apiErr errorResponse
		_ = json.Unmarshal(body, &apiErr)
		return nil, &stream.TransportError{StatusCode: resp.StatusCode, Message: apiErr.Error.Message}
	}

	return resp.Body, nil
}

func closeBody(body io.Closer) {
	if err := body.Close(); err != nil {
		log.Debug().Err(err).Msg("failed to close response body")
	}
}

// send runs one request/response cycle on a fresh parser.
func send(ctx context.Context, decoder stream.LineDecoder, open stream.Opener) <-chan stream.Event {
	p := stream.NewParser(ctx, decoder)
	go p.Run(open)
	return p.Events()
}
