package stream

import (
	"encoding/json"
	"strings"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "data: [DONE]"
)

// LineDecoder turns one complete line of a response body into events.
// A returned error is a protocol error for that line only.
type LineDecoder interface {
	DecodeLine(line string) ([]Event, error)
}

// ChatResponse represents the structure of a chat-completion stream chunk.
type ChatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Content returns the first choice's delta text.
func (r *ChatResponse) Content() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Delta.Content
	}
	return ""
}

// ChatDecoder decodes Server-Sent-Events lines of a chat-completion stream.
type ChatDecoder struct{}

func NewChatDecoder() *ChatDecoder {
	return &ChatDecoder{}
}

func (d *ChatDecoder) DecodeLine(line string) ([]Event, error) {
	line = strings.TrimSpace(line)
	if line == "" || line == doneSentinel {
		return nil, nil
	}
	// Comments, event names and other SSE fields carry no content.
	if !strings.HasPrefix(line, dataPrefix) {
		return nil, nil
	}

	var chunk ChatResponse
	if err := json.Unmarshal([]byte(line[len(dataPrefix):]), &chunk); err != nil {
		return nil, &ProtocolError{Line: line, Err: err}
	}

	if content := chunk.Content(); content != "" {
		return []Event{{Kind: KindChunk, Content: content}}, nil
	}
	return nil, nil
}
