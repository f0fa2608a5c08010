package stream

import (
	"context"
	"encoding/json"
	"sync/atomic"
)

// Kind tags the variant carried by an Event.
type Kind int

const (
	KindChunk Kind = iota
	KindStatus
	KindRagInfo
	KindMapInfo
	KindEnd
	KindComplete
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindStatus:
		return "status"
	case KindRagInfo:
		return "rag_info"
	case KindMapInfo:
		return "map_info"
	case KindEnd:
		return "end"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Event represents a processed piece of content from the stream.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind Kind

	// Content is the text fragment for KindChunk and the display phrase for KindStatus.
	Content string
	// Status is the raw status code behind a KindStatus phrase.
	Status string
	// DocCount is the number of retrieved documents for KindRagInfo.
	DocCount int
	// MapInfo is the raw payload of a KindMapInfo event.
	MapInfo json.RawMessage

	// Docs, Sources and Maps are set on KindEnd and are never nil.
	Docs    []string
	Sources []string
	Maps    []json.RawMessage

	Err error
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}

// Parser handles the processing of a raw response body into events.
// A Parser serves exactly one request/response cycle.
type Parser struct {
	ctx     context.Context
	decoder LineDecoder
	events  chan Event
	state   atomic.Int32
}

func NewParser(ctx context.Context, decoder LineDecoder) *Parser {
	return &Parser{
		ctx:     ctx,
		decoder: decoder,
		events:  make(chan Event),
	}
}

// Events returns the event channel. It delivers exactly one terminal event
// and is closed afterwards; callers must drain it until it is closed.
func (p *Parser) Events() <-chan Event {
	return p.events
}

// State returns the current lifecycle state.
func (p *Parser) State() State {
	return State(p.state.Load())
}
