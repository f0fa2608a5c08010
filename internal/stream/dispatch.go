package stream

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Handler receives the events of a chat stream.
type Handler interface {
	OnChunk(content string)
	OnComplete()
	OnError(err error)
}

// TuringHandler additionally receives the typed events of a query stream.
type TuringHandler interface {
	Handler
	OnChangeStatus(phrase string)
	OnRagInfo(count int)
	OnEnd(docs, sources []string, maps []json.RawMessage)
}

// MapInfoHandler is implemented by handlers interested in map_info events.
type MapInfoHandler interface {
	OnMapInfo(raw json.RawMessage)
}

// Callbacks adapts plain functions to the handler interfaces. Nil fields are skipped.
type Callbacks struct {
	Chunk        func(content string)
	ChangeStatus func(phrase string)
	RagInfo      func(count int)
	MapInfo      func(raw json.RawMessage)
	End          func(docs, sources []string, maps []json.RawMessage)
	Complete     func()
	Error        func(err error)
}

func (c Callbacks) OnChunk(content string) {
	if c.Chunk != nil {
		c.Chunk(content)
	}
}

func (c Callbacks) OnChangeStatus(phrase string) {
	if c.ChangeStatus != nil {
		c.ChangeStatus(phrase)
	}
}

func (c Callbacks) OnRagInfo(count int) {
	if c.RagInfo != nil {
		c.RagInfo(count)
	}
}

func (c Callbacks) OnMapInfo(raw json.RawMessage) {
	if c.MapInfo != nil {
		c.MapInfo(raw)
	}
}

func (c Callbacks) OnEnd(docs, sources []string, maps []json.RawMessage) {
	if c.End != nil {
		c.End(docs, sources, maps)
	}
}

func (c Callbacks) OnComplete() {
	if c.Complete != nil {
		c.Complete()
	}
}

func (c Callbacks) OnError(err error) {
	if c.Error != nil {
		c.Error(err)
	}
}

// Dispatcher delivers events to a handler and guarantees that exactly one of
// OnComplete or OnError is called, once.
type Dispatcher struct {
	handler Handler
	turing  TuringHandler
	maps    MapInfoHandler
	done    bool
	err     error
}

func NewDispatcher(h Handler) *Dispatcher {
	d := &Dispatcher{handler: h}
	d.turing, _ = h.(TuringHandler)
	d.maps, _ = h.(MapInfoHandler)
	return d
}

// Handle delivers ev. Events after the terminal one are dropped.
func (d *Dispatcher) Handle(ev Event) {
	if d.done {
		log.Debug().Stringer("kind", ev.Kind).Msg("dropping event after terminal event")
		return
	}

	switch ev.Kind {
	case KindChunk:
		d.handler.OnChunk(ev.Content)
	case KindStatus:
		if d.turing != nil {
			d.turing.OnChangeStatus(ev.Content)
		}
	case KindRagInfo:
		if d.turing != nil {
			d.turing.OnRagInfo(ev.DocCount)
		}
	case KindMapInfo:
		if d.maps != nil {
			d.maps.OnMapInfo(ev.MapInfo)
		}
	case KindEnd:
		if d.turing != nil {
			d.turing.OnEnd(ev.Docs, ev.Sources, ev.Maps)
		}
	case KindComplete:
		d.done = true
		d.handler.OnComplete()
	case KindError:
		d.done = true
		d.err = ev.Err
		d.handler.OnError(ev.Err)
	}
}

// Done reports whether a terminal event has been delivered.
func (d *Dispatcher) Done() bool { return d.done }

// Err returns the error delivered to OnError, if any.
func (d *Dispatcher) Err() error { return d.err }

// Close is called once the event channel is drained. A stream that ended
// without a terminal event is reported to the handler as an error. It returns
// the terminal error, or nil when the stream completed.
func (d *Dispatcher) Close() error {
	if !d.done {
		d.Handle(Event{Kind: KindError, Err: &StreamError{Err: errUnterminated}})
	}
	return d.err
}

// Dispatch drains events into h and returns the terminal error, or nil when
// the stream completed.
func Dispatch(events <-chan Event, h Handler) error {
	d := NewDispatcher(h)
	for ev := range events {
		d.Handle(ev)
	}
	return d.Close()
}
