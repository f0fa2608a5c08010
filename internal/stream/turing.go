package stream

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
)

// Turing event types.
const (
	TypeToken   = "token"
	TypeStatus  = "status"
	TypeRagInfo = "rag_info"
	TypeMapInfo = "map_info"
	TypeEnd     = "end"
)

// StatusPhrases maps pipeline status codes to the phrase shown to the user.
var StatusPhrases = map[string]string{
	"query_classified":          "Thinking...",
	"rag_retrieval_start":       "Retrieving relevant documents...",
	"map_processing_start":      "Processing map information...",
	"response_generation_start": "Summarizing information...",
}

// TuringResponse is a single newline-delimited event from the query endpoint.
type TuringResponse struct {
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content,omitempty"`
	UseRag     bool            `json:"use_rag,omitempty"`
	UseMap     bool            `json:"use_map,omitempty"`
	DocCount   json.RawMessage `json:"doc_count,omitempty"`
	RagDocs    json.RawMessage `json:"rag_docs,omitempty"`
	RagSources json.RawMessage `json:"rag_sources,omitempty"`
	MapInfo    json.RawMessage `json:"map_info,omitempty"`
}

// Count returns doc_count. Any JSON number is accepted and truncated; a
// missing or non-numeric value counts as 0.
func (r *TuringResponse) Count() int {
	if isAbsent(r.DocCount) {
		return 0
	}
	var n float64
	if err := json.Unmarshal(r.DocCount, &n); err != nil {
		log.Warn().RawJSON("doc_count", r.DocCount).Msg("doc_count is not a number, using 0")
		return 0
	}
	return int(n)
}

// Text returns Content when it is a JSON string and "" otherwise.
func (r *TuringResponse) Text() string {
	var s string
	if len(r.Content) == 0 || json.Unmarshal(r.Content, &s) != nil {
		return ""
	}
	return s
}

// TuringDecoder decodes newline-delimited JSON lines of a query stream.
type TuringDecoder struct{}

func NewTuringDecoder() *TuringDecoder {
	return &TuringDecoder{}
}

func (d *TuringDecoder) DecodeLine(line string) ([]Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	var resp TuringResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return nil, &ProtocolError{Line: line, Err: err}
	}

	switch resp.Type {
	case TypeToken:
		if text := resp.Text(); text != "" {
			return []Event{{Kind: KindChunk, Content: text}}, nil
		}
	case TypeStatus:
		code := resp.Text()
		phrase, ok := StatusPhrases[code]
		if !ok {
			log.Debug().Str("status", code).Msg("ignoring unknown status code")
			return nil, nil
		}
		return []Event{{Kind: KindStatus, Content: phrase, Status: code}}, nil
	case TypeRagInfo:
		return []Event{{Kind: KindRagInfo, DocCount: resp.Count()}}, nil
	case TypeMapInfo:
		payload := resp.MapInfo
		if len(payload) == 0 {
			payload = resp.Content
		}
		log.Info().RawJSON("map_info", nonEmptyJSON(payload)).Msg("received map info")
		return []Event{{Kind: KindMapInfo, MapInfo: payload}}, nil
	case TypeEnd:
		return []Event{{
			Kind:    KindEnd,
			Docs:    stringList("rag_docs", resp.RagDocs),
			Sources: stringList("rag_sources", resp.RagSources),
			Maps:    splitMapInfo(resp.MapInfo),
		}}, nil
	}
	return nil, nil
}

// stringList decodes a list field of an end event. String elements are kept
// as they are and other elements as their JSON text. A value that is not a
// list is logged and yields an empty list.
func stringList(field string, raw json.RawMessage) []string {
	out := []string{}
	if isAbsent(raw) {
		return out
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		log.Warn().Str("field", field).RawJSON("value", raw).Msg("expected a list, ignoring field")
		return out
	}
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		log.Debug().Str("field", field).RawJSON("item", item).Msg("non-string list item kept as JSON")
		out = append(out, string(bytes.TrimSpace(item)))
	}
	return out
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// splitMapInfo normalises the end event's map payload to a list. An array is
// split into its elements, any other non-null value becomes a single entry.
func splitMapInfo(raw json.RawMessage) []json.RawMessage {
	if isAbsent(raw) {
		return []json.RawMessage{}
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err == nil && items != nil {
			return items
		}
		return []json.RawMessage{}
	}
	return []json.RawMessage{trimmed}
}

func nonEmptyJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
