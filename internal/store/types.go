// Package store defines the shared document data model and the two
// persistence sinks that hold it: the vector collection used for retrieval
// and PostgreSQL as the durable record of chunks and document state.
//
// A document is split into chunks during ingestion. Every chunk is written
// to both sinks under the same identifier so that vector hits, keyword hits
// and durable rows can be joined back together by ID alone.
package store

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// DocumentStatus tracks a document through the ingestion pipeline.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "PENDING"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusCompleted  DocumentStatus = "COMPLETED"
	StatusError      DocumentStatus = "ERROR"
)

// UnknownDocumentTitle stands in for documents whose title is not recorded.
const UnknownDocumentTitle = "Неизвестный документ"

// Document is the durable record of an uploaded file.
type Document struct {
	ID          string
	Title       string
	AccessLevel int
	Status      DocumentStatus
	ChunkCount  int
	Processed   bool
	CreatedAt   time.Time
	ProcessedAt time.Time
}

// Chunk is one retrievable fragment of a document. Text carries the section
// title prefix and, for table rows, the generated row rendering; Metadata
// carries everything else a search result needs to be displayed and filtered.
type Chunk struct {
	ID          string
	DocumentID  string
	Index       int
	Text        string
	AccessLevel int
	Metadata    Metadata
}

// ChunkID builds the canonical chunk identifier. Both sinks key chunks by
// this value, so it must stay stable across re-ingestion of the same
// document.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_%d", documentID, index)
}

// CharCount reports the chunk length in characters rather than bytes.
// Cyrillic text is two bytes per letter in UTF-8 and every size limit in
// the pipeline is defined over characters.
func (c Chunk) CharCount() int {
	return utf8.RuneCountInString(c.Text)
}

// Table is a table lifted out of a document during parsing. Rows holds the
// full grid including the header row; Text is the bracketed line rendering
// that is inlined into the document text so the table keeps a position in
// the flow.
type Table struct {
	Headers        []string
	Rows           [][]string
	RowCount       int
	ColCount       int
	HasMergedCells bool
	Text           string
	ContextBefore  string
	ContextAfter   string
}

// DataRows returns the rows after the header row.
func (t Table) DataRows() [][]string {
	if len(t.Rows) <= 1 {
		return nil
	}
	return t.Rows[1:]
}

// Metadata is the per-chunk attribute map. Values are scalars (string, int,
// float64, bool) or string lists. The vector collection cannot store lists,
// so Flat joins them with commas on the way in; Strings splits them back
// apart on the way out.
type Metadata map[string]any

// listSeparator joins list-valued metadata when a sink only takes scalars.
const listSeparator = ","

// Clone returns a copy that shares no mutable state with the original.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if list, ok := v.([]string); ok {
			out[k] = append([]string(nil), list...)
			continue
		}
		out[k] = v
	}
	return out
}

// Flat returns a scalar-only view of the metadata with list values joined
// into comma-separated strings.
func (m Metadata) Flat() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if list, ok := v.([]string); ok {
			out[k] = strings.Join(list, listSeparator)
			continue
		}
		out[k] = v
	}
	return out
}

// String returns the value under key coerced to a string, or "" when the
// key is absent.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, listSeparator)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case float64:
		// JSON decoding turns every number into float64; keep integral
		// values readable.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Int returns the value under key as an int. Numbers arriving through JSON
// decode as float64, so both forms are accepted.
func (m Metadata) Int(key string) (int, bool) {
	switch t := m[key].(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

// Float returns the value under key as a float64.
func (m Metadata) Float(key string) (float64, bool) {
	switch t := m[key].(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// Bool returns the value under key as a bool.
func (m Metadata) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

// DocumentTitle returns the title recorded for the chunk's document,
// preferring the short key written by the ingest pipeline, or
// UnknownDocumentTitle when neither key is set.
func (m Metadata) DocumentTitle() string {
	if t := m.String("doc_title"); t != "" {
		return t
	}
	if t := m.String("document_title"); t != "" {
		return t
	}
	return UnknownDocumentTitle
}

// Strings returns the value under key as a string list, splitting a
// comma-joined scalar back into its elements.
func (m Metadata) Strings(key string) []string {
	switch t := m[key].(type) {
	case []string:
		return t
	case string:
		if t == "" {
			return nil
		}
		parts := strings.Split(t, listSeparator)
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}
