// Package ingest turns uploaded files into indexed chunks. A parser picked
// by file extension extracts plain text, and table structure where the
// format has it. The orchestrator then analyzes and chunks the text,
// attaches keywords, embeds the chunks and writes them to both persistence
// sinks before dropping the retrieval caches.
package ingest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/docrank/docrank/internal/errors"
	"github.com/docrank/docrank/internal/store"
)

// Parsed is what a parser recovers from one file.
type Parsed struct {
	// Text is the whole extracted text, one line per source element.
	Text string

	// Tables holds structured tables in document order. Only formats with
	// real table markup fill this; their text renderings are already
	// inlined in Text.
	Tables []store.Table

	// Properties are embedded document properties (title, author, dates)
	// when the format records them.
	Properties map[string]string

	// PartCount is the number of source elements that contributed to Text.
	PartCount int

	// Structured reports whether the format carries element structure
	// beyond plain lines. Structured extractions add table bookkeeping to
	// chunk metadata.
	Structured bool
}

// Parser extracts text from one file format.
type Parser interface {
	// Extensions lists the file extensions this parser accepts, lowercase
	// with the leading dot.
	Extensions() []string

	// Parse reads the file and returns its extracted content.
	Parse(path string) (*Parsed, error)
}

// Registry routes files to parsers by extension.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates a registry with the built-in parsers registered.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register(&DocxParser{})
	r.Register(&CSVParser{})
	r.Register(&JSONParser{})
	return r
}

// Register adds a parser under each extension it reports, replacing any
// previous parser for that extension.
func (r *Registry) Register(p Parser) {
	for _, ext := range p.Extensions() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// ForFile returns the parser responsible for the file's extension.
func (r *Registry) ForFile(path string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	p, ok := r.parsers[ext]
	if !ok {
		return nil, errors.Validation("unsupported file extension %q, supported: %s",
			ext, strings.Join(r.Extensions(), ", "))
	}
	return p, nil
}

// Extensions lists the supported extensions, sorted.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Names maps each supported extension to its parser's type name, for
// diagnostics output.
func (r *Registry) Names() map[string]string {
	names := make(map[string]string, len(r.parsers))
	for ext, p := range r.parsers {
		name := fmt.Sprintf("%T", p)
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		names[ext] = name
	}
	return names
}

// CheckFile verifies the path points at a non-empty regular file.
func CheckFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Validation("file not found: %s", path)
	}
	if info.IsDir() {
		return errors.Validation("not a file: %s", path)
	}
	if info.Size() == 0 {
		return errors.Validation("file is empty: %s", path)
	}
	return nil
}

// CleanText normalizes extracted text: null bytes and byte order marks are
// stripped, line endings become \n, runs of whitespace inside a line
// collapse to one space and blank lines are dropped.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.NewReplacer("\x00", "", "\ufeff", "").Replace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		lines = append(lines, strings.Join(fields, " "))
	}
	return strings.Join(lines, "\n")
}

// readFileText loads the file as UTF-8, falling back to Windows-1251 for
// legacy Russian exports.
func readFileText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Fatal("read file", err)
	}
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.Windows1251.NewDecoder().Bytes(data)
	if err != nil {
		return "", errors.Corruption("decode file encoding", err)
	}
	return string(decoded), nil
}
