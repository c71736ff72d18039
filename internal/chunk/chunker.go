// Package chunk splits analyzed documents into retrieval-sized pieces.
//
// Sections that read as one unit stay whole. Long sections are split on
// sentence or numbered-item boundaries with overlap between parts. Inline
// tables become one chunk per data row so a query matching a single row
// retrieves that row with its headers and surrounding context.
package chunk

import (
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/docrank/docrank/internal/analyze"
	"github.com/docrank/docrank/internal/store"
)

// Splitting defaults, in runes. The per-section target size comes from the
// analyzer; Overlap is carried between consecutive parts of one section and
// MinChunkSize is the smallest part worth keeping.
const (
	DefaultOverlap = 100
	MinChunkSize   = 200
)

// Chunk type labels recorded under the chunk_type metadata key.
const (
	TypeCompleteSection = "complete_section"
	TypeSectionPart     = "section_part"
	TypeTableRow        = "table_row"
	TypeTextBeforeTable = "text_before_table"
	TypeTextAfterTable  = "text_after_table"
	TypeFallbackTable   = "fallback_table"
)

// Sentence splitting must not break after these.
var abbreviations = []string{"т.д", "т.п", "и.о", "г.", "см.", "стр.", "п.", "пп."}

// Document is the input to chunking. Sections and Metadata are reused when
// the caller already analyzed the text; otherwise the chunker analyzes it.
// Tables lists structured tables whose text rendering is inlined in Text.
type Document struct {
	ID          string
	Text        string
	AccessLevel int
	Sections    []analyze.Section
	Metadata    analyze.Metadata
	Tables      []store.Table
}

// piece is a chunk before global numbering: its text, the rune span it
// covers in the document, and its section-level metadata.
type piece struct {
	text  string
	start int
	end   int
	meta  store.Metadata
}

// Chunker turns documents into chunks with stable ids and exact char spans.
type Chunker struct {
	analyzer *analyze.Analyzer
	tables   *TableProcessor
	size     int
	overlap  int
	minSize  int
	logger   *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) {
		c.logger = logger
	}
}

// WithChunkSize overrides the base target size for sections that have no
// adaptive override of their own.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the overlap carried between consecutive parts of a
// split section.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// NewChunker creates a chunker. A nil analyzer gets a default one.
func NewChunker(analyzer *analyze.Analyzer, opts ...Option) *Chunker {
	c := &Chunker{
		analyzer: analyzer,
		overlap:  DefaultOverlap,
		minSize:  MinChunkSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.analyzer == nil {
		c.analyzer = analyze.NewAnalyzer(analyze.WithLogger(c.logger))
	}
	c.tables = NewTableProcessor(WithTableLogger(c.logger))
	return c
}

// Chunk splits a document into chunks numbered in reading order. Chunk ids
// are derived from the document id and the chunk index, so re-chunking the
// same document yields the same ids and replaces earlier chunks in place.
func (c *Chunker) Chunk(doc Document) []store.Chunk {
	if strings.TrimSpace(doc.Text) == "" {
		return nil
	}
	sections := doc.Sections
	docMeta := doc.Metadata
	if len(sections) == 0 {
		analyzed, split := c.analyzer.Analyze(doc.Text)
		sections = split
		if docMeta.Type == "" {
			docMeta = analyzed
		}
	}

	var pieces []piece
	if len(doc.Tables) > 0 {
		pieces = c.tablePieces(doc.Text, sections, doc.Tables)
	} else {
		for _, sec := range sections {
			pieces = append(pieces, c.sectionPieces(sec)...)
		}
	}

	chunks := c.assemble(pieces, doc, docMeta)
	c.logger.Info("document chunked",
		slog.String("doc_id", doc.ID),
		slog.Int("sections", len(sections)),
		slog.Int("tables", len(doc.Tables)),
		slog.Int("chunks", len(chunks)))
	return chunks
}

func (c *Chunker) sectionPieces(sec analyze.Section) []piece {
	if c.analyzer.KeepTogether(sec) {
		return []piece{c.wholePiece(sec)}
	}
	return c.splitSection(sec)
}

// wholePiece emits a section as a single chunk covering its exact span.
func (c *Chunker) wholePiece(sec analyze.Section) piece {
	meta := sectionInfo(sec, TypeCompleteSection, true)
	for k, v := range sec.Meta {
		meta[k] = v
	}
	return piece{text: sec.Content, start: sec.StartPos, end: sec.EndPos, meta: meta}
}

// splitSection walks the section content emitting overlapping parts. Each
// part ends on a semantic boundary when one is close enough. A trailing
// remainder shorter than the minimum is absorbed into the last part so the
// section span stays fully covered.
func (c *Chunker) splitSection(sec analyze.Section) []piece {
	size := c.analyzer.OptimalChunkSize(sec)
	if c.size > 0 && size == analyze.DefaultChunkSize {
		size = c.size
	}
	content := []rune(sec.Content)
	if len(content) <= size {
		return []piece{c.wholePiece(sec)}
	}

	var pieces []piece
	cur, part := 0, 1
	for cur < len(content) {
		end := min(cur+size, len(content))
		if end < len(content) {
			end = c.semanticBoundary(content, end, sec.Type)
			if len(content)-end < c.minSize {
				end = len(content)
			}
		}
		text := strings.TrimSpace(string(content[cur:end]))
		// The first part may run short; later sub-minimum parts are noise
		// already covered by the overlap.
		if text != "" && (utf8.RuneCountInString(text) >= c.minSize || part == 1) {
			title := sec.Title
			if part > 1 {
				title += " (продолжение)"
			}
			meta := sectionInfo(sec, TypeSectionPart, false)
			for k, v := range sec.Meta {
				meta[k] = v
			}
			meta["part_number"] = part
			pieces = append(pieces, piece{
				text:  "[" + title + "]\n" + text,
				start: sec.StartPos + cur,
				end:   sec.StartPos + end,
				meta:  meta,
			})
			part++
		}
		if end >= len(content) {
			break
		}
		cur = max(cur+1, end-c.overlap)
	}
	for i := range pieces {
		pieces[i].meta["total_parts"] = len(pieces)
	}
	return pieces
}

// semanticBoundary finds a split point at or before position. Numbered
// sections prefer the start of the next numbered item; everything else
// falls back to sentence boundaries.
func (c *Chunker) semanticBoundary(content []rune, position int, sectionType analyze.SectionType) int {
	if sectionType == analyze.SectionNumberedItem {
		searchRange := min(150, position)
		for i := position; i > position-searchRange; i-- {
			if content[i-1] != '.' || content[i] != '\n' {
				continue
			}
			next := i + 1
			for next < len(content) && unicode.IsSpace(content[next]) {
				next++
			}
			if startsNumberedItem(content[next:]) {
				return i + 1
			}
		}
	}
	return c.sentenceBoundary(content, position)
}

// sentenceBoundary looks back from position for the end of a sentence: a
// terminator followed by whitespace, or a newline followed by an uppercase
// letter or a digit. Failing that, the nearest whitespace.
func (c *Chunker) sentenceBoundary(content []rune, position int) int {
	searchRange := min(100, position)
	for i := position; i > position-searchRange; i-- {
		switch content[i] {
		case '.', '!', '?':
			if i+1 < len(content) && unicode.IsSpace(content[i+1]) && !isAbbreviation(content, i) {
				return i + 1
			}
		case '\n':
			if i+1 < len(content) && (unicode.IsUpper(content[i+1]) || unicode.IsDigit(content[i+1])) {
				return i + 1
			}
		}
	}
	for i := position; i > position-searchRange; i-- {
		if unicode.IsSpace(content[i]) {
			return i
		}
	}
	return position
}

// isAbbreviation reports whether the dot at pos belongs to a common Russian
// abbreviation, judged from a small window around it.
func isAbbreviation(content []rune, pos int) bool {
	if pos < 2 {
		return false
	}
	window := strings.ToLower(string(content[max(0, pos-5):min(len(content), pos+3)]))
	for _, abbr := range abbreviations {
		if strings.Contains(window, abbr) {
			return true
		}
	}
	return false
}

func startsNumberedItem(r []rune) bool {
	i := 0
	for i < len(r) && r[i] >= '0' && r[i] <= '9' {
		i++
	}
	return i > 0 && i < len(r) && r[i] == '.'
}

// placedTable is a table located at a rune offset in the document text.
type placedTable struct {
	table store.Table
	pos   int
}

// placeTables locates each table's text rendering in the document. Tables
// arrive in reading order, so the search resumes after the previous match
// and repeated identical tables resolve to distinct offsets. Tables whose
// rendering is not present in the text are skipped.
func placeTables(text string, tables []store.Table) []placedTable {
	placed := make([]placedTable, 0, len(tables))
	byteOff, runeOff := 0, 0
	for _, table := range tables {
		if table.Text == "" {
			continue
		}
		idx := strings.Index(text[byteOff:], table.Text)
		if idx < 0 {
			continue
		}
		runeOff += utf8.RuneCountInString(text[byteOff : byteOff+idx])
		placed = append(placed, placedTable{table: table, pos: runeOff})
		runeOff += utf8.RuneCountInString(table.Text)
		byteOff += idx + len(table.Text)
	}
	return placed
}

// tablePieces walks the sections routing those that contain a table through
// the row-level path and the rest through normal section chunking.
func (c *Chunker) tablePieces(text string, sections []analyze.Section, tables []store.Table) []piece {
	placed := placeTables(text, tables)
	docRunes := []rune(text)
	var pieces []piece
	for _, sec := range sections {
		var inSection []placedTable
		for _, pt := range placed {
			if pt.pos >= sec.StartPos && pt.pos < sec.EndPos {
				inSection = append(inSection, pt)
			}
		}
		if len(inSection) == 0 {
			pieces = append(pieces, c.sectionPieces(sec)...)
			continue
		}
		pieces = append(pieces, c.sectionWithTables(sec, inSection, docRunes)...)
	}
	return pieces
}

// sectionWithTables emits the text before each table, the table's row
// chunks, and the text after the last table. Table context windows come
// from the document text, not the section, so a caption right before the
// table is found even when the table opens its own section. A table that
// yields no row chunks still occupies its span as a single fallback chunk.
func (c *Chunker) sectionWithTables(sec analyze.Section, placed []placedTable, docRunes []rune) []piece {
	content := []rune(sec.Content)
	var pieces []piece
	cur := 0
	for _, pt := range placed {
		rel := max(pt.pos-sec.StartPos, cur)
		if rel > len(content) {
			rel = len(content)
		}
		if before := strings.TrimSpace(string(content[cur:rel])); before != "" {
			pieces = append(pieces, piece{
				text:  before,
				start: sec.StartPos + cur,
				end:   sec.StartPos + rel,
				meta:  sectionInfo(sec, TypeTextBeforeTable, false),
			})
		}
		tableEnd := min(rel+utf8.RuneCountInString(pt.table.Text), len(content))
		processed := c.tables.ProcessInContext(pt.table, docRunes, pt.pos)
		rows := c.tables.rowPieces(processed, sec.StartPos+rel, sec.StartPos+tableEnd)
		switch {
		case len(rows) > 0:
			pieces = append(pieces, rows...)
		default:
			if fallback := strings.TrimSpace(pt.table.Text); fallback != "" {
				title := "Таблица"
				if sec.Title != "" && sec.Title != "Таблица" {
					title = "Таблица в " + sec.Title
				}
				pieces = append(pieces, piece{
					text:  fallback,
					start: sec.StartPos + rel,
					end:   sec.StartPos + tableEnd,
					meta: store.Metadata{
						"section_title":       title,
						"section_type":        string(analyze.SectionTable),
						"section_level":       sec.Level,
						"chunk_type":          TypeFallbackTable,
						"is_complete_section": true,
					},
				})
			}
		}
		cur = tableEnd
	}
	if after := strings.TrimSpace(string(content[cur:])); after != "" {
		pieces = append(pieces, piece{
			text:  after,
			start: sec.StartPos + cur,
			end:   sec.EndPos,
			meta:  sectionInfo(sec, TypeTextAfterTable, false),
		})
	}
	return pieces
}

func sectionInfo(sec analyze.Section, chunkType string, complete bool) store.Metadata {
	return store.Metadata{
		"section_title":       sec.Title,
		"section_type":        string(sec.Type),
		"section_level":       sec.Level,
		"chunk_type":          chunkType,
		"is_complete_section": complete,
	}
}

// assemble numbers the pieces globally and attaches the per-chunk and
// document-level metadata every downstream consumer expects.
func (c *Chunker) assemble(pieces []piece, doc Document, docMeta analyze.Metadata) []store.Chunk {
	if len(pieces) == 0 {
		return nil
	}
	docType := string(docMeta.Type)
	if docType == "" {
		docType = string(analyze.TypeGeneral)
	}
	createdAt := time.Now().UTC().Format(time.RFC3339)

	chunks := make([]store.Chunk, len(pieces))
	for i, p := range pieces {
		meta := p.meta.Clone()
		if meta == nil {
			meta = store.Metadata{}
		}
		meta["doc_id"] = doc.ID
		meta["chunk_index"] = i
		meta["access_level"] = doc.AccessLevel
		meta["char_start"] = p.start
		meta["char_end"] = p.end
		meta["char_count"] = utf8.RuneCountInString(p.text)
		meta["created_at"] = createdAt
		meta["total_chunks"] = len(pieces)
		meta["overlap_prev"] = overlapWithPrevious(pieces, i)
		meta["document_type"] = docType
		meta["document_title"] = docMeta.Title
		meta["document_number"] = docMeta.Number
		meta["document_date"] = docMeta.Date
		meta["document_organization"] = docMeta.Organization

		chunks[i] = store.Chunk{
			ID:          store.ChunkID(doc.ID, i),
			DocumentID:  doc.ID,
			Index:       i,
			Text:        p.text,
			AccessLevel: doc.AccessLevel,
			Metadata:    meta,
		}
	}
	return chunks
}

// overlapWithPrevious is the rune span shared with the preceding chunk.
func overlapWithPrevious(pieces []piece, i int) int {
	if i == 0 {
		return 0
	}
	overlap := min(pieces[i-1].end, pieces[i].end) - max(pieces[i-1].start, pieces[i].start)
	return max(overlap, 0)
}
