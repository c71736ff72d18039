package chunk

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/docrank/docrank/internal/store"
)

// Context window sizes, in runes, around a table.
const (
	tableContextBefore = 200
	tableContextAfter  = 100
)

// ProcessedTable is a table resolved against its surrounding text: a title
// recovered from the preceding line, trimmed header and data rows, and the
// context windows that anchor every row chunk back into the document.
type ProcessedTable struct {
	Title         string
	Headers       []string
	Rows          [][]string
	ContextBefore string
	ContextAfter  string
}

// TableProcessor turns inline tables into per-row chunks so that a query
// matching one row retrieves that row with its headers and context instead
// of the whole table.
type TableProcessor struct {
	logger *slog.Logger
}

// TableOption configures a TableProcessor.
type TableOption func(*TableProcessor)

// WithTableLogger sets the logger.
func WithTableLogger(logger *slog.Logger) TableOption {
	return func(p *TableProcessor) {
		p.logger = logger
	}
}

// NewTableProcessor creates a table processor.
func NewTableProcessor(opts ...TableOption) *TableProcessor {
	p := &TableProcessor{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessInContext resolves a table that starts at rune offset pos within
// content. The context windows come from the surrounding section text, not
// from whatever the parser recorded, so they always match the final layout.
func (p *TableProcessor) ProcessInContext(table store.Table, content []rune, pos int) ProcessedTable {
	tableLen := utf8.RuneCountInString(table.Text)
	end := min(pos+tableLen, len(content))

	before := strings.TrimSpace(string(content[max(0, pos-tableContextBefore):max(0, pos)]))
	after := ""
	if end < len(content) {
		after = strings.TrimSpace(string(content[end:min(len(content), end+tableContextAfter)]))
	}

	headers, rows := headersAndRows(table)
	return ProcessedTable{
		Title:         tableTitle(before),
		Headers:       headers,
		Rows:          rows,
		ContextBefore: before,
		ContextAfter:  after,
	}
}

// rowPieces renders one chunk per data row. Every row repeats the table
// title, the column headers and the document context, so each chunk is
// independently searchable. The char span of every row chunk is the span of
// the whole table in the document.
func (p *TableProcessor) rowPieces(pt ProcessedTable, start, end int) []piece {
	var lead []string
	if pt.ContextBefore != "" {
		lead = append(lead, "Контекст документа: "+pt.ContextBefore)
	}
	lead = append(lead, "Таблица: "+pt.Title)
	if len(pt.Headers) > 0 {
		lead = append(lead, "Столбцы таблицы: "+strings.Join(pt.Headers, " | "))
	}

	pieces := make([]piece, 0, len(pt.Rows))
	for i, row := range pt.Rows {
		line := rowLine(i+1, pt.Headers, row)
		if line == "" {
			continue
		}
		lines := append(append([]string(nil), lead...), line)
		if pt.ContextAfter != "" {
			lines = append(lines, "Далее в документе: "+pt.ContextAfter)
		}
		pieces = append(pieces, piece{
			text:  strings.Join(lines, "\n"),
			start: start,
			end:   end,
			meta: store.Metadata{
				"section_title":       pt.Title,
				"section_type":        "table_row",
				"section_level":       1,
				"chunk_type":          TypeTableRow,
				"is_complete_section": false,
				"table_title":         pt.Title,
				"table_headers":       append([]string(nil), pt.Headers...),
				"table_total_rows":    len(pt.Rows),
				"table_total_cols":    len(pt.Headers),
				"table_row_index":     i + 1,
				"table_row_data":      append([]string(nil), row...),
				"has_table_context":   true,
				"context_before":      pt.ContextBefore,
				"context_after":       pt.ContextAfter,
				"content_type":        "structured_data",
				"search_weight":       2.0,
			},
		})
	}
	return pieces
}

// rowLine renders one data row. When the row aligns with the headers, each
// cell is prefixed with its column name; otherwise the non-empty cells are
// joined as-is. Rows with no values render to nothing.
func rowLine(index int, headers, row []string) string {
	var cells []string
	if len(headers) > 0 && len(row) == len(headers) {
		for j, header := range headers {
			if row[j] != "" {
				cells = append(cells, header+": "+row[j])
			}
		}
	} else {
		for _, value := range row {
			if value != "" {
				cells = append(cells, value)
			}
		}
	}
	if len(cells) == 0 {
		return ""
	}
	return fmt.Sprintf("Строка %d: %s", index, strings.Join(cells, " | "))
}

// headersAndRows extracts trimmed headers and data rows from the raw grid.
// The first grid row is the header row; data rows with no content at all
// are dropped. A header row with no content counts as no headers.
func headersAndRows(table store.Table) (headers []string, rows [][]string) {
	if len(table.Rows) == 0 {
		return nil, nil
	}
	hasContent := false
	for _, cell := range table.Rows[0] {
		trimmed := strings.TrimSpace(cell)
		headers = append(headers, trimmed)
		if trimmed != "" {
			hasContent = true
		}
	}
	if !hasContent {
		headers = nil
	}
	for _, raw := range table.Rows[1:] {
		row := make([]string, len(raw))
		keep := false
		for j, cell := range raw {
			row[j] = strings.TrimSpace(cell)
			if row[j] != "" {
				keep = true
			}
		}
		if keep {
			rows = append(rows, row)
		}
	}
	return headers, rows
}

// tableTitle picks the table caption from the text right before the table:
// the last preceding line of plausible caption length, with a trailing
// colon stripped.
func tableTitle(contextBefore string) string {
	lines := strings.Split(contextBefore, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if n := utf8.RuneCountInString(line); n > 3 && n < 150 {
			return strings.TrimSpace(strings.TrimRight(line, ":"))
		}
	}
	return "Таблица"
}
