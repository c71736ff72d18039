package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/docrank/docrank/internal/errors"
)

// MaxCSVRows caps how many data rows are rendered into text. Files past the
// cap keep a trailing marker line saying so.
const MaxCSVRows = 1000

// CSVParser renders tabular files as labeled text: one header line and one
// "column: value" line per row, so row content is retrievable by the same
// text pipeline as prose.
type CSVParser struct{}

func (p *CSVParser) Extensions() []string { return []string{".csv"} }

func (p *CSVParser) Parse(path string) (*Parsed, error) {
	content, err := readFileText(path)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(content))
	reader.Comma = sniffDelimiter(content)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Validation("csv file has no data")
	}

	lines := []string{"Заголовки: " + strings.Join(header, ", ")}
	rowNum := 0
	rendered := 0
	for {
		record, rerr := reader.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, errors.Corruption("read csv row", rerr)
		}
		rowNum++
		if rendered >= MaxCSVRows {
			lines = append(lines, fmt.Sprintf("... (файл содержит больше строк, показаны первые %d)", rendered))
			break
		}

		pairs := make([]string, 0, len(record))
		for i, value := range record {
			if i >= len(header) {
				break
			}
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			pairs = append(pairs, header[i]+": "+value)
		}
		if len(pairs) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("Строка %d: %s", rowNum, strings.Join(pairs, "; ")))
		rendered++
	}

	if rendered == 0 {
		return nil, errors.Validation("csv file has no data rows")
	}
	return &Parsed{Text: CleanText(strings.Join(lines, "\n"))}, nil
}

// sniffDelimiter picks the column separator by counting candidates in the
// first line. Russian spreadsheet exports commonly use semicolons.
func sniffDelimiter(content string) rune {
	line, _, _ := strings.Cut(content, "\n")
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}
