package ingest

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/docrank/docrank/internal/errors"
	"github.com/docrank/docrank/internal/store"
)

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// DocxParser reads .docx archives: body paragraphs and tables in document
// order plus the core properties. Tables keep their full cell grid and get
// an inline text rendering so table content is searchable as plain text.
type DocxParser struct{}

func (p *DocxParser) Extensions() []string { return []string{".docx"} }

func (p *DocxParser) Parse(path string) (*Parsed, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Corruption("open docx archive", err)
	}
	defer archive.Close()

	var parts []docxPart
	var props map[string]string
	found := false
	for _, f := range archive.File {
		switch f.Name {
		case "word/document.xml":
			rc, oerr := f.Open()
			if oerr != nil {
				return nil, errors.Corruption("open docx document part", oerr)
			}
			parts, err = parseDocumentXML(rc)
			rc.Close()
			if err != nil {
				return nil, err
			}
			found = true
		case "docProps/core.xml":
			if rc, oerr := f.Open(); oerr == nil {
				props = parseCoreProperties(rc)
				rc.Close()
			}
		}
	}
	if !found {
		return nil, errors.Corruption("docx archive has no document part", nil)
	}

	texts := make([]string, 0, len(parts))
	var tables []store.Table
	for _, part := range parts {
		texts = append(texts, part.text)
		if part.table != nil {
			tables = append(tables, *part.table)
		}
	}

	return &Parsed{
		Text:       strings.Join(texts, "\n"),
		Tables:     tables,
		Properties: props,
		PartCount:  len(parts),
		Structured: true,
	}, nil
}

// docxPart is one body-level element: a paragraph's text, or a table with
// its inline rendering.
type docxPart struct {
	text  string
	table *store.Table
}

// parseDocumentXML walks the document body in order. Empty paragraphs and
// rowless tables are dropped.
func parseDocumentXML(r io.Reader) ([]docxPart, error) {
	dec := xml.NewDecoder(r)
	var parts []docxPart
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Corruption("parse docx document xml", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Space != wordNS {
			continue
		}
		switch start.Name.Local {
		case "p":
			text, perr := collectParagraph(dec)
			if perr != nil {
				return nil, perr
			}
			if text != "" {
				parts = append(parts, docxPart{text: text})
			}
		case "tbl":
			table, terr := collectTable(dec)
			if terr != nil {
				return nil, terr
			}
			if table != nil {
				parts = append(parts, docxPart{text: table.Text, table: table})
			}
		}
	}
	return parts, nil
}

// collectParagraph gathers the run text of one paragraph. Tabs and manual
// breaks become whitespace.
func collectParagraph(dec *xml.Decoder) (string, error) {
	var b strings.Builder
	depth := 1
	inText := false
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", errors.Corruption("parse docx paragraph", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == wordNS {
				switch t.Name.Local {
				case "t":
					inText = true
				case "tab":
					b.WriteString("\t")
				case "br", "cr":
					b.WriteString("\n")
				}
			}
			depth++
		case xml.EndElement:
			if t.Name.Space == wordNS && t.Name.Local == "t" {
				inText = false
			}
			depth--
		case xml.CharData:
			if inText {
				b.Write([]byte(t))
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// collectTable parses one table subtree into its full cell grid and the
// inline rendering. Returns nil for a table without rows.
func collectTable(dec *xml.Decoder) (*store.Table, error) {
	var rows [][]string
	hasMerged := false
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.Corruption("parse docx table", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == wordNS && t.Name.Local == "tr" && depth == 1 {
				row, merged, rerr := collectRow(dec)
				if rerr != nil {
					return nil, rerr
				}
				rows = append(rows, row)
				hasMerged = hasMerged || merged
				continue
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return buildTable(rows, hasMerged), nil
}

// collectRow parses the cells of one table row.
func collectRow(dec *xml.Decoder) ([]string, bool, error) {
	var cells []string
	merged := false
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, false, errors.Corruption("parse docx table row", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == wordNS && t.Name.Local == "tc" && depth == 1 {
				text, cellMerged, cerr := collectCell(dec)
				if cerr != nil {
					return nil, false, cerr
				}
				cells = append(cells, text)
				merged = merged || cellMerged
				continue
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return cells, merged, nil
}

// collectCell joins the cell's direct paragraphs with spaces. Content of
// tables nested inside the cell is not part of the cell text. Span and
// vertical-merge markers flag the cell as merged.
func collectCell(dec *xml.Decoder) (string, bool, error) {
	var paras []string
	merged := false
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", false, errors.Corruption("parse docx table cell", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == wordNS && t.Name.Local == "p" && depth == 1 {
				text, perr := collectParagraph(dec)
				if perr != nil {
					return "", false, perr
				}
				if text != "" {
					paras = append(paras, text)
				}
				continue
			}
			if t.Name.Space == wordNS && (t.Name.Local == "gridSpan" || t.Name.Local == "vMerge") {
				merged = true
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return strings.Join(strings.Fields(strings.Join(paras, " ")), " "), merged, nil
}

// buildTable turns a cell grid into a store.Table. The header is the first
// row with any content; it and every non-empty later row get a bracketed
// text line so the table reads naturally inside the document text.
func buildTable(rows [][]string, hasMerged bool) *store.Table {
	if len(rows) == 0 {
		return nil
	}

	var headers []string
	var lines []string
	headerSeen := false
	for rowIdx, row := range rows {
		filled := nonEmptyCells(row)
		if !headerSeen {
			if len(filled) == 0 {
				continue
			}
			headers = append([]string(nil), row...)
			headerSeen = true
			lines = append(lines, fmt.Sprintf("[Заголовки таблицы: %s]", strings.Join(filled, " | ")))
			continue
		}
		if len(filled) > 0 {
			lines = append(lines, fmt.Sprintf("[Строка %d: %s]", rowIdx, strings.Join(filled, " | ")))
		}
	}

	return &store.Table{
		Headers:        headers,
		Rows:           rows,
		RowCount:       len(rows),
		ColCount:       len(rows[0]),
		HasMergedCells: hasMerged,
		Text:           strings.Join(lines, "\n"),
	}
}

func nonEmptyCells(row []string) []string {
	var filled []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			filled = append(filled, cell)
		}
	}
	return filled
}

// docxCoreProps is the subset of docProps/core.xml worth keeping. Element
// names match across the Dublin Core namespaces the part mixes.
type docxCoreProps struct {
	Title    string `xml:"title"`
	Creator  string `xml:"creator"`
	Created  string `xml:"created"`
	Modified string `xml:"modified"`
}

func parseCoreProperties(r io.Reader) map[string]string {
	var cp docxCoreProps
	if err := xml.NewDecoder(r).Decode(&cp); err != nil {
		return nil
	}
	props := make(map[string]string)
	if cp.Title != "" {
		props["title"] = cp.Title
	}
	if cp.Creator != "" {
		props["author"] = cp.Creator
	}
	if cp.Created != "" {
		props["created"] = cp.Created
	}
	if cp.Modified != "" {
		props["modified"] = cp.Modified
	}
	if len(props) == 0 {
		return nil
	}
	return props
}
