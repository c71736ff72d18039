package analyze

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultChunkSize is the base target size, in runes, for sections without
// an adaptive override.
const DefaultChunkSize = 1000

// Adaptive chunk sizing per section type.
const (
	headerChunkMax         = 500
	numberedItemChunkSize  = 600
	signaturesChunkMax     = 300
	tableChunkMax          = 1500
	keepWholeBelow         = 200
	numberedKeepWholeBelow = 500
)

// Document class triggers, checked in order: the first matching class wins.
// Matching is case-insensitive over the raw text.
var docTypePatterns = []struct {
	docType  DocumentType
	patterns []*regexp.Regexp
}{
	{TypeOrder, []*regexp.Regexp{
		regexp.MustCompile(`(?i)ПРИКАЗ`),
		regexp.MustCompile(`(?i)П\s*Р\s*И\s*К\s*А\s*З`),
		regexp.MustCompile(`(?i)№\s*\d+[-\p{L}\p{N}_]*\s*от`),
		regexp.MustCompile(`(?i)ПРИКАЗЫВАЮ`),
	}},
	{TypeInstruction, []*regexp.Regexp{
		regexp.MustCompile(`(?i)ИНСТРУКЦИЯ`),
		regexp.MustCompile(`(?i)ДОЛЖНОСТНАЯ\s+ИНСТРУКЦИЯ`),
		regexp.MustCompile(`(?i)РЕГЛАМЕНТ`),
	}},
	{TypeContract, []*regexp.Regexp{
		regexp.MustCompile(`(?i)ДОГОВОР`),
		regexp.MustCompile(`(?i)СОГЛАШЕНИЕ`),
		regexp.MustCompile(`(?i)КОНТРАКТ`),
	}},
}

// Registration metadata extractors. \w is ASCII-only in RE2, so the
// Cyrillic-bearing classes spell out \p{L}\p{N} instead.
var (
	numberRe    = regexp.MustCompile(`№\s*(\d+[-\p{L}\p{N}_]*)`)
	dateRe      = regexp.MustCompile(`«(\d{1,2})»\s+(\p{L}+)\s+(\d{4})\s*г\.?`)
	orgRe       = regexp.MustCompile(`(?:ООО|ОАО|ЗАО|ИП)\s*[«"]?([^«"»\n]+)[«"»]?`)
	innRe       = regexp.MustCompile(`ИНН\s*(\d{10,12})`)
	ogrnRe      = regexp.MustCompile(`ОГРН\s*(\d{13,15})`)
	kppRe       = regexp.MustCompile(`КПП\s*(\d{9})`)
	signatoryRe = regexp.MustCompile(`(?:Директор|Генеральный\s+директор|Руководитель)[^\n]*\s+([А-ЯЁ][а-яё]+\s+[А-ЯЁ]\.[А-ЯЁ]\.)`)
	addressRe   = regexp.MustCompile(`(?:Юридический\s+адрес|Фактический\s+адрес):\s*([^\n]+)`)
)

// Structural line patterns, applied to whitespace-trimmed lines.
var (
	numberedRe   = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.\s*(.+)`)
	letteredRe   = regexp.MustCompile(`^([а-я])\)\s*(.+)`)
	headerRe     = regexp.MustCompile(`^([А-ЯЁ\s]{3,}):?\s*$`)
	subheaderRe  = regexp.MustCompile(`^([А-ЯЁ][а-яё\s]+):?\s*$`)
	tableStartRe = regexp.MustCompile(`^\[Заголовки таблицы:`)
)

// Analyzer splits documents into sections and recovers their metadata.
type Analyzer struct {
	logger *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// NewAnalyzer creates a document analyzer.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze classifies the document, extracts its metadata and splits it into
// sections in reading order.
func (a *Analyzer) Analyze(text string) (Metadata, []Section) {
	docType := detectType(text)
	meta := extractMetadata(text, docType)
	sections := splitSections(text, docType)

	a.logger.Info("document analyzed",
		slog.String("type", string(docType)),
		slog.Int("sections", len(sections)))
	return meta, sections
}

func detectType(text string) DocumentType {
	for _, entry := range docTypePatterns {
		for _, re := range entry.patterns {
			if re.MatchString(text) {
				return entry.docType
			}
		}
	}
	return TypeGeneral
}

func extractMetadata(text string, docType DocumentType) Metadata {
	meta := Metadata{Type: docType}

	if m := numberRe.FindStringSubmatch(text); m != nil {
		meta.Number = m[1]
	}
	if m := dateRe.FindStringSubmatch(text); m != nil {
		meta.Date = m[1] + " " + m[2] + " " + m[3]
	}
	if m := orgRe.FindStringSubmatch(text); m != nil {
		meta.Organization = strings.TrimSpace(m[1])
	}
	for _, m := range signatoryRe.FindAllStringSubmatch(text, -1) {
		meta.Signatories = append(meta.Signatories, strings.TrimSpace(m[1]))
	}
	if m := innRe.FindStringSubmatch(text); m != nil {
		meta.INN = m[1]
	}
	if m := ogrnRe.FindStringSubmatch(text); m != nil {
		meta.OGRN = m[1]
	}
	if m := kppRe.FindStringSubmatch(text); m != nil {
		meta.KPP = m[1]
	}
	for _, m := range addressRe.FindAllStringSubmatch(text, -1) {
		meta.Addresses = append(meta.Addresses, strings.TrimSpace(m[1]))
	}
	meta.Title = documentTitle(text)
	return meta
}

// documentTitle picks the first line past the letterhead: longer than ten
// characters, not starting with a digit, and free of requisite markers.
func documentTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		if strings.Contains(upper, "ООО") || strings.Contains(upper, "ИНН") ||
			strings.Contains(upper, "АДРЕС") || strings.Contains(upper, "ОГРН") {
			continue
		}
		if utf8.RuneCountInString(line) > 10 && !startsWithDigit(line) {
			return line
		}
	}
	return ""
}

func startsWithDigit(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsDigit(r)
}

// lineClass is the classification of a single line.
type lineClass struct {
	isHeader    bool
	title       string
	level       int
	sectionType SectionType
	meta        map[string]string
}

func classifyLine(line string, docType DocumentType) lineClass {
	if m := numberedRe.FindStringSubmatch(line); m != nil {
		number := m[1]
		return lineClass{
			isHeader:    true,
			title:       "Пункт " + number,
			level:       strings.Count(number, ".") + 1,
			sectionType: SectionNumberedItem,
			meta:        map[string]string{"number": number, "item_title": strings.TrimSpace(m[2])},
		}
	}
	if m := letteredRe.FindStringSubmatch(line); m != nil {
		return lineClass{
			isHeader:    true,
			title:       "Подпункт " + m[1] + ")",
			level:       3,
			sectionType: SectionLetteredItem,
			meta:        map[string]string{"letter": m[1], "item_title": strings.TrimSpace(m[2])},
		}
	}
	if headerRe.MatchString(line) {
		return lineClass{isHeader: true, title: line, level: 1, sectionType: SectionHeader}
	}
	if subheaderRe.MatchString(line) && utf8.RuneCountInString(line) < 100 {
		return lineClass{isHeader: true, title: line, level: 2, sectionType: SectionSubheader}
	}
	if tableStartRe.MatchString(line) {
		return lineClass{
			isHeader:    true,
			title:       "Таблица",
			level:       1,
			sectionType: SectionTable,
			meta:        map[string]string{"is_table_start": "true"},
		}
	}
	if docType == TypeOrder {
		if strings.Contains(strings.ToUpper(line), "ПРИКАЗЫВАЮ") {
			return lineClass{isHeader: true, title: "Распорядительная часть", level: 1, sectionType: SectionDirective}
		}
		if strings.HasPrefix(line, "Директор") || strings.HasPrefix(line, "Генеральный директор") {
			return lineClass{isHeader: true, title: "Подписи", level: 1, sectionType: SectionSignatures}
		}
	}
	return lineClass{}
}

// splitSections walks the document line by line. Every classified header
// line closes the open section and starts a new one; text before the first
// header becomes a plain section of its own so no part of the document is
// lost. Offsets are rune positions into the original text.
func splitSections(text string, docType DocumentType) []Section {
	runes := []rune(text)
	lines := strings.Split(text, "\n")
	starts := lineOffsets(lines)

	var sections []Section
	open := lineClass{title: "Документ", level: 1, sectionType: SectionParagraph}
	openStart := 0

	flush := func(end int) {
		if sec, ok := buildSection(runes, open, openStart, end); ok {
			sections = append(sections, sec)
		}
	}

	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		cls := classifyLine(stripped, docType)
		if !cls.isHeader {
			continue
		}
		flush(starts[i])
		open = cls
		openStart = starts[i]
	}
	flush(len(runes))

	return sections
}

func lineOffsets(lines []string) []int {
	starts := make([]int, len(lines))
	pos := 0
	for i, line := range lines {
		starts[i] = pos
		pos += utf8.RuneCountInString(line) + 1
	}
	return starts
}

// buildSection trims the span to its non-whitespace core. Content is the
// exact substring between the returned offsets, so a chunk at local offset
// k starts at StartPos+k in the document.
func buildSection(runes []rune, cls lineClass, start, end int) (Section, bool) {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	if start >= end {
		return Section{}, false
	}
	return Section{
		Title:    cls.title,
		Content:  string(runes[start:end]),
		Level:    cls.level,
		Type:     cls.sectionType,
		StartPos: start,
		EndPos:   end,
		Meta:     cls.meta,
	}, true
}

// OptimalChunkSize returns the target chunk size for a section. Headers,
// signatures and short numbered items get tight chunks; tables get room
// for their row lines.
func (a *Analyzer) OptimalChunkSize(section Section) int {
	length := utf8.RuneCountInString(section.Content)
	switch section.Type {
	case SectionHeader:
		return min(headerChunkMax, length+100)
	case SectionNumberedItem:
		switch {
		case length < 300:
			return length + 50
		case length < 800:
			return numberedItemChunkSize
		default:
			return DefaultChunkSize
		}
	case SectionSignatures:
		return min(signaturesChunkMax, length+50)
	case SectionTable:
		return min(tableChunkMax, length+200)
	default:
		return DefaultChunkSize
	}
}

// KeepTogether reports whether a section must be emitted as one chunk.
// Tables are always splittable so the row-level pipeline can take over.
func (a *Analyzer) KeepTogether(section Section) bool {
	if utf8.RuneCountInString(section.Content) < keepWholeBelow {
		return true
	}
	switch section.Type {
	case SectionHeader, SectionSignatures, SectionLetteredItem:
		return true
	case SectionTable:
		return false
	case SectionNumberedItem:
		return utf8.RuneCountInString(section.Content) < numberedKeepWholeBelow
	}
	return false
}
