// Package analyze classifies Russian business documents, pulls out their
// registration metadata and splits them into typed sections for the
// chunker. Everything works on character offsets into the original text so
// downstream chunk spans stay exact.
package analyze

// DocumentType is the document class used to pick chunking behavior.
type DocumentType string

const (
	TypeOrder       DocumentType = "order"
	TypeInstruction DocumentType = "instruction"
	TypeContract    DocumentType = "contract"
	// TypeReport is never auto-detected; it arrives only from upstream
	// metadata on structured imports.
	TypeReport  DocumentType = "report"
	TypeGeneral DocumentType = "general"
)

// SectionType labels one structural element of a document.
type SectionType string

const (
	SectionHeader       SectionType = "header"
	SectionSubheader    SectionType = "subheader"
	SectionParagraph    SectionType = "paragraph"
	SectionNumberedItem SectionType = "numbered_item"
	SectionLetteredItem SectionType = "lettered_item"
	SectionTable        SectionType = "table"
	SectionDirective    SectionType = "order_directive"
	SectionSignatures   SectionType = "signatures"
)

// Section is one structural span of the document. Content is the exact
// text slice between StartPos and EndPos (rune offsets, whitespace trimmed
// from both edges), so chunk offsets can be derived by addition alone.
type Section struct {
	Title    string
	Content  string
	Level    int
	Type     SectionType
	StartPos int
	EndPos   int
	Meta     map[string]string
}

// Metadata is what the analyzer recovers from the document text.
type Metadata struct {
	Type         DocumentType
	Title        string
	Number       string
	Date         string
	Organization string
	Signatories  []string
	INN          string
	OGRN         string
	KPP          string
	Addresses    []string
}
