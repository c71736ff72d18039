package keywords

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// The catalogue order fixes the output order: terms appear as their category
// first matches them.
var technicalPatterns = []*regexp.Regexp{
	// Programming languages.
	regexp.MustCompile(`(?i)\b(?:Python|JavaScript|TypeScript|Java|C\+\+|C#|PHP|Ruby|Go|Rust|Swift|Kotlin|SQL)\b`),
	// Frameworks.
	regexp.MustCompile(`(?i)\b(?:React|Vue|Angular|Django|Flask|Express|Spring|Laravel|Rails|ASP\.NET|FastAPI|Celery)\b`),
	// Databases.
	regexp.MustCompile(`(?i)\b(?:PostgreSQL|MySQL|MongoDB|Redis|SQLite|Oracle|SQL Server|ChromaDB|Elasticsearch|Prisma)\b`),
	// Technologies.
	regexp.MustCompile(`(?i)\b(?:Docker|Kubernetes|AWS|Azure|GCP|API|REST|GraphQL|JWT|OAuth|SSL|TLS|RAG|LLM|AI|ML)\b`),
	// File names with a known extension. No leading \b: that anchor is
	// ASCII-only and would reject Cyrillic file names.
	regexp.MustCompile(`(?i)[\p{L}\p{N}_]+\.(?:pdf|docx?|xlsx?|pptx?|csv|json|xml|html|css|js|ts|py|java|cpp|sql|md|txt)\b`),
	// Protocols.
	regexp.MustCompile(`(?i)\b(?:HTTP|HTTPS|FTP|SMTP|TCP|UDP|WebSocket|SSE)\b`),
	// Numbers with units.
	regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:MB|GB|TB|KB|ms|sec|min|hour|%|px|em|rem)\b`),
	// Versions.
	regexp.MustCompile(`(?i)\bv?\d+\.\d+(?:\.\d+)?(?:-\w+)?\b`),
	// ML and AI terms.
	regexp.MustCompile(`(?i)\b(?:embedding|vector|neural|model|algorithm|dataset|transformer|BERT|GPT|LLM|NLP|RAG)\b`),
	// Business terms.
	regexp.MustCompile(`(?i)\b(?:SaaS|B2B|B2C|MVP|ROI|KPI|CRM|ERP|UI|UX|API)\b`),
	// System terms.
	regexp.MustCompile(`(?i)\b(?:server|client|backend|frontend|database|cache|queue|worker|service|middleware)\b`),
}

// Identifier shapes, kept with their original casing.
var (
	functionCallRe = regexp.MustCompile(`[\p{L}\p{N}_]+\(\)`)
	camelCaseRe    = regexp.MustCompile(`\b[A-Z][a-z]+(?:[A-Z][a-z]+)+\b`)
)

var camelCaseNoise = map[string]bool{
	"THE": true, "AND": true, "FOR": true, "WITH": true, "BUT": true, "NOT": true,
}

// TechnicalTerms extracts technical terms from the text. It needs no model
// and always runs. Output order follows the catalogue, then identifier
// matches, each term once, capped at MaxPerChunk.
func TechnicalTerms(text string) []string {
	seen := make(map[string]bool)
	var terms []string
	add := func(term string) {
		if term != "" && !seen[term] {
			seen[term] = true
			terms = append(terms, term)
		}
	}

	for _, re := range technicalPatterns {
		for _, m := range re.FindAllString(text, -1) {
			add(normalizeTerm(m))
		}
	}
	for _, re := range []*regexp.Regexp{functionCallRe, camelCaseRe} {
		for _, m := range re.FindAllString(text, -1) {
			if keepIdentifier(m) {
				add(m)
			}
		}
	}

	terms = filterJunk(terms)
	if len(terms) > MaxPerChunk {
		terms = terms[:MaxPerChunk]
	}
	return terms
}

// normalizeTerm keeps short acronyms uppercased and lowercases the rest.
func normalizeTerm(term string) string {
	if isAllUpper(term) && utf8.RuneCountInString(term) <= 5 {
		return strings.ToUpper(term)
	}
	return strings.ToLower(term)
}

// isAllUpper reports whether the term has cased letters and none lowercase.
func isAllUpper(term string) bool {
	hasCased := false
	for _, r := range term {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasCased = true
		}
	}
	return hasCased
}

func keepIdentifier(m string) bool {
	if len(m) <= 2 || camelCaseNoise[m] {
		return false
	}
	if strings.HasPrefix(m, "_") || strings.HasSuffix(m, "_") {
		return false
	}
	return strings.Count(m, "_") <= 1
}

var (
	separatorsOnlyRe = regexp.MustCompile(`^[_\-.]+$`)
	digitsOnlyRe     = regexp.MustCompile(`^[\d.]+$`)
)

// filterJunk drops separator-only and digit-only tokens and tokens that are
// mostly underscores.
func filterJunk(terms []string) []string {
	kept := terms[:0]
	for _, t := range terms {
		n := utf8.RuneCountInString(t)
		if n < 3 || separatorsOnlyRe.MatchString(t) || digitsOnlyRe.MatchString(t) {
			continue
		}
		if strings.Count(t, "_") >= n/2 {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}
