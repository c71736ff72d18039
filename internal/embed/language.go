package embed

import "strings"

// Instruction prefixes for query embeddings. The model was instruction-tuned,
// so queries are wrapped in a task description matching the query language
// while documents are encoded bare.
const (
	// QueryPrefixRU is prepended to Russian queries.
	QueryPrefixRU = "Инструкция: Найди релевантные фрагменты документов для данного поискового запроса\nЗапрос: "

	// QueryPrefixEN is prepended to English queries.
	QueryPrefixEN = "Instruct: Given a search query, retrieve relevant passages from knowledge base\nQuery: "

	// LanguageRussian and LanguageEnglish are the detectable query languages.
	LanguageRussian = "ru"
	LanguageEnglish = "en"
)

// cyrillicThreshold is the Cyrillic share above which a query counts as Russian.
const cyrillicThreshold = 0.30

// DetectLanguage classifies text as Russian or English by the share of
// Cyrillic letters among all alphabetic characters. Text with no alphabetic
// characters at all defaults to English.
func DetectLanguage(text string) string {
	var cyrillic, alphabetic int
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'а' && r <= 'я' || r == 'ё':
			cyrillic++
			alphabetic++
		case r >= 'a' && r <= 'z':
			alphabetic++
		}
	}
	if alphabetic == 0 {
		return LanguageEnglish
	}
	if float64(cyrillic)/float64(alphabetic) > cyrillicThreshold {
		return LanguageRussian
	}
	return LanguageEnglish
}

// QueryPrefix returns the instruction prefix for query together with the
// detected language.
func QueryPrefix(query string) (prefix, language string) {
	language = DetectLanguage(query)
	if language == LanguageRussian {
		return QueryPrefixRU, language
	}
	return QueryPrefixEN, language
}
