package chunk

import "github.com/docrank/docrank/internal/store"

// Stats summarizes a chunking run for processing reports.
type Stats struct {
	TotalChunks      int            `json:"total_chunks"`
	TotalCharacters  int            `json:"total_characters"`
	AvgSize          float64        `json:"avg_chunk_size"`
	MinSize          int            `json:"min_chunk_size"`
	MaxSize          int            `json:"max_chunk_size"`
	ChunkTypes       map[string]int `json:"chunk_types"`
	SectionTypes     map[string]int `json:"section_types"`
	CompleteSections int            `json:"complete_sections"`
	PartialSections  int            `json:"partial_sections"`
}

// Summarize computes size and composition statistics over chunks. Sizes
// are in runes.
func Summarize(chunks []store.Chunk) Stats {
	if len(chunks) == 0 {
		return Stats{}
	}
	s := Stats{
		TotalChunks:  len(chunks),
		ChunkTypes:   make(map[string]int),
		SectionTypes: make(map[string]int),
	}
	for i, ch := range chunks {
		n := ch.CharCount()
		s.TotalCharacters += n
		if i == 0 || n < s.MinSize {
			s.MinSize = n
		}
		if n > s.MaxSize {
			s.MaxSize = n
		}
		if t := ch.Metadata.String("chunk_type"); t != "" {
			s.ChunkTypes[t]++
		}
		if t := ch.Metadata.String("section_type"); t != "" {
			s.SectionTypes[t]++
		}
		if ch.Metadata.Bool("is_complete_section") {
			s.CompleteSections++
		}
	}
	s.AvgSize = float64(s.TotalCharacters) / float64(len(chunks))
	s.PartialSections = s.TotalChunks - s.CompleteSections
	return s
}
