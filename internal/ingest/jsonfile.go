package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docrank/docrank/internal/errors"
)

// MaxJSONDepth bounds recursion into nested containers. Deeper subtrees are
// replaced with a placeholder line.
const MaxJSONDepth = 10

// JSONParser flattens JSON documents into one "key.path: value" line per
// scalar, preserving the order keys appear in the file.
type JSONParser struct{}

func (p *JSONParser) Extensions() []string { return []string{".json"} }

func (p *JSONParser) Parse(path string) (*Parsed, error) {
	content, err := readFileText(path)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()

	var lines []string
	if err := flattenValue(dec, "", MaxJSONDepth, &lines); err != nil {
		return nil, errors.Corruption("invalid json", err)
	}
	if _, terr := dec.Token(); terr != io.EOF {
		return nil, errors.Corruption("json document has trailing data", nil)
	}
	if len(lines) == 0 {
		return nil, errors.Validation("json file has no textual content")
	}

	return &Parsed{Text: CleanText(strings.Join(lines, "\n"))}, nil
}

// flattenValue consumes one JSON value from the decoder. Scalars append a
// line; containers recurse with a decremented depth budget and an extended
// key path.
func flattenValue(dec *json.Decoder, prefix string, depth int, lines *[]string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		if s := scalarString(tok); s != "" {
			if prefix != "" {
				s = prefix + ": " + s
			}
			*lines = append(*lines, s)
		}
		return nil
	}

	switch delim {
	case '{':
		if depth <= 0 {
			*lines = append(*lines, deepMarker(prefix))
			return skipContainer(dec)
		}
		for dec.More() {
			keyTok, kerr := dec.Token()
			if kerr != nil {
				return kerr
			}
			key, _ := keyTok.(string)
			childPrefix := key
			if prefix != "" {
				childPrefix = prefix + "." + key
			}
			if err := flattenValue(dec, childPrefix, depth-1, lines); err != nil {
				return err
			}
		}
		_, err = dec.Token()
		return err
	case '[':
		if depth <= 0 {
			*lines = append(*lines, deepMarker(prefix))
			return skipContainer(dec)
		}
		for idx := 0; dec.More(); idx++ {
			childPrefix := fmt.Sprintf("%s[%d]", prefix, idx)
			if prefix == "" {
				childPrefix = fmt.Sprintf("элемент_%d", idx)
			}
			if err := flattenValue(dec, childPrefix, depth-1, lines); err != nil {
				return err
			}
		}
		_, err = dec.Token()
		return err
	}
	return nil
}

// scalarString renders a JSON scalar the way a reader would say it: null
// and blank strings render to nothing, booleans to да or нет, numbers as
// written.
func scalarString(tok json.Token) string {
	switch v := tok.(type) {
	case nil:
		return ""
	case bool:
		if v {
			return "да"
		}
		return "нет"
	case json.Number:
		return v.String()
	case string:
		return strings.TrimSpace(v)
	}
	return ""
}

func deepMarker(prefix string) string {
	if prefix == "" {
		return "[слишком глубокая вложенность]"
	}
	return prefix + ": [слишком глубокая вложенность]"
}

// skipContainer consumes the remainder of the container just opened.
func skipContainer(dec *json.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
