package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"
	"github.com/xeipuuv/gojsonschema"
)

// ErrExtractionParse marks model output that did not contain a usable fact array.
var ErrExtractionParse = errors.New("fact extraction output could not be parsed")

// Candidate is one fact proposed by the model.
type Candidate struct {
	Content   string `json:"content"`
	IsPrivate bool   `json:"isPrivate"`
}

const candidateSchema = `{
	"type": "object",
	"properties": {
		"content": {"type": "string", "minLength": 1},
		"isPrivate": {"type": "boolean"}
	},
	"required": ["content"]
}`

var loadCandidateSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(candidateSchema))
})

// FindArray locates the first bracket-delimited array in text. Brackets inside
// JSON strings are ignored. When the array is never closed it returns the
// remainder from the opening bracket and false.
func FindArray(text string) (string, bool) {
	start := strings.IndexByte(text, '[')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return text[start:], false
}

// ParseCandidates extracts the fact candidates from raw model output.
// Output without any array yields no candidates and no error. An array that
// fails to decode is run through JSON repair once; items that do not match the
// candidate schema or whose content is blank are dropped.
func ParseCandidates(text string) ([]Candidate, error) {
	literal, _ := FindArray(text)
	if literal == "" {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(literal), &items); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(literal)
		if repairErr != nil {
			return nil, fmt.Errorf("%w: %v (repair: %v)", ErrExtractionParse, err, repairErr)
		}
		if err := json.Unmarshal([]byte(repaired), &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExtractionParse, err)
		}
	}

	schema, err := loadCandidateSchema()
	if err != nil {
		return nil, fmt.Errorf("invalid candidate schema: %w", err)
	}

	candidates := make([]Candidate, 0, len(items))
	for _, item := range items {
		result, err := schema.Validate(gojsonschema.NewBytesLoader(item))
		if err != nil || !result.Valid() {
			continue
		}

		var c Candidate
		if err := json.Unmarshal(item, &c); err != nil {
			continue
		}
		// blank content is skipped; anything else is kept byte-for-byte
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}
