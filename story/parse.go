package story

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const bom = "\ufeff"

// StripBOM removes a leading UTF-8 byte order mark.
func StripBOM(s string) string {
	return strings.TrimPrefix(s, bom)
}

// StripComments removes // line comments and /* */ block comments outside
// of JSON strings.
func StripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
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
		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += end + 3
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ParseDocument parses a story document, tolerating a BOM and comments.
// Numbers are kept as json.Number so they round-trip unchanged.
func ParseDocument(content string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(StripComments(StripBOM(content))))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid story document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("invalid story document: not an object")
	}
	return doc, nil
}

// EncodeDocument renders doc with two-space indentation and a trailing newline.
func EncodeDocument(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExtractSummary reads status, identity and features from a parsed story
// document. Alternative key names (state, storyId, name, stories,
// featureId) are accepted.
func ExtractSummary(doc map[string]any) *Extracted {
	if doc == nil {
		return &Extracted{}
	}
	status := firstTruthy(doc, "status", "state")
	return &Extracted{
		Status: status,
		Summary: &Summary{
			ID:     first(doc, "id", "storyId"),
			Title:  first(doc, "title", "name"),
			Status: status,
		},
		Features: features(doc),
	}
}

// Normalize reduces a payload to the fields a sink merges.
func Normalize(p Payload) Normalized {
	if p.Raw != nil {
		return Normalized{
			StoryID:     first(p.Raw, "id", "storyId"),
			Title:       first(p.Raw, "title", "name"),
			Description: first(p.Raw, "description"),
			Status:      first(p.Raw, "status", "state"),
			Features:    features(p.Raw),
		}
	}
	if p.Extracted != nil {
		n := Normalized{Status: p.Extracted.Status, Features: p.Extracted.Features}
		if s := p.Extracted.Summary; s != nil {
			n.StoryID = s.ID
			n.Title = s.Title
		}
		return n
	}
	return Normalized{}
}

func features(doc map[string]any) []Feature {
	list, ok := doc["features"].([]any)
	idKey := "featureId"
	if !ok {
		if list, ok = doc["stories"].([]any); !ok {
			return nil
		}
		idKey = "storyId"
	}
	out := make([]Feature, 0, len(list))
	for _, item := range list {
		f, _ := item.(map[string]any)
		out = append(out, Feature{
			ID:          first(f, "id", idKey),
			Title:       first(f, "title"),
			Status:      first(f, "status", "state"),
			Description: first(f, "description"),
		})
	}
	return out
}

// first returns the string form of the first key present with a non-null value.
func first(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return stringify(v)
		}
	}
	return ""
}

// firstTruthy is first, but also skips empty strings and false.
func firstTruthy(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringify(m[k]); s != "" && s != "false" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
