package ai

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/teranos/tally/errors"
)

// UnknownItemName replaces missing item names
const UnknownItemName = "Unknown item"

// ErrNoJSON means the response contained no JSON object
var ErrNoJSON = errors.New("no JSON object in model response")

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// Parse reads a model response into an Extraction. The JSON may be wrapped
// in a fenced block or surrounded by prose, and may carry comments and
// trailing commas.
func Parse(response string) (Extraction, error) {
	raw, ok := extractJSON(strings.TrimSpace(response))
	if !ok {
		return Extraction{}, ErrNoJSON
	}

	dec := json.NewDecoder(strings.NewReader(clean(raw)))
	dec.UseNumber()
	var data map[string]interface{}
	if err := dec.Decode(&data); err != nil {
		return Extraction{}, errors.Wrap(err, "invalid JSON in model response")
	}
	if data == nil {
		return Extraction{}, errors.New("model response JSON is null")
	}

	ext := Extraction{
		DocType:     stringField(data, "doc_type"),
		Date:        stringField(data, "date"),
		Time:        stringField(data, "time"),
		Merchant:    stringField(data, "merchant"),
		Location:    stringField(data, "location"),
		TotalAmount: decimalField(data, "total_amount"),
		Currency:    stringField(data, "currency"),
		IsIncome:    boolField(data, "is_income"),
		Items:       []Item{},
	}
	if c := decimalField(data, "confidence"); c.Valid {
		f := c.Decimal.InexactFloat64()
		ext.Confidence = &f
	}

	if items, ok := data["items"].([]interface{}); ok {
		for _, v := range items {
			obj, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			ext.Items = append(ext.Items, parseItem(obj))
		}
	}

	if tags, ok := data["suggested_tags"].([]interface{}); ok {
		for _, v := range tags {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				ext.SuggestedTags = append(ext.SuggestedTags, strings.TrimSpace(s))
			}
		}
	}

	return ext, nil
}

func parseItem(obj map[string]interface{}) Item {
	item := Item{
		Name:       stringField(obj, "name"),
		Quantity:   decimal.NewFromInt(1),
		Unit:       stringField(obj, "unit"),
		UnitPrice:  decimalField(obj, "unit_price"),
		TotalPrice: decimalField(obj, "total_price"),
		Category:   stringField(obj, "category"),
	}
	if item.Name == "" {
		item.Name = UnknownItemName
	}
	if q := decimalField(obj, "quantity"); q.Valid && !q.Decimal.IsZero() {
		item.Quantity = q.Decimal
	}
	return item
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func boolField(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func decimalField(m map[string]interface{}, key string) decimal.NullDecimal {
	n, ok := m[key].(json.Number)
	if !ok {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// extractJSON finds the JSON object in text: the first fenced block if
// there is one, otherwise the first balanced {...} span.
func extractJSON(text string) (string, bool) {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		body := strings.TrimSpace(m[1])
		if body != "" {
			return body, true
		}
	}

	start := strings.IndexByte(text, '{')
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// clean strips // and /* */ comments, then trailing commas, ignoring
// anything inside string literals.
func clean(s string) string {
	return stripTrailingCommas(stripComments(s))
}

// scanStrings copies s to out, calling outside for every byte that is not
// part of a string literal. outside returns how many extra bytes it consumed.
func scanStrings(s string, outside func(out *bytes.Buffer, s string, i int) int) string {
	var out bytes.Buffer
	out.Grow(len(s))

	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			out.WriteByte(c)
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
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		i += outside(&out, s, i)
	}
	return out.String()
}

func stripComments(s string) string {
	return scanStrings(s, func(out *bytes.Buffer, s string, i int) int {
		rest := s[i:]
		switch {
		case strings.HasPrefix(rest, "//"):
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				return len(rest) - 1
			}
			out.WriteByte('\n')
			return end
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest[2:], "*/")
			if end < 0 {
				return len(rest) - 1
			}
			out.WriteByte(' ')
			return end + 3
		default:
			out.WriteByte(s[i])
			return 0
		}
	})
}

func stripTrailingCommas(s string) string {
	return scanStrings(s, func(out *bytes.Buffer, s string, i int) int {
		if s[i] == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				return 0
			}
		}
		out.WriteByte(s[i])
		return 0
	})
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
