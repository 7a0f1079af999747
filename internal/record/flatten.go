package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultEmbeddingTextCap bounds the text handed to the embedder.
const DefaultEmbeddingTextCap = 512

// Flatten walks an arbitrary decoded JSON value and stores it into dst.
// Primitive leaves become flat keys (nested names joined with "_").
// Composite values are stringified as JSON into the parent key AND walked
// further, so both the serialized subtree and its leaves are indexed.
func Flatten(dst Data, prefix string, v any) error {
	switch t := v.(type) {
	case nil:
		dst[prefix] = Null()
	case string:
		dst[prefix] = String(t)
	case float64:
		dst[prefix] = Number(t)
	case int:
		dst[prefix] = Number(float64(t))
	case int64:
		dst[prefix] = Number(float64(t))
	case bool:
		dst[prefix] = Bool(t)
	case map[string]any:
		serialized, err := json.Marshal(t)
		if err != nil {
			return err
		}
		dst[prefix] = JSONTree(string(serialized))
		for k, child := range t {
			if err := Flatten(dst, joinKey(prefix, k), child); err != nil {
				return err
			}
		}
	case []any:
		serialized, err := json.Marshal(t)
		if err != nil {
			return err
		}
		dst[prefix] = JSONTree(string(serialized))
		for i, child := range t {
			if err := Flatten(dst, joinKey(prefix, fmt.Sprintf("%d", i)), child); err != nil {
				return err
			}
		}
	default:
		// Unexpected decoded type; store its JSON form.
		serialized, err := json.Marshal(t)
		if err != nil {
			return err
		}
		dst[prefix] = JSONTree(string(serialized))
	}
	return nil
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}

// EmbeddingText builds the text that is embedded for a record: "k: v" pairs
// for primitive fields, joined and truncated to limit characters.
func EmbeddingText(d Data, limit int) string {
	if limit <= 0 {
		limit = DefaultEmbeddingTextCap
	}

	keys := make([]string, 0, len(d))
	for k, v := range d {
		if v.IsScalar() {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(d[k].Text())
	}

	text := b.String()
	if utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		text = string(runes[:limit])
	}
	return text
}
