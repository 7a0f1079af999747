// Package record defines the ingestion output unit and its semi-structured
// data representation. One record is produced per chunk of a textual source
// or per row/element of a structured source.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// KeyContent is the data key that always holds the textual content of a
// record produced from a textual source.
const KeyContent = "content"

// Kind identifies the type of a Value.
type Kind int

const (
	// KindNull is an explicit null value.
	KindNull Kind = iota
	// KindString is a plain string value.
	KindString
	// KindNumber is a numeric value (JSON numbers are float64).
	KindNumber
	// KindBool is a boolean value.
	KindBool
	// KindJSON is a composite value serialized as a JSON string.
	// The flattened leaves of the composite are stored alongside it.
	KindJSON
)

// Value is a tagged union over the scalar types a record's data map may hold.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// Null returns a null value.
func Null() Value { return Value{kind: KindNull} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// JSONTree returns a value holding a serialized composite subtree.
func JSONTree(serialized string) Value { return Value{kind: KindJSON, str: serialized} }

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// IsScalar reports whether the value is a primitive leaf (not a subtree).
func (v Value) IsScalar() bool { return v.kind != KindJSON }

// Text returns the display form of the value.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString, KindJSON:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Float returns the numeric value, or 0 for non-numeric kinds.
func (v Value) Float() float64 { return v.num }

// MarshalJSON implements json.Marshaler.
// Composite subtrees serialize as their JSON string form, matching how they
// were stored, so round-trips preserve the serialized representation.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString, KindJSON:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = Null()
	case string:
		*v = String(t)
	case float64:
		*v = Number(t)
	case bool:
		*v = Bool(t)
	default:
		// Nested structures should not appear in persisted data maps,
		// but tolerate them by re-serializing.
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		*v = JSONTree(string(b))
	}
	return nil
}

// Data is a record's semi-structured payload: arbitrary keys mapping to
// scalar values or serialized subtrees.
type Data map[string]Value

// Encode serializes the data map to JSON.
// encoding/json sorts map keys, so the output is deterministic.
func (d Data) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// DecodeData parses a serialized data map.
func DecodeData(raw []byte) (Data, error) {
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// Record is one ingestion output unit.
// (FilePath, SubID) is unique; ID is the storage primary key.
type Record struct {
	ID          string    `json:"record_id"`
	FilePath    string    `json:"file_path"`
	FileName    string    `json:"file_name"`
	FileType    string    `json:"file_type"`
	ProcessedAt time.Time `json:"processed_at"`
	SubID       int       `json:"sub_id"`
	Data        Data      `json:"data"`
	Vector      []float32 `json:"vector,omitempty"`
}

// NewID returns a fresh opaque record identifier.
func NewID() string {
	return uuid.NewString()
}

// Content returns the record's textual content, if any.
func (r *Record) Content() string {
	if v, ok := r.Data[KeyContent]; ok {
		return v.Text()
	}
	return ""
}
