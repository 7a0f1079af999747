package parser

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dataalchemy/alchemy/internal/record"
)

// parseStructured dispatches to the native parser for the extension. Each
// row or top-level element becomes one record with the flattened fields.
func (p *Parser) parseStructured(path, ext string) ([]*record.Record, error) {
	switch ext {
	case ".json":
		return p.parseJSON(path, ext)
	case ".csv":
		return p.parseDelimited(path, ext, ',')
	case ".tsv":
		return p.parseDelimited(path, ext, '\t')
	case ".xml":
		return p.parseXML(path, ext)
	case ".xlsx":
		return p.parseXLSX(path, ext)
	default:
		return nil, fmt.Errorf("no structured parser for %s", ext)
	}
}

// parseJSON emits one record per element of a top-level array, or a single
// record for any other top-level value.
func (p *Parser) parseJSON(path, ext string) ([]*record.Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("parse json %s: %w", path, err)
	}

	elements, ok := decoded.([]any)
	if !ok {
		elements = []any{decoded}
	}

	records := make([]*record.Record, 0, len(elements))
	for i, elem := range elements {
		data := record.Data{}
		if err := record.Flatten(data, "", elem); err != nil {
			p.log.Warn("skipping unflattenable json element",
				slog.String("path", path), slog.Int("index", i), slog.String("error", err.Error()))
			continue
		}
		records = append(records, newRecord(path, ext, i, data))
	}
	return records, nil
}

// parseDelimited handles csv and tsv. The first row is the header; each
// following row becomes one record keyed by header names.
func (p *Parser) parseDelimited(path, ext string, comma rune) ([]*record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.Comma = comma
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	var records []*record.Record
	for i := 0; ; i++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d of %s: %w", i+2, path, err)
		}
		records = append(records, newRecord(path, ext, i, rowData(header, row)))
	}
	return records, nil
}

// rowData maps header names to cell values. Extra cells beyond the header
// get positional keys.
func rowData(header, row []string) record.Data {
	data := record.Data{}
	for j, cell := range row {
		key := fmt.Sprintf("column_%d", j)
		if j < len(header) && strings.TrimSpace(header[j]) != "" {
			key = strings.TrimSpace(header[j])
		}
		data[key] = record.String(cell)
	}
	return data
}

// parseXLSX emits one record per data row across all sheets, with the first
// row of each sheet as the header.
func (p *Parser) parseXLSX(path, ext string) ([]*record.Record, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer func() { _ = book.Close() }()

	var records []*record.Record
	subID := 0
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s of %s: %w", sheet, path, err)
		}
		if len(rows) < 2 {
			continue
		}

		header := rows[0]
		for _, row := range rows[1:] {
			data := rowData(header, row)
			data["sheet"] = record.String(sheet)
			records = append(records, newRecord(path, ext, subID, data))
			subID++
		}
	}
	return records, nil
}

// xmlElement is a generic XML tree node.
type xmlElement struct {
	name     string
	attrs    map[string]string
	text     string
	children []*xmlElement
}

// parseXML emits one record per child element of the document root.
func (p *Parser) parseXML(path, ext string) ([]*record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	root, err := decodeXMLTree(xml.NewDecoder(f))
	if err != nil {
		return nil, fmt.Errorf("parse xml %s: %w", path, err)
	}
	if root == nil {
		return nil, nil
	}

	elements := root.children
	if len(elements) == 0 {
		elements = []*xmlElement{root}
	}

	records := make([]*record.Record, 0, len(elements))
	for i, elem := range elements {
		data := record.Data{}
		if err := record.Flatten(data, "", elem.toValue()); err != nil {
			p.log.Warn("skipping unflattenable xml element",
				slog.String("path", path), slog.Int("index", i), slog.String("error", err.Error()))
			continue
		}
		records = append(records, newRecord(path, ext, i, data))
	}
	return records, nil
}

// decodeXMLTree reads the document and returns its root element.
func decodeXMLTree(dec *xml.Decoder) (*xmlElement, error) {
	var stack []*xmlElement
	var root *xmlElement

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return root, nil
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			elem := &xmlElement{name: t.Name.Local, attrs: map[string]string{}}
			for _, a := range t.Attr {
				elem.attrs[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				root = elem
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, elem)
			}
			stack = append(stack, elem)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}
}

// toValue converts an element to a nested map suitable for flattening.
// Leaf elements collapse to their text; repeated child names become arrays.
func (e *xmlElement) toValue() any {
	if len(e.children) == 0 && len(e.attrs) == 0 {
		return strings.TrimSpace(e.text)
	}

	m := map[string]any{}
	for k, v := range e.attrs {
		m[k] = v
	}
	if text := strings.TrimSpace(e.text); text != "" {
		m["text"] = text
	}
	for _, child := range e.children {
		val := child.toValue()
		switch existing := m[child.name].(type) {
		case nil:
			m[child.name] = val
		case []any:
			m[child.name] = append(existing, val)
		default:
			m[child.name] = []any{existing, val}
		}
	}
	return m
}
