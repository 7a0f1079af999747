package parser

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataalchemy/alchemy/internal/embed"
	"github.com/dataalchemy/alchemy/internal/record"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseJSONArray(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.json",
		`[{"title":"A","meta":{"year":2023}},{"title":"B","meta":{"year":2024}}]`)

	p := New(Options{})
	records, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "A", records[0].Data["title"].Text())
	assert.Equal(t, "2023", records[0].Data["meta_year"].Text())
	assert.Equal(t, 0, records[0].SubID)
	assert.Equal(t, 1, records[1].SubID)
	assert.Equal(t, "json", records[0].FileType)
	assert.Equal(t, "data.json", records[0].FileName)
	assert.NotEmpty(t, records[0].ID)
}

func TestParseJSONObject(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "single.json", `{"name":"only one"}`)

	p := New(Options{})
	records, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "only one", records[0].Data["name"].Text())
}

func TestParseCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rows.csv", "name,score\nalice,90\nbob,85\n")

	p := New(Options{})
	records, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "alice", records[0].Data["name"].Text())
	assert.Equal(t, "85", records[1].Data["score"].Text())
}

func TestParseTSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rows.tsv", "city\tpop\noslo\t700000\n")

	p := New(Options{})
	records, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "oslo", records[0].Data["city"].Text())
}

func TestParseXML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "items.xml",
		`<catalog><item id="1"><name>Widget</name></item><item id="2"><name>Gadget</name></item></catalog>`)

	p := New(Options{})
	records, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "Widget", records[0].Data["name"].Text())
	assert.Equal(t, "1", records[0].Data["id"].Text())
	assert.Equal(t, "Gadget", records[1].Data["name"].Text())
}

func TestParseTextChunks(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "note.txt", "A short note that fits in one chunk.")

	p := New(Options{})
	records, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "A short note that fits in one chunk.", r.Content())
	assert.Equal(t, "0", r.Data["chunk_id"].Text())
	assert.Equal(t, "1", r.Data["total_chunks"].Text())
	assert.Equal(t, "36", r.Data["chunk_char_count"].Text())
}

func TestParseMarkdownOutline(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "doc.md", "# Title\n\nIntro text.\n\n## Section\n\nBody.\n")

	p := New(Options{})
	records, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	outline, ok := records[0].Data["header_outline"]
	require.True(t, ok)
	assert.Equal(t, record.KindJSON, outline.Kind())

	var headings []Heading
	require.NoError(t, json.Unmarshal([]byte(outline.Text()), &headings))
	require.Len(t, headings, 2)
	assert.Equal(t, Heading{Level: 1, Text: "Title"}, headings[0])
	assert.Equal(t, Heading{Level: 2, Text: "Section"}, headings[1])
}

func TestParseBinaryFallback(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "blob.bin", "\x00\x01\x02")

	p := New(Options{})
	records, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "3", r.Data["size"].Text())
	assert.Equal(t, "application/octet-stream", r.Data["mime_type"].Text())
	assert.NotEmpty(t, r.Data["mtime"].Text())
}

func TestParseXLSFallsBackToBinary(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "legacy.xls", "pretend binary workbook")

	p := New(Options{})
	records, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotNil(t, records[0].Data["size"])
}

func TestParseAttachesVectors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "note.txt", "Some content to embed.")

	p := New(Options{Embedder: embed.NewStaticEmbedder()})
	records, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Len(t, records[0].Vector, embed.StaticDimensions)
}

// failingEmbedder always errors.
type failingEmbedder struct{ embed.Embedder }

func (failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, assert.AnError
}
func (failingEmbedder) ModelName() string { return "failing" }

func TestEmbedFailureDoesNotFailParse(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "note.txt", "Content.")

	p := New(Options{Embedder: failingEmbedder{}})
	records, err := p.ParseFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Vector)
}
