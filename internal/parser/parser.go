// Package parser turns source files into records. Dispatch is by extension:
// structured formats are parsed natively with one record per row or element,
// textual formats are chunked with overlap, and everything else becomes a
// single binary metadata record.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dataalchemy/alchemy/internal/embed"
	"github.com/dataalchemy/alchemy/internal/record"
)

// TextExtractor converts a document file to plain text. The default
// implementation is a best-effort byte decoder; richer extractors (PDF, DOCX)
// can be plugged in.
type TextExtractor interface {
	Extract(path string) (string, error)
}

// Options configures a Parser.
type Options struct {
	// Embedder generates record vectors. Nil disables vectors entirely.
	Embedder embed.Embedder

	// Extractor converts pdf/doc/docx to text. Nil uses PlainExtractor.
	Extractor TextExtractor

	// MemoryCeiling bounds chunkCount*chunkSize per file. 0 uses the default.
	MemoryCeiling int

	Logger *slog.Logger
}

// Parser converts files into records.
type Parser struct {
	embedder      embed.Embedder
	extractor     TextExtractor
	memoryCeiling int
	log           *slog.Logger
}

var structuredExts = map[string]bool{
	".json": true, ".csv": true, ".tsv": true, ".xml": true, ".xlsx": true,
}

var textExts = map[string]bool{
	".txt": true, ".log": true, ".md": true, ".pdf": true, ".doc": true, ".docx": true,
}

// New creates a Parser.
func New(opts Options) *Parser {
	if opts.Extractor == nil {
		opts.Extractor = PlainExtractor{}
	}
	if opts.MemoryCeiling <= 0 {
		opts.MemoryCeiling = DefaultMemoryCeiling
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Parser{
		embedder:      opts.Embedder,
		extractor:     opts.Extractor,
		memoryCeiling: opts.MemoryCeiling,
		log:           opts.Logger,
	}
}

// ParseFile converts one file into records, vectors included when an
// embedder is configured.
func (p *Parser) ParseFile(ctx context.Context, path string) ([]*record.Record, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var (
		records []*record.Record
		err     error
	)
	switch {
	case structuredExts[ext]:
		records, err = p.parseStructured(path, ext)
	case textExts[ext]:
		records, err = p.parseText(path, ext)
	default:
		if ext == ".xls" {
			p.log.Info("legacy xls not parsed natively, storing file metadata only",
				slog.String("path", path))
		}
		records, err = p.parseBinary(path, ext)
	}
	if err != nil {
		return nil, err
	}

	p.attachVectors(ctx, records)
	return records, nil
}

// newRecord builds a record with the shared file metadata filled in.
func newRecord(path, ext string, subID int, data record.Data) *record.Record {
	return &record.Record{
		ID:          record.NewID(),
		FilePath:    path,
		FileName:    filepath.Base(path),
		FileType:    strings.TrimPrefix(ext, "."),
		ProcessedAt: time.Now(),
		SubID:       subID,
		Data:        data,
	}
}

// parseBinary emits a single metadata record for files we cannot parse.
func (p *Parser) parseBinary(path, ext string) ([]*record.Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	data := record.Data{
		"size":      record.Number(float64(info.Size())),
		"mime_type": record.String(mimeType),
		"mtime":     record.String(info.ModTime().Format(time.RFC3339)),
	}
	return []*record.Record{newRecord(path, ext, 0, data)}, nil
}

// parseText extracts plain text and chunks it.
func (p *Parser) parseText(path, ext string) ([]*record.Record, error) {
	var (
		text string
		err  error
	)
	switch ext {
	case ".txt", ".log", ".md":
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read %s: %w", path, readErr)
		}
		text = decodeBestEffort(raw)
	default:
		text, err = p.extractor.Extract(path)
		if err != nil {
			return nil, fmt.Errorf("extract text from %s: %w", path, err)
		}
	}

	params := AdaptiveParams(len(text))
	chunks := ChunkText(text, params, p.memoryCeiling)

	var outline string
	if ext == ".md" {
		outline = headerOutlineJSON(text)
	}

	records := make([]*record.Record, 0, len(chunks))
	for i, chunk := range chunks {
		data := record.Data{
			"chunk_id":         record.Number(float64(i)),
			"total_chunks":     record.Number(float64(len(chunks))),
			record.KeyContent:  record.String(chunk),
			"chunk_char_count": record.Number(float64(len([]rune(chunk)))),
		}
		if outline != "" {
			data["header_outline"] = record.JSONTree(outline)
		}
		records = append(records, newRecord(path, ext, i, data))
	}
	return records, nil
}

// attachVectors embeds each record's flattened scalar text. Embedding
// failures are logged and leave the vector nil; they never fail the parse.
func (p *Parser) attachVectors(ctx context.Context, records []*record.Record) {
	if p.embedder == nil || len(records) == 0 {
		return
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = record.EmbeddingText(r.Data, record.DefaultEmbeddingTextCap)
	}

	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		p.log.Warn("embedding failed, records stored without vectors",
			slog.String("file", records[0].FilePath),
			slog.String("error", err.Error()))
		return
	}
	for i, r := range records {
		r.Vector = vecs[i]
	}
}

// decodeBestEffort interprets raw bytes as UTF-8, replacing invalid
// sequences rather than failing.
func decodeBestEffort(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), "�")
}

// PlainExtractor reads a file as-is and keeps the printable text. It is the
// fallback used when no format-aware extractor is configured.
type PlainExtractor struct{}

// Extract implements TextExtractor.
func (PlainExtractor) Extract(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	text := decodeBestEffort(raw)
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' || r == ' ' || (r > 0x1F && r != 0x7F && r != '�') {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}
