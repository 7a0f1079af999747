package parser

import (
	"log/slog"
	"strings"
)

// Chunking defaults. Sizes are in runes so multi-byte scripts chunk the same
// as ASCII.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200

	largeChunkSize    = 2000
	largeChunkOverlap = 400
	hugeChunkSize     = 5000
	hugeChunkOverlap  = 500

	largeTextThreshold = 1 << 20  // 1 MB
	hugeTextThreshold  = 10 << 20 // 10 MB

	// boundaryWindow bounds how far back from a tentative cut we look for a
	// sentence boundary.
	boundaryWindow = 200

	// DefaultMemoryCeiling bounds chunk_count * chunk_size per file.
	DefaultMemoryCeiling = 64 << 20
)

// ChunkParams holds the size and overlap for one chunking pass.
type ChunkParams struct {
	Size    int
	Overlap int
}

// AdaptiveParams picks chunk parameters from the total text length: bigger
// inputs get bigger chunks so the record count stays manageable.
func AdaptiveParams(totalLen int) ChunkParams {
	switch {
	case totalLen > hugeTextThreshold:
		return ChunkParams{Size: hugeChunkSize, Overlap: hugeChunkOverlap}
	case totalLen > largeTextThreshold:
		return ChunkParams{Size: largeChunkSize, Overlap: largeChunkOverlap}
	default:
		return ChunkParams{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
	}
}

// ChunkText splits text into overlapping chunks, snapping cut points to
// sentence boundaries when one lies within boundaryWindow runes of the
// tentative cut. Chunks are emitted stripped; empty chunks are dropped.
//
// memoryCeiling bounds chunkCount*chunkSize: when producing another chunk
// would exceed it, chunking stops with a warning instead of truncating
// silently.
func ChunkText(text string, p ChunkParams, memoryCeiling int) []string {
	if p.Size <= 0 {
		p.Size = DefaultChunkSize
	}
	if p.Overlap < 0 {
		p.Overlap = 0
	}
	if memoryCeiling <= 0 {
		memoryCeiling = DefaultMemoryCeiling
	}

	runes := []rune(text)
	var chunks []string

	start := 0
	for start < len(runes) {
		if (len(chunks)+1)*p.Size > memoryCeiling {
			slog.Warn("chunk memory ceiling reached, remaining text skipped",
				slog.Int("chunks", len(chunks)),
				slog.Int("chunk_size", p.Size),
				slog.Int("remaining_runes", len(runes)-start))
			break
		}

		end := min(start+p.Size, len(runes))
		if end < len(runes) {
			if snapped, ok := findBoundary(runes, start, end); ok {
				end = snapped
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := end - p.Overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// findBoundary searches backward from end for a sentence boundary within
// boundaryWindow runes, returning the cut position just past the boundary.
func findBoundary(runes []rune, start, end int) (int, bool) {
	limit := max(start+1, end-boundaryWindow)
	for i := end - 1; i >= limit; i-- {
		switch runes[i] {
		case '\n', '。', '！', '？':
			return i + 1, true
		case '.':
			if i+1 < end && runes[i+1] == ' ' {
				return i + 2, true
			}
		}
	}
	return 0, false
}
