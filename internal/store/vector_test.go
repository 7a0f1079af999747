package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataalchemy/alchemy/internal/record"
)

func vecRecord(id string, vec []float32) *record.Record {
	return &record.Record{
		ID:       id,
		FilePath: "/docs/" + id + ".txt",
		FileName: id + ".txt",
		FileType: "txt",
		Data:     record.Data{record.KeyContent: record.String(id)},
		Vector:   vec,
	}
}

func testBackends(t *testing.T, fn func(t *testing.T, idx VectorIndex)) {
	for _, backend := range []Backend{BackendFlat, BackendHNSW} {
		t.Run(string(backend), func(t *testing.T) {
			idx, err := NewVectorIndex(backend, 0)
			require.NoError(t, err)
			t.Cleanup(func() { _ = idx.Close() })
			fn(t, idx)
		})
	}
}

func TestVectorSearchOrder(t *testing.T) {
	testBackends(t, func(t *testing.T, idx VectorIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Add(ctx, []*record.Record{
			vecRecord("near", []float32{1, 0, 0}),
			vecRecord("mid", []float32{0, 2, 0}),
			vecRecord("far", []float32{0, 0, 9}),
		}))

		hits, err := idx.Search(ctx, []float32{1, 0, 0}, 3)
		require.NoError(t, err)
		require.Len(t, hits, 3)

		assert.Equal(t, "near", hits[0].RecordID)
		assert.InDelta(t, 0, hits[0].Distance, 1e-6)
		assert.InDelta(t, 10, hits[0].Similarity, 1e-6)

		// Distances ascend, similarities descend
		assert.LessOrEqual(t, hits[0].Distance, hits[1].Distance)
		assert.LessOrEqual(t, hits[1].Distance, hits[2].Distance)
		assert.GreaterOrEqual(t, hits[0].Similarity, hits[1].Similarity)
	})
}

func TestVectorSearchTopK(t *testing.T) {
	testBackends(t, func(t *testing.T, idx VectorIndex) {
		ctx := context.Background()
		var recs []*record.Record
		for i := 0; i < 10; i++ {
			recs = append(recs, vecRecord(fmt.Sprintf("r%d", i), []float32{float32(i), 0}))
		}
		require.NoError(t, idx.Add(ctx, recs))

		hits, err := idx.Search(ctx, []float32{0, 0}, 3)
		require.NoError(t, err)
		assert.Len(t, hits, 3)
	})
}

func TestVectorRemoveNeverReturned(t *testing.T) {
	testBackends(t, func(t *testing.T, idx VectorIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Add(ctx, []*record.Record{
			vecRecord("keep", []float32{1, 0}),
			vecRecord("drop", []float32{0, 1}),
		}))

		require.NoError(t, idx.Remove(ctx, []string{"drop"}))
		assert.Equal(t, 1, idx.Len())

		hits, err := idx.Search(ctx, []float32{0, 1}, 10)
		require.NoError(t, err)
		for _, h := range hits {
			assert.NotEqual(t, "drop", h.RecordID)
		}
	})
}

func TestVectorReAddReplaces(t *testing.T) {
	testBackends(t, func(t *testing.T, idx VectorIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Add(ctx, []*record.Record{vecRecord("a", []float32{5, 5})}))
		require.NoError(t, idx.Add(ctx, []*record.Record{vecRecord("a", []float32{0, 0})}))

		assert.Equal(t, 1, idx.Len())

		hits, err := idx.Search(ctx, []float32{0, 0}, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "a", hits[0].RecordID)
		assert.InDelta(t, 0, hits[0].Distance, 1e-6)
	})
}

func TestVectorDimensionMismatch(t *testing.T) {
	testBackends(t, func(t *testing.T, idx VectorIndex) {
		ctx := context.Background()
		require.NoError(t, idx.Add(ctx, []*record.Record{vecRecord("a", []float32{1, 2, 3})}))

		err := idx.Add(ctx, []*record.Record{vecRecord("b", []float32{1, 2})})
		assert.ErrorAs(t, err, &ErrDimensionMismatch{})
	})
}

func TestVectorEmptyIndex(t *testing.T) {
	testBackends(t, func(t *testing.T, idx VectorIndex) {
		hits, err := idx.Search(context.Background(), []float32{1, 2}, 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestVectorRecordsWithoutVectorSkipped(t *testing.T) {
	testBackends(t, func(t *testing.T, idx VectorIndex) {
		ctx := context.Background()
		r := vecRecord("novec", nil)
		require.NoError(t, idx.Add(ctx, []*record.Record{r}))
		assert.Equal(t, 0, idx.Len())
	})
}

func TestInitVectorIndexFromStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, []*record.Record{
		testRecord("/docs/a.txt", "a.txt", "txt", 0, "a", []float32{1, 0}),
		testRecord("/docs/b.txt", "b.txt", "txt", 0, "b", []float32{0, 1}),
		testRecord("/docs/c.txt", "c.txt", "txt", 0, "c", nil),
	}))

	idx, err := InitVectorIndex(ctx, s, BackendFlat)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	assert.Equal(t, 2, idx.Len())

	hits, err := idx.Search(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a.txt", hits[0].FileName)
}

func TestSimilarityMapping(t *testing.T) {
	assert.InDelta(t, 10.0, Similarity(0), 1e-9)
	assert.InDelta(t, 5.0, Similarity(1), 1e-9)
	assert.Greater(t, Similarity(1.0), Similarity(2.0))
}
