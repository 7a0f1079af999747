package intent

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedChatter answers keyword and reference prompts from fixed replies.
type scriptedChatter struct {
	keywordReply   string
	referenceReply string
	keywordErr     error
	referenceErr   error
	calls          atomic.Int64
}

func (s *scriptedChatter) ChatOnce(ctx context.Context, model, prompt string) (string, error) {
	s.calls.Add(1)
	if strings.Contains(prompt, "reference texts") {
		return s.referenceReply, s.referenceErr
	}
	return s.keywordReply, s.keywordErr
}

func TestParseBothBranches(t *testing.T) {
	chatter := &scriptedChatter{
		keywordReply:   `{"keywords": ["ml", "notes"]}`,
		referenceReply: `{"reference_texts": ["machine learning study notes"]}`,
	}

	p := New(chatter, "gen", nil)
	intent, err := p.Parse(context.Background(), "find my ml notes")
	require.NoError(t, err)

	assert.Equal(t, "find my ml notes", intent.OriginalQuery)
	require.Len(t, intent.StructuredConditions, 2)
	assert.Equal(t, "ml", intent.StructuredConditions[0].Keyword)

	require.Len(t, intent.VectorConditions, 1)
	assert.Equal(t, "machine learning study notes", intent.VectorConditions[0].ReferenceText)
	assert.Equal(t, 0.6, intent.VectorConditions[0].SimilarityThreshold)
	assert.Equal(t, 5, intent.VectorConditions[0].TopK)
}

func TestParseCapsListLengths(t *testing.T) {
	chatter := &scriptedChatter{
		keywordReply:   `{"keywords": ["a", "b", "c", "d", "e"]}`,
		referenceReply: `{"reference_texts": []}`,
	}

	p := New(chatter, "gen", nil)
	intent, err := p.Parse(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, intent.StructuredConditions, maxKeywords)
}

func TestParseFailedBranchYieldsEmpty(t *testing.T) {
	chatter := &scriptedChatter{
		keywordReply:   `this is not json at all`,
		referenceReply: `{"reference_texts": ["still works"]}`,
	}

	p := New(chatter, "gen", nil)
	intent, err := p.Parse(context.Background(), "q")
	require.NoError(t, err)

	// Keywords branch exhausted retries, reference branch survived
	assert.Empty(t, intent.StructuredConditions)
	require.Len(t, intent.VectorConditions, 1)
}

func TestParseBothBranchesFailNeutralIntent(t *testing.T) {
	chatter := &scriptedChatter{
		keywordErr:   assert.AnError,
		referenceErr: assert.AnError,
	}

	p := New(chatter, "gen", nil)
	intent, err := p.Parse(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, intent.StructuredConditions)
	assert.Empty(t, intent.VectorConditions)
}

func TestParseCacheHit(t *testing.T) {
	chatter := &scriptedChatter{
		keywordReply:   `{"keywords": ["x"]}`,
		referenceReply: `{"reference_texts": ["y"]}`,
	}

	p := New(chatter, "gen", nil)
	_, err := p.Parse(context.Background(), "same query")
	require.NoError(t, err)
	first := chatter.calls.Load()

	_, err = p.Parse(context.Background(), "same query")
	require.NoError(t, err)

	assert.Equal(t, first, chatter.calls.Load())
}

func TestParseListResponseFenced(t *testing.T) {
	list, err := parseListResponse("```json\n{\"keywords\": [\"a\"]}\n```", "keywords")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, list)
}

func TestParseListResponseProseWrapped(t *testing.T) {
	list, err := parseListResponse(`Sure! Here you go: {"keywords": ["a", " b "]} Hope that helps.`, "keywords")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, list)
}

func TestParseListResponseMissingField(t *testing.T) {
	_, err := parseListResponse(`{"other": []}`, "keywords")
	assert.Error(t, err)
}
