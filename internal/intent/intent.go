// Package intent extracts structured and semantic search conditions from a
// natural-language query with two parallel LLM calls.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/dataalchemy/alchemy/internal/search"
)

// Cache and extraction defaults.
const (
	DefaultCacheTTL  = time.Hour
	DefaultCacheSize = 1000

	maxKeywords       = 3
	maxReferenceTexts = 3

	extractAttempts = 3
	extractBackoff  = 500 * time.Millisecond
)

const keywordPrompt = `Extract up to 3 search keywords from the user query below.
Respond with ONLY a JSON object, no other text:
{"keywords": ["keyword1", "keyword2"]}

Examples:
Query: "find my notes about transformer architectures from last week"
{"keywords": ["transformer", "architecture", "notes"]}

Query: "show sales figures"
{"keywords": ["sales", "figures"]}

Query: %q`

const referencePrompt = `Extract up to 3 short reference texts that capture the semantic meaning of the user query below, suitable for embedding similarity search.
Respond with ONLY a JSON object, no other text:
{"reference_texts": ["text one", "text two"]}

Examples:
Query: "find my notes about transformer architectures"
{"reference_texts": ["transformer architecture deep learning", "neural network attention mechanism notes"]}

Query: %q`

// Chatter is the LLM surface the parser needs.
type Chatter interface {
	ChatOnce(ctx context.Context, model, prompt string) (string, error)
}

// Parser turns queries into intents, caching parses per raw query string.
type Parser struct {
	chatter Chatter
	model   string
	cache   *lru.LRU[string, *search.Intent]
	log     *slog.Logger
}

// New creates a parser using the given model for both extraction calls.
func New(chatter Chatter, model string, log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	return &Parser{
		chatter: chatter,
		model:   model,
		cache:   lru.NewLRU[string, *search.Intent](DefaultCacheSize, nil, DefaultCacheTTL),
		log:     log,
	}
}

// Parse extracts the intent for a query. The two LLM calls run in
// parallel; a failed branch contributes nothing rather than failing the
// parse, so the worst case is a neutral empty intent.
func (p *Parser) Parse(ctx context.Context, query string) (*search.Intent, error) {
	if cached, ok := p.cache.Get(query); ok {
		return cached, nil
	}

	intent := &search.Intent{OriginalQuery: query}

	var keywords, refTexts []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keywords = p.extractList(gctx, fmt.Sprintf(keywordPrompt, query), "keywords", maxKeywords)
		return nil
	})
	g.Go(func() error {
		refTexts = p.extractList(gctx, fmt.Sprintf(referencePrompt, query), "reference_texts", maxReferenceTexts)
		return nil
	})
	_ = g.Wait()

	for _, kw := range keywords {
		intent.StructuredConditions = append(intent.StructuredConditions,
			search.StructuredCondition{Keyword: kw})
	}
	for _, ref := range refTexts {
		intent.VectorConditions = append(intent.VectorConditions, search.VectorCondition{
			ReferenceText:       ref,
			SimilarityThreshold: search.DefaultThreshold,
			TopK:                search.DefaultTopK,
		})
	}

	p.cache.Add(query, intent)
	return intent, nil
}

// extractList runs one extraction call, retrying malformed JSON a few
// times with a short backoff. Exhausted retries yield an empty list.
func (p *Parser) extractList(ctx context.Context, prompt, field string, limit int) []string {
	var lastErr error
	for attempt := 1; attempt <= extractAttempts; attempt++ {
		reply, err := p.chatter.ChatOnce(ctx, p.model, prompt)
		if err != nil {
			lastErr = err
		} else if list, err := parseListResponse(reply, field); err != nil {
			lastErr = err
		} else {
			if len(list) > limit {
				list = list[:limit]
			}
			return list
		}

		if attempt < extractAttempts {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(extractBackoff):
			}
		}
	}

	p.log.Warn("intent extraction branch failed, using empty result",
		slog.String("field", field),
		slog.String("error", lastErr.Error()))
	return nil
}

// parseListResponse pulls the string list out of the model's JSON reply,
// tolerating a fenced code block around it.
func parseListResponse(reply, field string) ([]string, error) {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	// Tolerate prose around the object
	if start := strings.Index(cleaned, "{"); start > 0 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			cleaned = cleaned[start : end+1]
		}
	}

	var parsed map[string][]string
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("malformed extraction response: %w", err)
	}

	list, ok := parsed[field]
	if !ok {
		return nil, fmt.Errorf("extraction response missing %q", field)
	}

	out := make([]string, 0, len(list))
	for _, s := range list {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}
