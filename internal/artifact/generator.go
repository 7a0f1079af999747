// Package artifact turns search results and context files into a single
// versioned HTML document via a streaming reasoning model.
package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dataalchemy/alchemy/internal/errors"
	"github.com/dataalchemy/alchemy/internal/llm"
	"github.com/dataalchemy/alchemy/internal/task"
)

const followUpPrompt = `You previously produced an artifact for this query:

%s

Propose ONE improved search query that would surface additional or better
source material for the next iteration. Respond with the query wrapped in
<answer></answer> tags and nothing else.`

// Result is one generation's outcome.
type Result struct {
	ArtifactPath           string
	IterArtifactPath       string
	OptimizationSuggestion string
	UsedErrorPage          bool
}

// Generator runs the artifact pipeline for one task.
type Generator struct {
	dispatcher *llm.Dispatcher
	model      string
	layout     task.Layout
	log        *slog.Logger
}

// NewGenerator creates a generator using the given reasoning model.
func NewGenerator(dispatcher *llm.Dispatcher, model string, layout task.Layout, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{dispatcher: dispatcher, model: model, layout: layout, log: log}
}

// Generate assembles context from the given files, streams the model
// response, extracts the HTML, versions it, and asks for a follow-up
// query. onSegment, when set, observes the raw wrapped stream.
func (g *Generator) Generate(ctx context.Context, alchemyID, query string, iteration int, contextFiles []string, onSegment func(string)) (*Result, error) {
	auditPath := filepath.Join(g.layout.IterDir(iteration), "context_files.json")
	bundle, err := AssembleContext(contextFiles, g.layout.Root, auditPath)
	if err != nil {
		return nil, err
	}

	prompt := BuildPrompt(query, bundle)

	// A fresh transcript per generation
	g.dispatcher.History().ClearHistory()

	response, err := g.dispatcher.StreamReasoning(ctx, g.model, prompt, onSegment)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	html, ok := ExtractHTML(response)
	if !ok {
		g.log.Warn("no html in model response, writing error page",
			slog.String("alchemy_id", alchemyID),
			slog.Int("iteration", iteration))
		if err := WriteGenerationError(g.layout, iteration, query, "response contained no extractable HTML"); err != nil {
			return nil, err
		}
		html = ErrorHTML(query, "the model response contained no extractable HTML document")
		result.UsedErrorPage = true
	}

	promoted, err := WriteVersioned(g.layout, iteration, html, query)
	if err != nil {
		return nil, errors.New(errors.ErrCodeArtifactEmpty, fmt.Sprintf("failed to persist artifact: %v", err), err)
	}
	result.ArtifactPath = promoted
	result.IterArtifactPath = g.layout.IterArtifactPath(iteration)

	if !result.UsedErrorPage {
		if suggestion := g.followUp(ctx, query); suggestion != "" {
			result.OptimizationSuggestion = suggestion
		}
	}

	rec := task.IterationRecord{
		Iteration: iteration,
		Timestamp: time.Now(),
		Query:     query,
		Path:      g.layout.IterDir(iteration),
		Artifacts: []string{relToRoot(g.layout, promoted), relToRoot(g.layout, result.IterArtifactPath)},
	}
	if result.OptimizationSuggestion != "" {
		rec.OptimizationSuggestions = []string{result.OptimizationSuggestion}
	}
	if err := AppendStatus(g.layout, alchemyID, query, relToRoot(g.layout, promoted), rec); err != nil {
		return nil, err
	}

	return result, nil
}

// followUp asks for an optimized query. Failures are logged and yield no
// suggestion rather than failing the iteration.
func (g *Generator) followUp(ctx context.Context, query string) string {
	reply, err := g.dispatcher.ChatOnce(ctx, g.model, fmt.Sprintf(followUpPrompt, query))
	if err != nil {
		g.log.Warn("follow-up query failed", slog.String("error", err.Error()))
		return ""
	}
	return ExtractFollowUpQuery(reply)
}

func relToRoot(layout task.Layout, path string) string {
	if rel, err := filepath.Rel(layout.Root, path); err == nil {
		return rel
	}
	return path
}
