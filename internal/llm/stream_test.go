package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(w *ReasoningWrapper, deltas []Delta) string {
	var b strings.Builder
	for _, d := range deltas {
		for _, seg := range w.Feed(d) {
			b.WriteString(seg)
		}
	}
	for _, seg := range w.Finish() {
		b.WriteString(seg)
	}
	return b.String()
}

func TestWrapReasoningAndContent(t *testing.T) {
	out := collect(NewReasoningWrapper(), []Delta{
		{Reasoning: "step one. "},
		{Reasoning: "step two."},
		{Content: "The answer"},
		{Content: " is 42."},
	})

	assert.Equal(t, "<think>\nstep one. step two.\n</think>\n\n<answer>\nThe answer is 42.\n</answer>", out)
}

func TestWrapContentOnly(t *testing.T) {
	w := NewReasoningWrapper()
	out := collect(w, []Delta{
		{Content: "plain "},
		{Content: "answer"},
	})

	assert.Equal(t, "<answer>\nplain answer\n</answer>", out)
	assert.False(t, w.SawReasoning())
}

func TestWrapReasoningOnly(t *testing.T) {
	w := NewReasoningWrapper()
	out := collect(w, []Delta{{Reasoning: "thinking..."}})

	// The answer section still appears, empty
	assert.Equal(t, "<think>\nthinking...\n</think>\n\n<answer>\n\n</answer>", out)
	assert.True(t, w.SawReasoning())
}

func TestWrapEmptyStream(t *testing.T) {
	out := collect(NewReasoningWrapper(), nil)
	assert.Equal(t, "<answer>\n\n</answer>", out)
}

func TestWrapMixedDelta(t *testing.T) {
	// A single delta carrying both fields still transitions in order
	out := collect(NewReasoningWrapper(), []Delta{
		{Reasoning: "hmm", Content: "yes"},
	})
	assert.Equal(t, "<think>\nhmm\n</think>\n\n<answer>\nyes\n</answer>", out)
}

func TestWrapLateReasoningDropped(t *testing.T) {
	out := collect(NewReasoningWrapper(), []Delta{
		{Content: "answer"},
		{Reasoning: "late thought"},
	})

	assert.NotContains(t, out, "late thought")
	assert.Equal(t, "<answer>\nanswer\n</answer>", out)
}
