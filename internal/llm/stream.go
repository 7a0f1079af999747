package llm

// Wrapper segments emitted on state transitions.
const (
	openThink            = "<think>\n"
	closeThinkOpenAnswer = "\n</think>\n\n<answer>\n"
	openAnswer           = "<answer>\n"
	closeAnswer          = "\n</answer>"
)

// wrapState tracks which section of the wrapped stream is open.
type wrapState int

const (
	stateStart wrapState = iota
	stateThinking
	stateAnswering
)

// ReasoningWrapper rewrites an interleaved reasoning/content delta stream
// into a single segment stream whose concatenation is
// "<think>\n{reasoning}\n</think>\n\n<answer>\n{answer}\n</answer>".
// When the stream carries no reasoning, only the answer wrapper appears.
//
// Observable transitions: first reasoning chunk opens <think>, first
// content chunk closes it (if open) and opens <answer>, end of stream
// closes </answer>.
type ReasoningWrapper struct {
	state        wrapState
	sawReasoning bool
}

// NewReasoningWrapper creates a wrapper at the start state.
func NewReasoningWrapper() *ReasoningWrapper {
	return &ReasoningWrapper{}
}

// Feed consumes one delta and returns the segments to emit, in order.
func (w *ReasoningWrapper) Feed(d Delta) []string {
	var out []string

	if d.Reasoning != "" {
		if w.state == stateStart {
			w.state = stateThinking
			w.sawReasoning = true
			out = append(out, openThink)
		}
		// Reasoning after the answer opened is dropped: the protocol has
		// no way back into the think section.
		if w.state == stateThinking {
			out = append(out, d.Reasoning)
		}
	}

	if d.Content != "" {
		switch w.state {
		case stateStart:
			w.state = stateAnswering
			out = append(out, openAnswer)
		case stateThinking:
			w.state = stateAnswering
			out = append(out, closeThinkOpenAnswer)
		}
		out = append(out, d.Content)
	}

	return out
}

// Finish closes whichever sections remain open and returns the final
// segments. A stream that never produced content still gets an (empty)
// answer section so the assembled shape is stable.
func (w *ReasoningWrapper) Finish() []string {
	switch w.state {
	case stateStart:
		w.state = stateAnswering
		return []string{openAnswer, closeAnswer}
	case stateThinking:
		w.state = stateAnswering
		return []string{closeThinkOpenAnswer, closeAnswer}
	default:
		return []string{closeAnswer}
	}
}

// SawReasoning reports whether any reasoning chunk arrived.
func (w *ReasoningWrapper) SawReasoning() bool {
	return w.sawReasoning
}
