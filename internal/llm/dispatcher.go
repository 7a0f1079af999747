package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Dispatcher routes chat requests through the registry and records the
// exchange in history.
type Dispatcher struct {
	registry *Registry
	history  *History
	log      *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry *Registry, history *History, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if history == nil {
		history = NewHistory("")
	}
	return &Dispatcher{registry: registry, history: history, log: log}
}

// History returns the dispatcher's chat history.
func (d *Dispatcher) History() *History {
	return d.history
}

// Chat sends the prompt as a user message and returns the assistant's
// reply. Both messages are appended to history.
func (d *Dispatcher) Chat(ctx context.Context, model, prompt string) (string, error) {
	client, breaker, err := d.registry.Acquire(model)
	if err != nil {
		return "", err
	}

	d.history.AddMessage(RoleUser, prompt, nil)

	started := time.Now()
	var reply string
	err = breaker.Execute(func() error {
		var chatErr error
		reply, chatErr = client.Chat(ctx, d.history.Messages())
		return chatErr
	})
	if err != nil {
		d.log.Warn("chat request failed",
			slog.String("model", model),
			slog.Duration("elapsed", time.Since(started)),
			slog.String("error", err.Error()))
		return "", err
	}

	d.history.AddMessage(RoleAssistant, reply, nil)
	return reply, nil
}

// ChatOnce sends a single prompt without touching history, for one-shot
// calls like intent extraction.
func (d *Dispatcher) ChatOnce(ctx context.Context, model, prompt string) (string, error) {
	client, breaker, err := d.registry.Acquire(model)
	if err != nil {
		return "", err
	}

	var reply string
	err = breaker.Execute(func() error {
		var chatErr error
		reply, chatErr = client.Chat(ctx, []Message{
			{Role: RoleUser, Content: prompt, Timestamp: time.Now()},
		})
		return chatErr
	})
	return reply, err
}

// StreamReasoning sends the prompt and streams the wrapped response:
// onSegment receives each segment in order, and the returned string is
// their exact concatenation. The assembled response is appended to history
// as an assistant message with a reasoning flag.
func (d *Dispatcher) StreamReasoning(ctx context.Context, model, prompt string, onSegment func(string)) (string, error) {
	client, breaker, err := d.registry.Acquire(model)
	if err != nil {
		return "", err
	}
	if !breaker.Allow() {
		return "", ErrKeyUnavailable
	}

	d.history.AddMessage(RoleUser, prompt, nil)

	wrapper := NewReasoningWrapper()
	var assembled strings.Builder

	emit := func(segments []string) {
		for _, seg := range segments {
			assembled.WriteString(seg)
			if onSegment != nil {
				onSegment(seg)
			}
		}
	}

	streamErr := client.ChatStream(ctx, d.history.Messages(), func(delta Delta) {
		emit(wrapper.Feed(delta))
	})
	if streamErr != nil {
		breaker.RecordFailure()
		return "", streamErr
	}
	breaker.RecordSuccess()

	emit(wrapper.Finish())

	result := assembled.String()
	d.history.AddMessage(RoleAssistant, result, map[string]any{
		"reasoning": wrapper.SawReasoning(),
	})
	return result, nil
}
