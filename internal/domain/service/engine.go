// Package service holds the chat engine: it turns a (history, config,
// tool set) tuple into an assistant response, streamed or not, with
// tool-call interleaving.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackare/hackare/internal/domain/chat"
	"github.com/hackare/hackare/internal/domain/models"
	"github.com/hackare/hackare/internal/infrastructure/config"
	"github.com/hackare/hackare/internal/infrastructure/llm"
)

// Completer abstracts the completion transport so the engine can be
// exercised against a fake in tests.
type Completer interface {
	Complete(ctx context.Context, target llm.Target, req *llm.Request) (*llm.StreamResult, error)
	Stream(ctx context.Context, target llm.Target, req *llm.Request, onDelta func(string)) (*llm.StreamResult, error)
}

// ToolSet is the slice of the function registry the engine needs:
// schemas for the request and dispatch for returned calls.
type ToolSet interface {
	ToolSchemas() []llm.Tool
	Call(name, argsJSON string) (string, error)
}

// ConfirmFunc gates one tool call when yolo mode is off. Returning
// false skips the dispatch and reports a denial to the model.
type ConfirmFunc func(name, argsJSON string) bool

// Options tunes loop limits and compaction.
type Options struct {
	MaxToolCycles   int     // default 8
	CompactKeepLast int     // default 10
	CompactRatio    float64 // auto-compact when estimate exceeds this share of the window, default 0.85
}

func (o *Options) setDefaults() {
	if o.MaxToolCycles <= 0 {
		o.MaxToolCycles = 8
	}
	if o.CompactKeepLast <= 0 {
		o.CompactKeepLast = 10
	}
	if o.CompactRatio <= 0 {
		o.CompactRatio = 0.85
	}
}

// SystemPrompter supplies the composed system prompt.
type SystemPrompter interface {
	Composed() string
}

// Engine runs completion cycles for one session. At most one Send is in
// flight at a time; concurrent calls queue on the send lock.
type Engine struct {
	sendMu sync.Mutex

	mu      sync.RWMutex
	history []chat.Message
	cancel  context.CancelFunc

	client  Completer
	tools   ToolSet
	prompts SystemPrompter
	config  *config.Manager
	models  *models.Registry
	options Options
	confirm ConfirmFunc
	sink    func(chat.Event)
	logger  *zap.Logger
}

func NewEngine(client Completer, tools ToolSet, prompts SystemPrompter, cfg *config.Manager, registry *models.Registry, opts Options, logger *zap.Logger) *Engine {
	opts.setDefaults()
	return &Engine{
		client:  client,
		tools:   tools,
		prompts: prompts,
		config:  cfg,
		models:  registry,
		options: opts,
		logger:  logger.With(zap.String("component", "engine")),
	}
}

// SetConfirm installs the interactive tool-call gate. Without a gate,
// tool calls are denied whenever yolo mode is off.
func (e *Engine) SetConfirm(fn ConfirmFunc) { e.confirm = fn }

// SetSink installs the progressive event callback. Events arrive in
// wire order from the Send goroutine.
func (e *Engine) SetSink(fn func(chat.Event)) { e.sink = fn }

func (e *Engine) emit(ev chat.Event) {
	if e.sink != nil {
		e.sink(ev)
	}
}

// History returns a copy of the session history.
func (e *Engine) History() []chat.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]chat.Message(nil), e.history...)
}

// SeedHistory replaces the session history, as when a share link
// carries a conversation.
func (e *Engine) SeedHistory(messages []chat.Message) {
	e.mu.Lock()
	e.history = append([]chat.Message(nil), messages...)
	e.mu.Unlock()
}

// Clear drops all history. The composed system prompt is rebuilt per
// request, so it survives untouched.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.history = nil
	e.mu.Unlock()
}

// Cancel aborts the in-flight request, if any. Partial content is
// preserved in history with an interruption marker.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// systemText is the effective system prompt: the configured base prompt
// followed by the library's composition.
func (e *Engine) systemText() string {
	cfg := e.config.Get()
	var parts []string
	if cfg.SystemPrompt != "" {
		parts = append(parts, cfg.SystemPrompt)
	}
	if composed := e.prompts.Composed(); composed != "" {
		parts = append(parts, composed)
	}
	return strings.Join(parts, "\n\n")
}

// EstimateTokens sizes the system prompt plus history with the
// 4-chars-per-token heuristic against the active model's window.
func (e *Engine) EstimateTokens() (tokens, window int) {
	chars := len(e.systemText())
	e.mu.RLock()
	for _, m := range e.history {
		chars += len(m.Content)
	}
	e.mu.RUnlock()

	cfg := e.config.Get()
	return (chars + 3) / 4, e.models.ContextWindow(cfg.Model)
}

// Send appends userText and runs completion cycles until the provider
// stops calling tools, returning the final assistant message. Chunks
// reach the sink in receipt order. Cancellation is not an error: the
// partial buffer comes back as the result with an interruption marker.
func (e *Engine) Send(ctx context.Context, userText string) (*chat.Message, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancel = cancel
	e.history = append(e.history, chat.NewUserMessage(userText))
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
	}()

	e.maybeAutoCompact()

	for cycle := 0; cycle < e.options.MaxToolCycles; cycle++ {
		result, err := e.complete(ctx)
		if err != nil {
			if isCancel(err) {
				msg := e.commitInterrupted(result)
				e.emit(chat.Event{Type: chat.EventDone})
				return &msg, nil
			}
			e.emit(chat.Event{Type: chat.EventError, Err: err})
			return nil, err
		}

		if len(result.ToolCalls) == 0 {
			content := result.Content
			if result.Truncated {
				e.logger.Warn("Committing truncated assistant message")
				if content != "" {
					content += " [truncated]"
				} else {
					content = "[truncated]"
				}
			}
			msg := chat.NewAssistantMessage(content)
			e.mu.Lock()
			e.history = append(e.history, msg)
			e.mu.Unlock()
			e.emit(chat.Event{Type: chat.EventDone})
			return &msg, nil
		}

		// Tool cycle: assistant message with calls, then one tool
		// message per call in provider index order, then re-enter.
		assistant := chat.NewAssistantMessage(result.Content)
		assistant.ToolCalls = result.ToolCalls
		e.mu.Lock()
		e.history = append(e.history, assistant)
		e.mu.Unlock()

		for _, tc := range result.ToolCalls {
			e.emit(chat.Event{Type: chat.EventToolCall, ToolCall: &tc})
			start := time.Now()
			out, ok := e.dispatch(ctx, tc)
			e.mu.Lock()
			e.history = append(e.history, chat.NewToolMessage(tc.ID, tc.Name, out))
			e.mu.Unlock()
			e.emit(chat.Event{
				Type:     chat.EventToolResult,
				ToolCall: &tc,
				Output:   out,
				Success:  ok,
				Duration: time.Since(start),
			})
		}
	}

	// Runaway guard tripped.
	msg := chat.NewAssistantMessage(fmt.Sprintf("[stopped after %d tool-call cycles]", e.options.MaxToolCycles))
	e.mu.Lock()
	e.history = append(e.history, msg)
	e.mu.Unlock()
	err := chat.NewError(chat.KindToolRuntime, fmt.Sprintf("tool-call loop exceeded %d cycles", e.options.MaxToolCycles))
	e.emit(chat.Event{Type: chat.EventError, Err: err})
	return &msg, err
}

// complete runs one request cycle against the active config.
func (e *Engine) complete(ctx context.Context) (*llm.StreamResult, error) {
	cfg := e.config.Get()

	req := &llm.Request{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	if system := e.systemText(); system != "" {
		req.Messages = append(req.Messages, llm.Message{Role: chat.RoleSystem, Content: system})
	}
	e.mu.RLock()
	for _, m := range e.history {
		req.Messages = append(req.Messages, toWire(m))
	}
	e.mu.RUnlock()
	if e.tools != nil {
		req.Tools = e.tools.ToolSchemas()
	}

	target := llm.Target{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Policy:  cfg.Egress(),
	}

	if cfg.StreamMode {
		return e.client.Stream(ctx, target, req, func(delta string) {
			e.emit(chat.Event{Type: chat.EventChunk, Text: delta})
		})
	}
	return e.client.Complete(ctx, target, req)
}

// dispatch runs one tool call through the gate and the registry. Every
// outcome, including denial, produces a result string for the model.
func (e *Engine) dispatch(ctx context.Context, tc chat.ToolCall) (string, bool) {
	if ctx.Err() != nil {
		return `{"success":false,"error":"cancelled"}`, false
	}

	cfg := e.config.Get()
	if !cfg.YoloMode {
		if e.confirm == nil || !e.confirm(tc.Name, tc.Arguments) {
			e.logger.Info("Tool call denied", zap.String("function", tc.Name))
			return `{"success":false,"error":"tool call denied by user"}`, false
		}
	}

	out, err := e.tools.Call(tc.Name, tc.Arguments)
	if err != nil {
		e.logger.Warn("Tool call failed",
			zap.String("function", tc.Name),
			zap.Error(err),
		)
	}
	return out, err == nil
}

// commitInterrupted records whatever content arrived before the cancel.
func (e *Engine) commitInterrupted(result *llm.StreamResult) chat.Message {
	content := ""
	if result != nil {
		content = result.Content
	}
	if content != "" {
		content += " [interrupted]"
	} else {
		content = "[interrupted]"
	}
	msg := chat.NewAssistantMessage(content)
	e.mu.Lock()
	e.history = append(e.history, msg)
	e.mu.Unlock()
	e.logger.Info("Request cancelled, partial content committed",
		zap.Int("chars", len(content)),
	)
	return msg
}

func isCancel(err error) bool {
	return chat.IsKind(err, chat.KindCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func toWire(m chat.Message) llm.Message {
	wire := llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		wire.ToolCalls = append(wire.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: llm.ToolCallFunc{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return wire
}
