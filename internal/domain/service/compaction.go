package service

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hackare/hackare/internal/domain/chat"
)

// Compact rewrites older history into a single summary message, keeping
// the last CompactKeepLast messages verbatim. Returns the number of
// messages folded into the summary.
func (e *Engine) Compact() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compactLocked()
}

// maybeAutoCompact compacts when the token estimate crosses the
// configured share of the model's context window.
func (e *Engine) maybeAutoCompact() {
	tokens, window := e.EstimateTokens()
	if float64(tokens) < e.options.CompactRatio*float64(window) {
		return
	}

	e.mu.Lock()
	folded := e.compactLocked()
	e.mu.Unlock()
	if folded > 0 {
		e.logger.Info("Auto-compacted history",
			zap.Int("folded", folded),
			zap.Int("estimated_tokens", tokens),
			zap.Int("context_window", window),
		)
	}
}

func (e *Engine) compactLocked() int {
	keepLast := e.options.CompactKeepLast
	if len(e.history) <= keepLast+1 {
		return 0
	}

	older := e.history[:len(e.history)-keepLast]
	summary := summarize(older)

	compacted := make([]chat.Message, 0, keepLast+1)
	compacted = append(compacted, chat.NewUserMessage(summary))
	compacted = append(compacted, e.history[len(e.history)-keepLast:]...)
	e.history = compacted
	return len(older)
}

// summarize builds a truncation-based digest of older messages: clipped
// excerpts plus role counts. Tool results are implied by their calls
// and skipped.
func summarize(messages []chat.Message) string {
	var parts []string
	userCount, assistantCount, toolCallCount := 0, 0, 0

	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			userCount++
			parts = append(parts, "User: "+clip(msg.Content, 100))
		case chat.RoleAssistant:
			assistantCount++
			if msg.Content != "" {
				parts = append(parts, "Assistant: "+clip(msg.Content, 200))
			}
			toolCallCount += len(msg.ToolCalls)
		case chat.RoleTool:
		}
	}

	return fmt.Sprintf(
		"[Context compacted: %d messages summarized (%d user, %d assistant, %d tool calls)]\n\n%s",
		len(messages), userCount, assistantCount, toolCallCount,
		strings.Join(parts, "\n"),
	)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
