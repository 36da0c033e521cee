package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hackare/hackare/internal/domain/chat"
)

// toolCallAccumulator merges tool call fragments arriving across SSE
// chunks, keyed by the provider's declared index.
type toolCallAccumulator struct {
	ID          string
	Name        string
	ArgsBuilder strings.Builder
}

// StreamResult is the accumulated outcome of one SSE stream.
type StreamResult struct {
	Content      string
	ToolCalls    []chat.ToolCall
	ModelUsed    string
	TokensUsed   int
	FinishReason string
	// Truncated marks a stream that ended on a mid-stream transport
	// error after emitting content; the caller commits the partial
	// buffer rather than failing.
	Truncated bool
}

// ParseSSEStream reads a text/event-stream response, calling onDelta for
// each content fragment in wire order. Termination: the [DONE] sentinel,
// a finish_reason (some endpoints never send [DONE]), or the read idle
// timeout. Scanning whole lines guarantees content deltas are complete
// JSON strings, so no partial UTF-8 code point ever reaches onDelta.
func ParseSSEStream(ctx context.Context, reader io.Reader, idleTimeout time.Duration, onDelta func(string), logger *zap.Logger) (*StreamResult, error) {
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	tReader := &timedReader{r: reader, timeout: idleTimeout}

	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	toolCallMap := make(map[int]*toolCallAccumulator)
	result := &StreamResult{}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			result.Content = contentBuilder.String()
			result.Truncated = contentBuilder.Len() > 0
			return result, ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunkData StreamChunkData
		if err := json.Unmarshal([]byte(data), &chunkData); err != nil {
			logger.Debug("Skip unparseable SSE chunk", zap.Error(err))
			continue
		}

		if chunkData.Error != nil {
			return nil, chat.NewError(chat.KindServer, chunkData.Error.Message)
		}
		if chunkData.Model != "" {
			result.ModelUsed = chunkData.Model
		}
		if chunkData.Usage != nil {
			if t := chunkData.Usage.Total(); t > 0 {
				result.TokensUsed = t
			}
		}
		if len(chunkData.Choices) == 0 {
			continue
		}

		choice := chunkData.Choices[0]

		if choice.Delta.Content != "" {
			contentBuilder.WriteString(choice.Delta.Content)
			onDelta(choice.Delta.Content)
		}

		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := toolCallMap[tc.Index]
			if !ok {
				acc = &toolCallAccumulator{}
				toolCallMap[tc.Index] = acc
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Name = tc.Function.Name
			}
			acc.ArgsBuilder.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason != nil && *choice.FinishReason != "" {
			result.FinishReason = *choice.FinishReason
			break
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			logger.Warn("SSE stream idle timeout",
				zap.Duration("idle_timeout", idleTimeout),
			)
			if contentBuilder.Len() == 0 && len(toolCallMap) == 0 {
				return nil, chat.WrapError(chat.KindTransport,
					fmt.Sprintf("stream stalled: no data for %v", idleTimeout), err)
			}
			result.Truncated = true
		} else if contentBuilder.Len() > 0 {
			// Mid-stream transport drop after content: commit what we
			// have as a truncated message rather than hard-failing.
			logger.Warn("SSE transport error after partial content", zap.Error(err))
			result.Truncated = true
		} else {
			return nil, chat.WrapError(chat.KindTransport, "stream read failed", err)
		}
	}

	result.Content = contentBuilder.String()

	// Assemble tool calls in declared index order.
	indexes := make([]int, 0, len(toolCallMap))
	for idx := range toolCallMap {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		acc := toolCallMap[idx]
		args := acc.ArgsBuilder.String()
		if args == "" {
			args = "{}"
		}
		result.ToolCalls = append(result.ToolCalls, chat.ToolCall{
			ID:        acc.ID,
			Name:      acc.Name,
			Arguments: args,
		})
	}

	return result, nil
}

// --- SSE idle timeout support ---

var errIdleTimeout = fmt.Errorf("sse read idle timeout")

// timedReader applies a per-Read deadline so a blocked read wakes within
// a bounded time even when the peer stalls silently.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "sse read idle timeout")
}
