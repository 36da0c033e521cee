package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hackare/hackare/internal/domain/chat"
	"github.com/hackare/hackare/internal/domain/models"
	"github.com/hackare/hackare/internal/infrastructure/config"
	"github.com/hackare/hackare/internal/infrastructure/eventbus"
	"github.com/hackare/hackare/internal/infrastructure/jsfunc"
	"github.com/hackare/hackare/internal/infrastructure/llm"
)

// scriptedCompleter replays canned results and records each request.
type scriptedCompleter struct {
	results  []*llm.StreamResult
	errs     []error
	requests []*llm.Request
	calls    int
}

func (s *scriptedCompleter) next(req *llm.Request) (*llm.StreamResult, error) {
	s.requests = append(s.requests, req)
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.results[i], err
}

func (s *scriptedCompleter) Complete(_ context.Context, _ llm.Target, req *llm.Request) (*llm.StreamResult, error) {
	return s.next(req)
}

func (s *scriptedCompleter) Stream(_ context.Context, _ llm.Target, req *llm.Request, onDelta func(string)) (*llm.StreamResult, error) {
	res, err := s.next(req)
	if err == nil && res != nil && onDelta != nil {
		onDelta(res.Content)
	}
	return res, err
}

type staticPrompts struct{ text string }

func (s staticPrompts) Composed() string { return s.text }

// realTools pairs the function registry with its executor so the engine
// sees one ToolSet.
type realTools struct {
	registry *jsfunc.Registry
	executor *jsfunc.Executor
}

func (t realTools) ToolSchemas() []llm.Tool            { return t.registry.ToolSchemas() }
func (t realTools) Call(name, args string) (string, error) { return t.executor.Call(name, args) }

func newTestEngine(t *testing.T, completer Completer, opts Options) (*Engine, *config.Manager) {
	t.Helper()
	bus := eventbus.NewInMemoryBus(zap.NewNop(), 64)
	t.Cleanup(bus.Close)

	mgr, err := config.NewManager(bus, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	registry, err := models.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	funcs := jsfunc.NewRegistry(zap.NewNop())
	if _, err := funcs.AddSource(`/**
 * Add two numbers.
 * @param {number} a - First operand
 * @param {number} b - Second operand
 */
function add(a, b) { return a + b; }`, ""); err != nil {
		t.Fatalf("AddSource() error = %v", err)
	}
	tools := realTools{registry: funcs, executor: jsfunc.NewExecutor(funcs, 0, zap.NewNop())}

	return NewEngine(completer, tools, staticPrompts{text: "You are helpful."}, mgr, registry, opts, zap.NewNop()), mgr
}

func TestSendToolCallLoop(t *testing.T) {
	completer := &scriptedCompleter{
		results: []*llm.StreamResult{
			{ToolCalls: []chat.ToolCall{{ID: "call_1", Name: "add", Arguments: `{"a":2,"b":3}`}}},
			{Content: "The sum is 5.", FinishReason: "stop"},
		},
	}
	engine, mgr := newTestEngine(t, completer, Options{})
	mgr.Update(func(c *config.Config) { c.YoloMode = true; c.StreamMode = false })

	msg, err := engine.Send(context.Background(), "what is 2+3?")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.Content != "The sum is 5." {
		t.Errorf("final content = %q, want The sum is 5.", msg.Content)
	}

	history := engine.History()
	roles := make([]string, len(history))
	for i, m := range history {
		roles[i] = m.Role
	}
	want := []string{"user", "assistant", "tool", "assistant"}
	if len(roles) != len(want) {
		t.Fatalf("history roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Errorf("history[%d].Role = %q, want %q", i, roles[i], want[i])
		}
	}

	toolMsg := history[2]
	if toolMsg.ToolCallID != "call_1" {
		t.Errorf("tool message ToolCallID = %q, want call_1", toolMsg.ToolCallID)
	}
	if !strings.Contains(toolMsg.Content, "5") {
		t.Errorf("tool result = %q, want the sum", toolMsg.Content)
	}

	// Cycle two must carry the tool result.
	if len(completer.requests) != 2 {
		t.Fatalf("completer saw %d requests, want 2", len(completer.requests))
	}
	second := completer.requests[1]
	found := false
	for _, m := range second.Messages {
		if m.Role == "tool" && m.ToolCallID == "call_1" {
			found = true
		}
	}
	if !found {
		t.Error("second request missing the tool result message")
	}
}

func TestSendSystemPromptLeads(t *testing.T) {
	completer := &scriptedCompleter{
		results: []*llm.StreamResult{{Content: "hi"}},
	}
	engine, mgr := newTestEngine(t, completer, Options{})
	mgr.Update(func(c *config.Config) { c.StreamMode = false })

	if _, err := engine.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	req := completer.requests[0]
	if len(req.Messages) == 0 || req.Messages[0].Role != "system" {
		t.Fatal("first request message is not the system prompt")
	}
	if !strings.Contains(req.Messages[0].Content, "You are helpful.") {
		t.Errorf("system content = %q, want composed prompt", req.Messages[0].Content)
	}
}

func TestSendCancelCommitsPartial(t *testing.T) {
	completer := &scriptedCompleter{
		results: []*llm.StreamResult{{Content: "Hel", Truncated: true}},
		errs:    []error{chat.WrapError(chat.KindCancelled, "request cancelled", context.Canceled)},
	}
	engine, mgr := newTestEngine(t, completer, Options{})
	mgr.Update(func(c *config.Config) { c.StreamMode = false })

	msg, err := engine.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send() after cancel error = %v, want nil", err)
	}
	if msg.Content != "Hel [interrupted]" {
		t.Errorf("content = %q, want %q", msg.Content, "Hel [interrupted]")
	}

	history := engine.History()
	last := history[len(history)-1]
	if last.Role != "assistant" || !strings.HasSuffix(last.Content, "[interrupted]") {
		t.Errorf("last history entry = %+v, want interrupted assistant message", last)
	}
}

func TestSendCancelStreamingMidStream(t *testing.T) {
	// Real transport: the server streams one chunk, then stalls until
	// the client goes away. Cancelling must commit the partial content
	// with the interruption marker, not report a clean completion.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	engine, mgr := newTestEngine(t, llm.NewClient(llm.Options{}, zap.NewNop()), Options{})
	mgr.Update(func(c *config.Config) {
		c.BaseURL = server.URL
		c.StreamMode = true
	})

	engine.SetSink(func(ev chat.Event) {
		if ev.Type == chat.EventChunk {
			engine.Cancel()
		}
	})

	msg, err := engine.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send() after cancel error = %v, want nil", err)
	}
	if msg.Content != "Hel [interrupted]" {
		t.Errorf("content = %q, want %q", msg.Content, "Hel [interrupted]")
	}
	history := engine.History()
	last := history[len(history)-1]
	if last.Role != "assistant" || !strings.HasSuffix(last.Content, "[interrupted]") {
		t.Errorf("last history entry = %+v, want interrupted assistant message", last)
	}
}

func TestSendCommitsTruncationMarker(t *testing.T) {
	completer := &scriptedCompleter{
		results: []*llm.StreamResult{{Content: "par", Truncated: true}},
	}
	engine, mgr := newTestEngine(t, completer, Options{})
	mgr.Update(func(c *config.Config) { c.StreamMode = false })

	msg, err := engine.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.Content != "par [truncated]" {
		t.Errorf("content = %q, want %q", msg.Content, "par [truncated]")
	}
}

func TestSendToolLoopCap(t *testing.T) {
	completer := &scriptedCompleter{
		results: []*llm.StreamResult{
			{ToolCalls: []chat.ToolCall{{ID: "c", Name: "add", Arguments: `{"a":1,"b":1}`}}},
		},
	}
	engine, mgr := newTestEngine(t, completer, Options{MaxToolCycles: 2})
	mgr.Update(func(c *config.Config) { c.YoloMode = true; c.StreamMode = false })

	msg, err := engine.Send(context.Background(), "loop forever")
	if err == nil {
		t.Fatal("Send() error = nil, want loop cap error")
	}
	if chat.KindOf(err) != chat.KindToolRuntime {
		t.Errorf("KindOf(err) = %v, want %v", chat.KindOf(err), chat.KindToolRuntime)
	}
	if !strings.Contains(msg.Content, "stopped after 2") {
		t.Errorf("final message = %q, want loop-cap marker", msg.Content)
	}
	if completer.calls != 2 {
		t.Errorf("completer calls = %d, want 2", completer.calls)
	}
}

func TestSendDeniedToolCall(t *testing.T) {
	completer := &scriptedCompleter{
		results: []*llm.StreamResult{
			{ToolCalls: []chat.ToolCall{{ID: "c1", Name: "add", Arguments: `{"a":1,"b":1}`}}},
			{Content: "understood"},
		},
	}
	engine, mgr := newTestEngine(t, completer, Options{})
	mgr.Update(func(c *config.Config) { c.StreamMode = false }) // yolo off

	engine.SetConfirm(func(name, args string) bool { return false })

	if _, err := engine.Send(context.Background(), "add please"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	history := engine.History()
	var toolMsg *chat.Message
	for i := range history {
		if history[i].Role == "tool" {
			toolMsg = &history[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message in history")
	}
	if !strings.Contains(toolMsg.Content, "denied") {
		t.Errorf("tool result = %q, want denial", toolMsg.Content)
	}
}

func TestClearAndCompact(t *testing.T) {
	completer := &scriptedCompleter{
		results: []*llm.StreamResult{{Content: "reply"}},
	}
	engine, mgr := newTestEngine(t, completer, Options{CompactKeepLast: 2})
	mgr.Update(func(c *config.Config) { c.StreamMode = false })

	for i := 0; i < 4; i++ {
		if _, err := engine.Send(context.Background(), "hello"); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	if got := len(engine.History()); got != 8 {
		t.Fatalf("history length = %d, want 8", got)
	}

	folded := engine.Compact()
	if folded != 6 {
		t.Errorf("Compact() folded = %d, want 6", folded)
	}
	history := engine.History()
	if len(history) != 3 {
		t.Fatalf("history length after compact = %d, want 3", len(history))
	}
	if !strings.Contains(history[0].Content, "Context compacted") {
		t.Errorf("history[0] = %q, want summary message", history[0].Content)
	}

	engine.Clear()
	if got := len(engine.History()); got != 0 {
		t.Errorf("history length after clear = %d, want 0", got)
	}
}

func TestStreamChunksReachSink(t *testing.T) {
	completer := &scriptedCompleter{
		results: []*llm.StreamResult{{Content: "Hello"}},
	}
	engine, mgr := newTestEngine(t, completer, Options{})
	mgr.Update(func(c *config.Config) { c.StreamMode = true })

	var chunks []string
	engine.SetSink(func(ev chat.Event) {
		if ev.Type == chat.EventChunk {
			chunks = append(chunks, ev.Text)
		}
	})

	if _, err := engine.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(chunks) == 0 || strings.Join(chunks, "") != "Hello" {
		t.Errorf("chunks = %v, want Hello", chunks)
	}
}
