package jsfunc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/hackare/hackare/internal/domain/chat"
)

// DefaultCallTimeout bounds one function call's wall-clock time.
const DefaultCallTimeout = 5 * time.Second

// callResult is the JSON shape every execution returns to the model,
// success or not, so tool-result messages are uniform.
type callResult struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Executor runs registry functions inside a throwaway interpreter. Each
// call gets a fresh VM with no host bindings: no filesystem, network,
// clock mutation, or process access is reachable from script code.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	logger   *zap.Logger
}

func NewExecutor(registry *Registry, timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Executor{
		registry: registry,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "jsfunc")),
	}
}

// Call executes name with the JSON-encoded argument object and returns
// the JSON-encoded result payload. Script failures and timeouts come
// back as ({success:false}, err) so the caller can both report the tool
// error to the model and count the failure.
func (e *Executor) Call(name, argsJSON string) (string, error) {
	fn, ok := e.registry.Get(name)
	if !ok {
		return marshalResult(callResult{Success: false, Error: "unknown function: " + name}),
			chat.NewError(chat.KindToolRuntime, "unknown function: "+name)
	}
	if !fn.Callable {
		return marshalResult(callResult{Success: false, Error: "function is not callable: " + name}),
			chat.NewError(chat.KindToolRuntime, "function is not callable: "+name)
	}

	var args map[string]any
	if argsJSON == "" {
		argsJSON = "{}"
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		msg := fmt.Sprintf("malformed arguments for %s: %v", name, err)
		return marshalResult(callResult{Success: false, Error: msg}),
			chat.NewError(chat.KindToolRuntime, msg)
	}

	start := time.Now()
	value, err := e.run(fn, args)
	elapsed := time.Since(start)

	if err != nil {
		e.logger.Warn("Function call failed",
			zap.String("function", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		// The model sees the fixed "timeout" token; the Go error keeps
		// the function name and limit for the log line above.
		msg := err.Error()
		if chat.IsKind(err, chat.KindToolTimeout) {
			msg = "timeout"
		}
		return marshalResult(callResult{Success: false, Error: msg}), err
	}

	e.logger.Debug("Function call completed",
		zap.String("function", name),
		zap.Duration("elapsed", elapsed),
	)
	return marshalResult(callResult{Success: true, Result: value}), nil
}

func (e *Executor) run(fn *Function, args map[string]any) (any, error) {
	vm := goja.New()

	// Execution happens on its own goroutine so the wall-clock deadline
	// can interrupt a busy loop. Interrupt makes the running script
	// throw, which surfaces through runErr.
	done := make(chan struct{})
	var (
		value  goja.Value
		runErr error
	)
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("script panic: %v", r)
			}
		}()

		if _, err := vm.RunString(fn.SourceText); err != nil {
			runErr = fmt.Errorf("evaluate source: %w", err)
			return
		}

		callable, ok := goja.AssertFunction(vm.Get(fn.Name))
		if !ok {
			runErr = fmt.Errorf("%s is not a function after evaluation", fn.Name)
			return
		}

		// Positional binding in declared parameter order. Missing
		// arguments pass through as undefined, matching a call from
		// other script code.
		callArgs := make([]goja.Value, 0, len(fn.Parameters))
		for _, p := range fn.Parameters {
			if v, ok := args[p.Name]; ok {
				callArgs = append(callArgs, vm.ToValue(v))
			} else {
				callArgs = append(callArgs, goja.Undefined())
			}
		}

		value, runErr = callable(goja.Undefined(), callArgs...)
	}()

	select {
	case <-done:
	case <-time.After(e.timeout):
		vm.Interrupt("timeout")
		<-done
		return nil, chat.NewError(chat.KindToolTimeout,
			fmt.Sprintf("function %s exceeded %v time limit", fn.Name, e.timeout))
	}

	if runErr != nil {
		return nil, chat.WrapError(chat.KindToolRuntime, "call "+fn.Name, runErr)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

func marshalResult(res callResult) string {
	data, err := json.Marshal(res)
	if err != nil {
		// Result payloads are built from Export()ed plain values; a
		// marshal failure means a cyclic object escaped the VM.
		fallback, _ := json.Marshal(callResult{Success: false, Error: "result not serializable: " + err.Error()})
		return string(fallback)
	}
	return string(data)
}
