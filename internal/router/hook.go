// Package router's custom router hook: a sandboxed goja VM running
// user-supplied JavaScript that may override the built-in model selection
// rules (spec.md §4.6 "Custom router hook").
package router

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dop251/goja"
)

// CustomHook loads and runs a user JS file exporting a function
// `route(request, config, event)` returning a model string or a falsy
// value to defer to the built-in resolver.
type CustomHook struct {
	path string

	mu      sync.Mutex
	program *goja.Program
	modTime int64
}

// NewCustomHook returns a hook that (re)compiles path lazily and reloads it
// whenever the file's mtime changes.
func NewCustomHook(path string) *CustomHook {
	return &CustomHook{path: path}
}

// Run invokes the hook with request/config/event JSON-able values and
// returns the resolved model string, or "" if the hook deferred or failed.
// Any error is the caller's to log; per spec.md §4.6/§7 ("CustomRouterException")
// the built-in resolver always runs afterward regardless of the error.
func (h *CustomHook) Run(request, cfg any, event map[string]any) (string, error) {
	prog, err := h.compiled()
	if err != nil {
		return "", err
	}

	vm := goja.New()
	if err := registerHelpers(vm); err != nil {
		return "", err
	}

	if err := vm.Set("request", toJSValue(vm, request)); err != nil {
		return "", err
	}
	if err := vm.Set("config", toJSValue(vm, cfg)); err != nil {
		return "", err
	}
	if err := vm.Set("event", event); err != nil {
		return "", err
	}

	if _, err := vm.RunProgram(prog); err != nil {
		return "", fmt.Errorf("custom router: run script: %w", err)
	}

	routeFn, ok := goja.AssertFunction(vm.Get("route"))
	if !ok {
		return "", fmt.Errorf("custom router: script does not define route(request, config, event)")
	}

	result, err := routeFn(goja.Undefined(), vm.Get("request"), vm.Get("config"), vm.Get("event"))
	if err != nil {
		return "", fmt.Errorf("custom router: route(): %w", err)
	}

	s := result.String()
	if goja.IsUndefined(result) || goja.IsNull(result) || s == "" {
		return "", nil
	}
	return s, nil
}

func (h *CustomHook) compiled() (*goja.Program, error) {
	info, err := os.Stat(h.path)
	if err != nil {
		return nil, fmt.Errorf("custom router: stat %s: %w", h.path, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.program != nil && h.modTime == info.ModTime().UnixNano() {
		return h.program, nil
	}

	data, err := os.ReadFile(h.path)
	if err != nil {
		return nil, fmt.Errorf("custom router: read %s: %w", h.path, err)
	}

	prog, err := goja.Compile(h.path, string(data), false)
	if err != nil {
		return nil, fmt.Errorf("custom router: compile %s: %w", h.path, err)
	}

	h.program = prog
	h.modTime = info.ModTime().UnixNano()
	return prog, nil
}

// toJSValue round-trips v through JSON so arbitrary Go structs become
// plain JS objects inside the VM.
func toJSValue(vm *goja.Runtime, v any) goja.Value {
	data, err := json.Marshal(v)
	if err != nil {
		return goja.Undefined()
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return goja.Undefined()
	}
	return vm.ToValue(out)
}

// registerHelpers adds the small helper surface a router script needs:
// JSON parse/stringify. Unlike the workflow engine's goja setup, no HTTP
// or body-streaming helpers are exposed — a routing decision must be
// synchronous and side-effect free.
func registerHelpers(vm *goja.Runtime) error {
	if err := vm.Set("jsonParse", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		var parsed any
		if err := json.Unmarshal([]byte(call.Arguments[0].String()), &parsed); err != nil {
			panic(vm.NewTypeError("jsonParse: " + err.Error()))
		}
		return vm.ToValue(parsed)
	}); err != nil {
		return err
	}

	return vm.Set("jsonStringify", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		data, err := json.Marshal(call.Arguments[0].Export())
		if err != nil {
			return vm.ToValue("")
		}
		return vm.ToValue(string(data))
	})
}
