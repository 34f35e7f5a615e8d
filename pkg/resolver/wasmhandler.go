package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WASMModuleSource resolves an action_type to the compiled WASM bytes
// to run for it. Out-of-core: production deployments back this with a
// content-addressable pack store; tests can use a static map.
type WASMModuleSource interface {
	Module(actionType string) ([]byte, error)
}

// StaticWASMModules is the simplest WASMModuleSource: a fixed
// action_type -> module bytes table, useful for tests and single-atlas
// deployments that ship their WASM actions alongside the binary.
type StaticWASMModules map[string][]byte

func (m StaticWASMModules) Module(actionType string) ([]byte, error) {
	bin, ok := m[actionType]
	if !ok {
		return nil, fmt.Errorf("wasm: no module registered for action type %q", actionType)
	}
	return bin, nil
}

// WASMHandler is an ActionHandler that executes an action by running a
// WASI module in a wazero sandbox: deny-by-default, no filesystem, no
// network, no ambient authority, CPU time bounded by ctx's deadline.
// The module receives the action's parameters as JSON on stdin and
// must write its HandlerResult.Output as JSON to stdout.
type WASMHandler struct {
	Modules WASMModuleSource

	once    sync.Once
	runtime wazero.Runtime
	initErr error
}

// NewWASMHandler builds a WASMHandler over a module source. The wazero
// runtime itself is lazily initialized on first Invoke so a Resolver
// wiring in no wasm actions never pays for it.
func NewWASMHandler(modules WASMModuleSource) *WASMHandler {
	return &WASMHandler{Modules: modules}
}

func (h *WASMHandler) ensureRuntime(ctx context.Context) (wazero.Runtime, error) {
	h.once.Do(func() {
		r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
			h.initErr = fmt.Errorf("wasm: instantiate WASI: %w", err)
			return
		}
		h.runtime = r
	})
	return h.runtime, h.initErr
}

// Invoke compiles the module registered for actionType (afresh on every
// call; the compiled module is closed when Invoke returns) and runs it,
// deny-by-default: no WithFSConfig,
// no WithSysNanotime, no WithRandSource, stdin/stdout wired to the
// marshaled parameters/result only.
func (h *WASMHandler) Invoke(ctx context.Context, actionType string, parameters map[string]interface{}) (HandlerResult, error) {
	runtime, err := h.ensureRuntime(ctx)
	if err != nil {
		return HandlerResult{}, &HandlerError{Message: err.Error(), Retriable: false}
	}

	wasmBytes, err := h.Modules.Module(actionType)
	if err != nil {
		return HandlerResult{}, &HandlerError{Message: err.Error(), Retriable: false}
	}

	input, err := json.Marshal(parameters)
	if err != nil {
		return HandlerResult{}, &HandlerError{Message: "wasm: marshal parameters: " + err.Error(), Retriable: false}
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return HandlerResult{}, &HandlerError{Message: "wasm: compile: " + err.Error(), Retriable: false}
	}
	defer func() { _ = compiled.Close(ctx) }()

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName(actionType).
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		retriable := ctx.Err() != nil
		return HandlerResult{}, &HandlerError{Message: "wasm: instantiate: " + err.Error(), Retriable: retriable}
	}
	defer func() { _ = mod.Close(ctx) }()

	if stderr.Len() > 0 {
		return HandlerResult{}, &HandlerError{Message: "wasm: stderr output: " + stderr.String(), Retriable: false}
	}

	var output interface{}
	if stdout.Len() > 0 {
		if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
			return HandlerResult{}, &HandlerError{Message: "wasm: decode stdout as JSON: " + err.Error(), Retriable: false}
		}
	}

	return HandlerResult{Output: output, OutputType: "application/json"}, nil
}

// Close releases the wazero runtime, if one was ever initialized.
func (h *WASMHandler) Close(ctx context.Context) error {
	if h.runtime == nil {
		return nil
	}
	return h.runtime.Close(ctx)
}

var _ ActionHandler = (*WASMHandler)(nil)
