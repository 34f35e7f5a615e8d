package resolver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/resolver"
)

func TestWASMHandler_UnregisteredActionTypeErrors(t *testing.T) {
	h := resolver.NewWASMHandler(resolver.StaticWASMModules{})

	_, err := h.Invoke(context.Background(), "unknown.action", nil)
	require.Error(t, err)

	herr, ok := err.(*resolver.HandlerError)
	require.True(t, ok)
	require.False(t, herr.Retriable)
	require.Contains(t, herr.Error(), "no module registered")
}

func TestWASMHandler_MalformedModuleFailsToCompile(t *testing.T) {
	h := resolver.NewWASMHandler(resolver.StaticWASMModules{
		"broken.action": []byte("not a real wasm module"),
	})

	_, err := h.Invoke(context.Background(), "broken.action", map[string]interface{}{"x": 1.0})
	require.Error(t, err)

	herr, ok := err.(*resolver.HandlerError)
	require.True(t, ok)
	require.False(t, herr.Retriable)
	require.Contains(t, herr.Error(), "compile")
}

func TestWASMHandler_CloseWithoutInvokeIsNoop(t *testing.T) {
	h := resolver.NewWASMHandler(resolver.StaticWASMModules{})
	require.NoError(t, h.Close(context.Background()))
}
