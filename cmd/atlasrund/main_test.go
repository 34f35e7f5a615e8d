package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
)

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"atlasrund", "version"}, &stdout, &stderr)
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "atlasrund")
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"atlasrund", "bogus"}, &stdout, &stderr)
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "unknown command")
}

// writeHelloWorldAtlas lays out a single-atlas directory matching the
// fixture shape used across the module's other tests.
func writeHelloWorldAtlas(t *testing.T, dir string) {
	t.Helper()
	manifest := `{
		"schema_version": "0.1",
		"metadata": {"id": "hello-world", "version": "0.1", "name": "Hello World"},
		"domains": [{"id": "demo.greeting"}],
		"context_packs": [
			{"id": "overview", "domain": "demo.greeting", "source": "overview.md", "content_type": "markdown", "priority": 100, "ttl_seconds": 600}
		],
		"actions": [
			{"id": "greeting-send", "domain": "demo.greeting", "action_type": "greeting.send", "name": "Send greeting", "risk_tier": "low"}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "atlas.json"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "overview.md"), []byte(strings.Repeat("a", 160)), 0o644))
}

// withStdin temporarily replaces os.Stdin with a pipe fed by data,
// restoring the original afterward.
func withStdin(t *testing.T, data []byte) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	orig := os.Stdin
	os.Stdin = r
	t.Cleanup(func() {
		os.Stdin = orig
		_ = r.Close()
	})
}

func TestRunResolveSuccess(t *testing.T) {
	atlasDir := t.TempDir()
	writeHelloWorldAtlas(t, atlasDir)

	req := carp.Request{
		ID:        "req-1",
		Version:   carp.ProtocolVersion,
		Operation: carp.OperationResolve,
		Requester: carp.Requester{AgentID: "agent-1", SessionID: "session-1"},
		Task:      &carp.Task{Goal: "Send a greeting", RiskTier: carp.RiskLow, ContextHints: []string{"demo.greeting"}},
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	withStdin(t, raw)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"atlasrund", "resolve", "-atlas-dir", atlasDir}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())

	var resolution carp.Resolution
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resolution))
	require.NotEmpty(t, resolution.ContextBlocks)
}

func TestRunResolveBadRequestJSON(t *testing.T) {
	atlasDir := t.TempDir()
	writeHelloWorldAtlas(t, atlasDir)
	withStdin(t, []byte("not json"))

	var stdout, stderr bytes.Buffer
	code := Run([]string{"atlasrund", "resolve", "-atlas-dir", atlasDir}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "decode request")
}

func TestRunResolveMissingAtlasDir(t *testing.T) {
	withStdin(t, []byte("{}"))

	var stdout, stderr bytes.Buffer
	code := Run([]string{"atlasrund", "resolve", "-atlas-dir", filepath.Join(t.TempDir(), "missing")}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "load atlas")
}
