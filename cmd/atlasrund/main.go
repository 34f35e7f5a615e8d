// Command atlasrund is the runtime's entrypoint: wires config, the
// Atlas Store, Resolution Cache, TRACE pipeline, and Resolver together
// and either runs the Processor drain loop as a daemon or executes a
// single one-shot resolve against a request read from stdin.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/atlas"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/config"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/identity"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/ids"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/policy"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/resolver"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the testable entrypoint: it never calls os.Exit itself.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(args[1:], stdout, stderr)
	}

	switch args[1] {
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "resolve":
		return runResolve(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintln(stdout, "atlasrund 0.1.0")
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q (want: serve, resolve, version)\n", args[1])
		return 2
	}
}

type runtime struct {
	cfg      config.Config
	store    *atlas.Store
	resolver *resolver.Resolver
	buf      *trace.RingBuffer
	proc     *trace.Processor
	log      *slog.Logger
}

func buildRuntime(ctx context.Context, configPath, atlasDir string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("atlasrund: load config: %w", err)
	}

	logger := slog.Default()

	clock := ids.SystemClock{}
	idGen := ids.UUIDv7Generator{}

	storageAdapter, err := config.BuildStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("atlasrund: build storage: %w", err)
	}

	cacheBackend, err := config.BuildCache(cfg.Cache, clock)
	if err != nil {
		return nil, fmt.Errorf("atlasrund: build cache: %w", err)
	}

	buf := trace.NewRingBuffer(cfg.RingBufferCapacity)
	collector := trace.NewCollector(buf, clock, idGen, storageAdapter)
	proc := trace.NewProcessor(buf, storageAdapter, idGen, trace.ProcessorConfig{
		BatchSize:   cfg.ProcessorBatchSize,
		IdleBackoff: cfg.TTL() / 100, // derived, not load-bearing; overridden by setDefaults() if zero
	}, logger)

	loader := atlas.NewLoader(os.DirFS(atlasDir))
	store := atlas.NewStore(loader, cfg.TTL(), clock)

	evaluator := &policy.Evaluator{}
	rcfg := resolver.Config{
		DefaultTTL:              cfg.TTL(),
		DefaultMaxContextTokens: cfg.MaxContextTokens,
		DefaultMaxActions:       cfg.MaxActions,
		DefaultApprovers:        cfg.Approval.Approvers,
		DefaultApprovalTimeout:  cfg.ApprovalTimeout(),
	}
	res := resolver.New(store, cacheBackend, collector, evaluator, idGen, clock, rcfg)
	if cfg.Auth.SigningKey != "" {
		res.Authenticator = identity.NewTokenManager(identity.StaticKeyFunc([]byte(cfg.Auth.SigningKey)), cfg.Auth.Issuer)
	}

	return &runtime{cfg: cfg, store: store, resolver: res, buf: buf, proc: proc, log: logger}, nil
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	atlasDir := fs.String("atlas-dir", "atlases", "directory containing atlas manifests")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildRuntime(ctx, *configPath, *atlasDir)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}

	go rt.proc.Run(ctx)

	_, _ = fmt.Fprintln(stdout, "atlasrund: ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	_, _ = fmt.Fprintln(stdout, "atlasrund: shutting down")
	rt.proc.Stop()
	return 0
}

func runResolve(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	atlasDir := fs.String("atlas-dir", "atlases", "directory containing atlas manifests")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	rt, err := buildRuntime(ctx, *configPath, *atlasDir)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "atlasrund: read stdin: %v\n", err)
		return 1
	}
	var req carp.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		_, _ = fmt.Fprintf(stderr, "atlasrund: decode request: %v\n", err)
		return 1
	}

	if _, err := rt.store.Load(ctx, "."); err != nil {
		_, _ = fmt.Fprintf(stderr, "atlasrund: load atlas: %v\n", err)
		return 1
	}

	resolution, cerr := rt.resolver.Resolve(ctx, req)
	if cerr != nil {
		enc, _ := json.MarshalIndent(cerr, "", "  ")
		_, _ = fmt.Fprintln(stderr, string(enc))
		return 1
	}

	enc, err := json.MarshalIndent(resolution, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "atlasrund: encode resolution: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, string(enc))
	return 0
}
