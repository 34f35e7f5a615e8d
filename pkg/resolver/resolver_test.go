package resolver_test

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/atlas"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/cache"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/identity"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/ids"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/policy"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/resolver"
	"github.com/Mindburn-Labs/atlas-runtime/pkg/trace"
)

// greetingContent is exactly 160 bytes, so EstimateTokens (ceil(len/4))
// yields 40 tokens, matching the §8 seed scenario's "one pack
// (priority=100, 40 tokens)".
var greetingContent = strings.Repeat("a", 160)

func helloWorldManifest() string {
	return `{
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
}

func helloWorldWithPolicy(policyJSON string) string {
	manifest := `{
		"schema_version": "0.1",
		"metadata": {"id": "hello-world", "version": "0.1", "name": "Hello World"},
		"domains": [{"id": "demo.greeting"}],
		"context_packs": [
			{"id": "overview", "domain": "demo.greeting", "source": "overview.md", "content_type": "markdown", "priority": 100, "ttl_seconds": 600}
		],
		"actions": [
			{"id": "greeting-send", "domain": "demo.greeting", "action_type": "greeting.send", "name": "Send greeting", "risk_tier": "low"},
			{"id": "deploy-prod", "domain": "demo.greeting", "action_type": "deploy.production", "name": "Deploy", "risk_tier": "critical"}
		],
		"policies": [` + policyJSON + `]
	}`
	return manifest
}

func newTestStore(t *testing.T, manifest string, clock ids.Clock) *atlas.Store {
	t.Helper()
	fsys := fstest.MapFS{
		"hello-world/atlas.json": &fstest.MapFile{Data: []byte(manifest)},
		"hello-world/overview.md": &fstest.MapFile{Data: []byte(greetingContent)},
	}
	loader := atlas.NewLoader(fsys)
	store := atlas.NewStore(loader, time.Hour, clock)
	_, err := store.Load(context.Background(), "hello-world")
	require.NoError(t, err)
	return store
}

func newTestResolver(t *testing.T, store *atlas.Store) (*resolver.Resolver, ids.Clock) {
	t.Helper()
	clock := &ids.OffsetClock{Base: time.Unix(1700000000, 0), Step: time.Millisecond}
	idGen := &ids.SequentialGenerator{Prefix: "id"}
	collector := trace.NewCollector(trace.NewRingBuffer(1024), clock, idGen, nil)
	c := cache.NewMemCache(100, clock)
	evaluator := &policy.Evaluator{}

	res := resolver.New(store, c, collector, evaluator, idGen, clock, resolver.DefaultConfig())
	return res, clock
}

func baseRequest(id string, hints []string, riskTier carp.RiskTier) carp.Request {
	return carp.Request{
		ID:        id,
		Version:   carp.ProtocolVersion,
		Operation: carp.OperationResolve,
		Requester: carp.Requester{AgentID: "agent-1", SessionID: "session-1"},
		Task:      &carp.Task{Goal: "Send a greeting", RiskTier: riskTier, ContextHints: hints},
	}
}

func TestResolve_SimpleAllow(t *testing.T) {
	clock := &ids.OffsetClock{Base: time.Unix(1700000000, 0), Step: time.Millisecond}
	store := newTestStore(t, helloWorldManifest(), clock)
	res, _ := newTestResolver(t, store)

	req := baseRequest("req-1", []string{"demo.greeting"}, carp.RiskLow)
	resolution, err := res.Resolve(context.Background(), req)
	require.Nil(t, err)
	require.Equal(t, carp.DecisionAllow, resolution.Decision.Kind)
	require.Len(t, resolution.ContextBlocks, 1)
	require.Len(t, resolution.AllowedActions, 1)
	require.Equal(t, "greeting.send", resolution.AllowedActions[0].ActionType)
	require.InDelta(t, 300, resolution.TTL.ResolutionExpiresAt.Sub(resolution.Timestamp).Seconds(), 1)
}

func TestResolve_RiskTierDeny(t *testing.T) {
	clock := &ids.OffsetClock{Base: time.Unix(1700000000, 0), Step: time.Millisecond}
	manifest := helloWorldWithPolicy(`{"id": "risk-policy", "rules": [
		{"id": "deny-critical", "condition": {"field": "risk_tier", "operator": "eq", "value": "critical"}, "effect": "deny", "priority": 100}
	]}`)
	store := newTestStore(t, manifest, clock)
	res, _ := newTestResolver(t, store)

	req := baseRequest("req-2", []string{"demo.greeting"}, carp.RiskCritical)
	resolution, err := res.Resolve(context.Background(), req)
	require.Nil(t, err)
	require.Equal(t, carp.DecisionDeny, resolution.Decision.Kind)
	require.NotEmpty(t, resolution.Decision.PolicyRefs)
}

func TestResolve_ApprovalRequired(t *testing.T) {
	clock := &ids.OffsetClock{Base: time.Unix(1700000000, 0), Step: time.Millisecond}
	manifest := helloWorldWithPolicy(`{"id": "approval-policy", "rules": [
		{"id": "approve-high-risk", "condition": {"field": "risk_tier", "operator": "in", "value": ["high", "critical"]}, "effect": "require_approval", "priority": 50}
	]}`)
	store := newTestStore(t, manifest, clock)
	res, _ := newTestResolver(t, store)

	req := baseRequest("req-3", []string{"demo.greeting"}, carp.RiskCritical)
	resolution, err := res.Resolve(context.Background(), req)
	require.Nil(t, err)
	require.Equal(t, carp.DecisionRequiresApproval, resolution.Decision.Kind)
	require.NotEmpty(t, resolution.Decision.Approvers)
	require.Greater(t, resolution.Decision.ApprovalTimeoutSeconds, 0)
}

func TestResolve_InsufficientContext(t *testing.T) {
	clock := &ids.OffsetClock{Base: time.Unix(1700000000, 0), Step: time.Millisecond}
	store := newTestStore(t, helloWorldManifest(), clock)
	res, _ := newTestResolver(t, store)

	req := baseRequest("req-4", []string{"nonexistent.domain"}, carp.RiskLow)
	resolution, err := res.Resolve(context.Background(), req)
	require.Nil(t, err)
	require.Equal(t, carp.DecisionInsufficientContext, resolution.Decision.Kind)
	require.Equal(t, []string{"nonexistent.domain"}, resolution.Decision.MissingDomains)
}

func TestResolve_CacheHit(t *testing.T) {
	clock := &ids.OffsetClock{Base: time.Unix(1700000000, 0), Step: time.Millisecond}
	store := newTestStore(t, helloWorldManifest(), clock)
	res, _ := newTestResolver(t, store)

	req := baseRequest("req-5", []string{"demo.greeting"}, carp.RiskLow)
	first, err := res.Resolve(context.Background(), req)
	require.Nil(t, err)

	second, err := res.Resolve(context.Background(), req)
	require.Nil(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestResolve_RequesterDelegationViaAuthenticator(t *testing.T) {
	clock := &ids.OffsetClock{Base: time.Unix(1700000000, 0), Step: time.Millisecond}
	manifest := helloWorldWithPolicy(`{"id": "delegation-policy", "rules": [
		{"id": "deny-undelegated", "condition": {"field": "requester.delegator_id", "operator": "eq", "value": ""}, "effect": "deny", "priority": 100}
	]}`)
	store := newTestStore(t, manifest, clock)
	res, _ := newTestResolver(t, store)

	signingKey := []byte("test-signing-key")
	res.Authenticator = identity.NewTokenManager(identity.StaticKeyFunc(signingKey), "atlasrund-test")

	undelegated, err := res.Authenticator.Sign(signingKey, &identity.AgentIdentity{AgentID: "agent-1", SessionID: "session-1"}, time.Hour)
	require.NoError(t, err)

	req := baseRequest("req-delegation-1", []string{"demo.greeting"}, carp.RiskLow)
	req.Requester.AuthToken = undelegated
	resolution, rerr := res.Resolve(context.Background(), req)
	require.Nil(t, rerr)
	require.Equal(t, carp.DecisionDeny, resolution.Decision.Kind)

	delegated, err := res.Authenticator.Sign(signingKey, &identity.AgentIdentity{AgentID: "agent-1", SessionID: "session-1", DelegatorID: "supervisor-1"}, time.Hour)
	require.NoError(t, err)

	req2 := baseRequest("req-delegation-2", []string{"demo.greeting"}, carp.RiskLow)
	req2.Requester.AuthToken = delegated
	// The resolution cache key (goal hash, agent id, scope) does not
	// include the token, so a different goal keeps this resolve from
	// being served the cached Deny above.
	req2.Task.Goal = "Send a delegated greeting"
	resolution2, rerr2 := res.Resolve(context.Background(), req2)
	require.Nil(t, rerr2)
	require.Equal(t, carp.DecisionAllow, resolution2.Decision.Kind)
}

func TestExecute_DeniedActionRoundTrip(t *testing.T) {
	clock := &ids.OffsetClock{Base: time.Unix(1700000000, 0), Step: time.Millisecond}
	store := newTestStore(t, helloWorldManifest(), clock)
	res, _ := newTestResolver(t, store)

	resolveReq := baseRequest("req-6", []string{"demo.greeting"}, carp.RiskLow)
	resolution, rerr := res.Resolve(context.Background(), resolveReq)
	require.Nil(t, rerr)
	require.Equal(t, carp.DecisionAllow, resolution.Decision.Kind)

	execReq := carp.Request{
		ID:        "req-6-exec",
		Version:   carp.ProtocolVersion,
		Operation: carp.OperationExecute,
		Requester: carp.Requester{AgentID: "agent-1", SessionID: "session-1"},
		Action:    &carp.ActionRef{ActionID: "not-in-allowed-list", ResolutionID: resolution.ID},
	}
	_, err := res.Execute(context.Background(), execReq)
	require.NotNil(t, err)
	require.Equal(t, carp.CodeActionNotPermitted, err.Code)
}

func TestExecute_SuccessfulInvocation(t *testing.T) {
	clock := &ids.OffsetClock{Base: time.Unix(1700000000, 0), Step: time.Millisecond}
	store := newTestStore(t, helloWorldManifest(), clock)
	res, _ := newTestResolver(t, store)

	resolveReq := baseRequest("req-7", []string{"demo.greeting"}, carp.RiskLow)
	resolution, rerr := res.Resolve(context.Background(), resolveReq)
	require.Nil(t, rerr)
	require.Len(t, resolution.AllowedActions, 1)

	res.Handlers.Register("greeting.send", stubHandler{})

	execReq := carp.Request{
		ID:        "req-7-exec",
		Version:   carp.ProtocolVersion,
		Operation: carp.OperationExecute,
		Requester: carp.Requester{AgentID: "agent-1", SessionID: "session-1"},
		Action:    &carp.ActionRef{ActionID: resolution.AllowedActions[0].ActionID, ResolutionID: resolution.ID},
	}
	result, err := res.Execute(context.Background(), execReq)
	require.Nil(t, err)
	require.Equal(t, carp.ExecutionSuccess, result.Status)
	require.Equal(t, "sent", result.Result.Output)
}

type stubHandler struct{}

func (stubHandler) Invoke(ctx context.Context, actionType string, parameters map[string]interface{}) (resolver.HandlerResult, error) {
	return resolver.HandlerResult{Output: "sent", OutputType: "text"}, nil
}
