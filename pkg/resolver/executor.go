package resolver

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/atlas-runtime/pkg/carp"
)

// ActionHandler is the out-of-core collaborator invoked by Execute for
// a given action_type (§6: "ActionHandler interface (consumed by
// Executor)"). Side effects and transport concerns live entirely in
// the handler implementation; the core only measures and records.
type ActionHandler interface {
	Invoke(ctx context.Context, actionType string, parameters map[string]interface{}) (HandlerResult, error)
}

// HandlerResult is what a successful ActionHandler.Invoke returns.
type HandlerResult struct {
	Output      interface{}
	OutputType  string
	SideEffects []string
}

// HandlerError is returned by ActionHandler.Invoke on failure, giving
// the Executor a Retriable hint to carry into EXECUTION_FAILED.
type HandlerError struct {
	Message   string
	Retriable bool
}

func (e *HandlerError) Error() string { return e.Message }

// HandlerRegistry maps action_type to the ActionHandler invoked for it.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]ActionHandler)}
}

// Register binds a handler to an action_type, replacing any prior one.
func (h *HandlerRegistry) Register(actionType string, handler ActionHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[actionType] = handler
}

func (h *HandlerRegistry) lookup(actionType string) (ActionHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.handlers[actionType]
	return handler, ok
}

// ApprovalOutcome is the terminal state of an approval request (§4.9).
type ApprovalOutcome string

const (
	ApprovalApproved ApprovalOutcome = "approved"
	ApprovalDenied   ApprovalOutcome = "denied"
	ApprovalTimedOut ApprovalOutcome = "timed_out"
)

// ApprovalProvider resolves a pending approval synchronously (§6).
type ApprovalProvider interface {
	RequestApproval(ctx context.Context, actionID string, approvers []string, timeout time.Duration) (ApprovalOutcome, error)
}

// DefaultApprovalProvider auto-approves every request, matching §4.5
// step 5 ("default provider auto-approves"). Production deployments
// supply their own provider (e.g. a Slack/paging integration).
type DefaultApprovalProvider struct{}

func (DefaultApprovalProvider) RequestApproval(ctx context.Context, actionID string, approvers []string, timeout time.Duration) (ApprovalOutcome, error) {
	return ApprovalApproved, nil
}

// RateLimiter tracks a token-bucket limiter per action id, built from
// an ActionPermission.RateLimit the first time that action is invoked.
// Concurrency-safe; mirrors the teacher's kernel token-bucket idiom but
// uses x/time/rate instead of hand-rolled refill math since that
// stdlib-adjacent ecosystem package is the pack's idiomatic choice for
// single-process rate limiting.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether actionID may proceed now under limit. A nil
// limit always allows.
func (r *RateLimiter) Allow(actionID string, limit *carp.RateLimit) bool {
	if limit == nil || limit.MaxPerInterval <= 0 || limit.Interval <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[actionID]
	if !ok {
		perSecond := float64(limit.MaxPerInterval) / limit.Interval.Seconds()
		l = rate.NewLimiter(rate.Limit(perSecond), limit.MaxPerInterval)
		r.limiters[actionID] = l
	}
	return l.Allow()
}
