package session

import (
	"context"
	"time"

	"github.com/danmuck/cryptolctl/internal/protocol"
)

// CallInfo describes one round trip or notification for hooks.
type CallInfo struct {
	SessionID    string
	Endpoint     string
	Method       protocol.Method
	RequestID    uint64
	Notification bool
	Bootstrap    bool
	Attempt      int
}

// CallStats is reported when a call completes.
type CallStats struct {
	Duration     time.Duration
	StateChanged bool
}

// HookToken is opaque per-call state returned by OnCallStart.
type HookToken any

// CallHook observes calls. OnCallStart may return a derived context that is
// used for the transport call. Hooks must not block.
type CallHook interface {
	OnCallStart(ctx context.Context, info CallInfo) (context.Context, HookToken)
	OnCallEnd(ctx context.Context, token HookToken, info CallInfo, stats CallStats, err error)
}

type hookRun struct {
	hook  CallHook
	token HookToken
}

func startHooks(ctx context.Context, hooks []CallHook, info CallInfo) (context.Context, []hookRun) {
	if len(hooks) == 0 {
		return ctx, nil
	}
	runs := make([]hookRun, 0, len(hooks))
	for _, h := range hooks {
		var token HookToken
		ctx, token = h.OnCallStart(ctx, info)
		runs = append(runs, hookRun{hook: h, token: token})
	}
	return ctx, runs
}

func endHooks(ctx context.Context, runs []hookRun, info CallInfo, stats CallStats, err error) {
	for i := len(runs) - 1; i >= 0; i-- {
		runs[i].hook.OnCallEnd(ctx, runs[i].token, info, stats, err)
	}
}
