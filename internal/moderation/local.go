package moderation

import (
	"context"
	"sync/atomic"
)

// Local is an in-process provider backed by a keyword Filter. The filter can
// be swapped at runtime with Reload.
type Local struct {
	filter atomic.Pointer[Filter]
}

// NewLocal creates a local provider around f.
func NewLocal(f *Filter) *Local {
	l := &Local{}
	l.filter.Store(f)
	return l
}

// Name implements Provider.
func (l *Local) Name() string {
	return "local"
}

// Moderate implements Provider. It never fails.
func (l *Local) Moderate(_ context.Context, text string, _ Stage) (Result, error) {
	res := l.filter.Load().Check(text)
	if !res.Blocked {
		return Result{Action: ActionPass, Reason: "local_passed"}, nil
	}
	return Result{Action: ActionBlock, Reason: res.Reason, Term: res.Term}, nil
}

// Reload replaces the active filter.
func (l *Local) Reload(f *Filter) {
	l.filter.Store(f)
}
