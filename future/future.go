// Package future implements the Future/Completion Pool component: a
// promise-shaped result type backed by a small worker pool that offloads
// blocking work off the reactor goroutine and reports completion through an
// ordinary readiness fd, grounded on eventloop/promise.go's ChainedPromise
// (Then/Catch/Finally/All/Race/AllSettled/Any) and eventloop/promisify.go's
// goroutine-dispatch-with-panic-recovery pattern.
package future

import (
	"errors"
	"sync"
)

// State is one of the four states a Future can be in.
type State int32

const (
	// Pending is the initial state; no terminal value exists yet.
	Pending State = iota
	// Done means the Future resolved successfully.
	Done
	// Failed means the Future resolved with a failure.
	Failed
	// Cancelled means the Future was cancelled before settling.
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrAlreadySettled is returned by Done/Fail/Cancel when the Future has
// already left the Pending state.
var ErrAlreadySettled = errors.New("future: already settled")

// FailureCategory classifies why a Future failed, used to distinguish a
// handler-thrown failure from a panic recovered inside pool-executed work
// (the "internal" category), mirroring eventloop/promisify.go's PanicError
// handling.
type FailureCategory string

const (
	// CategoryUser is a failure explicitly produced by submitted work.
	CategoryUser FailureCategory = "user"
	// CategoryInternal is a failure synthesized after recovering a panic
	// inside pool work.
	CategoryInternal FailureCategory = "internal"
	// CategoryCancelled marks the synthetic failure produced by Cancel.
	CategoryCancelled FailureCategory = "cancelled"
)

type doneCB func([]any)
type failCB func(string, FailureCategory)
type readyCB func(*Future)

// Future is a single-assignment result cell with JS-Promise-shaped
// ergonomics: states Pending/Done/Failed/Cancelled, accessors, callback
// registration, and the Then/Catch/Finally/NeedsAll/NeedsAny combinators
// from the Future/Completion Pool component.
type Future struct {
	mu      sync.Mutex
	state   State
	results []any
	failMsg string
	failCat FailureCategory

	doneCBs  []doneCB
	failCBs  []failCB
	readyCBs []readyCB
}

// New returns a pending Future.
func New() *Future { return &Future{} }

// NewDone returns an already-Done Future.
func NewDone(results ...any) *Future {
	f := New()
	_ = f.Done(results...)
	return f
}

// NewFail returns an already-Failed Future.
func NewFail(msg string, category FailureCategory) *Future {
	f := New()
	_ = f.Fail(msg, category)
	return f
}

// State returns the current state.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsPending, IsDone, IsFailed, and IsCancelled report the current state.
func (f *Future) IsPending() bool   { return f.State() == Pending }
func (f *Future) IsDone() bool      { return f.State() == Done }
func (f *Future) IsFailed() bool    { return f.State() == Failed }
func (f *Future) IsCancelled() bool { return f.State() == Cancelled }
func (f *Future) IsReady() bool     { s := f.State(); return s != Pending }

// Result returns the settled values. It returns (nil, false) while Pending
// and when the Future did not settle as Done.
func (f *Future) Result() ([]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Done {
		return nil, false
	}
	return f.results, true
}

// Failure returns the failure message/category. It returns ("", "", false)
// unless the Future settled as Failed.
func (f *Future) Failure() (string, FailureCategory, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Failed {
		return "", "", false
	}
	return f.failMsg, f.failCat, true
}

// Done transitions a Pending Future to Done, invoking any OnDone/OnReady
// callbacks registered so far, in registration order. A second settlement
// attempt returns ErrAlreadySettled and has no effect.
func (f *Future) Done(results ...any) error {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return ErrAlreadySettled
	}
	f.state = Done
	f.results = results
	dcbs := f.doneCBs
	rcbs := f.readyCBs
	f.doneCBs, f.failCBs, f.readyCBs = nil, nil, nil
	f.mu.Unlock()

	for _, cb := range dcbs {
		cb(results)
	}
	for _, cb := range rcbs {
		cb(f)
	}
	return nil
}

// Fail transitions a Pending Future to Failed.
func (f *Future) Fail(msg string, category FailureCategory) error {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return ErrAlreadySettled
	}
	f.state = Failed
	f.failMsg = msg
	f.failCat = category
	fcbs := f.failCBs
	rcbs := f.readyCBs
	f.doneCBs, f.failCBs, f.readyCBs = nil, nil, nil
	f.mu.Unlock()

	for _, cb := range fcbs {
		cb(msg, category)
	}
	for _, cb := range rcbs {
		cb(f)
	}
	return nil
}

// Cancel transitions a Pending Future to Cancelled. Cancelling an
// already-settled Future returns ErrAlreadySettled.
func (f *Future) Cancel() error {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return ErrAlreadySettled
	}
	f.state = Cancelled
	rcbs := f.readyCBs
	f.doneCBs, f.failCBs, f.readyCBs = nil, nil, nil
	f.mu.Unlock()

	for _, cb := range rcbs {
		cb(f)
	}
	return nil
}

// OnDone registers cb to run (synchronously, on whatever goroutine settles
// the Future) when it becomes Done. If it is already Done, cb runs
// immediately on the calling goroutine.
func (f *Future) OnDone(cb func([]any)) *Future {
	f.mu.Lock()
	switch f.state {
	case Pending:
		f.doneCBs = append(f.doneCBs, cb)
		f.mu.Unlock()
	case Done:
		results := f.results
		f.mu.Unlock()
		cb(results)
	default:
		f.mu.Unlock()
	}
	return f
}

// OnFail registers cb to run when the Future becomes Failed.
func (f *Future) OnFail(cb func(msg string, category FailureCategory)) *Future {
	f.mu.Lock()
	switch f.state {
	case Pending:
		f.failCBs = append(f.failCBs, cb)
		f.mu.Unlock()
	case Failed:
		msg, cat := f.failMsg, f.failCat
		f.mu.Unlock()
		cb(msg, cat)
	default:
		f.mu.Unlock()
	}
	return f
}

// OnReady registers cb to run when the Future leaves Pending, regardless of
// which terminal state it settles into.
func (f *Future) OnReady(cb func(*Future)) *Future {
	f.mu.Lock()
	if f.state == Pending {
		f.readyCBs = append(f.readyCBs, cb)
		f.mu.Unlock()
		return f
	}
	f.mu.Unlock()
	cb(f)
	return f
}

// Then chains fn, producing a new Future that settles with fn's return
// value once f becomes Done, or propagates f's failure/cancellation
// untouched. fn's own error return fails the chained Future with
// CategoryUser.
func (f *Future) Then(fn func([]any) ([]any, error)) *Future {
	next := New()
	f.OnDone(func(results []any) {
		out, err := fn(results)
		if err != nil {
			_ = next.Fail(err.Error(), CategoryUser)
			return
		}
		_ = next.Done(out...)
	})
	f.OnFail(func(msg string, cat FailureCategory) { _ = next.Fail(msg, cat) })
	f.OnReady(func(settled *Future) {
		if settled.State() == Cancelled {
			_ = next.Cancel()
		}
	})
	return next
}

// Catch chains fn over a failure, producing a new Future that settles with
// fn's recovered values, or passes a Done result through unchanged.
func (f *Future) Catch(fn func(msg string, category FailureCategory) ([]any, error)) *Future {
	next := New()
	f.OnDone(func(results []any) { _ = next.Done(results...) })
	f.OnFail(func(msg string, cat FailureCategory) {
		out, err := fn(msg, cat)
		if err != nil {
			_ = next.Fail(err.Error(), CategoryUser)
			return
		}
		_ = next.Done(out...)
	})
	f.OnReady(func(settled *Future) {
		if settled.State() == Cancelled {
			_ = next.Cancel()
		}
	})
	return next
}

// Finally registers fn to run once f settles, for any outcome, then passes
// the original outcome through unchanged on the returned Future.
func (f *Future) Finally(fn func()) *Future {
	next := New()
	f.OnDone(func(results []any) { fn(); _ = next.Done(results...) })
	f.OnFail(func(msg string, cat FailureCategory) { fn(); _ = next.Fail(msg, cat) })
	f.OnReady(func(settled *Future) {
		if settled.State() == Cancelled {
			fn()
			_ = next.Cancel()
		}
	})
	return next
}

// NeedsAll returns a Future that becomes Done (with each input's first
// result value, in input order) once every input is Done, Failed as soon
// as any input Fails, or Cancelled as soon as any input is Cancelled. With
// zero inputs it is immediately Done with no values.
func NeedsAll(futures []*Future) *Future {
	out := New()
	if len(futures) == 0 {
		_ = out.Done()
		return out
	}
	var mu sync.Mutex
	results := make([]any, len(futures))
	remaining := len(futures)
	settled := false
	for idx, in := range futures {
		idx := idx
		in.OnDone(func(r []any) {
			mu.Lock()
			defer mu.Unlock()
			if settled {
				return
			}
			if len(r) > 0 {
				results[idx] = r[0]
			}
			remaining--
			if remaining == 0 {
				settled = true
				vals := make([]any, len(results))
				copy(vals, results)
				_ = out.Done(vals...)
			}
		})
		in.OnFail(func(msg string, cat FailureCategory) {
			mu.Lock()
			defer mu.Unlock()
			if settled {
				return
			}
			settled = true
			_ = out.Fail(msg, cat)
		})
		in.OnReady(func(settledF *Future) {
			if settledF.State() != Cancelled {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if settled {
				return
			}
			settled = true
			_ = out.Cancel()
		})
	}
	return out
}

// NeedsAny returns a Future that settles Done as soon as any input
// succeeds. It only fails once every input has reached a terminal Failed
// (or Cancelled) state, mirroring the teacher's own JS.Any semantics
// (eventloop/promise.go: "Rejects ... only if ALL promises reject"),
// failing with the last input's failure message/category once the count
// of non-Done terminations reaches len(futures). Per SPEC_FULL.md §9,
// NeedsAny of zero inputs stays permanently Pending.
func NeedsAny(futures []*Future) *Future {
	out := New()
	var mu sync.Mutex
	settled := false
	remaining := len(futures)
	for _, in := range futures {
		in.OnDone(func(r []any) {
			mu.Lock()
			defer mu.Unlock()
			if settled {
				return
			}
			settled = true
			_ = out.Done(r...)
		})
		in.OnFail(func(msg string, cat FailureCategory) {
			mu.Lock()
			defer mu.Unlock()
			if settled {
				return
			}
			remaining--
			if remaining == 0 {
				settled = true
				_ = out.Fail(msg, cat)
			}
		})
		in.OnReady(func(settledF *Future) {
			if settledF.State() != Cancelled {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if settled {
				return
			}
			remaining--
			if remaining == 0 {
				settled = true
				_ = out.Fail("all inputs cancelled", CategoryCancelled)
			}
		})
	}
	return out
}

// WaitAll and WaitAny alias NeedsAll/NeedsAny per the naming used in
// SPEC_FULL.md §4.9.
func WaitAll(futures []*Future) *Future { return NeedsAll(futures) }
func WaitAny(futures []*Future) *Future { return NeedsAny(futures) }
