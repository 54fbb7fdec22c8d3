package future

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hypersonic-io/hypersonic/hlog"
)

// poolSlotCounter hands out the small integer slot id each Pool carries
// alongside its notify fd, for registration through the reactor's
// async-request (reactor.SlotToken) path rather than its classic
// connection-fd path, since "multiple independent pools may coexist"
// (spec.md §4.9) and each needs a slot distinct from every other pool's.
var poolSlotCounter atomic.Int32

// Work is a unit of blocking work submitted to a Pool. It runs on a worker
// goroutine, off the reactor goroutine, grounded on
// eventloop/promisify.go's goroutine-dispatch pattern.
type Work func() ([]any, error)

type workItem struct {
	future *Future
	work   Work
}

type completedItem struct {
	future  *Future
	results []any
	failMsg string
	failCat FailureCategory
}

// ErrPoolFull is returned by Submit when the pool has been told to stop
// accepting work (Shutdown was called).
type ErrPoolFull struct{}

func (ErrPoolFull) Error() string { return "future: pool is shut down" }

// Pool is the OO Completion Pool: N worker goroutines pulling from a
// lock-protected submission queue, writing settled results to a
// lock-protected completed queue and signalling a notify fd, adapted from
// eventloop/ingress.go's ChunkedIngress (generalized here via the generic
// queue type) and eventloop/promisify.go's panic-recovery dispatch.
type Pool struct {
	workers int
	log     *hlog.Logger

	subMu   sync.Mutex
	subCond *sync.Cond
	sub     queue[workItem]
	closed  bool

	compMu sync.Mutex
	comp   queue[completedItem]

	notifyReadFD, notifyWriteFD int
	slot                        int

	wg sync.WaitGroup
}

// New creates a Pool with the given number of workers (minimum 1) and
// starts them. log may be nil, in which case hlog.Discard() is used.
func New(workers int, log *hlog.Logger) (*Pool, error) {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = hlog.Discard()
	}
	rfd, wfd, err := createNotifyFD()
	if err != nil {
		return nil, err
	}
	p := &Pool{
		workers:       workers,
		log:           log,
		notifyReadFD:  rfd,
		notifyWriteFD: wfd,
		slot:          int(poolSlotCounter.Add(1)),
	}
	p.subCond = sync.NewCond(&p.subMu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
	return p, nil
}

// NotifyFD is the fd a Reactor should register for EventRead; whenever it
// becomes readable, call ProcessReady to drain completed work.
func (p *Pool) NotifyFD() int { return p.notifyReadFD }

// Slot is this Pool's small integer id, unique among every Pool created in
// this process, for registering NotifyFD with a Reactor via RegisterSlot
// (reactor.SlotToken) rather than RegisterFD (reactor.FDToken).
func (p *Pool) Slot() int { return p.slot }

// Submit enqueues work and returns a Future that settles with its result.
// Submit never blocks on the work itself; it only blocks briefly to append
// to the submission queue.
func (p *Pool) Submit(work Work) (*Future, error) {
	f := New()
	p.subMu.Lock()
	if p.closed {
		p.subMu.Unlock()
		return nil, ErrPoolFull{}
	}
	p.sub.push(workItem{future: f, work: work})
	p.subMu.Unlock()
	p.subCond.Signal()
	return f, nil
}

func (p *Pool) runWorker() {
	defer p.wg.Done()
	for {
		p.subMu.Lock()
		for p.sub.len() == 0 && !p.closed {
			p.subCond.Wait()
		}
		item, ok := p.sub.pop()
		closed := p.closed
		p.subMu.Unlock()
		if !ok {
			if closed {
				return
			}
			continue
		}

		results, failMsg, failCat := p.run(item.work)

		p.compMu.Lock()
		wasEmpty := p.comp.len() == 0
		p.comp.push(completedItem{future: item.future, results: results, failMsg: failMsg, failCat: failCat})
		p.compMu.Unlock()
		if wasEmpty {
			if err := signalNotifyFD(p.notifyWriteFD); err != nil {
				p.log.Warning().Err(err).Log("future: failed to signal pool notify fd")
			}
		}
	}
}

// run executes work, converting a panic into a CategoryInternal failure
// rather than crashing the worker, matching eventloop/promisify.go's
// PanicError handling. A runtime.Goexit inside work is not recovered: it
// keeps unwinding past run, ends the worker goroutine, and the item's
// Future is never settled.
func (p *Pool) run(work Work) (results []any, failMsg string, failCat FailureCategory) {
	finished := false
	defer func() {
		if r := recover(); r != nil {
			failMsg = fmt.Sprintf("panic: %v", r)
			failCat = CategoryInternal
			return
		}
		if !finished {
			// runtime.Goexit unwound the stack without a panic.
			failMsg = "goroutine exited via runtime.Goexit before completing"
			failCat = CategoryInternal
		}
	}()
	res, err := work()
	finished = true
	if err != nil {
		return nil, err.Error(), CategoryUser
	}
	return res, "", ""
}

// ProcessReady drains the completed queue, resolving or failing each
// Future and running its registered callbacks inline on the calling
// goroutine (the reactor goroutine, when called from a Reactor-registered
// callback on NotifyFD). It first drains NotifyFD itself, since it is
// registered level-triggered: leaving it unread would otherwise busy-spin
// the reactor goroutine once signalled.
func (p *Pool) ProcessReady() int {
	drainNotifyFD(p.notifyReadFD)
	n := 0
	for {
		p.compMu.Lock()
		item, ok := p.comp.pop()
		p.compMu.Unlock()
		if !ok {
			break
		}
		n++
		if item.failMsg != "" || item.failCat != "" {
			_ = item.future.Fail(item.failMsg, item.failCat)
		} else {
			_ = item.future.Done(item.results...)
		}
	}
	return n
}

// Shutdown stops accepting new work, waits (bounded by ctx) for in-flight
// work to finish, and releases the notify fd.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.subMu.Lock()
	p.closed = true
	p.subMu.Unlock()
	p.subCond.Broadcast()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	closeNotifyFD(p.notifyReadFD, p.notifyWriteFD)
	return nil
}
