package matrix

import (
	"context"
	"sync"

	"go.mau.fi/util/exsync"
)

// startHandle backs Client.Start()'s "idempotent, repeatable, completes
// when initial sync has folded" contract. It is a one-shot
// broadcast signal — exactly exsync.Event's job — paired with the error
// the completing call produced, since plain exsync.Event carries no
// payload of its own.
type startHandle struct {
	done *exsync.Event
	mu   sync.Mutex
	err  error
}

func newStartHandle() *startHandle {
	return &startHandle{done: exsync.NewEvent()}
}

func (h *startHandle) complete(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	h.done.Set()
}

// Wait blocks until the handle completes or ctx is cancelled.
func (h *startHandle) Wait(ctx context.Context) error {
	if err := h.done.Wait(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *startHandle) isDone() bool {
	return h.done.IsSet()
}

// taskSet adopts asynchronous work spawned from observer callbacks so its
// lifetime is tied to the owning room: cancelling the set (on room removal)
// stops any in-flight adopted work, and observers are
// not invoked for cancelled operations. Unlike startHandle's one-shot
// signal, this is an open-ended collection of concurrent tasks, so it is
// built on a cancellable context plus a WaitGroup rather than exsync.Event.
type taskSet struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	onError func(err error)
}

func newTaskSet() *taskSet {
	return newTaskSetFrom(context.Background())
}

// newTaskSetFrom derives the set's lifetime from parent, so cancelling an
// external context (e.g. the one passed to Client.Start) stops adopted
// work the same way Cancel does.
func newTaskSetFrom(parent context.Context) *taskSet {
	ctx, cancel := context.WithCancel(parent)
	return &taskSet{ctx: ctx, cancel: cancel}
}

func (t *taskSet) setErrorHandler(fn func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = fn
}

// Adopt runs fn in a goroutine whose lifetime is tied to this set. If fn
// fails and the set hasn't been cancelled in the meantime, the registered
// error handler is notified; a cancelled set never calls back.
func (t *taskSet) Adopt(fn func(ctx context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		err := fn(t.ctx)
		if err == nil || t.ctx.Err() != nil {
			return
		}
		t.mu.Lock()
		handler := t.onError
		t.mu.Unlock()
		if handler != nil {
			handler(err)
		}
	}()
}

// Cancel stops all adopted work and waits for it to unwind.
func (t *taskSet) Cancel() {
	t.cancel()
	t.wg.Wait()
}
