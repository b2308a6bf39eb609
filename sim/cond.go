package sim

import (
	"context"
	"sync"
)

// waitFor blocks on cond until ready reports true or ctx is done.
// The caller MUST hold cond.L; it is released while waiting and held again on return.
// Every wake re-checks ready, so spurious and broadcast wakes are harmless.
func waitFor(ctx context.Context, cond *sync.Cond, ready func() bool) error {
	if ready() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	// Taking cond.L before broadcasting guarantees the waiter is already parked
	// in cond.Wait, so the cancellation wake-up cannot be missed.
	stop := context.AfterFunc(ctx, func() {
		cond.L.Lock()
		defer cond.L.Unlock()
		cond.Broadcast()
	})
	defer stop()

	for !ready() {
		cond.Wait()
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
	}
	return nil
}
