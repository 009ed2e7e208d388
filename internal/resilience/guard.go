package resilience

import "sync/atomic"

// Guard rejects re-entry into one logical operation. Overlapping calls are dropped,
// never queued or coalesced.
type Guard struct {
	busy atomic.Bool
}

// RunIfNotBusy runs action unless another action of this guard is in flight.
// It returns ran=false without calling action when busy. The busy flag is cleared
// when action returns, fails or panics.
func (g *Guard) RunIfNotBusy(action func() error) (ran bool, err error) {
	if !g.busy.CompareAndSwap(false, true) {
		return false, nil
	}
	defer g.busy.Store(false)

	return true, action()
}

// TryAcquire marks the guard busy. The caller must call Release exactly once on success.
func (g *Guard) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release clears the busy flag.
func (g *Guard) Release() {
	g.busy.Store(false)
}

// IsBusy reports whether an action is in flight.
func (g *Guard) IsBusy() bool {
	return g.busy.Load()
}
