package shutdown

import (
	"os"
	"testing"
	"time"

	"github.com/cuemby/ids2agent/pkg/state"
	"github.com/cuemby/ids2agent/pkg/types"
)

func TestWaitCancelsWorkersAndReachesStoppedOnDrain(t *testing.T) {
	store := state.New(types.WorkerResource)
	c := &Coordinator{Store: store, GracePeriod: time.Second}

	var cancelled bool
	cancelWorkers := func() { cancelled = true }

	sigCh := make(chan os.Signal, 2)
	drained := make(chan struct{})
	close(drained)

	done := make(chan struct{})
	go func() {
		c.wait(sigCh, cancelWorkers, drained)
		close(done)
	}()

	sigCh <- os.Interrupt

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after a single signal with drained already closed")
	}

	if !cancelled {
		t.Error("expected cancelWorkers to be called")
	}
	if store.CurrentPhase() != types.PhaseStopped {
		t.Errorf("phase = %s, want STOPPED", store.CurrentPhase())
	}
}

func TestWaitWritesDrainingBeforeCancelling(t *testing.T) {
	store := state.New(types.WorkerResource)
	c := &Coordinator{Store: store, GracePeriod: 50 * time.Millisecond}

	var phaseAtCancel types.Phase
	cancelWorkers := func() { phaseAtCancel = store.CurrentPhase() }

	sigCh := make(chan os.Signal, 2)
	drained := make(chan struct{}) // never closes: exercises the grace-period timeout path

	done := make(chan struct{})
	go func() {
		c.wait(sigCh, cancelWorkers, drained)
		close(done)
	}()

	sigCh <- os.Interrupt

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after the grace period elapsed")
	}

	if phaseAtCancel != types.PhaseDraining {
		t.Errorf("phase at cancelWorkers time = %s, want DRAINING", phaseAtCancel)
	}
	if store.CurrentPhase() != types.PhaseStopped {
		t.Errorf("phase = %s, want STOPPED after grace period elapses", store.CurrentPhase())
	}
}
