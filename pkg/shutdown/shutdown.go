package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/ids2agent/pkg/agenterr"
	"github.com/cuemby/ids2agent/pkg/log"
	"github.com/cuemby/ids2agent/pkg/orchestrator"
	"github.com/cuemby/ids2agent/pkg/state"
	"github.com/cuemby/ids2agent/pkg/types"
)

// Coordinator translates the process's first OS interrupt/terminate
// signal into a single cancellation observed by every worker, and a
// second signal into an immediate exit. Grounded on cmd/warren/main.go's
// signal.Notify + select shutdown sequencing, generalized per spec.md
// §4.9/§9 into its own reusable component instead of inlined per
// subcommand.
type Coordinator struct {
	Store        *state.Store
	Orchestrator *orchestrator.Orchestrator
	GracePeriod  time.Duration

	// StopOnExit mirrors the `stop_on_exit` policy flag; StackStartedHere
	// is true only when this run actually brought the compose stack up
	// (not dry-run, phase C succeeded) — spec.md §4.9's "only if the
	// Supervisor started it in this run."
	StopOnExit       bool
	StackStartedHere bool
}

// Wait blocks until the first interrupt/terminate signal, writes
// phase=DRAINING and calls cancelWorkers, then waits for either
// drained to close or GracePeriod to elapse, then best-effort tears
// down the compose stack and writes phase=STOPPED. If a second signal
// arrives before drained closes, it exits the process immediately with
// code 130, skipping the stack teardown.
func (c *Coordinator) Wait(cancelWorkers context.CancelFunc, drained <-chan struct{}) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	c.wait(sigCh, cancelWorkers, drained)
}

// wait holds the actual sequencing logic, decoupled from signal.Notify
// so tests can drive it with a channel they control instead of sending
// real OS signals to the test process.
func (c *Coordinator) wait(sigCh <-chan os.Signal, cancelWorkers context.CancelFunc, drained <-chan struct{}) {
	logger := log.WithComponent("shutdown")

	<-sigCh
	logger.Info().Msg("shutdown signal received, draining")
	c.Store.SetPhase(types.PhaseDraining)
	cancelWorkers()

	select {
	case <-sigCh:
		logger.Warn().Msg("second shutdown signal received, exiting immediately")
		os.Exit(agenterr.ExitSecondSignal)
	case <-drained:
	case <-time.After(c.GracePeriod):
		logger.Warn().Msg("shutdown grace period elapsed before workers drained")
	}

	if c.StopOnExit && c.StackStartedHere {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := c.Orchestrator.ComposeDown(ctx); err != nil {
			logger.Warn().Msg(fmt.Sprintf("best-effort compose stack teardown failed: %v", err))
		}
	}

	c.Store.SetPhase(types.PhaseStopped)
	logger.Info().Msg("shutdown complete")
}
