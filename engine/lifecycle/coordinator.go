package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/ibsim/ibus/engine/model"
	"github.com/ibsim/ibus/engine/observability"
)

// Callback is a user-supplied init/stop/shutdown handler. It runs on the
// goroutine that delivers the triggering SystemCommand (§4.3 — callback
// execution is synchronous with the transport's dispatch thread).
type Callback func(ctx context.Context) error

// SimulationTask is the per-tick/per-quantum user function the
// coordinator must not invoke while the participant is Paused (§4.3 —
// Pause is cooperative).
type SimulationTask func(ctx context.Context) error

// EmitStatus publishes a ParticipantStatus to every interested peer; it
// is the coordinator's only way to make a state change observable
// outside the local participant.
type EmitStatus func(status ParticipantStatus)

// Coordinator drives one participant through its lifecycle machine,
// invoking user callbacks and emitting ParticipantStatus on every
// transition. Exactly one Coordinator exists per participant; cross-
// participant aggregation is SystemStateAggregator's job, fed by the
// system controller's own coordinator instance observing every peer's
// emitted status.
type Coordinator struct {
	participant string
	machine     *Machine
	logger      model.Logger
	emit        EmitStatus

	onInit     Callback
	onStop     Callback
	onShutdown Callback

	paused bool

	softLimitMs int
	hardLimitMs int
}

// NewCoordinator creates a Coordinator for participant, wired to emit
// via emit and log via logger.
func NewCoordinator(participant string, logger model.Logger, emit EmitStatus) *Coordinator {
	return &Coordinator{
		participant: participant,
		machine:     NewMachine(participant),
		logger:      logger,
		emit:        emit,
	}
}

// SetCallbacks installs the init/stop/shutdown handlers. Any may be nil.
func (c *Coordinator) SetCallbacks(onInit, onStop, onShutdown Callback) {
	c.onInit, c.onStop, c.onShutdown = onInit, onStop, onShutdown
}

// SetExecTimeLimits configures the soft/hard per-callback millisecond
// thresholds from §4.2; exceeding hard forces Error.
func (c *Coordinator) SetExecTimeLimits(softMs, hardMs int) {
	c.softLimitMs = softMs
	c.hardLimitMs = hardMs
}

// State returns the participant's current lifecycle state.
func (c *Coordinator) State() model.LifecycleState {
	return c.machine.State()
}

// Paused reports whether the simulation task should be skipped this
// round (§4.3 — cooperative pause).
func (c *Coordinator) Paused() bool {
	return c.paused
}

// BusUp transitions Invalid → Idle once the participant's mesh
// connection and registry announcement complete.
func (c *Coordinator) BusUp() error {
	return c.advance(model.StateIdle, "")
}

// HandleCommand applies cmd to the lifecycle machine, running the
// matching user callback and emitting the resulting ParticipantStatus.
// An unhandled callback error forces the participant to Error instead
// of propagating the transition (§4.3 — Failure).
func (c *Coordinator) HandleCommand(ctx context.Context, cmd SystemCommand) error {
	switch cmd.Kind {
	case CommandInitialize:
		return c.runTransition(ctx, model.StateInitializing, model.StateInitialized, c.onInit)
	case CommandRun:
		return c.advance(model.StateRunning, "")
	case CommandPause:
		if err := c.advance(model.StatePaused, ""); err != nil {
			return err
		}
		c.paused = true
		return nil
	case CommandContinue:
		if err := c.advance(model.StateRunning, ""); err != nil {
			return err
		}
		c.paused = false
		return nil
	case CommandStop:
		return c.runTransition(ctx, model.StateStopping, model.StateStopped, c.onStop)
	case CommandShutdown:
		return c.runTransition(ctx, model.StateShuttingDown, model.StateShutdown, c.onShutdown)
	case CommandPrepareColdswap:
		return c.advance(model.StateColdswapPrepare, "")
	default:
		return model.NewProtocolError("unknown system command kind %q", cmd.Kind)
	}
}

// IgnoreColdswap records that this participant does not participate in
// the in-progress cold-swap, per §9's resolution of ColdswapIgnored.
func (c *Coordinator) IgnoreColdswap() error {
	return c.advance(model.StateColdswapIgnored, "")
}

// AdvanceColdswap moves ColdswapPrepare → ColdswapReady →
// ColdswapShutdown → Idle as the coordinator's owner drives each phase.
func (c *Coordinator) AdvanceColdswap(target model.LifecycleState) error {
	return c.advance(target, "")
}

// ResumeAfterColdswapIgnored returns an ignored participant to whatever
// it was doing before the cold-swap command arrived.
func (c *Coordinator) ResumeAfterColdswapIgnored(resumeState model.LifecycleState) error {
	return c.advance(resumeState, "")
}

func (c *Coordinator) runTransition(ctx context.Context, intermediate, final model.LifecycleState, cb Callback) error {
	if err := c.advance(intermediate, ""); err != nil {
		return err
	}
	if cb != nil {
		start := time.Now()
		err := c.runCallback(ctx, cb)
		elapsedMs := int(time.Since(start).Milliseconds())
		if err == nil && c.hardLimitMs > 0 && elapsedMs > c.hardLimitMs {
			err = model.NewTimeoutError("participant %s: callback took %dms, over the hard limit of %dms", c.participant, elapsedMs, c.hardLimitMs)
		} else if err == nil && c.softLimitMs > 0 && elapsedMs > c.softLimitMs {
			c.logger.Warn("callback exceeded soft exec-time limit", "participant", c.participant, "elapsedMs", elapsedMs, "softLimitMs", c.softLimitMs)
		}
		if err != nil {
			c.forceError(err)
			return err
		}
	}
	return c.advance(final, "")
}

func (c *Coordinator) runCallback(ctx context.Context, cb Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = model.NewUserCallbackError(fmt.Errorf("%v", r), "participant %s: callback panicked", c.participant)
		}
	}()
	return cb(ctx)
}

func (c *Coordinator) advance(target model.LifecycleState, reason string) error {
	from := c.machine.State()
	if err := c.machine.Transition(target); err != nil {
		c.logger.Warn("lifecycle transition rejected", "participant", c.participant, "target", target, "error", err.Error())
		return err
	}
	c.logger.Info("lifecycle transition", "participant", c.participant, "state", target)
	observability.RecordStateTransition(string(from), string(target))
	if c.emit != nil {
		c.emit(ParticipantStatus{Participant: c.participant, State: target, Reason: reason})
	}
	return nil
}

func (c *Coordinator) forceError(cause error) {
	from := c.machine.State()
	c.machine.ForceError()
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	c.logger.Error("participant entered error state", "participant", c.participant, "reason", reason)
	observability.RecordStateTransition(string(from), string(model.StateError))
	if c.emit != nil {
		c.emit(ParticipantStatus{Participant: c.participant, State: model.StateError, Reason: reason})
	}
}
