// Package reactor assembles one participant's routing core, lifecycle
// coordinator, and local dispatcher into the single dispatch goroutine
// §5 describes: "message-dispatch handlers and user callbacks are
// serialized on the reactor thread." Inbound system-topic traffic
// (SystemCommand, ParticipantStatus) flows through one
// bus.LocalDispatcher, posted onto one goroutine, so handlers never run
// concurrently with each other. The coordinator's own status emissions
// are published on the routing core's system link.
package reactor

import (
	"context"
	"time"

	"github.com/ibsim/ibus/bus"
	"github.com/ibsim/ibus/engine/lifecycle"
	"github.com/ibsim/ibus/engine/model"
	"github.com/ibsim/ibus/engine/routing"
	"github.com/ibsim/ibus/engine/typeutil"
)

// systemLink is the distinguished system-topic link (§1) that carries
// lifecycle and time-control traffic alongside ordinary bus messages,
// sharing the same routing core and dispatch queue.
const systemLink = "__system__"

// systemStateQuery is a local-only query a reactor owner can issue to
// read the aggregated SystemState without reaching into the aggregator
// directly, served through the dispatcher's QuerySync request/response
// path.
type systemStateQuery struct{}

func (systemStateQuery) Category() string { return string(bus.CategoryQuery) }
func (systemStateQuery) TypeName() string { return "reactor.systemStateQuery" }
func (systemStateQuery) IsQuery()         {}

// Participant is the reactor for one participant: it owns the
// coordinator driving that participant's own lifecycle machine, the
// aggregator tracking every required peer's last-known state, and the
// LocalDispatcher serializing both onto a single goroutine.
type Participant struct {
	name   string
	logger model.Logger
	core   *routing.Core

	dispatcher  *bus.LocalDispatcher
	coordinator *lifecycle.Coordinator
	aggregator  *lifecycle.SystemStateAggregator

	inbox chan func()
	done  chan struct{}
}

// NewParticipant creates a reactor for name, bound to core for
// publishing ParticipantStatus on the system link. required is the
// system controller's declared mandatory set for SystemState
// aggregation; pass nil on a participant that doesn't aggregate.
func NewParticipant(name string, logger model.Logger, core *routing.Core, required []string) *Participant {
	p := &Participant{
		name:       name,
		logger:     logger,
		core:       core,
		dispatcher: bus.NewLocalDispatcher(5 * time.Second),
		aggregator: lifecycle.NewSystemStateAggregator(required),
		inbox:      make(chan func(), 256),
		done:       make(chan struct{}),
	}
	p.coordinator = lifecycle.NewCoordinator(name, logger, p.emitStatus)

	if err := p.dispatcher.RegisterHandler(lifecycle.SystemCommand{}.TypeName(), p.handleSystemCommand); err != nil {
		logger.Error("reactor: failed to register system command handler", "participant", name, "error", err.Error())
	}
	if err := p.dispatcher.RegisterHandler(systemStateQuery{}.TypeName(), p.handleSystemStateQuery); err != nil {
		logger.Error("reactor: failed to register system state query handler", "participant", name, "error", err.Error())
	}
	p.dispatcher.Subscribe(lifecycle.ParticipantStatus{}.TypeName(), p.handlePeerStatusEvent)

	core.Subscribe(model.Subscription{Subscriber: name + "/lifecycle", Link: systemLink}, false)

	go p.run()
	return p
}

// Coordinator returns the reactor's lifecycle coordinator, so an owner
// can call BusUp/HandleCommand directly for its own participant's
// transitions; HandleCommand invocations from a remote SystemCommand
// arrive instead through DeliverSystemCommand.
func (p *Participant) Coordinator() *lifecycle.Coordinator { return p.coordinator }

// OnSystemStateChange registers a callback invoked on the reactor
// goroutine whenever the aggregated SystemState changes.
func (p *Participant) OnSystemStateChange(h lifecycle.SystemStateHandler) {
	p.aggregator.OnHandler(h)
}

// Post enqueues fn to run on the reactor's single dispatch goroutine. Use
// this, rather than calling coordinator/aggregator methods directly from
// another goroutine, to preserve the sequential execution model.
func (p *Participant) Post(fn func()) {
	select {
	case p.inbox <- fn:
	case <-p.done:
	}
}

func (p *Participant) run() {
	for {
		select {
		case fn := <-p.inbox:
			fn()
		case <-p.done:
			return
		}
	}
}

// Close stops the reactor goroutine. Pending Post calls after Close are
// dropped rather than blocking forever.
func (p *Participant) Close() { close(p.done) }

// DeliverSystemCommand is the participant dispatch layer's entry point
// for an inbound IfidSystemCommand payload: decode, post to the reactor
// goroutine, and run it through the coordinator via the dispatcher's
// single-handler Send path.
func (p *Participant) DeliverSystemCommand(ctx context.Context, payload []byte) error {
	cmd, err := lifecycle.DecodeSystemCommand(payload)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	p.Post(func() { errCh <- p.dispatcher.Send(ctx, cmd) })
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeliverPeerStatus is the participant dispatch layer's entry point for
// an inbound IfidParticipantStatus payload from a peer: decode, feed the
// aggregator, and fan the event out to any local subscriber.
func (p *Participant) DeliverPeerStatus(ctx context.Context, payload []byte) error {
	status, err := lifecycle.DecodeParticipantStatus(payload)
	if err != nil {
		return err
	}
	p.Post(func() {
		p.aggregator.Observe(status.Participant, status.State)
		if pubErr := p.dispatcher.Publish(ctx, status); pubErr != nil {
			p.logger.Warn("reactor: local status fan-out failed", "participant", p.name, "error", pubErr.Error())
		}
	})
	return nil
}

// CurrentSystemState queries the aggregator through the dispatcher's
// local QuerySync request/response path.
func (p *Participant) CurrentSystemState(ctx context.Context) (model.LifecycleState, error) {
	result, err := p.dispatcher.QuerySync(ctx, systemStateQuery{})
	if err != nil {
		return "", err
	}
	return typeutil.AsDefault(result, model.StateInvalid), nil
}

func (p *Participant) handleSystemCommand(ctx context.Context, msg bus.Message) (any, error) {
	cmd, ok := msg.(lifecycle.SystemCommand)
	if !ok {
		return nil, model.NewProtocolError("reactor: unexpected message type %T for SystemCommand", msg)
	}
	return nil, p.coordinator.HandleCommand(ctx, cmd)
}

func (p *Participant) handleSystemStateQuery(context.Context, bus.Message) (any, error) {
	return p.aggregator.Current(), nil
}

func (p *Participant) handlePeerStatusEvent(context.Context, bus.Message) (any, error) {
	return nil, nil
}

func (p *Participant) emitStatus(status lifecycle.ParticipantStatus) {
	payload, err := lifecycle.EncodeParticipantStatus(status)
	if err != nil {
		p.logger.Error("reactor: failed to encode participant status", "participant", p.name, "error", err.Error())
		return
	}
	if err := p.core.Publish(p.name+"/lifecycle", systemLink, model.IfidParticipantStatus, nil, payload, 0, 0); err != nil {
		p.logger.Warn("reactor: failed to publish participant status", "participant", p.name, "error", err.Error())
	}
}
