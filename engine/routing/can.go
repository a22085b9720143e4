package routing

import (
	"github.com/ibsim/ibus/engine/model"
)

// CanControllerState is the CAN controller state machine of §4.5's
// summary table: Uninit, Stopped, Started, Sleep, driven purely by user
// calls; baud rate is recorded but unenforced.
type CanControllerState string

const (
	CanUninit  CanControllerState = "Uninit"
	CanStopped CanControllerState = "Stopped"
	CanStarted CanControllerState = "Started"
	CanSleep   CanControllerState = "Sleep"
)

// CanDirection filters which frames a handler observes.
type CanDirection string

const (
	CanTx   CanDirection = "Tx"
	CanRx   CanDirection = "Rx"
	CanBoth CanDirection = "Both"
)

// CanFrameTransmitStatus is the synthesized acknowledgement status for a
// sender's own SendFrame call.
type CanFrameTransmitStatus string

const (
	CanTransmitted       CanFrameTransmitStatus = "Transmitted"
	CanTransmitQueueFull CanFrameTransmitStatus = "TransmitQueueFull"
)

// CanMessage is one CAN frame payload (§4.5).
type CanMessage struct {
	CanID   uint32
	Flags   uint32
	Data    []byte
	Sender  string // qualified endpoint name
	TxID    uint32 // caller's userContext, echoed in the transmit event
}

// CanFrameTransmitEvent is the synthesized immediate ack for the sender.
type CanFrameTransmitEvent struct {
	UserContext uint32
	Status      CanFrameTransmitStatus
	TimestampNs int64
}

// CanFrameHandler observes a delivered CanMessage. direction filters
// which handlers are invoked for a given frame's Tx/Rx role relative to
// the registering endpoint.
type CanFrameHandler func(msg CanMessage)

// CanController is one participant's CAN controller instance (§4.5, §4.5
// summary table). Baud rate is stored for config completeness but never
// enforced in simple mode.
type CanController struct {
	core      *Core
	endpoint  string
	link      string
	baudRate  uint32
	state     CanControllerState
	handlers  map[CanDirection][]CanFrameHandler
}

// NewCanController creates a CAN controller bound to link, starting in
// state Uninit, and registers it as a link-wide receiver so every other
// endpoint's SendFrame reaches it (§4.5: "enqueues a CanMessage to all
// peers on the link").
func NewCanController(core *Core, endpoint, link string, baudRate uint32) *CanController {
	core.Subscribe(model.Subscription{Subscriber: endpoint, Link: link}, false)
	return &CanController{
		core:     core,
		endpoint: endpoint,
		link:     link,
		baudRate: baudRate,
		state:    CanUninit,
		handlers: make(map[CanDirection][]CanFrameHandler),
	}
}

// AddFrameHandler registers h for frames matching direction.
func (c *CanController) AddFrameHandler(direction CanDirection, h CanFrameHandler) {
	c.handlers[direction] = append(c.handlers[direction], h)
}

// State returns the controller's current lifecycle state.
func (c *CanController) State() CanControllerState { return c.state }

// Start transitions Stopped -> Started (or Uninit -> Started on first
// use, matching IntegrationBus's permissive CAPI controller setup order).
func (c *CanController) Start() error {
	if c.state != CanUninit && c.state != CanStopped {
		return model.NewStateError("CAN controller %s: Start invalid from state %s", c.endpoint, c.state)
	}
	c.state = CanStarted
	return nil
}

// Stop transitions Started|Sleep -> Stopped.
func (c *CanController) Stop() error {
	if c.state != CanStarted && c.state != CanSleep {
		return model.NewStateError("CAN controller %s: Stop invalid from state %s", c.endpoint, c.state)
	}
	c.state = CanStopped
	return nil
}

// Sleep transitions Started -> Sleep.
func (c *CanController) Sleep() error {
	if c.state != CanStarted {
		return model.NewStateError("CAN controller %s: Sleep invalid from state %s", c.endpoint, c.state)
	}
	c.state = CanSleep
	return nil
}

// Reset returns the controller to Uninit regardless of current state.
func (c *CanController) Reset() { c.state = CanUninit }

// SendFrame publishes msg to every peer on the link and synthesizes an
// immediate CanFrameTransmitEvent for the caller (§4.5). Requires the
// controller be Started.
func (c *CanController) SendFrame(msg CanMessage, timestampNs int64) (CanFrameTransmitEvent, error) {
	if c.state != CanStarted {
		return CanFrameTransmitEvent{}, model.NewStateError("CAN controller %s: SendFrame invalid from state %s", c.endpoint, c.state)
	}
	msg.Sender = c.endpoint

	payload := encodeCanMessage(msg)
	if err := c.core.Publish(c.endpoint, c.link, model.IfidCanMessage, nil, payload, timestampNs, 0); err != nil {
		return CanFrameTransmitEvent{}, err
	}

	event := CanFrameTransmitEvent{UserContext: msg.TxID, Status: CanTransmitted, TimestampNs: timestampNs}
	for _, h := range c.handlers[CanTx] {
		h(msg)
	}
	for _, h := range c.handlers[CanBoth] {
		h(msg)
	}
	return event, nil
}

// Deliver is called by the owning participant's dispatch loop for every
// CanMessage routed to this endpoint; it fans out to Rx/Both handlers.
func (c *CanController) Deliver(msg CanMessage) {
	for _, h := range c.handlers[CanRx] {
		h(msg)
	}
	for _, h := range c.handlers[CanBoth] {
		h(msg)
	}
}

// encodeCanMessage and decodeCanMessage are the simple-mode wire
// encoding for a CAN frame payload, carried inside a transport.Frame.
func encodeCanMessage(msg CanMessage) []byte {
	out := make([]byte, 8+len(msg.Data))
	putUint32(out[0:4], msg.CanID)
	putUint32(out[4:8], msg.Flags)
	copy(out[8:], msg.Data)
	return out
}

func decodeCanMessage(payload []byte) CanMessage {
	if len(payload) < 8 {
		return CanMessage{}
	}
	return CanMessage{
		CanID: getUint32(payload[0:4]),
		Flags: getUint32(payload[4:8]),
		Data:  payload[8:],
	}
}

// DecodeCanMessage decodes a CAN frame payload as delivered on the wire.
// The owning participant's dispatch loop calls this to turn an inbound
// transport.Frame's body into a CanMessage before handing it to the
// matching CanController's Deliver.
func DecodeCanMessage(payload []byte) CanMessage { return decodeCanMessage(payload) }
