package routing

import (
	"github.com/ibsim/ibus/engine/model"
)

// FlexRayPocState is the controller host interface (CHI) POC state
// machine of §4.5.
type FlexRayPocState string

const (
	FlexRayDefaultConfig FlexRayPocState = "DefaultConfig"
	FlexRayConfig        FlexRayPocState = "Config"
	FlexRayReady         FlexRayPocState = "Ready"
	FlexRayStartup       FlexRayPocState = "Startup"
	FlexRayWakeup        FlexRayPocState = "Wakeup"
	FlexRayNormalActive  FlexRayPocState = "NormalActive"
	FlexRayNormalPassive FlexRayPocState = "NormalPassive"
	FlexRayHalt          FlexRayPocState = "Halt"
)

// FlexRayChiCommand is one controller host interface command (§4.5).
type FlexRayChiCommand string

const (
	FlexRayConfigure        FlexRayChiCommand = "CONFIGURE"
	FlexRayRun              FlexRayChiCommand = "RUN"
	FlexRayAllowColdstart   FlexRayChiCommand = "ALLOW_COLDSTART"
	FlexRayWakeupCmd        FlexRayChiCommand = "WAKEUP"
	FlexRayDeferredHalt     FlexRayChiCommand = "DEFERRED_HALT"
	FlexRayFreeze           FlexRayChiCommand = "FREEZE"
	FlexRayAllSlots         FlexRayChiCommand = "ALL_SLOTS"
)

// FlexRayChannels selects which channel(s) a TX buffer transmits on.
type FlexRayChannels string

const (
	FlexRayChannelA  FlexRayChannels = "A"
	FlexRayChannelB  FlexRayChannels = "B"
	FlexRayChannelAB FlexRayChannels = "AB"
)

// FlexRayTransmissionMode selects single-shot vs continuous emission;
// unenforced in simple mode (§4.5, [NEW]).
type FlexRayTransmissionMode string

const (
	FlexRaySingleShot FlexRayTransmissionMode = "SingleShot"
	FlexRayContinuous FlexRayTransmissionMode = "Continuous"
)

// FlexRayTxBufferConfig is one slot-addressed TX buffer (§4.5).
type FlexRayTxBufferConfig struct {
	Channels         FlexRayChannels
	SlotID           uint16
	Offset           uint8
	Repetition       uint8
	TransmissionMode FlexRayTransmissionMode
}

// FlexRayFrame is one simple-mode FlexRay frame payload.
type FlexRayFrame struct {
	Channels FlexRayChannels
	SlotID   uint16
	Data     []byte
}

// FlexRayController is one participant's FlexRay controller instance.
// allowColdstart/runRequested are tracked because the Ready -> Startup
// transition requires ALLOW_COLDSTART and RUN both observed (§4.5).
type FlexRayController struct {
	core     *Core
	endpoint string
	link     string
	state    FlexRayPocState

	allowColdstart bool
	runRequested   bool

	buffers []FlexRayTxBufferConfig
	handler func(frame FlexRayFrame)
}

// NewFlexRayController creates a controller starting in DefaultConfig and
// registers it as a link-wide receiver so every other endpoint's
// UpdateTxBuffer/FlushAllSlots reaches it.
func NewFlexRayController(core *Core, endpoint, link string) *FlexRayController {
	core.Subscribe(model.Subscription{Subscriber: endpoint, Link: link}, false)
	return &FlexRayController{core: core, endpoint: endpoint, link: link, state: FlexRayDefaultConfig}
}

// State returns the controller's current POC state.
func (f *FlexRayController) State() FlexRayPocState { return f.state }

// SetFrameHandler registers the callback invoked for every delivered
// FlexRayFrame.
func (f *FlexRayController) SetFrameHandler(h func(frame FlexRayFrame)) { f.handler = h }

// ConfigureTxBuffer registers a slot-addressed TX buffer, valid once the
// controller has reached Config or later.
func (f *FlexRayController) ConfigureTxBuffer(cfg FlexRayTxBufferConfig) error {
	if f.state == FlexRayDefaultConfig {
		return model.NewStateError("FlexRay controller %s: ConfigureTxBuffer before CONFIGURE", f.endpoint)
	}
	f.buffers = append(f.buffers, cfg)
	return nil
}

// ExecuteChi drives the POC state machine per the transition table in
// §4.5: any state may FREEZE to Halt.
func (f *FlexRayController) ExecuteChi(cmd FlexRayChiCommand) error {
	if cmd == FlexRayFreeze {
		f.state = FlexRayHalt
		return nil
	}

	switch f.state {
	case FlexRayDefaultConfig:
		if cmd == FlexRayConfigure {
			f.state = FlexRayConfig
			return f.ExecuteChi(cmd)
		}
	case FlexRayConfig:
		// Configuration complete moves straight to Ready; modeled as an
		// implicit follow-on to CONFIGURE rather than a separate command,
		// matching the "ready" transition label in §4.5's diagram.
		f.state = FlexRayReady
		if cmd == FlexRayConfigure {
			return nil
		}
		return f.ExecuteChi(cmd)
	case FlexRayReady:
		switch cmd {
		case FlexRayWakeupCmd:
			f.state = FlexRayWakeup
			return nil
		case FlexRayAllowColdstart:
			f.allowColdstart = true
			return f.maybeStartup()
		case FlexRayRun:
			f.runRequested = true
			return f.maybeStartup()
		}
	case FlexRayWakeup:
		// Pulse delivered returns to Ready; modeled as any subsequent
		// command observed after entering Wakeup (§4.5).
		f.state = FlexRayReady
		return f.ExecuteChi(cmd)
	case FlexRayStartup:
		// Sync achieved transitions to NormalActive; modeled as an
		// automatic follow-on once both coldstart and run are latched.
		f.state = FlexRayNormalActive
		return nil
	case FlexRayNormalActive:
		if cmd == FlexRayDeferredHalt {
			f.state = FlexRayHalt
			return nil
		}
	}
	return model.NewStateError("FlexRay controller %s: command %s invalid from state %s", f.endpoint, cmd, f.state)
}

func (f *FlexRayController) maybeStartup() error {
	if f.allowColdstart && f.runRequested {
		f.state = FlexRayStartup
		// Startup hands on to NormalActive at once (FlexRayStartup case).
		return f.ExecuteChi(FlexRayRun)
	}
	return nil
}

// UpdateTxBuffer transmits data on a previously configured slot. In
// simple mode this emits exactly one frame per call regardless of the
// buffer's configured repetition/transmissionMode (§4.5, [NEW]).
func (f *FlexRayController) UpdateTxBuffer(slotID uint16, data []byte, timestampNs int64) error {
	if f.state != FlexRayNormalActive {
		return model.NewStateError("FlexRay controller %s: UpdateTxBuffer invalid from state %s", f.endpoint, f.state)
	}
	var channels FlexRayChannels
	for _, b := range f.buffers {
		if b.SlotID == slotID {
			channels = b.Channels
			break
		}
	}
	frame := FlexRayFrame{Channels: channels, SlotID: slotID, Data: data}
	return f.core.Publish(f.endpoint, f.link, model.IfidFlexRayFrame, nil, encodeFlexRayFrame(frame), timestampNs, 0)
}

// FlushAllSlots implements the ALL_SLOTS CHI command: emit exactly one
// frame for every configured TX buffer (§4.5, [NEW], from
// original_source's FlexrayDemo.c initialization sequence). Not itself a
// POC state transition — it is gated by UpdateTxBuffer's own
// NormalActive requirement.
func (f *FlexRayController) FlushAllSlots(data []byte, timestampNs int64) error {
	for _, b := range f.buffers {
		if err := f.UpdateTxBuffer(b.SlotID, data, timestampNs); err != nil {
			return err
		}
	}
	return nil
}

// Deliver is called by the owning participant's dispatch loop for every
// FlexRayFrame routed to this endpoint.
func (f *FlexRayController) Deliver(frame FlexRayFrame) {
	if f.handler != nil {
		f.handler(frame)
	}
}

func encodeFlexRayFrame(f FlexRayFrame) []byte {
	out := make([]byte, 3+len(f.Data))
	out[0] = flexRayChannelByte(f.Channels)
	out[1] = byte(f.SlotID)
	out[2] = byte(f.SlotID >> 8)
	copy(out[3:], f.Data)
	return out
}

func flexRayChannelByte(c FlexRayChannels) byte {
	switch c {
	case FlexRayChannelA:
		return 'A'
	case FlexRayChannelB:
		return 'B'
	default:
		return 'X' // AB or unset
	}
}
