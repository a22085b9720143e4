package routing

import (
	"sync"

	"github.com/ibsim/ibus/engine/model"
)

// LinControllerState is the LIN controller state machine of §4.5's
// summary table.
type LinControllerState string

const (
	LinUnknown      LinControllerState = "Unknown"
	LinOperational  LinControllerState = "Operational"
	LinSleep        LinControllerState = "Sleep"
	LinSleepPending LinControllerState = "SleepPending"
)

// LinFrameResponseMode is a slave's declared role for one frame ID (§4.5).
type LinFrameResponseMode string

const (
	LinTxUnconditional LinFrameResponseMode = "TxUnconditional"
	LinRx              LinFrameResponseMode = "Rx"
	LinUnused          LinFrameResponseMode = "Unused"
)

// LinChecksumModel selects the LIN checksum variant a frame ID is
// configured with; a mismatch between requester and responder yields
// LIN_RX_ERROR (§4.5, [NEW]).
type LinChecksumModel string

const (
	LinChecksumClassic  LinChecksumModel = "Classic"
	LinChecksumEnhanced LinChecksumModel = "Enhanced"
)

// LinFrameStatus is the outcome reported to the master after a
// SendFrame/SendFrameHeader round (§4.5).
type LinFrameStatus string

const (
	LinRxOk          LinFrameStatus = "LIN_RX_OK"
	LinRxError       LinFrameStatus = "LIN_RX_ERROR"
	LinRxNoResponse  LinFrameStatus = "LIN_RX_NO_RESPONSE"
)

// LinFrameConfig is one slave's declared behavior for a frame ID, or (when
// passed to SendFrame) the master's own per-frame checksum model/data
// length for a master-response-type transmission (§4.5).
type LinFrameConfig struct {
	FrameID       uint8
	Mode          LinFrameResponseMode
	ChecksumModel LinChecksumModel
	DataLength    int
	// Data is the payload a TxUnconditional slave responds with when
	// resolved via SendFrameHeader; unused for Rx/Unused registrations.
	Data []byte
}

// linBusState tracks every slave's frame configuration for one link, so
// the master's SendFrame/SendFrameHeader can determine the union of
// declared responders (§4.2 — subscription announcements broadcast to
// all peers so routing decisions are made locally).
type linBusState struct {
	mu    sync.RWMutex
	slots map[uint8][]linRegistration // frameID -> every slave's declared config
}

type linRegistration struct {
	slave  string
	config LinFrameConfig
}

func newLinBusState() *linBusState {
	return &linBusState{slots: make(map[uint8][]linRegistration)}
}

// LinBus coordinates every LIN controller sharing one link's routing
// decisions; LinController instances for master and slaves on the same
// link must share a LinBus.
type LinBus struct {
	core  *Core
	link  string
	state *linBusState

	mu          sync.Mutex
	controllers []*LinController
}

// NewLinBus creates the shared coordination state for one LIN link.
func NewLinBus(core *Core, link string) *LinBus {
	return &LinBus{core: core, link: link, state: newLinBusState()}
}

// LinController is one participant's LIN controller instance (master or
// slave role is determined by which calls it makes: slaves call
// ConfigureFrame/Deliver, the master calls SendFrame/SendFrameHeader).
type LinController struct {
	bus      *LinBus
	endpoint string
	state    LinControllerState
	handler  func(frameID uint8, data []byte, status LinFrameStatus)
}

// NewLinController creates a LIN controller attached to bus.
func NewLinController(bus *LinBus, endpoint string) *LinController {
	c := &LinController{bus: bus, endpoint: endpoint, state: LinUnknown}
	bus.mu.Lock()
	bus.controllers = append(bus.controllers, c)
	bus.mu.Unlock()
	return c
}

// State returns the controller's current sleep/operational state.
func (c *LinController) State() LinControllerState { return c.state }

// SetFrameHandler registers the callback invoked with every frame this
// controller observes, whether as master result or slave delivery.
func (c *LinController) SetFrameHandler(h func(frameID uint8, data []byte, status LinFrameStatus)) {
	c.handler = h
}

// ConfigureFrame declares this (slave) controller's role for frameID.
func (c *LinController) ConfigureFrame(cfg LinFrameConfig) {
	c.bus.state.mu.Lock()
	defer c.bus.state.mu.Unlock()
	c.bus.state.slots[cfg.FrameID] = append(c.bus.state.slots[cfg.FrameID], linRegistration{slave: c.endpoint, config: cfg})
}

// goToSleepFrameID is the reserved LIN diagnostic frame ID for
// go-to-sleep requests (§4.5).
const goToSleepFrameID uint8 = 0x3C

// SendFrame (master) transmits master-supplied data for frameID — the
// MasterResponse case of §4.5: the master itself is the frame's source,
// and every slave configured Rx on frameID validates requester's
// checksum model and data length against its own declared config.
// A slave configured Unused (or no slave registered at all) is skipped
// entirely: no frame status is delivered ("no delivery" per S2's table).
// Any Rx slave whose checksum model or data length disagrees with
// requester's yields LIN_RX_ERROR; if every Rx slave agrees, the result
// is LIN_RX_OK. TxUnconditional registrations play no part here — they
// only resolve SendFrameHeader's header-only (SlaveResponse) requests.
func (c *LinController) SendFrame(requester LinFrameConfig, data []byte) LinFrameStatus {
	if requester.FrameID == goToSleepFrameID && len(data) > 0 && data[0] == 0x00 {
		c.bus.goToSleep()
		return LinRxOk
	}

	c.bus.state.mu.RLock()
	regs := c.bus.state.slots[requester.FrameID]
	c.bus.state.mu.RUnlock()

	var responders []linRegistration
	for _, r := range regs {
		if r.config.Mode == LinRx {
			responders = append(responders, r)
		}
	}

	if len(responders) == 0 {
		return LinRxNoResponse
	}

	status := LinRxOk
	for _, r := range responders {
		if r.config.ChecksumModel != requester.ChecksumModel || r.config.DataLength != requester.DataLength {
			status = LinRxError
			break
		}
	}

	if c.handler != nil {
		c.handler(requester.FrameID, data, status)
	}
	return status
}

// SendFrameHeader (master) sends only the header, expecting exactly one
// slave's TxUnconditional response — the SlaveResponse case of §4.5: the
// master supplies no checksum model or data of its own to validate
// against, so resolution is purely by producer count. Zero producers
// yields LIN_RX_NO_RESPONSE; exactly one yields LIN_RX_OK with that
// slave's declared payload; more than one (two slaves both configured
// TxUnconditional for the same ID) yields LIN_RX_ERROR.
func (c *LinController) SendFrameHeader(frameID uint8) LinFrameStatus {
	c.bus.state.mu.RLock()
	regs := c.bus.state.slots[frameID]
	c.bus.state.mu.RUnlock()

	var producers []linRegistration
	for _, r := range regs {
		if r.config.Mode == LinTxUnconditional {
			producers = append(producers, r)
		}
	}

	var status LinFrameStatus
	var payload []byte
	switch len(producers) {
	case 0:
		status = LinRxNoResponse
	case 1:
		status = LinRxOk
		payload = producers[0].config.Data
	default:
		status = LinRxError
	}

	if c.handler != nil {
		c.handler(frameID, payload, status)
	}
	return status
}

// goToSleep transitions every controller on the bus to Sleep, since the
// go-to-sleep frame addresses all slaves simultaneously (§4.5).
func (b *LinBus) goToSleep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.controllers {
		c.EnterSleep()
	}
}

// Wakeup transitions c back to Operational from Sleep/SleepPending.
func (c *LinController) Wakeup() error {
	if c.state != LinSleep && c.state != LinSleepPending {
		return model.NewStateError("LIN controller %s: Wakeup invalid from state %s", c.endpoint, c.state)
	}
	c.state = LinOperational
	return nil
}

// EnterSleep transitions c to Sleep, as driven by a GoToSleep frame
// observed on the bus.
func (c *LinController) EnterSleep() {
	c.state = LinSleep
}
