package routing

import (
	"sync"

	"github.com/ibsim/ibus/engine/model"
)

// EthernetFrame is one simple-mode Ethernet frame payload (§4.5).
// VlanTag of 0 means untagged; the sending port's native VLAN applies.
type EthernetFrame struct {
	VlanTag uint16
	Data    []byte
}

// EthernetPortConfig configures one switch port's VLAN membership,
// mirroring config.SwitchPort.
type EthernetPortConfig struct {
	VlanIDs    []uint16
	NativeVlan uint16
}

func (p EthernetPortConfig) membersVlan(vlan uint16) bool {
	for _, id := range p.VlanIDs {
		if id == vlan {
			return true
		}
	}
	return false
}

// EthernetSwitch forwards frames per link with VLAN-aware port filtering
// (§4.5): frames are forwarded only to ports whose VLAN set contains the
// frame's VLAN. An untagged frame takes the sending port's native VLAN;
// one that still has VLAN 0 also reaches every port with no native VLAN.
// Links with no EthernetSwitch attached use plain Core pub/sub
// broadcast instead (see EthernetController.SendFrame).
type EthernetSwitch struct {
	core *Core
	link string

	mu    sync.RWMutex
	ports map[string]EthernetPortConfig
}

// NewEthernetSwitch creates a switch for link, forwarding through core's
// underlying sender.
func NewEthernetSwitch(core *Core, link string) *EthernetSwitch {
	return &EthernetSwitch{core: core, link: link, ports: make(map[string]EthernetPortConfig)}
}

// RegisterPort configures endpoint's switch port.
func (s *EthernetSwitch) RegisterPort(endpoint string, cfg EthernetPortConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports[endpoint] = cfg
}

// Forward delivers frame from sender to every other registered port
// whose VLAN membership matches (§4.5).
func (s *EthernetSwitch) Forward(sender string, frame EthernetFrame, timestampNs int64) error {
	s.mu.RLock()
	senderPort, ok := s.ports[sender]
	effectiveVlan := frame.VlanTag
	if effectiveVlan == 0 && ok {
		effectiveVlan = senderPort.NativeVlan
	}

	recipients := make([]string, 0, len(s.ports))
	for endpoint, cfg := range s.ports {
		if endpoint == sender {
			continue
		}
		if cfg.membersVlan(effectiveVlan) || (effectiveVlan == 0 && cfg.NativeVlan == 0) {
			recipients = append(recipients, endpoint)
		}
	}
	s.mu.RUnlock()

	delivery := Delivery{
		Interface:   model.IfidEthernetFrame,
		Publisher:   sender,
		Link:        s.link,
		TimestampNs: timestampNs,
		Payload:     encodeEthernetFrame(frame),
	}

	var firstErr error
	for _, endpoint := range recipients {
		if err := s.core.Sender().SendTo(endpoint, delivery); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EthernetController is one participant's Ethernet controller. With no
// switch configured for its link it behaves as plain broadcast pub/sub;
// with a switch it routes Forward through it.
type EthernetController struct {
	core     *Core
	endpoint string
	link     string
	sw       *EthernetSwitch
	handler  func(frame EthernetFrame)
}

// NewEthernetController creates a controller. sw may be nil (no switch
// attached to this link — plain broadcast semantics), in which case the
// controller registers as a link-wide receiver; a switched link instead
// routes exclusively through EthernetSwitch.Forward's port table.
func NewEthernetController(core *Core, endpoint, link string, sw *EthernetSwitch) *EthernetController {
	if sw == nil {
		core.Subscribe(model.Subscription{Subscriber: endpoint, Link: link}, false)
	}
	return &EthernetController{core: core, endpoint: endpoint, link: link, sw: sw}
}

// SetFrameHandler registers the callback invoked for every delivered
// EthernetFrame.
func (e *EthernetController) SetFrameHandler(h func(frame EthernetFrame)) { e.handler = h }

// SendFrame transmits frame, routed through the link's switch if one is
// attached, otherwise broadcast to every link subscriber.
func (e *EthernetController) SendFrame(frame EthernetFrame, timestampNs int64) error {
	if e.sw != nil {
		return e.sw.Forward(e.endpoint, frame, timestampNs)
	}
	return e.core.Publish(e.endpoint, e.link, model.IfidEthernetFrame, nil, encodeEthernetFrame(frame), timestampNs, 0)
}

// Deliver is called by the owning participant's dispatch loop for every
// EthernetFrame routed to this endpoint.
func (e *EthernetController) Deliver(frame EthernetFrame) {
	if e.handler != nil {
		e.handler(frame)
	}
}

func encodeEthernetFrame(f EthernetFrame) []byte {
	out := make([]byte, 2+len(f.Data))
	out[0] = byte(f.VlanTag)
	out[1] = byte(f.VlanTag >> 8)
	copy(out[2:], f.Data)
	return out
}
