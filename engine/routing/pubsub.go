package routing

import (
	"github.com/ibsim/ibus/engine/model"
)

// DataMessage is one generic pub/sub payload (§4.5): an opaque byte
// vector tagged with a media type and label set.
type DataMessage struct {
	MediaType string
	Labels    model.LabelSet
	Payload   []byte
}

// GenericPublisher is a participant's DataPub controller instance.
type GenericPublisher struct {
	core     *Core
	endpoint string
	link     string
}

// NewGenericPublisher creates a publisher bound to link.
func NewGenericPublisher(core *Core, endpoint, link string) *GenericPublisher {
	return &GenericPublisher{core: core, endpoint: endpoint, link: link}
}

// Publish sends msg to every matching subscriber. historyDepth is 0 or 1
// per §4.2.
func (p *GenericPublisher) Publish(msg DataMessage, timestampNs int64, historyDepth int) error {
	return p.core.Publish(p.endpoint, p.link, model.IfidGenericData, msg.Labels, encodeDataMessage(msg), timestampNs, historyDepth)
}

// GenericSubscriber is a participant's DataSub controller instance. A
// general subscription matches any publisher whose labels satisfy
// filterLabels; a narrower "specific" registration can be added via
// AddSpecificHandler to claim an exact label match away from the general
// handler (§4.2).
type GenericSubscriber struct {
	core          *Core
	endpoint      string
	link          string
	handler       func(publisher string, msg DataMessage)
	newDataSource func(publisher string)
}

// NewGenericSubscriber creates a subscriber and registers it with core.
func NewGenericSubscriber(core *Core, endpoint, link string, filterLabels model.LabelSet, history bool) *GenericSubscriber {
	s := &GenericSubscriber{core: core, endpoint: endpoint, link: link}
	core.Subscribe(model.Subscription{Subscriber: endpoint, Link: link, Labels: filterLabels}, history)
	return s
}

// AddSpecificHandler narrows the general subscription: exact-label
// matches are delivered here instead of to SetHandler's callback (§4.2).
func (s *GenericSubscriber) AddSpecificHandler(labels model.LabelSet, history bool) {
	s.core.Subscribe(model.Subscription{Subscriber: s.endpoint, Link: s.link, Labels: labels, Specific: true}, history)
}

// SetHandler registers the callback invoked for every delivered message.
func (s *GenericSubscriber) SetHandler(h func(publisher string, msg DataMessage)) { s.handler = h }

// OnNewDataSource registers the callback fired the first time a
// previously unseen matching publisher appears (§4.2).
func (s *GenericSubscriber) OnNewDataSource(h func(publisher string)) {
	s.newDataSource = h
	s.core.OnNewDataSource(func(subscriber, link, publisher string) {
		if subscriber == s.endpoint && link == s.link && s.newDataSource != nil {
			s.newDataSource(publisher)
		}
	})
}

// Deliver is called by the owning participant's dispatch loop for every
// DataMessage routed to this endpoint.
func (s *GenericSubscriber) Deliver(publisher string, msg DataMessage) {
	if s.handler != nil {
		s.handler(publisher, msg)
	}
}

// DiscoverServers returns the qualified names of every endpoint
// currently subscribed (as an RpcServer) on link — i.e. the matching
// server set, without opening a call (§4.5).
func DiscoverServers(core *Core, link string) []string {
	return core.Subscribers(link)
}

func encodeDataMessage(msg DataMessage) []byte {
	mt := []byte(msg.MediaType)
	out := make([]byte, 2+len(mt)+len(msg.Payload))
	out[0] = byte(len(mt))
	out[1] = byte(len(mt) >> 8)
	copy(out[2:], mt)
	copy(out[2+len(mt):], msg.Payload)
	return out
}

func decodeDataMessage(payload []byte) DataMessage {
	if len(payload) < 2 {
		return DataMessage{}
	}
	mtLen := int(payload[0]) | int(payload[1])<<8
	if len(payload) < 2+mtLen {
		return DataMessage{}
	}
	return DataMessage{
		MediaType: string(payload[2 : 2+mtLen]),
		Payload:   payload[2+mtLen:],
	}
}

// DecodeDataMessage decodes a generic pub/sub payload as delivered on the
// wire. The owning participant's dispatch loop calls this to turn an
// inbound transport.Frame's body into a DataMessage before handing it,
// together with the Delivery's label set, to the matching
// GenericSubscriber's Deliver.
func DecodeDataMessage(payload []byte) DataMessage { return decodeDataMessage(payload) }
