// Package routing implements the link/endpoint tables, subscription
// matching, and per-bus simple-mode protocol semantics (§4.2, §4.5). The
// core itself is transport-agnostic: it hands encoded payloads to a
// Sender the owning participant supplies and never opens a connection
// itself.
package routing

import (
	"sync"

	"github.com/ibsim/ibus/engine/model"
)

// Sender delivers an already-encoded payload to one endpoint. The
// routing core calls it once per matching subscriber; transport-layer
// back-pressure and peer dispatch are the Sender's concern.
type Sender interface {
	SendTo(endpoint string, f Delivery) error
}

// Delivery is one routed message instance, carrying everything a
// subscriber needs to process it without consulting the core again.
type Delivery struct {
	Interface   model.InterfaceIdentifier
	Publisher   string // qualified endpoint name
	Link        string
	Labels      model.LabelSet
	Sequence    uint64
	TimestampNs int64
	Payload     []byte
}

type linkState struct {
	general  []model.Subscription // label-set matched, in registration order
	specific []model.Subscription // exact-label matched, narrows a general subscription
	history  map[string]Delivery  // last payload per publisher qualified name, when history=1
	seq      map[string]uint64    // next sequence number per publisher qualified name
}

func newLinkState() *linkState {
	return &linkState{history: make(map[string]Delivery), seq: make(map[string]uint64)}
}

// Core is the routing core of §4.2: (link -> subscribers) and per-link
// publisher sequence/history state. One Core instance serves every
// controller kind; bus-specific files in this package layer protocol
// semantics on top of it.
type Core struct {
	mu     sync.RWMutex
	links  map[string]*linkState
	sender Sender
	logger model.Logger

	newDataSourceHooks []func(subscriber, link, publisher string) // NewDataSource hooks (§4.2)
}

// NewCore creates a routing core bound to sender for outbound delivery.
func NewCore(sender Sender, logger model.Logger) *Core {
	return &Core{
		links:  make(map[string]*linkState),
		sender: sender,
		logger: logger,
	}
}

// OnNewDataSource registers an additional callback invoked the first
// time a previously unseen publisher is observed on a link a generic
// subscriber is watching (§4.2). Every registered hook is called, in
// registration order.
func (c *Core) OnNewDataSource(fn func(subscriber, link, publisher string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.newDataSourceHooks = append(c.newDataSourceHooks, fn)
}

func (c *Core) linkStateFor(link string) *linkState {
	ls, ok := c.links[link]
	if !ok {
		ls = newLinkState()
		c.links[link] = ls
	}
	return ls
}

// Subscribe registers sub on its link. If sub replays history (history=1
// publications already seen), the matching cached payloads are delivered
// immediately, before Subscribe returns and before any new publication
// reaches this subscriber (§4.2).
func (c *Core) Subscribe(sub model.Subscription, history bool) {
	c.mu.Lock()
	ls := c.linkStateFor(sub.Link)
	if sub.Specific {
		ls.specific = append(ls.specific, sub)
	} else {
		ls.general = append(ls.general, sub)
	}

	var replay []Delivery
	if history {
		for _, d := range ls.history {
			if sub.Labels.MatchesPublisher(d.Labels) {
				replay = append(replay, d)
			}
		}
	}
	c.mu.Unlock()

	for _, d := range replay {
		if err := c.sender.SendTo(sub.Subscriber, d); err != nil {
			c.logger.Warn("routing: history replay delivery failed", "subscriber", sub.Subscriber, "link", sub.Link, "error", err.Error())
		}
	}
}

// Publish delivers payload to every subscriber on link whose labels match
// pubLabels, in the order: specific subscribers first (narrowing match),
// then general subscribers, preserving per-publisher FIFO via a
// monotonically increasing sequence number. historyDepth is 0 or 1 per
// §4.2; 1 caches this payload for later late-join replay.
func (c *Core) Publish(publisher, link string, iface model.InterfaceIdentifier, pubLabels model.LabelSet, payload []byte, timestampNs int64, historyDepth int) error {
	c.mu.Lock()
	ls := c.linkStateFor(link)

	seq := ls.seq[publisher]
	ls.seq[publisher] = seq + 1

	delivery := Delivery{
		Interface:   iface,
		Publisher:   publisher,
		Link:        link,
		Labels:      pubLabels,
		Sequence:    seq,
		TimestampNs: timestampNs,
		Payload:     payload,
	}

	if historyDepth == 1 {
		ls.history[publisher] = delivery
	}

	firstSight := seq == 0
	hooks := c.newDataSourceHooks

	recipients := make([]string, 0, len(ls.specific)+len(ls.general))
	matchedSpecific := make(map[string]struct{})
	for _, sub := range ls.specific {
		if sub.Subscriber == publisher {
			continue // a bus endpoint never observes its own transmission as an inbound delivery
		}
		if sub.Labels.MatchesPublisher(pubLabels) {
			recipients = append(recipients, sub.Subscriber)
			matchedSpecific[sub.Subscriber] = struct{}{}
		}
	}
	var newSourceSubs []string
	for _, sub := range ls.general {
		if sub.Subscriber == publisher {
			continue
		}
		if _, narrowed := matchedSpecific[sub.Subscriber]; narrowed {
			continue // a specific registration already claimed this publisher for this subscriber
		}
		if sub.Labels.MatchesPublisher(pubLabels) {
			recipients = append(recipients, sub.Subscriber)
			if firstSight && len(hooks) > 0 {
				newSourceSubs = append(newSourceSubs, sub.Subscriber)
			}
		}
	}
	c.mu.Unlock()

	for _, subscriber := range newSourceSubs {
		for _, hook := range hooks {
			hook(subscriber, link, publisher)
		}
	}

	var firstErr error
	for _, subscriber := range recipients {
		if err := c.sender.SendTo(subscriber, delivery); err != nil {
			c.logger.Warn("routing: delivery failed", "subscriber", subscriber, "link", link, "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Sender returns the transport-layer sender this core delivers through,
// for bus packages (e.g. the Ethernet switch) that need to bypass the
// generic label-matching path and address specific endpoints directly.
func (c *Core) Sender() Sender { return c.sender }

// Subscribers returns every endpoint (general and specific) subscribed to
// link, for diagnostics and DiscoverServers-style RPC queries.
func (c *Core) Subscribers(link string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ls, ok := c.links[link]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ls.general)+len(ls.specific))
	for _, s := range ls.general {
		out = append(out, s.Subscriber)
	}
	for _, s := range ls.specific {
		out = append(out, s.Subscriber)
	}
	return out
}
