package model

import "sync"

// Controller is a bus or service instance inside a participant (§3).
type Controller struct {
	Endpoint
	Direction string // "Tx", "Rx", "Both" — interpretation is service-kind specific
}

// Participant is a named process endpoint owning a set of controllers
// (§3). The routing core only ever holds weak references (qualified name
// -> connection) into a Participant's controller set; Participant itself
// owns the authoritative arena (§9).
type Participant struct {
	mu sync.RWMutex

	Name string
	ID   uint32
	Role ParticipantRole

	controllers map[string]*Controller // controller name -> controller
	idGen       *endpointIDGen
	generation  uint32 // bumped on cold-swap reset
}

// NewParticipant creates a participant arena. id is assigned by the
// registry on join.
func NewParticipant(name string, id uint32, role ParticipantRole) *Participant {
	return &Participant{
		Name:        name,
		ID:          id,
		Role:        role,
		controllers: make(map[string]*Controller),
		idGen:       NewEndpointIDGenerator(),
	}
}

// AddController registers a new controller, assigning it a stable
// endpoint id. Returns a MisconfigurationError if the controller name is
// already taken within this participant (§3 invariant: endpoint-id unique
// within participant).
func (p *Participant) AddController(name, network string, kind ServiceKind) (*Controller, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.controllers[name]; exists {
		return nil, NewMisconfigurationError("participant %q: duplicate controller %q", p.Name, name)
	}

	c := &Controller{
		Endpoint: Endpoint{
			ParticipantName: p.Name,
			ControllerName:  name,
			EndpointID:      p.idGen.Next(),
			Network:         network,
			Kind:            kind,
		},
	}
	p.controllers[name] = c
	return c, nil
}

// Controller returns a previously-added controller by name.
func (p *Participant) Controller(name string) (*Controller, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.controllers[name]
	return c, ok
}

// Controllers returns a snapshot of all controllers.
func (p *Participant) Controllers() []*Controller {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Controller, 0, len(p.controllers))
	for _, c := range p.controllers {
		out = append(out, c)
	}
	return out
}

// Generation returns the current cold-swap generation. The routing core
// does not read it: its subscriptions are keyed by qualified name and
// carry no generation tag.
func (p *Participant) Generation() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

// ResetForColdswap clears the controller table and endpoint id generator
// and bumps the generation counter. Subscriptions the old controllers
// registered with the routing core are not removed or invalidated.
func (p *Participant) ResetForColdswap() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controllers = make(map[string]*Controller)
	p.idGen = NewEndpointIDGenerator()
	p.generation++
}
