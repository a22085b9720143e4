package timesync

import "sync"

// DistributedQuantum computes the effective tick as the maximum of every
// participant's announced next-ready-time, with no central grant once
// peers are connected (§4.4 — Distributed quantum).
type DistributedQuantum struct {
	mu        sync.Mutex
	required  map[string]struct{}
	announced map[string]int64
}

// NewDistributedQuantum creates a DistributedQuantum over required.
func NewDistributedQuantum(required []string) *DistributedQuantum {
	req := make(map[string]struct{}, len(required))
	for _, p := range required {
		req[p] = struct{}{}
	}
	return &DistributedQuantum{required: req, announced: make(map[string]int64)}
}

func (*DistributedQuantum) Name() string { return "DistributedQuantum" }

// Announce records participant's next-ready-time. It returns the
// effective tick (max across all required announcements) and whether
// every required participant has announced for this round.
func (d *DistributedQuantum) Announce(participant string, nextReadyNs int64) (effectiveTickNs int64, complete bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.required[participant]; !ok {
		return 0, false
	}
	d.announced[participant] = nextReadyNs

	complete = len(d.announced) == len(d.required)
	max := int64(0)
	for _, t := range d.announced {
		if t > max {
			max = t
		}
	}
	if complete {
		d.announced = make(map[string]int64)
	}
	return max, complete
}
