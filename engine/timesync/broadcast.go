package timesync

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Broadcast fans send out to every participant concurrently and returns
// the first error encountered, cancelling the remaining sends' context,
// so one slow peer connection does not serialize the others. The policy
// types in this package do not call it themselves.
func Broadcast(ctx context.Context, participants []string, send func(ctx context.Context, participant string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range participants {
		participant := p
		g.Go(func() error {
			return send(gctx, participant)
		})
	}
	return g.Wait()
}
