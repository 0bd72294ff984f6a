package transfer

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// QueueSize is the capacity of the channel returned by Report.
const QueueSize = 16

// Report starts a goroutine that passes samples to fn. Send samples on the
// returned channel and call done once the producer has finished; done closes
// the channel and waits for fn to return. The consumer stops early when ctx
// is cancelled.
func Report(ctx context.Context, fn func(Sample)) (samples chan<- Sample, done func() error) {
	ch := make(chan Sample, QueueSize)
	var g errgroup.Group
	g.Go(func() error {
		for {
			select {
			case s, ok := <-ch:
				if !ok {
					return nil
				}
				fn(s)
			case <-ctx.Done():
				return nil
			}
		}
	})
	return ch, func() error {
		close(ch)
		return g.Wait()
	}
}
