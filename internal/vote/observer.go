package vote

import "context"

// Observer receives lifecycle notifications from the Manager. Calls happen
// synchronously after the corresponding state change has been persisted, so
// implementations should not block for long.
type Observer interface {
	VoteCreated(ctx context.Context, r *Record)
	VoteClosed(ctx context.Context, r *Record)
	SweepCompleted(ctx context.Context, res *SweepResult)
}

// NopObserver can be embedded by observers interested in a subset of events.
type NopObserver struct{}

func (NopObserver) VoteCreated(context.Context, *Record) {}
func (NopObserver) VoteClosed(context.Context, *Record) {}
func (NopObserver) SweepCompleted(context.Context, *SweepResult) {}

// Observers fans every notification out to each member in order.
type Observers []Observer

func (o Observers) VoteCreated(ctx context.Context, r *Record) {
	for _, obs := range o {
		obs.VoteCreated(ctx, r)
	}
}

func (o Observers) VoteClosed(ctx context.Context, r *Record) {
	for _, obs := range o {
		obs.VoteClosed(ctx, r)
	}
}

func (o Observers) SweepCompleted(ctx context.Context, res *SweepResult) {
	for _, obs := range o {
		obs.SweepCompleted(ctx, res)
	}
}
