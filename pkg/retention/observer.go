package retention

import "context"

// Observer is told about every completed pruning pass.
type Observer interface {
	RecordPruned(profile string, deleted, failed int)
}

type observerKey struct{}

// WithObserver stores o in ctx for targets to report to.
func WithObserver(ctx context.Context, o Observer) context.Context {
	return context.WithValue(ctx, observerKey{}, o)
}

// Report forwards res to the observer in ctx, if there is one.
func Report(ctx context.Context, profile string, res Result) {
	if o, ok := ctx.Value(observerKey{}).(Observer); ok && o != nil {
		o.RecordPruned(profile, len(res.Deleted), len(res.Failed))
	}
}
