package metrics

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Exporter sends a batch of drained DataPoints to some downstream sink.
// Flush gives the exporter a chance to push anything it buffers internally
// (a pull-based exporter can treat this as a no-op), and Shutdown releases
// any resources the exporter holds; Collector.Stop awaits both on every
// registered exporter before returning.
type Exporter interface {
	Name() string
	Export(ctx context.Context, points []DataPoint) error
	Flush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// dispatch fans points out to every exporter concurrently. One exporter's
// failure is reported to onFailure and never cancels or blocks the others
// — swallowed per-exporter, not propagated.
func dispatch(ctx context.Context, exporters []Exporter, points []DataPoint, onFailure func(name string, err error)) {
	var g errgroup.Group
	for _, exp := range exporters {
		exp := exp
		g.Go(func() error {
			if err := exp.Export(ctx, points); err != nil {
				onFailure(exp.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
