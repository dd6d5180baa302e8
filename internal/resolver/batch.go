package resolver

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/consentd/internal/model"
)

func (r *Resolver) resolveConsents(ctx context.Context, ids []uint64) ([]*model.ConsentRecord, error) {
	return resolveBatched(ctx, r, "consent", ids, r.Consent)
}

// resolveBatched resolves ids in groups of r.batchSize; each group runs
// concurrently and groups run one after another. Ids that fail to resolve
// are logged and skipped. Results keep the order of ids.
func resolveBatched[T any](ctx context.Context, r *Resolver, what string, ids []uint64, fn func(context.Context, uint64) (*T, error)) ([]*T, error) {
	results := make([]*T, len(ids))
	for start := 0; start < len(ids); start += r.batchSize {
		end := min(start+r.batchSize, len(ids))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				v, err := fn(ctx, ids[i])
				if err != nil {
					r.logger.Warn("skipping unresolvable record",
						"op", "resolver.batch", "kind", what, "id", ids[i], "err", err)
					return nil
				}
				results[i] = v
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, model.Connectivity("resolver.batch", err)
		}
	}

	out := results[:0]
	for _, v := range results {
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}
