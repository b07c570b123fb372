package facts

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"payrecon/model"
)

// ExtractAll extracts every record on a bounded group of workers. Results
// keep the input order.
func ExtractAll(ctx context.Context, recs []model.PaymentRecord) ([]model.FinancialFacts, error) {
	out := make([]model.FinancialFacts, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range recs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = Extract(recs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
