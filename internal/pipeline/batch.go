package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultParallelism is used when RunBatch is given a non-positive limit.
const DefaultParallelism = 4

// BatchResult pairs a case with its outcome. Exactly one of Result and Err
// is set.
type BatchResult struct {
	Case   Case
	Result *Result
	Err    error
}

// RunBatch runs independent cases concurrently, at most parallelism at a
// time. A failing case does not stop the others. Results are returned in
// input order; the error is non-nil only when ctx is cancelled.
func (c *Coordinator) RunBatch(ctx context.Context, cases []Case, parallelism int) ([]BatchResult, error) {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	results := make([]BatchResult, len(cases))
	var g errgroup.Group
	g.SetLimit(parallelism)

	for i, cs := range cases {
		results[i].Case = cs
		if ctx.Err() != nil {
			results[i].Err = ctx.Err()
			continue
		}
		g.Go(func() error {
			res, err := c.Run(ctx, cs)
			if err != nil {
				c.logger.Warn("Batch case failed", zap.Int("index", i), zap.String("name", cs.Name), zap.Error(err))
				results[i].Err = err
				return nil
			}
			results[i].Result = res
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("Batch complete", zap.Int("cases", len(cases)), zap.Int("failed", countFailed(results)))
	return results, ctx.Err()
}

func countFailed(results []BatchResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
