package order

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// BatchItem is the outcome of one order in a batch.
type BatchItem struct {
	OrderID int64  `json:"order_id"`
	OK      bool   `json:"ok"`
	Status  Status `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BatchReport aggregates a single pass over the ids. Earlier successes are
// not rolled back when a later item fails.
type BatchReport struct {
	AllSucceeded bool        `json:"all_succeeded"`
	Succeeded    int         `json:"succeeded"`
	Failed       int         `json:"failed"`
	Items        []BatchItem `json:"items"`
}

// runBatch applies fn to every id on a bounded pool. Results are written by
// index, and the aggregate is counted from those same results afterwards.
func (s *Service) runBatch(ctx context.Context, ids []int64, fn func(context.Context, int64) (*Order, error)) *BatchReport {
	items := make([]BatchItem, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchWorkers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			item := BatchItem{OrderID: id}
			o, err := fn(gctx, id)
			if err != nil {
				item.Error = err.Error()
			} else {
				item.OK = true
				item.Status = o.Status
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	rep := &BatchReport{Items: items}
	for _, it := range items {
		if it.OK {
			rep.Succeeded++
		} else {
			rep.Failed++
		}
	}
	rep.AllSucceeded = rep.Failed == 0
	return rep
}

func (s *Service) BatchSubmitSettlement(ctx context.Context, ids []int64) *BatchReport {
	rep := s.runBatch(ctx, ids, s.SubmitSettlement)
	s.log(ctx).Info().Int("succeeded", rep.Succeeded).Int("failed", rep.Failed).Msg("batch submit finished")
	return rep
}

func (s *Service) BatchApproveSettlement(ctx context.Context, ids []int64, result, remark string) *BatchReport {
	rep := s.runBatch(ctx, ids, func(ctx context.Context, id int64) (*Order, error) {
		return s.ApproveSettlement(ctx, id, result, remark)
	})
	s.log(ctx).Info().Int("succeeded", rep.Succeeded).Int("failed", rep.Failed).Msg("batch approve finished")
	return rep
}

// BatchCalculateSettlement returns results in input order. Unknown ids are
// left out; any other failure aborts the batch.
func (s *Service) BatchCalculateSettlement(ctx context.Context, ids []int64) ([]*SettlementResult, error) {
	slots := make([]*SettlementResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchWorkers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			r, err := s.CalculateSettlement(gctx, id)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			slots[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*SettlementResult, 0, len(ids))
	for _, r := range slots {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}
