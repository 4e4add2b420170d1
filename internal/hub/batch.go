package hub

import (
	"context"
	"sync"

	"github.com/maltedev/shop-image-collector/internal/models"
	"golang.org/x/sync/semaphore"
)

const DefaultBatchConcurrency = 4

// BatchItem pairs an input URL with its result.
type BatchItem struct {
	URL    string                   `json:"url"`
	Result *models.CollectionResult `json:"result"`
}

// CollectBatch collects every URL with at most concurrency collections in
// flight. Results keep the input order. URLs not started before ctx is done
// get a failure result.
func (h *CollectionHub) CollectBatch(ctx context.Context, urls []string, opts *models.Options, concurrency int) []BatchItem {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	items := make([]BatchItem, len(urls))
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup

	for i, u := range urls {
		items[i].URL = u

		if err := sem.Acquire(ctx, 1); err != nil {
			items[i].Result = models.NewFailure(models.StrategyNone, err.Error())
			continue
		}

		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			defer sem.Release(1)
			items[i].Result = h.Collect(ctx, u, opts)
		}(i, u)
	}

	wg.Wait()

	h.logger.Info("batch finished", "urls", len(urls), "concurrency", concurrency)
	return items
}
