package vespa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/eltociear/marqo/internal/errors"
)

// FeedBatch feeds a batch of documents concurrently, bounded by a
// semaphore. Responses come back in input order; a failed document marks
// the batch's error flag instead of aborting it. In-flight writes may
// still commit after cancellation, so feeds must be idempotent by
// document id.
func (c *Client) FeedBatch(ctx context.Context, batch []Document, schema string,
	concurrency int, timeout time.Duration) *FeedBatchResponse {

	if len(batch) == 0 {
		return &FeedBatchResponse{Responses: []FeedResponse{}}
	}
	if concurrency <= 0 {
		concurrency = DefaultFeedConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultFeedTimeout
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	responses := make([]FeedResponse, len(batch))
	var wg sync.WaitGroup

	for i := range batch {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancellation drops the remaining documents.
			responses[i] = feedErrorResponse(batch[i].ID, err)
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			responses[i] = c.feedDocument(ctx, batch[i], schema, timeout)
		}(i)
	}
	wg.Wait()

	return collectFeedResponses(responses)
}

// FeedBatchSync feeds documents sequentially. Debugging only; sequential
// feeding can be very slow.
func (c *Client) FeedBatchSync(ctx context.Context, batch []Document, schema string) *FeedBatchResponse {
	responses := make([]FeedResponse, len(batch))
	for i := range batch {
		responses[i] = c.feedDocument(ctx, batch[i], schema, DefaultFeedTimeout)
	}
	return collectFeedResponses(responses)
}

// FeedBatchWorkerPool feeds documents through a fixed worker pool.
// Debugging only; prefer FeedBatch.
func (c *Client) FeedBatchWorkerPool(ctx context.Context, batch []Document, schema string,
	workers int) *FeedBatchResponse {

	if workers <= 0 {
		workers = DefaultFeedConcurrency
	}
	responses := make([]FeedResponse, len(batch))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				responses[i] = c.feedDocument(ctx, batch[i], schema, DefaultFeedTimeout)
			}
		}()
	}
	for i := range batch {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return collectFeedResponses(responses)
}

func (c *Client) feedDocument(ctx context.Context, doc Document, schema string, timeout time.Duration) FeedResponse {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/document/v1/%s/%s/docid/%s",
		c.documentURL, schema, schema, url.PathEscape(doc.ID))

	payload, err := json.Marshal(map[string]any{"fields": doc.Fields})
	if err != nil {
		return feedErrorResponse(doc.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return feedErrorResponse(doc.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return feedErrorResponse(doc.ID, errors.Transient("feed request failed", err))
	}
	defer resp.Body.Close()

	var body FeedResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	body.Status = resp.StatusCode
	if body.ID == "" {
		body.ID = doc.ID
	}
	return body
}

func feedErrorResponse(id string, err error) FeedResponse {
	return FeedResponse{Status: 0, ID: id, Message: err.Error()}
}

func collectFeedResponses(responses []FeedResponse) *FeedBatchResponse {
	batchResponse := &FeedBatchResponse{Responses: responses}
	for i := range responses {
		if responses[i].Status < 200 || responses[i].Status >= 300 {
			batchResponse.Errors = true
		}
	}
	return batchResponse
}
