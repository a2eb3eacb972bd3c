package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/pkg/logger"
)

const (
	maxBackpressureRetries = 5
	backpressureDelay      = 200 * time.Millisecond
)

type outcome int

const (
	outcomeAccepted outcome = iota
	outcomeReplayed
	outcomeBackpressured
	outcomeFailed
)

// Client is a small JSON client for the recon HTTP API.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient creates a client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rdr io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// getJSON fetches path and decodes a 200 response into v.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// submit posts one submission, retrying briefly on backpressure.
func (c *Client) submit(ctx context.Context, sub model.Submission) outcome { //nolint:gocritic // submission is sent by value
	delay := backpressureDelay
	for attempt := 0; ; attempt++ {
		resp, err := c.do(ctx, http.MethodPost, "/activities", sub)
		if err != nil {
			return outcomeFailed
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusAccepted:
			return outcomeAccepted
		case http.StatusConflict:
			return outcomeReplayed
		case http.StatusTooManyRequests:
			if attempt >= maxBackpressureRetries {
				return outcomeBackpressured
			}
			select {
			case <-ctx.Done():
				return outcomeFailed
			case <-time.After(delay):
			}
			delay *= 2
		default:
			return outcomeFailed
		}
	}
}

// submitAll posts subs with a pool of workers.
func submitAll(ctx context.Context, client *Client, workers int, subs []model.Submission, stats *Stats) {
	if workers < 1 {
		workers = 1
	}
	logger.Get().Info(ctx, "submitting activities", logger.Int("count", len(subs)), logger.Int("workers", workers))

	var accepted, replayed, backpressured, failed, submitted int64
	ch := make(chan model.Submission, workers*2)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range ch {
				atomic.AddInt64(&submitted, 1)
				switch client.submit(ctx, sub) {
				case outcomeAccepted:
					atomic.AddInt64(&accepted, 1)
				case outcomeReplayed:
					atomic.AddInt64(&replayed, 1)
				case outcomeBackpressured:
					atomic.AddInt64(&backpressured, 1)
				default:
					atomic.AddInt64(&failed, 1)
				}
			}
		}()
	}

	func() {
		defer close(ch)
		for _, sub := range subs {
			select {
			case <-ctx.Done():
				return
			case ch <- sub:
			}
		}
	}()
	wg.Wait()

	stats.Submitted = int(submitted)
	stats.Accepted = int(accepted)
	stats.Replayed = int(replayed)
	stats.Backpressured = int(backpressured)
	stats.Failed = int(failed)

	logger.Get().Info(ctx, "submission completed",
		logger.Int("accepted", stats.Accepted),
		logger.Int("replayed", stats.Replayed),
		logger.Int("backpressured", stats.Backpressured),
		logger.Int("failed", stats.Failed),
	)
}
