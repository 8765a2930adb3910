// Package backend provides the BatchSubmitter implementations an import can
// be sent to: a JSON HTTP API, a Postgres table, or a log-only dry run.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/JonMunkholm/subimport/internal/core"
)

// maxRetryAfter caps how long a Retry-After header may delay a retry.
const maxRetryAfter = 60

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// HTTPConfig holds subscriber API connection settings.
type HTTPConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// HTTP submits batches as JSON to a subscriber API.
//
// Request:  POST {"subscribers":[{"row":1,"email":"a@x.com",...}]}
// Response: {"results":[{"row":1,"ok":true},{"row":2,"ok":false,"error":"..."}]}
type HTTP struct {
	client *http.Client
	cfg    HTTPConfig
	logger *slog.Logger
}

// NewHTTP returns an HTTP submitter. A nil client gets one with cfg.Timeout.
func NewHTTP(cfg HTTPConfig, client *http.Client, logger *slog.Logger) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	return &HTTP{client: client, cfg: cfg, logger: logger}
}

type batchRequest struct {
	Subscribers []core.Record `json:"subscribers"`
}

type batchResponse struct {
	Results []rowResult `json:"results"`
}

type rowResult struct {
	Row   int    `json:"row"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// StatusError is a non-2xx response from the subscriber API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("subscriber api: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("subscriber api: HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// SubmitBatch implements core.BatchSubmitter.
func (h *HTTP) SubmitBatch(ctx context.Context, records []core.Record) ([]core.RowOutcome, error) {
	payload, err := json.Marshal(batchRequest{Subscribers: records})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal body: %v", core.ErrBatchRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: new request: %v", core.ErrBatchRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if h.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.Token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, h.statusError(resp)
	}

	var out batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	outcomes := make([]core.RowOutcome, len(out.Results))
	for i, r := range out.Results {
		outcomes[i] = core.RowOutcome{RowIndex: r.Row, OK: r.OK, Reason: r.Error}
	}
	h.logger.Debug("batch accepted", "records", len(records), "results", len(outcomes))
	return outcomes, nil
}

func (h *HTTP) statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	serr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}

	if !serr.Retryable() {
		return fmt.Errorf("%w: %w", core.ErrBatchRejected, serr)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, ok := retryAfterSeconds(resp.Header.Get("Retry-After")); ok {
			return fmt.Errorf("%w; %w", serr, backoff.RetryAfter(secs))
		}
	}
	return serr
}

// retryAfterSeconds parses the delay-seconds form of Retry-After.
func retryAfterSeconds(v string) (int, bool) {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0, false
	}
	return min(secs, maxRetryAfter), true
}
