package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"recibod/pkg/logx"
)

// PushConfig configures the HTTP push-gateway sender.
type PushConfig struct {
	URL        string
	Token      string // optional bearer token
	BatchSize  int
	RatePerSec int
	RetryMax   int
	Timeout    time.Duration
}

// PushSender posts token batches as JSON to a push gateway and sums the
// per-batch counts the gateway reports.
type PushSender struct {
	cfg     PushConfig
	client  *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

type pushRequest struct {
	Tokens       []string `json:"tokens"`
	Notification struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
	Data map[string]string `json:"data,omitempty"`
}

type pushResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

func NewPushSender(cfg PushConfig, log logx.Logger) (*PushSender, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("delivery.url is required for push mode")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PushSender{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

func (s *PushSender) Send(ctx context.Context, tokens []string, p Payload) (int, int, error) {
	var (
		sent, failed int
		lastErr      error
	)
	for _, part := range chunk(tokens, s.cfg.BatchSize) {
		if err := s.limiter.Wait(ctx); err != nil {
			return sent, failed, err
		}
		ok, bad, err := s.sendBatch(ctx, part, p)
		if err != nil {
			// Batch never reached the gateway: count every token failed.
			failed += len(part)
			lastErr = err
			s.log.Warn("push batch failed", logx.Int("tokens", len(part)), logx.Err(err))
			continue
		}
		sent += ok
		failed += bad
	}
	return sent, failed, lastErr
}

func (s *PushSender) sendBatch(ctx context.Context, tokens []string, p Payload) (int, int, error) {
	var req pushRequest
	req.Tokens = tokens
	req.Notification.Title = p.Title
	req.Notification.Body = p.Body
	req.Data = p.Data

	body, err := json.Marshal(req)
	if err != nil {
		return 0, 0, err
	}

	var last error
	for attempt := 0; attempt <= s.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			delay := time.Duration(200+100*attempt) * time.Millisecond
			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				return 0, 0, ctx.Err()
			case <-tmr.C:
			}
		}

		ok, bad, err := s.post(ctx, body)
		if err == nil {
			return ok, bad, nil
		}
		last = err
	}
	return 0, 0, last
}

func (s *PushSender) post(ctx context.Context, body []byte) (int, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, 0, fmt.Errorf("push gateway status %d", resp.StatusCode)
	}

	var pr pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, 0, fmt.Errorf("push gateway response: %w", err)
	}
	return pr.Success, pr.Failure, nil
}
