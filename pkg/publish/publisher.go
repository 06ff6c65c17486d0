// Package publish delivers decision artifacts to the ingestion gate.
// Delivery is at-least-once: the gate's idempotent admission makes retries
// safe, so the publisher retries transient failures aggressively and surfaces
// the gate's verdict untouched.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/EsosaOrumwese/fraud-detection-system-sub001/pkg/contracts"
)

// errRetryable wraps failures worth another attempt: transport errors,
// timeouts, throttling, and gate-side 5xx.
var errRetryable = errors.New("publish: retryable")

// Sink accepts one envelope and returns the gate's verdict on it.
type Sink interface {
	Push(ctx context.Context, env contracts.EventEnvelope) (contracts.PublishOutcome, error)
}

// HTTPSink pushes envelopes to the ingestion gate's push endpoint.
type HTTPSink struct {
	base   string
	client *http.Client
}

// NewHTTPSink builds a sink for the gate at base (scheme://host[:port]).
func NewHTTPSink(base string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSink{base: base, client: client}
}

type pushResponse struct {
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// Push implements Sink.
func (s *HTTPSink) Push(ctx context.Context, env contracts.EventEnvelope) (contracts.PublishOutcome, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("publish: encode envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/v1/ingest/push", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("publish: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if retryableStatus(resp.StatusCode) {
		return "", fmt.Errorf("%w: gate returned %d", errRetryable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("publish: gate returned %d", resp.StatusCode)
	}

	var parsed pushResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return "", fmt.Errorf("publish: decode response: %w", err)
	}
	outcome := contracts.PublishOutcome(parsed.Outcome)
	if !outcome.Valid() {
		return "", fmt.Errorf("publish: undefined outcome %q from gate", parsed.Outcome)
	}
	return outcome, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

// SequenceResult is the recorded outcome of publishing one decision's
// artifact set.
type SequenceResult struct {
	Decision   contracts.PublishOutcome
	Actions    []contracts.PublishOutcome
	Halted     bool
	HaltReason string
}

// Publisher retries pushes against a Sink with backoff and a shared rate
// limit across workers.
type Publisher struct {
	sink        Sink
	limiter     *rate.Limiter
	backoff     Backoff
	maxAttempts int
	log         *slog.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPublisher builds a publisher. limiter may be nil to publish unthrottled.
func NewPublisher(sink Sink, limiter *rate.Limiter, backoff Backoff, maxAttempts int, log *slog.Logger) *Publisher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		sink:        sink,
		limiter:     limiter,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		log:         log.With("component", "publisher"),
		sleep:       sleepCtx,
	}
}

// PublishArtifacts pushes the decision envelope first, then each action
// envelope in order. Ordering is a hard rule: an action intent must never be
// visible before its decision.
//
// A failed decision push returns an error with nothing recorded, so the
// caller leaves the checkpoint unproven and the event is redelivered. A
// quarantined decision skips all actions. A failed or quarantined action
// halts the remaining actions but keeps the outcomes gathered so far.
func (p *Publisher) PublishArtifacts(ctx context.Context, artifacts contracts.DecisionArtifacts) (SequenceResult, error) {
	decisionOutcome, err := p.publishOne(ctx, artifacts.DecisionEnvelope)
	if err != nil {
		return SequenceResult{}, fmt.Errorf("publish: decision %s: %w", artifacts.Decision.DecisionID, err)
	}

	result := SequenceResult{Decision: decisionOutcome}
	if decisionOutcome == contracts.PublishQuarantine {
		result.Halted = false
		p.log.Warn("decision quarantined, actions withheld", "decision_id", artifacts.Decision.DecisionID)
		return result, nil
	}

	for i, env := range artifacts.ActionEnvelopes {
		outcome, err := p.publishOne(ctx, env)
		if err != nil {
			result.Halted = true
			result.HaltReason = err.Error()
			p.log.Error("action publish halted", "decision_id", artifacts.Decision.DecisionID,
				"action_index", i, "error", err)
			return result, nil
		}
		result.Actions = append(result.Actions, outcome)
		if outcome == contracts.PublishQuarantine {
			p.log.Warn("action quarantined, remaining actions withheld",
				"decision_id", artifacts.Decision.DecisionID, "action_index", i)
			return result, nil
		}
	}
	return result, nil
}

func (p *Publisher) publishOne(ctx context.Context, env contracts.EventEnvelope) (contracts.PublishOutcome, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		outcome, err := p.sink.Push(ctx, env)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if !errors.Is(err, errRetryable) {
			return "", err
		}
		if attempt == p.maxAttempts {
			break
		}

		delay := p.backoff.Delay(attempt)
		p.log.Debug("push retry", "event_id", env.EventID, "attempt", attempt, "delay", delay, "error", err)
		if err := p.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("attempts exhausted: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
