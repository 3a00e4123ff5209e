package checkpoint

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"keystone/internal/domain"
)

const maxWitnessResponse = 4 << 10

// Webhook posts checkpoints to an HTTP witness endpoint.
type Webhook struct {
	Name       string
	URL        string
	AuthHeader string
	AuthValue  string
	HTTPClient *http.Client
	Clock      func() time.Time
}

func (w *Webhook) PublisherName() string {
	if w.Name == "" {
		return "webhook"
	}
	return w.Name
}

func (w *Webhook) Publish(ctx context.Context, payload Payload) domain.CheckpointReceipt {
	receipt := domain.CheckpointReceipt{
		Publisher:   w.PublisherName(),
		WitnessURL:  w.URL,
		PublishedAt: w.now(),
	}
	if w.URL == "" {
		receipt.Status = domain.CheckpointStatusFailed
		receipt.ErrorCode = domain.CheckpointErrorBadConfig
		return receipt
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload.Body))
	if err != nil {
		receipt.Status = domain.CheckpointStatusFailed
		receipt.ErrorCode = domain.CheckpointErrorBadConfig
		return receipt
	}
	req.Header.Set("Content-Type", "application/json")
	if w.AuthHeader != "" {
		req.Header.Set(w.AuthHeader, w.AuthValue)
	}

	resp, err := w.client().Do(req)
	if err != nil {
		receipt.Status = domain.CheckpointStatusFailed
		receipt.ErrorCode = domain.CheckpointErrorNetwork
		return receipt
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxWitnessResponse))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		receipt.Status = domain.CheckpointStatusPublished
		receipt.WitnessResponseJSON = body
	case resp.StatusCode >= 500:
		receipt.Status = domain.CheckpointStatusFailed
		receipt.ErrorCode = domain.CheckpointErrorWitness5xx
	default:
		receipt.Status = domain.CheckpointStatusFailed
		receipt.ErrorCode = domain.CheckpointErrorNetwork
	}
	return receipt
}

func (w *Webhook) client() *http.Client {
	if w.HTTPClient != nil {
		return w.HTTPClient
	}
	return &http.Client{Timeout: publishTimeout}
}

func (w *Webhook) now() time.Time {
	if w.Clock != nil {
		return w.Clock()
	}
	return time.Now()
}

var _ Publisher = (*Webhook)(nil)
