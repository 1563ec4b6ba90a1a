// Package webhook delivers payment batches to the configured HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kodjooo/email-payment-processor/internal/models"
	"github.com/kodjooo/email-payment-processor/internal/procerror"
	"github.com/kodjooo/email-payment-processor/internal/retry"
)

var log = logrus.New()

// SetLogger sets a custom logger for this package.
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// Client posts payment batches with bearer-token authentication and bounded
// retry for transient failures.
type Client struct {
	url    string
	token  string
	http   *http.Client
	policy retry.Policy
	now    func() time.Time
}

// New creates a delivery client. maxAttempts bounds retries of transient
// (network and 5xx) failures; 4xx responses are never retried.
func New(url, token string, timeout time.Duration, maxAttempts int) *Client {
	return &Client{
		url:   url,
		token: token,
		http:  &http.Client{Timeout: timeout},
		policy: retry.Policy{
			MaxAttempts:     maxAttempts,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			Retryable: func(err error) bool {
				return procerror.Classify(err) != procerror.BucketDeliveryRejected
			},
		},
		now: time.Now,
	}
}

// Deliver serializes the batch per the webhook contract and posts it.
// Returns nil only on a 2xx response. The caller must not mark payments
// delivered unless Deliver returns nil.
func (c *Client) Deliver(ctx context.Context, batch []models.PaymentRecord) error {
	payload := models.NewWebhookPayload(c.now(), batch)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error encoding webhook payload: %w", err)
	}

	log.WithFields(logrus.Fields{
		"url":      c.url,
		"payments": payload.Data.PaymentsCount,
	}).Info("Delivering payment batch")

	return c.policy.Do(ctx, func() error {
		return c.post(ctx, body)
	})
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &procerror.DeliveryError{Permanent: true, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		// Connection refused, DNS, timeout: transient.
		return &procerror.DeliveryError{Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Warn("Failed to close response body")
		}
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		log.WithField("status", resp.StatusCode).Info("Webhook delivered")
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		log.WithField("status", resp.StatusCode).Error("Webhook rejected the payload")
		return &procerror.DeliveryError{StatusCode: resp.StatusCode, Permanent: true}
	default:
		log.WithField("status", resp.StatusCode).Warn("Webhook returned a transient error")
		return &procerror.DeliveryError{StatusCode: resp.StatusCode}
	}
}
