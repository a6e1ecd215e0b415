package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// WebhookTransport POSTs the envelope JSON to one or more HTTP endpoints in
// parallel, each with its own retry/backoff, per spec.md §4.6.
type WebhookTransport struct {
	urls        []string
	secret      string
	timeout     time.Duration
	retries     int
	kgsmVersion string
	client      *http.Client
}

// NewWebhookTransport builds a transport for urls. retries is the number of
// retry attempts after the first try; timeout bounds each individual
// attempt.
func NewWebhookTransport(urls []string, secret string, timeout time.Duration, retries int, kgsmVersion string) *WebhookTransport {
	return &WebhookTransport{
		urls:        urls,
		secret:      secret,
		timeout:     timeout,
		retries:     retries,
		kgsmVersion: kgsmVersion,
		client:      &http.Client{},
	}
}

func (w *WebhookTransport) Name() string { return "webhook" }

func (w *WebhookTransport) Emit(env Envelope) error {
	payload, err := Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling envelope: %w", err)
	}

	group, ctx := errgroup.WithContext(context.Background())
	for _, url := range w.urls {
		url := url
		group.Go(func() error {
			return w.postWithRetry(ctx, url, payload)
		})
	}
	return group.Wait()
}

func (w *WebhookTransport) postWithRetry(ctx context.Context, url string, payload []byte) error {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		Multiplier:          2,
		RandomizationFactor: 0,
		MaxInterval:         30 * time.Second,
	}
	bo.Reset()

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := w.post(ctx, url, payload, attempt-1)
		if err != nil {
			slog.Warn("events.WebhookTransport.postWithRetry", "url", url, "attempt", attempt, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(w.retries+1)))

	if err != nil {
		return fmt.Errorf("webhook %s failed after %d attempts: %w", url, w.retries+1, err)
	}
	return nil
}

func (w *WebhookTransport) post(ctx context.Context, url string, payload []byte, retryCount int) error {
	reqCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "KGSM/"+w.kgsmVersion)
	req.Header.Set("X-KGSM-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-KGSM-Retry-Count", strconv.Itoa(retryCount))
	if w.secret != "" {
		req.Header.Set("X-KGSM-Signature", "sha256="+signHMAC(payload, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook %s returned %d", url, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Client errors aren't worth retrying; mark permanent so
		// backoff.Retry stops instead of hammering a misconfigured
		// endpoint for webhook_retry_count attempts.
		return backoff.Permanent(fmt.Errorf("webhook %s returned %d", url, resp.StatusCode))
	}
	return nil
}

func signHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
