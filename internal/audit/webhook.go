package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SignatureHeader carries the HMAC of the request body when a secret is set.
const SignatureHeader = "X-FieldSight-Signature"

const (
	maxPendingEntries = 1000
	retryBackoff      = 200 * time.Millisecond
)

// WebhookConfig configures delivery to a SIEM or log collector over HTTP.
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Secret  string            `mapstructure:"secret"`
	Timeout time.Duration     `mapstructure:"timeout"`
	// MaxRetries applies to transport errors and 5xx answers only.
	MaxRetries int `mapstructure:"max_retries"`
	// BatchSize > 0 buffers entries and posts them as a JSON array.
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// WebhookShipper posts audit entries to an HTTP endpoint, one request per
// entry or, when batching, one request per flush.
type WebhookShipper struct {
	cfg    WebhookConfig
	client *http.Client

	mu      sync.Mutex
	pending []*LogEntry

	wake    chan struct{}
	quit    chan struct{}
	drained chan struct{}
	once    sync.Once
}

// NewWebhookShipper creates a webhook shipper. Batching starts a flush loop
// that Close stops after a final flush.
func NewWebhookShipper(cfg *WebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	c := *cfg
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	ws := &WebhookShipper{
		cfg:     c,
		client:  &http.Client{Timeout: c.Timeout},
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	if c.BatchSize > 0 {
		go ws.flushLoop()
	} else {
		close(ws.drained)
	}
	return ws, nil
}

// Ship posts the entry, or queues it when batching. A full queue falls back
// to posting inline so that entries are not dropped.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	if ws.cfg.BatchSize <= 0 {
		return ws.post(ctx, entry)
	}

	ws.mu.Lock()
	if len(ws.pending) >= maxPendingEntries {
		ws.mu.Unlock()
		return ws.post(ctx, entry)
	}
	ws.pending = append(ws.pending, entry)
	ready := len(ws.pending) >= ws.cfg.BatchSize
	ws.mu.Unlock()

	if ready {
		select {
		case ws.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

func (ws *WebhookShipper) flushLoop() {
	defer close(ws.drained)
	ticker := time.NewTicker(ws.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-ws.wake:
		case <-ws.quit:
			ws.flush()
			return
		}
		ws.flush()
	}
}

func (ws *WebhookShipper) flush() {
	ws.mu.Lock()
	batch := ws.pending
	ws.pending = nil
	ws.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	budget := ws.cfg.Timeout * time.Duration(ws.cfg.MaxRetries+1)
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	if err := ws.post(ctx, batch); err != nil {
		slog.Error("failed to deliver audit batch", "url", ws.cfg.URL, "entries", len(batch), "error", err)
	}
}

func (ws *WebhookShipper) post(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= ws.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}
		retryable, err := ws.send(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return lastErr
}

func (ws *WebhookShipper) send(ctx context.Context, body []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}
	if ws.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(ws.cfg.Secret, body))
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("webhook rejected entry with status %d", resp.StatusCode)
	}
	return false, nil
}

// Sign returns "sha256=" followed by the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Close flushes queued entries and stops the flush loop.
func (ws *WebhookShipper) Close() error {
	ws.once.Do(func() { close(ws.quit) })
	<-ws.drained
	return nil
}
