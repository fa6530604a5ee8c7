package bodhi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/harunnryd/bodhi/pkg/errorsx"
	"github.com/harunnryd/bodhi/pkg/metrics"
	"github.com/harunnryd/bodhi/pkg/redact"
	"github.com/harunnryd/bodhi/pkg/resilience"
	"github.com/harunnryd/bodhi/pkg/session"
)

const maxErrorBody = 1 << 12

// BatchResult is the response of the file upload API.
type BatchResult struct {
	TransactionID string `json:"-"`
	CallID        string `json:"call_id"`
	Text          string `json:"text"`
}

// RequestError is a non-success HTTP response from the upload API.
type RequestError struct {
	StatusCode int
	Status     session.HandshakeStatus
	Body       string
}

func (e *RequestError) Error() string {
	if e.Status != session.StatusUnknown {
		return fmt.Sprintf("transcribe request failed (%d): %s", e.StatusCode, e.Status.Description())
	}
	return fmt.Sprintf("transcribe request failed (%d): %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when repeated.
func (e *RequestError) Temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

type batchClient struct {
	parent  *Client
	http    *http.Client
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
}

func newBatchClient(c *Client) *batchClient {
	hc := c.cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 2 * time.Minute}
	}
	retry := resilience.NewRetryPolicy(c.cfg.MaxRetries, c.cfg.Backoff)
	retry.Retryable = retryable
	return &batchClient{
		parent:  c,
		http:    hc,
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(3, 30*time.Second),
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	if resilience.IsRateLimit(err) {
		return true
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.Temporary()
	}
	return true
}

// TranscribeFile uploads a WAV file to the non-streaming API.
func (c *Client) TranscribeFile(ctx context.Context, path string) (BatchResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BatchResult{}, errorsx.Wrap(fmt.Errorf("read audio file: %w", err), errorsx.ReasonAudioSource)
	}
	return c.TranscribeBytes(ctx, filepath.Base(path), data)
}

// TranscribeBytes uploads WAV bytes under the given file name.
func (c *Client) TranscribeBytes(ctx context.Context, name string, wav []byte) (BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	b := c.batch
	txID := c.ids.Next()
	logger := c.logger.With(slog.String("transaction_id", txID))

	if !b.breaker.Allow() {
		logger.Warn("batch_circuit_open")
		return BatchResult{TransactionID: txID}, errorsx.Wrap(resilience.ErrCircuitOpen, errorsx.ReasonCircuitOpen)
	}

	body, contentType, err := encodeUpload(txID, c.cfg.Model, name, wav)
	if err != nil {
		return BatchResult{TransactionID: txID}, errorsx.Wrap(err, errorsx.ReasonBatchRequest)
	}

	start := time.Now()
	attempts := 0
	var res BatchResult
	err = b.retry.Do(ctx, func(ctx context.Context) error {
		if attempts > 0 && !b.breaker.Allow() {
			return resilience.ErrCircuitOpen
		}
		attempts++
		r, err := b.post(ctx, body, contentType)
		if err != nil {
			logger.Warn("batch_request_failed",
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()))
			b.breaker.OnError(err)
			return err
		}
		res = r
		return nil
	})
	metrics.Emit(c.obs, metrics.EventBatchRequest, float64(time.Since(start).Milliseconds()),
		map[string]string{"transaction_id": txID, "provider": providerName},
		map[string]any{"attempts": attempts, "ok": err == nil})
	if err != nil {
		var re *RequestError
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			err = errorsx.Wrap(err, errorsx.ReasonCircuitOpen)
		case resilience.IsRateLimit(err):
			err = errorsx.Wrap(err, errorsx.ReasonRateLimit)
		case errors.As(err, &re) && re.Status != session.StatusUnknown:
			err = errorsx.Wrap(err, errorsx.ReasonHandshakeRejected)
		default:
			err = errorsx.Wrap(err, errorsx.ReasonBatchRequest)
		}
		return BatchResult{TransactionID: txID}, err
	}
	b.breaker.OnSuccess()
	res.TransactionID = txID
	logger.Info("batch_transcribed",
		slog.String("call_id", res.CallID),
		slog.Int("attempts", attempts),
		slog.String("text", redact.Text(res.Text)))
	return res, nil
}

func (b *batchClient) post(ctx context.Context, body []byte, contentType string) (BatchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.parent.cfg.HTTPURL, bytes.NewReader(body))
	if err != nil {
		return BatchResult{}, err
	}
	req.Header = b.parent.header()
	req.Header.Set("Content-Type", contentType)

	resp, err := b.http.Do(req)
	if err != nil {
		return BatchResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		rl := resilience.RateLimitError{Provider: providerName, Message: "rate limited by transcribe api"}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			rl.RetryAfter = time.Duration(secs) * time.Second
		}
		return BatchResult{}, rl
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return BatchResult{}, &RequestError{
			StatusCode: resp.StatusCode,
			Status:     session.ClassifyStatus(resp.StatusCode),
			Body:       string(bytes.TrimSpace(raw)),
		}
	}
	var out BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return BatchResult{}, fmt.Errorf("decode transcribe response: %w", err)
	}
	return out, nil
}

// encodeUpload builds the multipart form: transaction_id, model and the
// audio_file part typed audio/wav.
func encodeUpload(txID, model, name string, wav []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("transaction_id", txID); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("model", model); err != nil {
		return nil, "", err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio_file"; filename=%q`, name))
	h.Set("Content-Type", "audio/wav")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
