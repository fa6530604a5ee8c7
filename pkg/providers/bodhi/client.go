// Package bodhi talks to the hosted Bodhi speech recognition service, both
// over the streaming websocket API and the file upload API.
package bodhi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/bodhi/pkg/adapters/stt"
	"github.com/harunnryd/bodhi/pkg/configutil"
	"github.com/harunnryd/bodhi/pkg/errorsx"
	"github.com/harunnryd/bodhi/pkg/logging"
	"github.com/harunnryd/bodhi/pkg/metrics"
	"github.com/harunnryd/bodhi/pkg/redact"
	"github.com/harunnryd/bodhi/pkg/session"
	"github.com/harunnryd/bodhi/pkg/transports"
	"github.com/harunnryd/bodhi/pkg/transports/websocket"
)

const (
	DefaultURL     = "wss://bodhi.navana.ai"
	DefaultHTTPURL = "https://bodhi.navana.ai/api/transcribe"
	DefaultModel   = "hi-banking-v2-8khz"

	HeaderAPIKey     = "x-api-key"
	HeaderCustomerID = "x-customer-id"

	providerName = "bodhi"
)

type Config struct {
	URL        string
	HTTPURL    string
	APIKey     string
	CustomerID string
	Model      string
	SampleRate int

	ConnectTimeout time.Duration
	CancelWait     time.Duration
	DrainTimeout   time.Duration

	MaxRetries int
	Backoff    time.Duration

	Dialer     transports.Dialer
	HTTPClient *http.Client
	Logger     *slog.Logger
	Observer   metrics.Observer
}

// Client is safe for concurrent use; every Transcribe call opens its own
// session and connection.
type Client struct {
	cfg    Config
	dialer transports.Dialer
	ids    *session.IDIssuer
	logger *slog.Logger
	obs    metrics.Observer
	batch  *batchClient
}

func New(cfg Config) (*Client, error) {
	if err := configutil.RequireString(cfg.APIKey, "auth.api_key"); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	if err := configutil.RequireString(cfg.CustomerID, "auth.customer_id"); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if strings.TrimSpace(cfg.HTTPURL) == "" {
		cfg.HTTPURL = DefaultHTTPURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.New(websocket.Config{HandshakeTimeout: cfg.ConnectTimeout})
	}
	obs := cfg.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	logger := logging.NewComponentLogger(cfg.Logger, "bodhi")
	c := &Client{
		cfg:    cfg,
		dialer: dialer,
		ids:    session.NewIDIssuer(nil),
		logger: logger,
		obs:    obs,
	}
	c.batch = newBatchClient(c)
	logger.Debug("bodhi_client_ready",
		slog.String("url", cfg.URL),
		slog.String("model", cfg.Model),
		slog.String("customer_id", redact.Secret(cfg.CustomerID)))
	return c, nil
}

func (c *Client) Name() string { return providerName }

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set(HeaderAPIKey, c.cfg.APIKey)
	h.Set(HeaderCustomerID, c.cfg.CustomerID)
	return h
}

// NewSession prepares a streaming session without running it. Callers that
// need Stop or Lifecycle use this instead of Transcribe.
func (c *Client) NewSession(req stt.Request) (*session.Session, error) {
	if req.Source == nil {
		return nil, errorsx.Wrap(errors.New("bodhi: audio source is required"), errorsx.ReasonConfig)
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = c.cfg.SampleRate
	}
	opts := []session.Option{
		session.WithLogger(c.logger),
		session.WithObserver(c.obs),
		session.WithIDGenerator(c.ids.Next),
		session.WithProvider(providerName),
	}
	if req.Listener != nil {
		opts = append(opts, session.WithListener(req.Listener))
	}
	if req.Stop != nil {
		opts = append(opts, session.WithStopSignal(req.Stop))
	}
	return session.New(c.dialer, req.Source, session.Config{
		URL:            c.cfg.URL,
		Header:         c.header(),
		Model:          c.cfg.Model,
		SampleRate:     rate,
		Interval:       req.Interval,
		ConnectTimeout: c.cfg.ConnectTimeout,
		CancelWait:     c.cfg.CancelWait,
		DrainTimeout:   c.cfg.DrainTimeout,
	}, opts...)
}

// Transcribe runs one streaming session to completion.
func (c *Client) Transcribe(ctx context.Context, req stt.Request) (session.Result, error) {
	s, err := c.NewSession(req)
	if err != nil {
		return session.Result{}, err
	}
	return s.Run(ctx)
}

var _ stt.Recognizer = (*Client)(nil)
