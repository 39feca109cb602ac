package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mbd888/customsdesk/internal/idgen"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	HeaderEvent     = "X-Customsdesk-Event"
	HeaderTimestamp = "X-Customsdesk-Timestamp"
	HeaderSignature = "X-Customsdesk-Signature"

	defaultTimeout = 30 * time.Second
)

var (
	emitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "customsdesk",
		Subsystem: "notify",
		Name:      "emit_total",
		Help:      "Total notification attempts by event type.",
	}, []string{"event_type"})

	emitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "customsdesk",
		Subsystem: "notify",
		Name:      "emit_errors_total",
		Help:      "Total notification failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(emitTotal, emitErrors)
}

// Event is the JSON body posted to the webhook.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Approval  `json:"data"`
}

// EmitterConfig configures the staff webhook.
type EmitterConfig struct {
	URL     string
	Secret  string // signs the body with HMAC-SHA256 when set
	Timeout time.Duration
}

// Emitter posts approval events to a staff webhook.
// All methods are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	url    string
	secret string
	client *resty.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewEmitter creates a webhook emitter.
func NewEmitter(cfg EmitterConfig, logger *slog.Logger) *Emitter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		url:    cfg.URL,
		secret: cfg.Secret,
		client: resty.New().SetTimeout(timeout),
		logger: logger,
	}
}

// QuestionApproved sends the event in the background. The caller's
// cancellation does not abort delivery.
func (e *Emitter) QuestionApproved(ctx context.Context, a Approval) {
	if e == nil || e.url == "" {
		return
	}
	event := Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      EventQuestionApproved,
		Timestamp: time.Now().UTC(),
		Data:      a,
	}
	detached := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.emit(detached, event)
	}()
}

// Wait blocks until in-flight deliveries finish. Used on shutdown and in tests.
func (e *Emitter) Wait() {
	e.wg.Wait()
}

func (e *Emitter) emit(ctx context.Context, event Event) {
	emitTotal.WithLabelValues(event.Type).Inc()
	if err := e.send(ctx, event); err != nil {
		emitErrors.WithLabelValues(event.Type).Inc()
		e.logger.Warn("notification failed",
			"event", event.Type,
			"question_id", event.Data.QuestionID,
			"scope_type", event.Data.ScopeType,
			"scope_id", event.Data.ScopeID,
			"error", err)
	}
}

func (e *Emitter) send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderEvent, event.Type).
		SetHeader(HeaderTimestamp, strconv.FormatInt(event.Timestamp.Unix(), 10)).
		SetBody(payload)
	if e.secret != "" {
		req.SetHeader(HeaderSignature, Sign(payload, e.secret))
	}

	resp, err := req.Post(e.url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("status %d", resp.StatusCode())
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

var _ Notifier = (*Emitter)(nil)
