package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultTelegramEndpoint = "https://api.telegram.org"

const (
	defaultQueueSize = 100
	defaultPerMinute = 20
	maxRetries       = 3
)

var notificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "holdroom_alert_notifications_total",
		Help: "Outbound notifications by result.",
	},
	[]string{"result"},
)

type TelegramConfig struct {
	Token     string
	ChatID    string
	Endpoint  string
	QueueSize int
	PerMinute int
	Client    *http.Client
	Logger    *zap.Logger
}

// Telegram relays messages to a chat through the Bot API. Messages are
// queued and sent by Run; a full queue drops the message.
type Telegram struct {
	token    string
	chatID   string
	endpoint string
	client   *http.Client
	queue    chan string
	limiter  *rate.Limiter
	backoff  func() backoff.BackOff
	log      *zap.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultTelegramEndpoint
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = defaultPerMinute
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Telegram{
		token:    cfg.Token,
		chatID:   cfg.ChatID,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   cfg.Client,
		queue:    make(chan string, cfg.QueueSize),
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.PerMinute)), 1),
		backoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		log: cfg.Logger,
	}
}

// Enabled reports whether both a bot token and a chat id are configured.
func (t *Telegram) Enabled() bool {
	return t.token != "" && t.chatID != ""
}

// Enqueue never blocks. It is a no-op when the dispatcher is disabled.
func (t *Telegram) Enqueue(message string) {
	if !t.Enabled() {
		return
	}
	select {
	case t.queue <- message:
	default:
		notificationsTotal.WithLabelValues("dropped").Inc()
		t.log.Warn("telegram queue full, dropping message")
	}
}

// Run sends queued messages until ctx is cancelled.
func (t *Telegram) Run(ctx context.Context) {
	if !t.Enabled() {
		t.log.Info("telegram notifications disabled")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.queue:
			if err := t.limiter.Wait(ctx); err != nil {
				return
			}
			if err := t.deliver(ctx, msg); err != nil {
				notificationsTotal.WithLabelValues("failed").Inc()
				t.log.Warn("telegram send failed", zap.Error(err))
				continue
			}
			notificationsTotal.WithLabelValues("sent").Inc()
		}
	}
}

func (t *Telegram) deliver(ctx context.Context, msg string) error {
	b := backoff.WithContext(backoff.WithMaxRetries(t.backoff(), maxRetries-1), ctx)
	return backoff.Retry(func() error { return t.send(ctx, msg) }, b)
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *Telegram) send(ctx context.Context, msg string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: msg, ParseMode: "HTML"})
	if err != nil {
		return backoff.Permanent(err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.endpoint, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(errors.New("telegram: invalid endpoint"))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return redactURL(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("telegram: %s", resp.Status)
	default:
		// Bad token, unknown chat or malformed message: retrying won't help.
		return backoff.Permanent(fmt.Errorf("telegram: %s", resp.Status))
	}
}

// redactURL drops the request URL, which carries the bot token, from a
// transport error.
func redactURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("telegram: %s request: %w", urlErr.Op, urlErr.Err)
	}
	return fmt.Errorf("telegram: request failed: %w", err)
}

var _ Sender = (*Telegram)(nil)
