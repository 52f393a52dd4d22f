package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type botAPI struct {
	srv      *httptest.Server
	mu       sync.Mutex
	requests []sendMessageRequest
	paths    []string
	calls    atomic.Int32
	statuses []int // consumed per call; 200 once exhausted
}

func newBotAPI(t *testing.T, statuses ...int) *botAPI {
	api := &botAPI{statuses: statuses}
	api.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(api.calls.Add(1))
		var body sendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&body)

		api.mu.Lock()
		api.requests = append(api.requests, body)
		api.paths = append(api.paths, r.URL.Path)
		api.mu.Unlock()

		if n <= len(api.statuses) {
			w.WriteHeader(api.statuses[n-1])
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(api.srv.Close)
	return api
}

func newTestTelegram(api *botAPI) *Telegram {
	tg := NewTelegram(TelegramConfig{
		Token:     "123:abc",
		ChatID:    "42",
		Endpoint:  api.srv.URL,
		PerMinute: 6000,
		Client:    api.srv.Client(),
	})
	tg.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return tg
}

func TestTelegramSendsQueuedMessages(t *testing.T) {
	api := newBotAPI(t)
	tg := newTestTelegram(api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tg.Run(ctx)

	tg.Enqueue("<b>New Visitor</b>")

	require.Eventually(t, func() bool { return api.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "/bot123:abc/sendMessage", api.paths[0])
	assert.Equal(t, sendMessageRequest{ChatID: "42", Text: "<b>New Visitor</b>", ParseMode: "HTML"}, api.requests[0])
}

func TestTelegramRetriesServerErrors(t *testing.T) {
	api := newBotAPI(t, http.StatusBadGateway, http.StatusTooManyRequests)
	tg := newTestTelegram(api)

	err := tg.deliver(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(3), api.calls.Load())
}

func TestTelegramGivesUpAfterThreeTries(t *testing.T) {
	api := newBotAPI(t, 500, 500, 500, 500)
	tg := newTestTelegram(api)

	err := tg.deliver(context.Background(), "hello")
	assert.Error(t, err)
	assert.Equal(t, int32(3), api.calls.Load())
}

func TestTelegramDoesNotRetryClientErrors(t *testing.T) {
	api := newBotAPI(t, http.StatusBadRequest)
	tg := newTestTelegram(api)

	err := tg.deliver(context.Background(), "hello")
	assert.ErrorContains(t, err, "400")
	assert.Equal(t, int32(1), api.calls.Load())
}

func TestTelegramDisabled(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "123:abc"})
	assert.False(t, tg.Enabled())

	tg.Enqueue("ignored")
	assert.Empty(t, tg.queue)

	done := make(chan struct{})
	go func() {
		tg.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for a disabled dispatcher")
	}
}

func TestTelegramQueueOverflowDrops(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "t", ChatID: "c", QueueSize: 2})

	for i := 0; i < 5; i++ {
		tg.Enqueue("msg")
	}
	assert.Len(t, tg.queue, 2)
}

func TestTelegramTransportErrorsOmitToken(t *testing.T) {
	const token = "123456:SECRET-BOT-TOKEN"
	core, logs := observer.New(zap.WarnLevel)
	tg := NewTelegram(TelegramConfig{
		Token:    token,
		ChatID:   "42",
		Endpoint: "http://127.0.0.1:1",
		Logger:   zap.New(core),
	})
	tg.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	err := tg.deliver(context.Background(), "hello")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), token)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tg.Run(ctx)
	tg.Enqueue("hello")

	require.Eventually(t, func() bool {
		return logs.FilterMessage("telegram send failed").Len() > 0
	}, 2*time.Second, 10*time.Millisecond)
	for _, entry := range logs.All() {
		assert.NotContains(t, entry.Message, token)
		for key, value := range entry.ContextMap() {
			assert.NotContains(t, fmt.Sprintf("%v", value), token, key)
		}
	}
}
