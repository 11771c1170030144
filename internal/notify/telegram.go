package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "runbot/pkg/logx"
)

// Config controls the Telegram sink.
type Config struct {
	Enabled    bool
	Token      string
	ChatID     int64
	Workers    int
	QueueSize  int
	RatePerSec int
	RetryMax   int
	RetryBase  time.Duration
}

// Telegram delivers run reports to a single chat through a send-only
// bot. Events are queued and drained by a small worker pool behind a
// token bucket, so a slow or flaky Telegram API never backs up into
// the run pipeline.
type Telegram struct {
	log     logx.Logger
	bot     *tele.Bot
	chat    *tele.Chat
	cfg     Config
	limiter *rate.Limiter

	mu     sync.Mutex
	queue  chan Event
	sendWG sync.WaitGroup
	closed bool
}

// NewTelegram builds and starts the sink. The bot is send-only: it
// never polls for updates.
func NewTelegram(cfg Config, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}

	t := &Telegram{
		log:     log,
		bot:     b,
		chat:    &tele.Chat{ID: cfg.ChatID},
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan Event, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		t.sendWG.Add(1)
		go t.workerLoop()
	}
	return t, nil
}

// Publish enqueues an event. If the queue is full the event is
// dropped with a warning; delivery is best-effort by contract.
func (t *Telegram) Publish(ctx context.Context, ev Event) {
	if ctx != nil && ctx.Err() != nil {
		return
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	select {
	case t.queue <- ev:
	default:
		t.log.Warn("notification dropped, queue full",
			logx.String("account", ev.AccountID), logx.String("mode", ev.Mode))
	}
}

// Close stops intake and drains queued events best-effort until ctx
// expires.
func (t *Telegram) Close(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.sendWG.Wait()
		close(done)
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (t *Telegram) workerLoop() {
	defer t.sendWG.Done()
	for ev := range t.queue {
		t.sendWithRetry(ev)
	}
}

func (t *Telegram) sendWithRetry(ev Event) {
	text := FormatEvent(ev)
	maxAttempts := 1 + t.cfg.RetryMax

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := t.limiter.Wait(ctx)
		if err == nil {
			_, err = t.bot.Send(t.chat, text)
		}
		cancel()
		if err == nil {
			return
		}
		t.log.Debug("notify send failed",
			logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt < maxAttempts {
			time.Sleep(t.cfg.RetryBase * time.Duration(attempt))
		}
	}
	t.log.Warn("notification abandoned after retries",
		logx.String("account", ev.AccountID), logx.Int("attempts", maxAttempts))
}
