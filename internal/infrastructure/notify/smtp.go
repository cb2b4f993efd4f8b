package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vitos/crypto_ut_bot/internal/config"
	"go.uber.org/zap"
)

// Notifier batches messages and flushes them over SMTP. Enqueueing never
// blocks the caller; when the queue is full the message is dropped and
// counted.
type Notifier struct {
	cfg    config.NotificationsConfig
	logger *zap.Logger

	queue   chan string
	send    func(cfg config.NotificationsConfig, subject, body string) error
	dropped atomic.Int64
}

func NewNotifier(cfg config.NotificationsConfig, logger *zap.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan string, 256),
		send:   sendSMTP,
	}
}

// Notify enqueues a message for the next batch.
func (n *Notifier) Notify(message string) {
	if !n.cfg.Enabled {
		return
	}
	select {
	case n.queue <- message:
	default:
		n.dropped.Add(1)
		n.logger.Warn("notification queue full, dropping message")
	}
}

// Run is the dispatcher task: it collects messages until either the batch
// size is reached or the rate window elapses, then sends one email per
// batch. Cancelling the context flushes the remainder and exits.
func (n *Notifier) Run(ctx context.Context) {
	if !n.cfg.Enabled {
		return
	}

	window := time.Duration(n.cfg.RateLimitSecs) * time.Second
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		subject := fmt.Sprintf("trading bot: %d event(s)", len(batch))
		if err := n.send(n.cfg, subject, strings.Join(batch, "\n\n")); err != nil {
			n.logger.Error("failed to send notification batch", zap.Error(err), zap.Int("batch_size", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case msg := <-n.queue:
			batch = append(batch, msg)
			if len(batch) >= n.cfg.BatchSize {
				flush()
				ticker.Reset(window)
			}
		case <-ticker.C:
			flush()
		}
	}
}

func sendSMTP(cfg config.NotificationsConfig, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)

	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		cfg.From, strings.Join(cfg.To, ", "), subject, body)

	return smtp.SendMail(addr, auth, cfg.From, cfg.To, []byte(msg))
}
