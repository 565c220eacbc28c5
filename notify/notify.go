// Package notify sends templated emails off the request path. Producers
// enqueue messages; a fixed pool of workers renders and sends them. Send
// failures are logged and never reach the caller that triggered them.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"sync"
	"time"
)

// Message is one notification event.
type Message struct {
	Template string
	To       string
	Data     map[string]any
}

type Sender interface {
	Send(ctx context.Context, template, recipient string, payload map[string]any) error
}

// SMTPSender delivers rendered templates over SMTP.
type SMTPSender struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

func (s *SMTPSender) Send(ctx context.Context, name, recipient string, payload map[string]any) error {
	subject, body, err := Render(name, payload)
	if err != nil {
		return err
	}
	msg := "From: " + s.From + "\r\n" +
		"To: " + recipient + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		strings.ReplaceAll(body, "\n", "\r\n")

	var auth smtp.Auth
	if s.User != "" {
		auth = smtp.PlainAuth("", s.User, s.Password, s.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)

	// net/smtp has no context support; run it aside so the caller's deadline holds.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.From, []string{recipient}, []byte(msg))
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSender renders and logs instead of sending. Used when SMTP is not configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, name, recipient string, payload map[string]any) error {
	subject, _, err := Render(name, payload)
	if err != nil {
		return err
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("email (not sent)", "template", name, "to", recipient, "subject", subject)
	return nil
}

// Queue is a bounded notification queue drained by worker goroutines.
type Queue struct {
	sender  Sender
	timeout time.Duration
	log     *slog.Logger

	ch        chan Message
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewQueue(sender Sender, size, workers int, timeout time.Duration, log *slog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	q := &Queue{sender: sender, timeout: timeout, log: log, ch: make(chan Message, size)}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return q
}

// Enqueue never blocks. It reports false when the message was dropped.
func (q *Queue) Enqueue(m Message) (ok bool) {
	if m.To == "" {
		q.log.Warn("notification without recipient dropped", "template", m.Template)
		return false
	}
	defer func() {
		// send on a closed queue during shutdown
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case q.ch <- m:
		return true
	default:
		q.log.Warn("notification queue full, dropping", "template", m.Template, "to", m.To)
		return false
	}
}

// Close stops accepting messages and waits for queued ones to be sent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
	q.wg.Wait()
}

func (q *Queue) work() {
	defer q.wg.Done()
	for m := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.sender.Send(ctx, m.Template, m.To, m.Data)
		cancel()
		if err != nil {
			q.log.Error("notification failed", "template", m.Template, "to", m.To, "err", err)
			continue
		}
		q.log.Debug("notification sent", "template", m.Template, "to", m.To)
	}
}
