package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
	wait chan struct{}
}

func (s *recordingSender) Send(ctx context.Context, name, to string, data map[string]any) error {
	if s.wait != nil {
		select {
		case <-s.wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Message{Template: name, To: to, Data: data})
	return s.err
}

func TestQueueDeliversAndDrains(t *testing.T) {
	s := &recordingSender{}
	q := NewQueue(s, 8, 2, time.Second, nil)
	for i := 0; i < 5; i++ {
		if !q.Enqueue(Message{Template: PurchaseConfirmed, To: "a@example.com"}) {
			t.Fatal("enqueue should succeed")
		}
	}
	q.Close()
	if len(s.sent) != 5 {
		t.Fatalf("sent %d messages, want 5", len(s.sent))
	}
}

func TestEnqueueNeverBlocks(t *testing.T) {
	s := &recordingSender{wait: make(chan struct{})}
	q := NewQueue(s, 1, 1, time.Second, nil)

	accepted := 0
	start := time.Now()
	for i := 0; i < 10; i++ {
		if q.Enqueue(Message{Template: PurchaseConfirmed, To: "a@example.com"}) {
			accepted++
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Enqueue blocked on a full queue")
	}
	if accepted >= 10 {
		t.Fatalf("a full queue should drop messages, accepted %d", accepted)
	}
	close(s.wait)
	q.Close()

	if q.Enqueue(Message{Template: PurchaseConfirmed, To: "a@example.com"}) {
		t.Fatal("enqueue after Close should be rejected")
	}
}

func TestSendFailureIsSwallowed(t *testing.T) {
	s := &recordingSender{err: errors.New("smtp down")}
	q := NewQueue(s, 4, 1, time.Second, nil)
	q.Enqueue(Message{Template: CustomOrderRefunded, To: "c@example.com"})
	q.Close()
	if len(s.sent) != 1 {
		t.Fatalf("attempts = %d, want 1", len(s.sent))
	}
}

func TestRender(t *testing.T) {
	subject, body, err := Render(CustomOrderReceived, map[string]any{
		"RefCode":        "BOT-1",
		"TrackingNumber": "TRK-1",
		"Budget":         50.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(subject, "BOT-1") || !strings.Contains(body, "TRK-1") || !strings.Contains(body, "50.00") {
		t.Fatalf("unexpected render:\n%s\n%s", subject, body)
	}
	if _, _, err := Render("nope", nil); err == nil {
		t.Fatal("unknown template should fail")
	}
}
