package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quantfeed/corpus-data/internal/config"
	"github.com/quantfeed/corpus-data/internal/model"
	"github.com/quantfeed/corpus-data/internal/store"
)

// fakeTransport scripts a connection for the session to drive.
type fakeTransport struct {
	messages chan TimestampedMessage
	errors   chan error
	sent     chan []byte

	connectErr error // returned by Connect when set

	mu        sync.Mutex
	connected bool
	closed    bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		messages: make(chan TimestampedMessage, 64),
		errors:   make(chan error, 1),
		sent:     make(chan []byte, 16),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.sent <- data
	return nil
}

func (f *fakeTransport) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeTransport) Errors() <-chan error                { return f.errors }

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) deliver(t *testing.T, frame string, receivedAt time.Time) {
	t.Helper()
	select {
	case f.messages <- TimestampedMessage{Data: []byte(frame), ReceivedAt: receivedAt}:
	case <-time.After(time.Second):
		t.Fatal("transport delivery blocked")
	}
}

func (f *fakeTransport) awaitSend(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-f.sent:
		return data
	case <-time.After(time.Second):
		t.Fatal("session never sent a frame")
		return nil
	}
}

func testStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		URL:                  "wss://feed.example.com/v1/stream",
		Topics:               []string{"*"},
		Source:               "newswire",
		FlushSize:            2,
		FlushInterval:        time.Hour, // size-triggered flushes only
		QueueCapacity:        4,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    4 * time.Millisecond,
		StableResetAfter:     time.Hour,
		PingTimeout:          time.Minute,
		WriteTimeout:         time.Second,
	}
}

func startSession(t *testing.T, ft *fakeTransport) (*Session, *store.Memory) {
	t.Helper()
	mem := store.NewMemory(time.UTC)
	sess := NewSession(testStreamConfig(), nil, mem, func() Transport { return ft }, "run-test", nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sess.Stop(ctx)
	})
	return sess, mem
}

func handshake(t *testing.T, ft *fakeTransport) {
	t.Helper()
	now := time.Now()

	ft.deliver(t, `[{"T":"success","msg":"connected"}]`, now)
	ft.awaitSend(t) // auth request

	ft.deliver(t, `[{"T":"success","msg":"authenticated"}]`, now)
	ft.awaitSend(t) // subscribe request

	ft.deliver(t, `[{"T":"subscription","news":["*"]}]`, now)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func docFrame(id int, headline, createdAt string) string {
	return fmt.Sprintf(`[{"T":"n","id":%d,"headline":%q,"created_at":%q,"symbols":["SPY"]}]`, id, headline, createdAt)
}

func TestSession_HandshakeAndFlush(t *testing.T) {
	ft := newFakeTransport()
	sess, mem := startSession(t, ft)

	handshake(t, ft)

	received := time.Date(2024, 11, 5, 12, 0, 5, 0, time.UTC)
	ft.deliver(t, docFrame(1, "First story", "2024-11-05T12:00:00Z"), received)
	ft.deliver(t, docFrame(2, "Second story", "2024-11-05T12:01:00Z"), received)

	// FlushSize is 2, so the batch reaches the store without a timer tick.
	waitFor(t, func() bool {
		docs, _ := mem.Read(context.Background(), "2024-11-05", "newswire")
		return len(docs) == 2
	})

	docs, _ := mem.Read(context.Background(), "2024-11-05", "newswire")
	if docs[0].NaturalID != "1" || docs[1].NaturalID != "2" {
		t.Errorf("stored ids = %q, %q, want 1, 2", docs[0].NaturalID, docs[1].NaturalID)
	}
	if docs[0].Headline != "First story" {
		t.Errorf("Headline = %q, want %q", docs[0].Headline, "First story")
	}

	stats := sess.Stats()
	if stats.State != StateStreaming {
		t.Errorf("state = %v, want streaming", stats.State)
	}
	if want := time.Date(2024, 11, 5, 12, 1, 0, 0, time.UTC); !stats.Watermark.Equal(want) {
		t.Errorf("watermark = %v, want %v", stats.Watermark, want)
	}
}

func TestSession_BufferKeepsEarliestReceived(t *testing.T) {
	ft := newFakeTransport()
	_, mem := startSession(t, ft)

	handshake(t, ft)

	early := time.Date(2024, 11, 5, 12, 0, 1, 0, time.UTC)
	late := early.Add(10 * time.Second)

	// Same natural_id delivered twice; the second arrival is older news.
	ft.deliver(t, docFrame(7, "Repeated story", "2024-11-05T12:00:00Z"), late)
	ft.deliver(t, docFrame(7, "Repeated story", "2024-11-05T12:00:00Z"), early)
	ft.deliver(t, docFrame(8, "Other story", "2024-11-05T12:00:30Z"), late)

	waitFor(t, func() bool {
		docs, _ := mem.Read(context.Background(), "2024-11-05", "newswire")
		return len(docs) == 2
	})

	docs, _ := mem.Read(context.Background(), "2024-11-05", "newswire")
	for _, d := range docs {
		if d.NaturalID == "7" && !d.ReceivedAt.Equal(early) {
			t.Errorf("ReceivedAt = %v, want earliest %v", d.ReceivedAt, early)
		}
	}
}

func TestSession_MalformedFrameGoesToRejects(t *testing.T) {
	ft := newFakeTransport()
	sess, _ := startSession(t, ft)

	handshake(t, ft)
	ft.deliver(t, `{not json`, time.Now())

	select {
	case r := <-sess.Rejects():
		if r.Class != RejectMalformed {
			t.Errorf("reject class = %q, want %q", r.Class, RejectMalformed)
		}
	case <-time.After(time.Second):
		t.Fatal("no reject emitted for malformed frame")
	}

	// The session survives the bad frame.
	if sess.State() == StateDisconnected {
		t.Error("session died on a malformed frame")
	}
}

func TestSession_BadTimestampGoesToRejects(t *testing.T) {
	ft := newFakeTransport()
	sess, _ := startSession(t, ft)

	handshake(t, ft)
	ft.deliver(t, docFrame(9, "Broken clock", "not-a-time"), time.Now())

	select {
	case r := <-sess.Rejects():
		if r.Class != RejectBadTime {
			t.Errorf("reject class = %q, want %q", r.Class, RejectBadTime)
		}
	case <-time.After(time.Second):
		t.Fatal("no reject emitted for unparseable timestamp")
	}
}

func TestSession_SkewedDocumentFlaggedNotDropped(t *testing.T) {
	ft := newFakeTransport()
	sess, mem := startSession(t, ft)

	handshake(t, ft)

	// published_at a full minute ahead of received_at
	received := time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)
	ft.deliver(t, docFrame(3, "From the future", "2024-11-05T12:01:00Z"), received)
	ft.deliver(t, docFrame(4, "Normal story", "2024-11-05T11:59:00Z"), received)

	waitFor(t, func() bool {
		docs, _ := mem.Read(context.Background(), "2024-11-05", "newswire")
		return len(docs) == 2
	})

	if sess.Stats().SkewFlagged != 1 {
		t.Errorf("SkewFlagged = %d, want 1", sess.Stats().SkewFlagged)
	}
}

func TestSession_StopFlushesBuffer(t *testing.T) {
	ft := newFakeTransport()
	mem := store.NewMemory(time.UTC)
	cfg := testStreamConfig()
	cfg.FlushSize = 100 // never size-triggered
	sess := NewSession(cfg, nil, mem, func() Transport { return ft }, "run-test", nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	handshake(t, ft)
	ft.deliver(t, docFrame(5, "Buffered story", "2024-11-05T12:00:00Z"), time.Now())

	waitFor(t, func() bool { return sess.Stats().Documents == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sess.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	docs, _ := mem.Read(context.Background(), "2024-11-05", "newswire")
	if len(docs) != 1 {
		t.Errorf("store holds %d docs after Stop, want the buffered doc flushed", len(docs))
	}
}

// flakyStore fails the first N Append calls, then delegates.
type flakyStore struct {
	*store.Memory

	mu        sync.Mutex
	remaining int
}

func (f *flakyStore) Append(ctx context.Context, docs []model.RawDocument) (int, error) {
	f.mu.Lock()
	if f.remaining > 0 {
		f.remaining--
		f.mu.Unlock()
		return 0, errors.New("store unavailable")
	}
	f.mu.Unlock()
	return f.Memory.Append(ctx, docs)
}

func TestSession_PersistRetriesTransientStoreErrors(t *testing.T) {
	ft := newFakeTransport()
	flaky := &flakyStore{Memory: store.NewMemory(time.UTC), remaining: 2}
	sess := NewSession(testStreamConfig(), nil, flaky, func() Transport { return ft }, "run-test", nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sess.Stop(ctx)
	})

	handshake(t, ft)

	received := time.Date(2024, 11, 5, 12, 0, 5, 0, time.UTC)
	ft.deliver(t, docFrame(11, "Outage survivor", "2024-11-05T12:00:00Z"), received)
	ft.deliver(t, docFrame(12, "Second story", "2024-11-05T12:01:00Z"), received)

	// Two appends fail before one succeeds; the batch must not be lost.
	waitFor(t, func() bool {
		docs, _ := flaky.Read(context.Background(), "2024-11-05", "newswire")
		return len(docs) == 2
	})
}

func TestSession_FlushAfterQueueCloseStillPersists(t *testing.T) {
	ft := newFakeTransport()
	mem := store.NewMemory(time.UTC)
	cfg := testStreamConfig()
	cfg.FlushSize = 100 // never size-triggered
	sess := NewSession(cfg, nil, mem, func() Transport { return ft }, "run-test", nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sess.Stop(ctx)
	})

	handshake(t, ft)
	ft.deliver(t, docFrame(6, "Last in the door", "2024-11-05T12:00:00Z"), time.Now())
	waitFor(t, func() bool { return sess.Stats().Documents == 1 })

	// Once the queue refuses the hand-off, flush writes to the store itself.
	sess.queue.Close()
	sess.flush()

	docs, _ := mem.Read(context.Background(), "2024-11-05", "newswire")
	if len(docs) != 1 {
		t.Errorf("store holds %d docs, want the flushed doc persisted in place", len(docs))
	}
}

func TestSession_MaxReconnectsGiveUpSurfacesError(t *testing.T) {
	ft := newFakeTransport()
	ft.connectErr = errors.New("connection refused")

	mem := store.NewMemory(time.UTC)
	cfg := testStreamConfig()
	cfg.MaxReconnectAttempts = 2
	sess := NewSession(cfg, nil, mem, func() Transport { return ft }, "run-test", nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, func() bool { return sess.Err() != nil })
	if !errors.Is(sess.Err(), ErrMaxReconnects) {
		t.Errorf("Err() = %v, want ErrMaxReconnects", sess.Err())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sess.Stop(ctx); !errors.Is(err, ErrMaxReconnects) {
		t.Errorf("Stop returned %v, want ErrMaxReconnects", err)
	}
}

func TestBackoffDelay_NonDecreasingAndCapped(t *testing.T) {
	base := 500 * time.Millisecond
	max := 10 * time.Second

	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(base, max, attempt)
		if d < prev {
			t.Errorf("attempt %d: delay %v below previous %v", attempt, d, prev)
		}
		if d > max {
			t.Errorf("attempt %d: delay %v exceeds cap %v", attempt, d, max)
		}
		prev = d
	}

	if got := backoffDelay(base, max, 0); got != base {
		t.Errorf("attempt 0 delay = %v, want base %v", got, base)
	}
	if got := backoffDelay(base, max, 9); got != max {
		t.Errorf("attempt 9 delay = %v, want cap %v", got, max)
	}
}
