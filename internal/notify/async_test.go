package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// --- モック ---

type sentMessage struct {
	userID  string
	message string
}

type mockSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	sendFn func(ctx context.Context, userID, message string) error
}

func (m *mockSender) Send(ctx context.Context, userID, message string) error {
	if m.sendFn != nil {
		if err := m.sendFn(ctx, userID, message); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{userID: userID, message: message})
	return nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type mockNotificationMetrics struct {
	mu      sync.Mutex
	results map[string]int
}

func newMockNotificationMetrics() *mockNotificationMetrics {
	return &mockNotificationMetrics{results: make(map[string]int)}
}

func (m *mockNotificationMetrics) RecordRedemption(string)      {}
func (m *mockNotificationMetrics) RecordPhaseAdvance(string)    {}
func (m *mockNotificationMetrics) RecordPhaseTransition(string) {}
func (m *mockNotificationMetrics) RecordNotification(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result]++
}
func (m *mockNotificationMetrics) RecordStoreOperation(string, time.Duration) {}
func (m *mockNotificationMetrics) RecordHTTPStatus(int)                       {}

func (m *mockNotificationMetrics) get(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[result]
}

func fastConfig() AsyncConfig {
	return AsyncConfig{QueueSize: 16, Workers: 2, RatePerSecond: 1000, Burst: 100, SendTimeout: time.Second}
}

// --- テスト ---

// Closeはキューに残った通知をすべて送信してから戻ること
func TestAsyncNotifier_CloseDrainsQueue(t *testing.T) {
	sender := &mockSender{}
	m := newMockNotificationMetrics()
	var buf bytes.Buffer
	n := NewAsyncNotifier(sender, newTestLogger(&buf), m, fastConfig())

	for i := 0; i < 10; i++ {
		n.Notify(context.Background(), "user-1", "hello")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close がエラーを返した: %v", err)
	}

	if got := sender.count(); got != 10 {
		t.Errorf("送信数 = %d, want 10", got)
	}
	if got := m.get("sent"); got != 10 {
		t.Errorf("sent metric = %d, want 10", got)
	}
}

// リクエストのコンテキストがキャンセルされても送信されること
func TestAsyncNotifier_IgnoresCallerCancellation(t *testing.T) {
	sender := &mockSender{}
	n := NewAsyncNotifier(sender, nil, nil, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	n.Notify(ctx, "user-1", "hello")
	cancel()

	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("Close がエラーを返した: %v", err)
	}
	if got := sender.count(); got != 1 {
		t.Errorf("送信数 = %d, want 1", got)
	}
}

// キューが満杯の場合は呼び出し元をブロックせず破棄すること
func TestAsyncNotifier_DropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	sender := &mockSender{
		sendFn: func(ctx context.Context, userID, message string) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return nil
		},
	}
	m := newMockNotificationMetrics()
	cfg := AsyncConfig{QueueSize: 1, Workers: 1, RatePerSecond: 1000, Burst: 100, SendTimeout: 5 * time.Second}
	n := NewAsyncNotifier(sender, nil, m, cfg)

	// 1件目はワーカーが処理中、2件目がキューを埋め、3件目は破棄される
	n.Notify(context.Background(), "user-1", "first")
	<-started
	n.Notify(context.Background(), "user-1", "second")

	done := make(chan struct{})
	go func() {
		n.Notify(context.Background(), "user-1", "third")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify がブロックした")
	}

	close(release)
	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("Close がエラーを返した: %v", err)
	}

	if got := m.get("dropped"); got != 1 {
		t.Errorf("dropped metric = %d, want 1", got)
	}
	if got := sender.count(); got != 2 {
		t.Errorf("送信数 = %d, want 2", got)
	}
}

func TestAsyncNotifier_SendFailureIsCounted(t *testing.T) {
	sender := &mockSender{
		sendFn: func(ctx context.Context, userID, message string) error {
			return errors.New("push endpoint down")
		},
	}
	m := newMockNotificationMetrics()
	n := NewAsyncNotifier(sender, nil, m, fastConfig())

	n.Notify(context.Background(), "user-1", "hello")
	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("Close がエラーを返した: %v", err)
	}

	if got := m.get("failed"); got != 1 {
		t.Errorf("failed metric = %d, want 1", got)
	}
}

// Close後の通知は破棄され、panicしないこと
func TestAsyncNotifier_NotifyAfterClose(t *testing.T) {
	sender := &mockSender{}
	m := newMockNotificationMetrics()
	n := NewAsyncNotifier(sender, nil, m, fastConfig())

	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("Close がエラーを返した: %v", err)
	}
	n.Notify(context.Background(), "user-1", "late")

	if got := m.get("dropped"); got != 1 {
		t.Errorf("dropped metric = %d, want 1", got)
	}
	// 二重Closeも安全であること
	if err := n.Close(context.Background()); err != nil {
		t.Errorf("2回目の Close がエラーを返した: %v", err)
	}
}

func TestAsyncNotifier_CloseTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	sender := &mockSender{
		sendFn: func(ctx context.Context, userID, message string) error {
			<-release
			return nil
		},
	}
	n := NewAsyncNotifier(sender, nil, nil, fastConfig())
	n.Notify(context.Background(), "user-1", "slow")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := n.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want DeadlineExceeded", err)
	}
}

func TestDefaultAsyncConfig(t *testing.T) {
	cfg := DefaultAsyncConfig()
	if cfg.QueueSize != 256 || cfg.Workers != 4 {
		t.Errorf("DefaultAsyncConfig() = %+v", cfg)
	}
}
