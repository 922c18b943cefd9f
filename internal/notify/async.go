package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/atelier/internal/metrics"
)

// AsyncConfig はAsyncNotifierの設定パラメータ。
type AsyncConfig struct {
	// QueueSize は送信待ちキューの容量（デフォルト: 256）。
	QueueSize int
	// Workers は送信ワーカー数（デフォルト: 4）。
	Workers int
	// RatePerSecond は全ワーカー合計の送信レート上限（デフォルト: 20/秒）。
	RatePerSecond float64
	// Burst はレートリミッターのバースト数（デフォルト: 5）。
	Burst int
	// SendTimeout は1件あたりの送信タイムアウト（デフォルト: 10秒）。
	SendTimeout time.Duration
}

// DefaultAsyncConfig はデフォルトの設定を返す。
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		QueueSize:     256,
		Workers:       4,
		RatePerSecond: 20,
		Burst:         5,
		SendTimeout:   10 * time.Second,
	}
}

type job struct {
	ctx     context.Context
	userID  string
	message string
}

// AsyncNotifier は通知を有界キューに積み、固定数のワーカーで送信するNotifier。
// キューが満杯の場合は通知を破棄し、メトリクスに記録する。
type AsyncNotifier struct {
	sender  Sender
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	limiter *rate.Limiter
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// NewAsyncNotifier はAsyncNotifierを生成し、ワーカーを起動する。
// 停止時はCloseを呼び出すこと。
func NewAsyncNotifier(sender Sender, logger *slog.Logger, collector metrics.MetricsCollector, cfg AsyncConfig) *AsyncNotifier {
	def := DefaultAsyncConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	n := &AsyncNotifier{
		sender:  sender,
		logger:  logger,
		metrics: collector,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		timeout: cfg.SendTimeout,
		queue:   make(chan job, cfg.QueueSize),
	}

	n.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go n.worker()
	}

	logger.Info("通知ワーカーを開始しました",
		slog.Int("workers", cfg.Workers),
		slog.Int("queue_size", cfg.QueueSize),
		slog.Float64("rate_per_second", cfg.RatePerSecond),
	)
	return n
}

// Notify は通知をキューに積む。呼び出し元をブロックしない。
// リクエストのキャンセルは送信に影響しない（コンテキストの値のみ引き継ぐ）。
func (n *AsyncNotifier) Notify(ctx context.Context, userID, message string) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		n.metrics.RecordNotification(metrics.NotificationDropped)
		n.logger.Warn("停止済みのため通知を破棄しました", slog.String("user_id", userID))
		return
	}

	select {
	case n.queue <- job{ctx: context.WithoutCancel(ctx), userID: userID, message: message}:
	default:
		n.metrics.RecordNotification(metrics.NotificationDropped)
		n.logger.Warn("通知キューが満杯のため通知を破棄しました", slog.String("user_id", userID))
	}
}

// Close は新規の通知受付を停止し、キューに残った通知の送信完了を待つ。
// ctxが先に終了した場合は待機を打ち切ってctx.Err()を返す。
func (n *AsyncNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("通知ワーカーを停止しました")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *AsyncNotifier) worker() {
	defer n.wg.Done()

	for j := range n.queue {
		n.send(j)
	}
}

func (n *AsyncNotifier) send(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, n.timeout)
	defer cancel()

	if err := n.limiter.Wait(ctx); err != nil {
		n.metrics.RecordNotification(metrics.NotificationFailed)
		n.logger.Error("通知の送信待機に失敗しました",
			slog.String("user_id", j.userID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := n.sender.Send(ctx, j.userID, j.message); err != nil {
		n.metrics.RecordNotification(metrics.NotificationFailed)
		n.logger.Error("通知の送信に失敗しました",
			slog.String("user_id", j.userID),
			slog.String("error", err.Error()),
		)
		return
	}
	n.metrics.RecordNotification(metrics.NotificationSent)
}

// compile-time interface check
var _ Notifier = (*AsyncNotifier)(nil)
