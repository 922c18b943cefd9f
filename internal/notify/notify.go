// Package notify はユーザーへのプッシュ通知を提供する。
// 通知は発火後放置（fire-and-forget）であり、送信失敗は呼び出し元に返さない。
package notify

import (
	"context"
	"log/slog"
)

// Notifier はユーザーへの通知インターフェース。
// 呼び出し元をブロックせず、エラーも返さない。
type Notifier interface {
	Notify(ctx context.Context, userID, message string)
}

// Sender は通知を1件送信するインターフェース。
// AsyncNotifierのワーカーから呼び出される。
type Sender interface {
	Send(ctx context.Context, userID, message string) error
}

// LogNotifier は通知内容をログに出力するだけの実装。
// プッシュ配信先が設定されていない環境で使用する。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。loggerがnilの場合はslog.Default()を使用する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send は通知をログに出力する。
func (n *LogNotifier) Send(ctx context.Context, userID, message string) error {
	n.logger.InfoContext(ctx, "通知",
		slog.String("user_id", userID),
		slog.String("message", message),
	)
	return nil
}

// Notify は通知をログに出力する。
func (n *LogNotifier) Notify(ctx context.Context, userID, message string) {
	_ = n.Send(ctx, userID, message)
}

// compile-time interface check
var (
	_ Notifier = (*LogNotifier)(nil)
	_ Sender   = (*LogNotifier)(nil)
)
