package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// maxErrorBodyBytes はエラーレスポンスをログに残す際に読み取る最大バイト数。
const maxErrorBodyBytes = 1024

// pushRequest はプッシュ配信APIへのリクエストボディ。
type pushRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// PushClient はプッシュ配信APIのクライアント。
// 1件の通知をJSONでPOSTし、2xx以外のステータスはエラーとして扱う。
type PushClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	apiKey     string
}

// NewPushClient はPushClientの新しいインスタンスを生成する。
// apiKeyが空の場合はAuthorizationヘッダーを付与しない。
func NewPushClient(httpClient *http.Client, logger *slog.Logger, endpoint, apiKey string) *PushClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PushClient{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

// Send は1件の通知をプッシュ配信APIに送信する。
func (c *PushClient) Send(ctx context.Context, userID, message string) error {
	body, err := json.Marshal(pushRequest{UserID: userID, Message: message})
	if err != nil {
		return fmt.Errorf("通知リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Atelier/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("プッシュ配信APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.String("user_id", userID),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.logger.Error("プッシュ配信APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("user_id", userID),
			slog.String("body", string(snippet)),
		)
		return fmt.Errorf("プッシュ配信APIがステータス %d を返しました", resp.StatusCode)
	}

	// コネクション再利用のため残りを読み捨てる
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// compile-time interface check
var _ Sender = (*PushClient)(nil)
