// Package legacy は移行元システムのユーザーAPIクライアントを提供する。
package legacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"github.com/hitoshi/usermigrator/internal/model"
)

// maxResponseBytes はレスポンスボディの読み取り上限。
const maxResponseBytes = 1 << 20

// ClientConfig はClientの設定を保持する。
type ClientConfig struct {
	BaseURL string  // ユーザーAPIのベースURL。ユーザー名をパスとして付加する
	Token   string  // 空でない場合はBearerトークンとして送信する
	RPS     float64 // 1秒あたりの最大リクエスト数。0以下の場合は無制限
}

// Client は移行元システムのユーザーAPIクライアント。
// 一括移行で移行元システムに負荷をかけすぎないようリクエスト間隔を制御する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	token      string
	limiter    *rate.Limiter
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg ClientConfig) *Client {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// FindByUsername はユーザー名で移行元ユーザーを取得する。
// 移行元に存在しない場合は(nil, nil)を返す。
func (c *Client) FindByUsername(ctx context.Context, username string) (*model.LegacyUser, error) {
	resp, err := c.do(ctx, http.MethodGet, username, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		c.logger.Error("移行元APIがエラーステータスを返しました",
			slog.String("username", username),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("legacy api returned status %d", resp.StatusCode)
	}

	var user model.LegacyUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode legacy user: %w", err)
	}
	return &user, nil
}

type passwordRequest struct {
	Password string `json:"password"`
}

// ValidatePassword は移行元システムでパスワードを検証する。
// 認証失敗とユーザー未検出はどちらも(false, nil)を返す。
func (c *Client) ValidatePassword(ctx context.Context, username, password string) (bool, error) {
	body, err := json.Marshal(passwordRequest{Password: password})
	if err != nil {
		return false, fmt.Errorf("failed to encode password request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, username, body)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false, nil
	default:
		c.logger.Error("移行元APIのパスワード検証がエラーステータスを返しました",
			slog.String("username", username),
			slog.Int("http_status", resp.StatusCode),
		)
		return false, fmt.Errorf("legacy api returned status %d", resp.StatusCode)
	}
}

func (c *Client) do(ctx context.Context, method, username string, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	reqURL := c.endpoint + "/" + url.PathEscape(username)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "usermigrator/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("移行元APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("legacy api request failed: %w", err)
	}
	return resp, nil
}
