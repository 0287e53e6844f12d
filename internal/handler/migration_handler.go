package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/usermigrator/internal/middleware"
	"github.com/hitoshi/usermigrator/internal/model"
	"github.com/hitoshi/usermigrator/internal/worker/importer"
)

const (
	maxLoginBodyBytes  = 64 << 10
	maxImportBodyBytes = 32 << 20
)

// MigrationServiceInterface は移行ハンドラーが必要とするサービスインターフェース。
type MigrationServiceInterface interface {
	// Login は移行元システムでパスワードを検証してからユーザーを移行する。
	Login(ctx context.Context, realm, username, password string) (*model.LocalUser, error)
	// MigrateByUsername はパスワード検証なしでユーザーを移行する。
	MigrateByUsername(ctx context.Context, realm, username string) (*model.LocalUser, error)
}

// BulkImporter は一括インポートのインターフェース。
type BulkImporter interface {
	Run(ctx context.Context, realm string, users []*model.LegacyUser) importer.Summary
}

// MigrationHandler はユーザー移行のHTTPハンドラー。
type MigrationHandler struct {
	service  MigrationServiceInterface
	importer BulkImporter
	logger   *slog.Logger
}

// NewMigrationHandler はMigrationHandlerを生成する。
func NewMigrationHandler(service MigrationServiceInterface, bulk BulkImporter, logger *slog.Logger) *MigrationHandler {
	return &MigrationHandler{
		service:  service,
		importer: bulk,
		logger:   logger,
	}
}

// loginRequest はログイン移行リクエストのボディ。
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginRateLimitKey はログイン移行のレート制限キーをレルムとユーザー名から求める。
// 呼び出し元は少数のIdPに限られるため、接続元IPではなくアカウント単位で制限する。
// ボディを解析できない場合は接続元IPをキーとする。
func loginRateLimitKey(r *http.Request) string {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxLoginBodyBytes))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return middleware.ClientIPKey(r)
	}

	var req loginRequest
	if err := json.Unmarshal(body, &req); err != nil || strings.TrimSpace(req.Username) == "" {
		return middleware.ClientIPKey(r)
	}
	return chi.URLParam(r, "realm") + "/" + strings.ToLower(strings.TrimSpace(req.Username))
}

// Login は移行元の認証情報でログインし、初回であればユーザーを移行する。
// POST /api/realms/{realm}/migrations/login
func (h *MigrationHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodyBytes)).Decode(&req); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("リクエストボディを解析できません"))
		return
	}

	user, err := h.service.Login(r.Context(), chi.URLParam(r, "realm"), req.Username, req.Password)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// MigrateUser はパスワード検証なしで移行元ユーザーを移行する。
// POST /api/realms/{realm}/migrations/users/{username}
func (h *MigrationHandler) MigrateUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.MigrateByUsername(r.Context(), chi.URLParam(r, "realm"), chi.URLParam(r, "username"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// Import は移行元ユーザーのJSON配列を一括で移行する。
// 個々のユーザーの失敗はサマリーに記録し、リクエスト自体は200を返す。
// POST /api/realms/{realm}/migrations/import
func (h *MigrationHandler) Import(w http.ResponseWriter, r *http.Request) {
	realm := chi.URLParam(r, "realm")
	if strings.TrimSpace(realm) == "" {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("レルムが指定されていません"))
		return
	}

	var users []*model.LegacyUser
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBodyBytes)).Decode(&users); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError("ユーザー一覧のJSON配列を解析できません"))
		return
	}

	summary := h.importer.Run(r.Context(), realm, users)

	h.logger.Info("一括インポートが完了しました",
		slog.String("realm", realm),
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
	)

	writeJSON(w, http.StatusOK, summary)
}
