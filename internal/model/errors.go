// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, migration, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeLegacyUserNotFound = "LEGACY_USER_NOT_FOUND"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeIntegrityViolation = "INTEGRITY_VIOLATION"
	ErrCodeInvalidLegacyUser  = "INVALID_LEGACY_USER"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
)

var (
	// ErrUsernameMismatch は既存ローカルユーザーと移行元ユーザーのユーザー名不一致を表す。
	ErrUsernameMismatch = errors.New("local and legacy usernames differ")
	// ErrUsernameRequired は移行元ユーザーのユーザー名が空であることを表す。
	ErrUsernameRequired = errors.New("legacy username is required")
)

// IntegrityError は同一性検証の失敗を表す。
// 2つの異なるアイデンティティを黙って統合しないために致命的エラーとして扱う。
type IntegrityError struct {
	LocalUsername  string
	LegacyUsername string
}

// Error はerrorインターフェースを実装する。
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("local and remote users differ: [%s != %s]", e.LocalUsername, e.LegacyUsername)
}

// Unwrap はerrors.Is(err, ErrUsernameMismatch)を成立させる。
func (e *IntegrityError) Unwrap() error {
	return ErrUsernameMismatch
}

// NewLegacyUserNotFoundError は移行元ユーザー未検出エラーを生成する。
func NewLegacyUserNotFoundError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeLegacyUserNotFound,
		Message:  fmt.Sprintf("移行元システムにユーザーが見つかりません: %s", username),
		Category: "migration",
		Action:   "ユーザー名を確認してください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewIntegrityViolationError は同一性検証エラーを生成する。
func NewIntegrityViolationError(err *IntegrityError) *APIError {
	return &APIError{
		Code:     ErrCodeIntegrityViolation,
		Message:  fmt.Sprintf("既存ユーザーと移行元ユーザーが一致しません: %s != %s", err.LocalUsername, err.LegacyUsername),
		Category: "migration",
		Action:   "移行元データのIDとユーザー名の対応を確認してください。",
	}
}

// NewInvalidLegacyUserError は移行元ユーザーデータ不正エラーを生成する。
func NewInvalidLegacyUserError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLegacyUser,
		Message:  fmt.Sprintf("移行元ユーザーデータが不正です: %s", reason),
		Category: "validation",
		Action:   "移行元データを確認してください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}
