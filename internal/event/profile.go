// Package event は移行イベント（一度きりの追加プロフィール移行）の生成と非同期送信を提供する。
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// birthDateLayout は生年月日の正規形式（ISO 8601 カレンダー日付）。
const birthDateLayout = "2006-01-02"

// MigrationProfile は移行先IdPで扱わないプロフィール項目を下流へ渡すためのペイロード。
// フィールド名と null/非null の区別は購読側との互換性契約の一部。
type MigrationProfile struct {
	UserID                uuid.UUID `json:"userId"`
	FirstName             *string   `json:"firstName"`
	LastName              *string   `json:"lastName"`
	PhoneNumber           *string   `json:"phoneNumber"`
	BirthDate             *string   `json:"birthDate"`
	Address               *string   `json:"address"`
	City                  *string   `json:"city"`
	PhotoPath             *string   `json:"photoPath"`
	LinkedinURL           *string   `json:"linkedinUrl"`
	ZipCode               *string   `json:"zipCode"`
	CVPath                *string   `json:"cvPath"`
	Profession            *string   `json:"profession"`
	LastEducationPlace    *string   `json:"lastEducationPlace"`
	IsSubscribeNewsletter bool      `json:"isSubscribeNewsletter"`
	DarkMode              bool      `json:"darkMode"`
	ReferralCode          *string   `json:"referralCode"`
	ReferredBy            *string   `json:"referredBy"`
}

// BuildProfile はローカルユーザーIDと移行元の追加データからMigrationProfileを構築する。
// ユーザーIDがUUIDでない場合、または生年月日が不正な場合はエラーを返す。
func BuildProfile(userID string, data map[string]string) (*MigrationProfile, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("user id is not a UUID: %w", err)
	}

	birthDate, err := normalizeBirthDate(data)
	if err != nil {
		return nil, err
	}

	return &MigrationProfile{
		UserID:                id,
		FirstName:             optional(data, "firstName"),
		LastName:              optional(data, "lastName"),
		PhoneNumber:           optional(data, "phoneNumber"),
		BirthDate:             birthDate,
		Address:               optional(data, "address"),
		City:                  optional(data, "city"),
		PhotoPath:             optional(data, "photoPath"),
		LinkedinURL:           optional(data, "linkedinUrl"),
		ZipCode:               optional(data, "zipCode"),
		CVPath:                optional(data, "cvPath"),
		Profession:            optional(data, "profession"),
		LastEducationPlace:    optional(data, "lastEducationPlace"),
		IsSubscribeNewsletter: ParseBool(data["isSubscribeNewsletter"]),
		DarkMode:              ParseBool(data["darkMode"]),
		ReferralCode:          optional(data, "referralCode"),
		ReferredBy:            optional(data, "referredBy"),
	}, nil
}

// Marshal はペイロードをJSONにシリアライズする。
func (p *MigrationProfile) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// ParseBool は"true"（大文字小文字を区別しない）のみを真とする。それ以外はすべて偽。
func ParseBool(v string) bool {
	return strings.EqualFold(v, "true")
}

// normalizeBirthDate は未設定・空文字をnullとし、それ以外は日付として検証して正規形式で返す。
func normalizeBirthDate(data map[string]string) (*string, error) {
	raw, ok := data["birthDate"]
	if !ok || raw == "" {
		return nil, nil
	}
	d, err := time.Parse(birthDateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid birthDate %q: %w", raw, err)
	}
	normalized := d.Format(birthDateLayout)
	return &normalized, nil
}

func optional(data map[string]string, key string) *string {
	v, ok := data[key]
	if !ok {
		return nil
	}
	return &v
}
