package model

import "time"

// Author は記録の作成者の表示用情報を表す。永続化はしない。
type Author struct {
	Nickname string `json:"nickname"`
}

// Base は全リソース記録に共通するフィールドを保持する。
// OwnerIDは作成時に一度だけ設定され、以降の更新で変更されない。
type Base struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	OwnerID   string    `json:"owner_id" gorm:"index;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index;autoCreateTime:false"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime:false"`
	Author    *Author   `json:"author,omitempty" gorm:"-"`
}

// GetID は記録のIDを返す。
func (b *Base) GetID() string { return b.ID }

// SetID は記録のIDを設定する。
func (b *Base) SetID(id string) { b.ID = id }

// GetOwnerID は作成者のユーザーIDを返す。
func (b *Base) GetOwnerID() string { return b.OwnerID }

// SetOwnerID は作成者のユーザーIDを設定する。
func (b *Base) SetOwnerID(ownerID string) { b.OwnerID = ownerID }

// GetCreatedAt は作成日時を返す。
func (b *Base) GetCreatedAt() time.Time { return b.CreatedAt }

// GetUpdatedAt は更新日時を返す。
func (b *Base) GetUpdatedAt() time.Time { return b.UpdatedAt }

// Stamp は作成時のタイムスタンプを設定する。
func (b *Base) Stamp(now time.Time) {
	b.CreatedAt = now
	b.UpdatedAt = now
}

// Touch は更新日時を設定する。
func (b *Base) Touch(now time.Time) { b.UpdatedAt = now }

// SetAuthor は表示用の作成者情報を設定する。
func (b *Base) SetAuthor(a *Author) { b.Author = a }
