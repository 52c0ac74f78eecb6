// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限区分を表す。
type Role string

const (
	// RoleUser は一般ユーザー。
	RoleUser Role = "user"
	// RoleAdmin は管理者。お知らせ・投票・回答の作成が可能。
	RoleAdmin Role = "admin"
)

// User はサービス利用ユーザーを表す。
// Google OAuthで作成されたユーザーはPasswordHashを持たない。
type User struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	Email        string    `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string    `json:"-"`
	Nickname     string    `json:"nickname"`
	Role         Role      `json:"role" gorm:"not null;default:user"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAdmin は管理者かどうかを返す。
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"index;not null"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
}

// Principal はリクエストを行っている認証済み主体を表す。
// セッションガードが解決し、リクエストコンテキストに格納する。
type Principal struct {
	UserID   string `json:"id"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
	Role     Role   `json:"role"`
}

// IsAdmin は管理者権限を持つかどうかを返す。
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// PrincipalFromUser はUserからPrincipalを生成する。
func PrincipalFromUser(u *User) *Principal {
	return &Principal{
		UserID:   u.ID,
		Email:    u.Email,
		Nickname: u.Nickname,
		Role:     u.Role,
	}
}
