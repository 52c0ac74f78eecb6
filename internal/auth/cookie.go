package auth

import (
	"fmt"

	"github.com/gorilla/securecookie"
)

// SessionCookieName はセッションIDを保持するCookie名。
const SessionCookieName = "session_id"

// CookieCodec はセッションIDを署名・暗号化したCookie値に変換する。
// 改ざんされた値や期限切れの値は復号できない。
type CookieCodec struct {
	sc *securecookie.SecureCookie
}

// NewCookieCodec はCookieCodecを生成する。maxAgeは値の有効期間（秒）。
func NewCookieCodec(secret string, maxAge int) (*CookieCodec, error) {
	hashKey, err := deriveKey(secret, "cookie-hash", 64)
	if err != nil {
		return nil, err
	}
	blockKey, err := deriveKey(secret, "cookie-block", 32)
	if err != nil {
		return nil, err
	}

	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(maxAge)
	return &CookieCodec{sc: sc}, nil
}

// Encode はセッションIDをCookie値に変換する。
func (c *CookieCodec) Encode(sessionID string) (string, error) {
	value, err := c.sc.Encode(SessionCookieName, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to encode session cookie: %w", err)
	}
	return value, nil
}

// Decode はCookie値からセッションIDを取り出す。
func (c *CookieCodec) Decode(value string) (string, error) {
	var sessionID string
	if err := c.sc.Decode(SessionCookieName, value, &sessionID); err != nil {
		return "", fmt.Errorf("failed to decode session cookie: %w", err)
	}
	return sessionID, nil
}
