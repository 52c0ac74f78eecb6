package auth

import (
	"errors"
	"fmt"

	"github.com/hitoshi/planboard/internal/model"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcryptは72バイトを超える入力を扱えない
	maxPasswordBytes = 72
)

// ValidatePassword はパスワードの長さを検証する。
func ValidatePassword(password string) error {
	if len([]rune(password)) < minPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で指定してください", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return model.NewValidationError(fmt.Sprintf("パスワードは%dバイト以下で指定してください", maxPasswordBytes))
	}
	return nil
}

// HashPassword はパスワードをbcryptでハッシュ化する。costが0の場合は既定値を使う。
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword はハッシュとパスワードが一致するかを返す。
// ハッシュが空（外部認証のみのユーザー）の場合は常に不一致とする。
func ComparePassword(hash, password string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to compare password: %w", err)
	}
	return true, nil
}
