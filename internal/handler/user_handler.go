package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/planboard/internal/middleware"
	"github.com/hitoshi/planboard/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*user.Profile, error)
	UpdateNickname(ctx context.Context, userID, nickname string) (*user.Profile, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
	// Withdraw はユーザーの退会処理を実行する。
	// セッションを削除した後、ユーザーと所有する記録を削除する。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はプロフィールと退会のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	// onWithdraw は退会成功後にレスポンスへ追加処理を行う（セッションCookieの削除）。
	onWithdraw func(w http.ResponseWriter)
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, onWithdraw func(w http.ResponseWriter)) *UserHandler {
	return &UserHandler{
		service:    service,
		onWithdraw: onWithdraw,
	}
}

type updateProfileRequest struct {
	Nickname string `json:"nickname"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// GetProfile はログインユーザーのプロフィールを返す。
// GET /api/profile
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	profile, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpdateProfile はニックネームを変更する。
// PATCH /api/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	profile, err := h.service.UpdateNickname(r.Context(), userID, req.Nickname)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// ChangePassword はパスワードを変更する。
// PUT /api/profile/password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	if h.onWithdraw != nil {
		h.onWithdraw(w)
	}
	w.WriteHeader(http.StatusNoContent)
}
