package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/planboard/internal/model"
)

// VoteTallyInterface は投票集計ハンドラーが必要とするインターフェース。resource.Tallyが実装する。
type VoteTallyInterface interface {
	Results(ctx context.Context, p *model.Principal, voteID string) (*model.VoteResult, error)
}

// VoteResultsHandler は投票結果のHTTPハンドラー。
type VoteResultsHandler struct {
	tally VoteTallyInterface
}

// NewVoteResultsHandler はVoteResultsHandlerを生成する。
func NewVoteResultsHandler(tally VoteTallyInterface) *VoteResultsHandler {
	return &VoteResultsHandler{tally: tally}
}

// Mount は /{id} 配下に集計ルートを登録する。
func (h *VoteResultsHandler) Mount(r chi.Router) {
	r.Get("/results", h.Results)
}

// Results は選択肢ごとの得票数を返す。
// GET /api/votes/{id}/results
func (h *VoteResultsHandler) Results(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(w, r)
	if !ok {
		return
	}

	result, err := h.tally.Results(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
