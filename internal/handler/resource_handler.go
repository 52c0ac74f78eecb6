package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/planboard/internal/model"
	"github.com/hitoshi/planboard/internal/resource"
)

// RecordService はリソースハンドラーが必要とするサービスインターフェース。
// resource.Serviceが実装する。
type RecordService[T resource.Record] interface {
	List(ctx context.Context, p *model.Principal, parentID string) ([]T, error)
	Get(ctx context.Context, p *model.Principal, parentID, id string) (T, error)
	Create(ctx context.Context, p *model.Principal, parentID string, rec T) (T, error)
	Update(ctx context.Context, p *model.Principal, parentID, id string, apply func(rec T) error) (T, error)
	Delete(ctx context.Context, p *model.Principal, parentID, id string) error
}

// Binding はリクエストボディとリソース記録の変換を表す。
type Binding[T resource.Record] struct {
	// Decode は作成リクエストのボディから新しい記録を組み立てる。
	Decode func(w http.ResponseWriter, r *http.Request) (T, error)
	// Patch は更新リクエストのボディを読み、ボディ内のIDと変更関数を返す。
	// nilの場合、そのリソースは更新を受け付けない。
	Patch func(w http.ResponseWriter, r *http.Request) (bodyID string, apply func(rec T) error, err error)
}

// ResourceHandler は所有者付きリソースのCRUDハンドラー。
// 子リソースの場合、親IDはURLパラメータ {id}、自身のIDは {childID} から取得する。
type ResourceHandler[T resource.Record] struct {
	service RecordService[T]
	binding Binding[T]
	child   bool
}

// NewResourceHandler はトップレベルのリソースハンドラーを生成する。
func NewResourceHandler[T resource.Record](service RecordService[T], binding Binding[T]) *ResourceHandler[T] {
	return &ResourceHandler[T]{service: service, binding: binding}
}

// NewChildResourceHandler は親リソース配下のリソースハンドラーを生成する。
func NewChildResourceHandler[T resource.Record](service RecordService[T], binding Binding[T]) *ResourceHandler[T] {
	return &ResourceHandler[T]{service: service, binding: binding, child: true}
}

// Mount はコレクションとアイテムのルートを登録する。
//
//	GET    /            一覧
//	POST   /            作成
//	PATCH  /?id=        更新（トップレベルのみ。ボディの "id" も可）
//	DELETE /?id=        削除（トップレベルのみ）
//	GET    /{id}        取得
//	PATCH  /{id}        更新
//	DELETE /{id}        削除
//
// nestedは /{id} 配下に子リソースのルートを登録する。
func (h *ResourceHandler[T]) Mount(r chi.Router, nested ...func(r chi.Router)) {
	param := h.itemParam()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	if !h.child {
		if h.binding.Patch != nil {
			r.Patch("/", h.UpdateByQuery)
		}
		r.Delete("/", h.DeleteByQuery)
	}

	r.Route("/{"+param+"}", func(r chi.Router) {
		r.Get("/", h.Get)
		if h.binding.Patch != nil {
			r.Patch("/", h.Update)
		}
		r.Delete("/", h.Delete)
		for _, mount := range nested {
			mount(r)
		}
	})
}

// List は呼び出し元が参照可能な記録を新しい順に返す。
func (h *ResourceHandler[T]) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(w, r)
	if !ok {
		return
	}

	recs, err := h.service.List(r.Context(), p, h.parentID(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// Get は指定IDの記録を返す。
func (h *ResourceHandler[T]) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(w, r)
	if !ok {
		return
	}

	rec, err := h.service.Get(r.Context(), p, h.parentID(r), chi.URLParam(r, h.itemParam()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Create は記録を作成し、201で作成結果を返す。
func (h *ResourceHandler[T]) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(w, r)
	if !ok {
		return
	}

	rec, err := h.binding.Decode(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	created, err := h.service.Create(r.Context(), p, h.parentID(r), rec)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Update はパスで指定された記録を更新する。
func (h *ResourceHandler[T]) Update(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, chi.URLParam(r, h.itemParam()))
}

// UpdateByQuery はクエリパラメータ id またはボディの "id" で指定された記録を更新する。
func (h *ResourceHandler[T]) UpdateByQuery(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, r.URL.Query().Get("id"))
}

// Delete はパスで指定された記録を削除し、204を返す。
func (h *ResourceHandler[T]) Delete(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, chi.URLParam(r, h.itemParam()))
}

// DeleteByQuery はクエリパラメータ id で指定された記録を削除する。
func (h *ResourceHandler[T]) DeleteByQuery(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, r.URL.Query().Get("id"))
}

func (h *ResourceHandler[T]) update(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principalFrom(w, r)
	if !ok {
		return
	}

	// 1. ボディの解析（IDの補完を含む）
	bodyID, apply, err := h.binding.Patch(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if id == "" {
		id = bodyID
	}
	if id == "" {
		handleServiceError(w, model.NewMissingIDError())
		return
	}

	// 2. 更新
	updated, err := h.service.Update(r.Context(), p, h.parentID(r), id, apply)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ResourceHandler[T]) delete(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principalFrom(w, r)
	if !ok {
		return
	}
	if id == "" {
		handleServiceError(w, model.NewMissingIDError())
		return
	}

	if err := h.service.Delete(r.Context(), p, h.parentID(r), id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ResourceHandler[T]) itemParam() string {
	if h.child {
		return "childID"
	}
	return "id"
}

func (h *ResourceHandler[T]) parentID(r *http.Request) string {
	if !h.child {
		return ""
	}
	return chi.URLParam(r, "id")
}
