package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/planboard/internal/middleware"
	"github.com/hitoshi/planboard/internal/model"
)

// --- モック定義 ---

type mockRecordService[T any] struct {
	listFn   func(ctx context.Context, p *model.Principal, parentID string) ([]T, error)
	getFn    func(ctx context.Context, p *model.Principal, parentID, id string) (T, error)
	createFn func(ctx context.Context, p *model.Principal, parentID string, rec T) (T, error)
	updateFn func(ctx context.Context, p *model.Principal, parentID, id string, apply func(rec T) error) (T, error)
	deleteFn func(ctx context.Context, p *model.Principal, parentID, id string) error
}

func (m *mockRecordService[T]) List(ctx context.Context, p *model.Principal, parentID string) ([]T, error) {
	if m.listFn != nil {
		return m.listFn(ctx, p, parentID)
	}
	return nil, nil
}

func (m *mockRecordService[T]) Get(ctx context.Context, p *model.Principal, parentID, id string) (T, error) {
	if m.getFn != nil {
		return m.getFn(ctx, p, parentID, id)
	}
	var zero T
	return zero, nil
}

func (m *mockRecordService[T]) Create(ctx context.Context, p *model.Principal, parentID string, rec T) (T, error) {
	if m.createFn != nil {
		return m.createFn(ctx, p, parentID, rec)
	}
	return rec, nil
}

func (m *mockRecordService[T]) Update(ctx context.Context, p *model.Principal, parentID, id string, apply func(rec T) error) (T, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, p, parentID, id, apply)
	}
	var zero T
	return zero, nil
}

func (m *mockRecordService[T]) Delete(ctx context.Context, p *model.Principal, parentID, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, p, parentID, id)
	}
	return nil
}

// mountWithPrincipal はテスト用に主体を注入した上でハンドラーを登録したルーターを返す。
func mountWithPrincipal(mount func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			p := &model.Principal{UserID: "u1", Role: model.RoleUser}
			next.ServeHTTP(w, req.WithContext(middleware.ContextWithPrincipal(req.Context(), p)))
		})
	})
	mount(r)
	return r
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// --- テスト ---

func TestResourceHandler_Create_DecodesBodyAndReturns201(t *testing.T) {
	svc := &mockRecordService[*model.Todo]{
		createFn: func(ctx context.Context, p *model.Principal, parentID string, rec *model.Todo) (*model.Todo, error) {
			if p.UserID != "u1" {
				t.Errorf("principal = %q", p.UserID)
			}
			rec.ID = "t1"
			rec.OwnerID = p.UserID
			return rec, nil
		},
	}
	router := mountWithPrincipal(func(r chi.Router) {
		r.Route("/api/todos", func(r chi.Router) { NewResourceHandler(svc, TodoBinding()).Mount(r) })
	})

	w := serve(router, http.MethodPost, "/api/todos", `{"title":"Buy milk"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var todo model.Todo
	json.NewDecoder(w.Body).Decode(&todo)
	if todo.ID != "t1" || todo.Title != "Buy milk" || todo.Completed || todo.OwnerID != "u1" {
		t.Errorf("todo = %+v", todo)
	}
}

func TestResourceHandler_Create_InvalidJSON(t *testing.T) {
	svc := &mockRecordService[*model.Todo]{
		createFn: func(ctx context.Context, p *model.Principal, parentID string, rec *model.Todo) (*model.Todo, error) {
			t.Error("Create should not be called")
			return nil, nil
		},
	}
	router := mountWithPrincipal(func(r chi.Router) {
		r.Route("/api/todos", func(r chi.Router) { NewResourceHandler(svc, TodoBinding()).Mount(r) })
	})

	w := serve(router, http.MethodPost, "/api/todos", `{"title":`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestResourceHandler_Update_IDSources(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantID     string
		wantStatus int
	}{
		{"path", http.MethodPatch, "/api/todos/t1", `{"completed":true}`, "t1", http.StatusOK},
		{"query", http.MethodPatch, "/api/todos?id=t2", `{"completed":true}`, "t2", http.StatusOK},
		{"body", http.MethodPatch, "/api/todos", `{"id":"t3","completed":true}`, "t3", http.StatusOK},
		{"query wins over body", http.MethodPatch, "/api/todos?id=t4", `{"id":"t5"}`, "t4", http.StatusOK},
		{"missing", http.MethodPatch, "/api/todos", `{"completed":true}`, "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID string
			svc := &mockRecordService[*model.Todo]{
				updateFn: func(ctx context.Context, p *model.Principal, parentID, id string, apply func(*model.Todo) error) (*model.Todo, error) {
					gotID = id
					rec := &model.Todo{Title: "Buy milk"}
					rec.ID = id
					if err := apply(rec); err != nil {
						return nil, err
					}
					return rec, nil
				},
			}
			router := mountWithPrincipal(func(r chi.Router) {
				r.Route("/api/todos", func(r chi.Router) { NewResourceHandler(svc, TodoBinding()).Mount(r) })
			})

			w := serve(router, tt.method, tt.target, tt.body)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotID != tt.wantID {
				t.Errorf("id = %q, want %q", gotID, tt.wantID)
			}
		})
	}
}

func TestResourceHandler_Update_AppliesOnlyProvidedFields(t *testing.T) {
	var updated *model.Todo
	svc := &mockRecordService[*model.Todo]{
		updateFn: func(ctx context.Context, p *model.Principal, parentID, id string, apply func(*model.Todo) error) (*model.Todo, error) {
			updated = &model.Todo{Title: "Buy milk", Description: "2 litres"}
			return updated, apply(updated)
		},
	}
	router := mountWithPrincipal(func(r chi.Router) {
		r.Route("/api/todos", func(r chi.Router) { NewResourceHandler(svc, TodoBinding()).Mount(r) })
	})

	w := serve(router, http.MethodPatch, "/api/todos/t1", `{"completed":true}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !updated.Completed || updated.Title != "Buy milk" || updated.Description != "2 litres" {
		t.Errorf("updated = %+v", updated)
	}
}

func TestResourceHandler_Delete(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		err        error
		wantStatus int
	}{
		{"path", "/api/todos/t1", nil, http.StatusNoContent},
		{"query", "/api/todos?id=t1", nil, http.StatusNoContent},
		{"missing id", "/api/todos", nil, http.StatusBadRequest},
		{"not found", "/api/todos/t1", model.NewResourceNotFoundError("todos", "t1"), http.StatusNotFound},
		{"not owner", "/api/todos/t1", model.NewForbiddenError("todos"), http.StatusForbidden},
		{"store failure", "/api/todos/t1", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockRecordService[*model.Todo]{
				deleteFn: func(ctx context.Context, p *model.Principal, parentID, id string) error {
					if id != "t1" {
						t.Errorf("id = %q, want t1", id)
					}
					return tt.err
				},
			}
			router := mountWithPrincipal(func(r chi.Router) {
				r.Route("/api/todos", func(r chi.Router) { NewResourceHandler(svc, TodoBinding()).Mount(r) })
			})

			w := serve(router, http.MethodDelete, tt.target, "")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestResourceHandler_Child_PassesParentFromPath(t *testing.T) {
	var gotParent, gotID string
	comments := &mockRecordService[*model.Comment]{
		getFn: func(ctx context.Context, p *model.Principal, parentID, id string) (*model.Comment, error) {
			gotParent, gotID = parentID, id
			return &model.Comment{PostID: parentID, Content: "hi"}, nil
		},
		listFn: func(ctx context.Context, p *model.Principal, parentID string) ([]*model.Comment, error) {
			gotParent = parentID
			return []*model.Comment{}, nil
		},
	}
	posts := &mockRecordService[*model.Post]{}
	router := mountWithPrincipal(func(r chi.Router) {
		child := NewChildResourceHandler(comments, CommentBinding())
		r.Route("/api/posts", func(r chi.Router) {
			NewResourceHandler(posts, PostBinding()).Mount(r, func(r chi.Router) {
				r.Route("/comments", func(r chi.Router) { child.Mount(r) })
			})
		})
	})

	w := serve(router, http.MethodGet, "/api/posts/p1/comments/c1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotParent != "p1" || gotID != "c1" {
		t.Errorf("parent, id = %q, %q", gotParent, gotID)
	}

	w = serve(router, http.MethodGet, "/api/posts/p9/comments", "")
	if w.Code != http.StatusOK || gotParent != "p9" {
		t.Errorf("list status = %d, parent = %q", w.Code, gotParent)
	}

	// 子リソースにはクエリ形式の更新・削除はない
	w = serve(router, http.MethodDelete, "/api/posts/p1/comments?id=c1", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("query delete status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestResourceHandler_BallotsCannotBePatched(t *testing.T) {
	ballots := &mockRecordService[*model.Ballot]{}
	router := mountWithPrincipal(func(r chi.Router) {
		r.Route("/api/votes/{id}/ballots", func(r chi.Router) {
			NewChildResourceHandler(ballots, BallotBinding()).Mount(r)
		})
	})

	w := serve(router, http.MethodPatch, "/api/votes/v1/ballots/b1", `{"option":"A"}`)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestResourceHandler_NoPrincipal_Returns401(t *testing.T) {
	svc := &mockRecordService[*model.Todo]{
		listFn: func(ctx context.Context, p *model.Principal, parentID string) ([]*model.Todo, error) {
			t.Error("List should not be called")
			return nil, nil
		},
	}
	r := chi.NewRouter()
	r.Route("/api/todos", func(r chi.Router) { NewResourceHandler(svc, TodoBinding()).Mount(r) })

	w := serve(r, http.MethodGet, "/api/todos", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
