package client

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"sync"
)

// Record はViewが扱う記録の制約。
type Record interface {
	GetID() string
}

// View は1つのリソース一覧をローカルに保持する。
// 変更操作はサーバーの応答を確定値としてローカル一覧へ反映し、再取得は行わない。
// 失敗した変更はローカル一覧を変更しない。
type View[T Record] struct {
	client *Client
	path   string

	mu    sync.RWMutex
	items []T
}

// NewView はpath（例: /api/todos、/api/posts/{id}/comments）の一覧を扱うViewを生成する。
func NewView[T Record](c *Client, path string) *View[T] {
	return &View[T]{client: c, path: path}
}

// Load はサーバーから一覧を取得し、ローカル一覧を置き換える。
func (v *View[T]) Load(ctx context.Context) error {
	var items []T
	if err := v.client.request(ctx, http.MethodGet, v.path, nil, &items); err != nil {
		return err
	}

	v.mu.Lock()
	v.items = items
	v.mu.Unlock()
	return nil
}

// Create は記録を作成し、応答の記録を一覧の先頭に追加する。
func (v *View[T]) Create(ctx context.Context, input any) (T, error) {
	var created T
	if err := v.client.request(ctx, http.MethodPost, v.path, input, &created); err != nil {
		var zero T
		return zero, err
	}

	v.mu.Lock()
	v.items = slices.Insert(v.items, 0, created)
	v.mu.Unlock()
	return created, nil
}

// Update は記録を更新し、同じIDのローカル記録を応答の記録で置き換える。
// ローカルに存在しない場合は一覧を変更しない。
func (v *View[T]) Update(ctx context.Context, id string, patch any) (T, error) {
	var updated T
	if err := v.client.request(ctx, http.MethodPatch, v.itemPath(id), patch, &updated); err != nil {
		var zero T
		return zero, err
	}

	v.mu.Lock()
	if i := v.indexOf(id); i >= 0 {
		v.items[i] = updated
	}
	v.mu.Unlock()
	return updated, nil
}

// Delete は記録を削除し、成功した場合にローカル一覧から取り除く。
func (v *View[T]) Delete(ctx context.Context, id string) error {
	if err := v.client.request(ctx, http.MethodDelete, v.itemPath(id), nil, nil); err != nil {
		return err
	}

	v.mu.Lock()
	v.items = slices.DeleteFunc(v.items, func(item T) bool { return item.GetID() == id })
	v.mu.Unlock()
	return nil
}

// Items はローカル一覧のコピーを返す。
func (v *View[T]) Items() []T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.items)
}

func (v *View[T]) itemPath(id string) string {
	return v.path + "/" + url.PathEscape(id)
}

func (v *View[T]) indexOf(id string) int {
	return slices.IndexFunc(v.items, func(item T) bool { return item.GetID() == id })
}
