package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hitoshi/planboard/internal/model"
	"github.com/hitoshi/planboard/internal/resource"
)

// recordPtr はmodel.Baseを埋め込んだ構造体Tのポインタ型を表す制約。
type recordPtr[T any] interface {
	*T
	resource.Record
}

// MemoryStore はプロセス内メモリに記録を保持するストア。
// 記録は新しい順に保持し、読み書きはRWMutexで直列化する。
// 返却する記録は常にコピーであり、呼び出し側の変更は保存内容に影響しない。
type MemoryStore[T any, PT recordPtr[T]] struct {
	mu       sync.RWMutex
	records  []PT
	unique   func(PT) string
	preserve func(stored, next PT)
	onDelete []func(id string)
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore[T any, PT recordPtr[T]]() *MemoryStore[T, PT] {
	return &MemoryStore[T, PT]{}
}

// WithUniqueKey は一意制約のキーを設定する。
// 同じキーを持つ記録の作成はresource.ErrConflictとなる。
func (s *MemoryStore[T, PT]) WithUniqueKey(key func(PT) string) *MemoryStore[T, PT] {
	s.unique = key
	return s
}

// WithPreserved は更新時に保存済みの値を引き継ぐフィールドを設定する。
// サーバー側で別途更新されるフィールドが古い値で上書きされないようにする。
func (s *MemoryStore[T, PT]) WithPreserved(fn func(stored, next PT)) *MemoryStore[T, PT] {
	s.preserve = fn
	return s
}

// AfterDelete は記録の削除後に呼び出す関数を登録する。
// 子リソースの連鎖削除に使用する。
func (s *MemoryStore[T, PT]) AfterDelete(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDelete = append(s.onDelete, fn)
}

// Create は記録を先頭に追加する。IDが未設定の場合はUUIDv7を採番する。
func (s *MemoryStore[T, PT]) Create(ctx context.Context, rec PT) (PT, error) {
	c := cloneRecord[T, PT](rec)
	if c.GetID() == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate record ID: %w", err)
		}
		c.SetID(id.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.GetID() == c.GetID() {
			return nil, resource.ErrConflict
		}
		if s.unique != nil && s.unique(existing) == s.unique(c) {
			return nil, resource.ErrConflict
		}
	}

	s.records = append([]PT{c}, s.records...)
	return cloneRecord[T, PT](c), nil
}

// Get は指定IDの記録を返す。
func (s *MemoryStore[T, PT]) Get(ctx context.Context, id string) (PT, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		return cloneRecord[T, PT](s.records[i]), nil
	}
	return nil, resource.ErrNotFound
}

// List は条件に一致する記録を新しい順に返す。
func (s *MemoryStore[T, PT]) List(ctx context.Context, q resource.Query) ([]PT, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]PT, 0, len(s.records))
	for _, rec := range s.records {
		if q.OwnerID != "" && rec.GetOwnerID() != q.OwnerID {
			continue
		}
		if q.ParentID != "" && parentIDOf(rec) != q.ParentID {
			continue
		}
		result = append(result, cloneRecord[T, PT](rec))
	}
	return result, nil
}

// Update はロックを保持したまま保存済みの記録のコピーにfnを適用し、置き換える。
func (s *MemoryStore[T, PT]) Update(ctx context.Context, id string, fn func(rec PT) error) (PT, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, resource.ErrNotFound
	}

	stored := s.records[i]
	c, err := modifyCopy[T, PT](stored, fn)
	if err != nil {
		return nil, err
	}
	if s.preserve != nil {
		s.preserve(stored, c)
	}
	s.records[i] = c

	return cloneRecord[T, PT](c), nil
}

// Modify は保存済みの記録にロックを保持したままfnを適用する。
func (s *MemoryStore[T, PT]) Modify(id string, fn func(rec PT)) (PT, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, resource.ErrNotFound
	}
	fn(s.records[i])
	return cloneRecord[T, PT](s.records[i]), nil
}

// Delete は記録を削除し、登録済みの削除後処理を呼び出す。
func (s *MemoryStore[T, PT]) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return resource.ErrNotFound
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	hooks := append([]func(string){}, s.onDelete...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(id)
	}
	return nil
}

// DeleteWhere は条件に一致する記録をまとめて削除し、削除件数を返す。
func (s *MemoryStore[T, PT]) DeleteWhere(q resource.Query) int {
	s.mu.Lock()
	kept := s.records[:0]
	var removed []string
	for _, rec := range s.records {
		ownerMatch := q.OwnerID == "" || rec.GetOwnerID() == q.OwnerID
		parentMatch := q.ParentID == "" || parentIDOf(rec) == q.ParentID
		if ownerMatch && parentMatch {
			removed = append(removed, rec.GetID())
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	hooks := append([]func(string){}, s.onDelete...)
	s.mu.Unlock()

	for _, id := range removed {
		for _, fn := range hooks {
			fn(id)
		}
	}
	return len(removed)
}

// Len は保持している記録数を返す。
func (s *MemoryStore[T, PT]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore[T, PT]) indexOf(id string) int {
	for i, rec := range s.records {
		if rec.GetID() == id {
			return i
		}
	}
	return -1
}

// cloneRecord は記録の浅いコピーを返す。
// スライスやポインタのフィールドは置き換えのみで更新するため共有しても問題ない。
func cloneRecord[T any, PT recordPtr[T]](rec PT) PT {
	c := *rec
	return PT(&c)
}

// modifyCopy は保存済みの記録のコピーにfnを適用する。
// ID・所有者・作成日時・親参照はfnの変更にかかわらず保存済みの値に戻す。
func modifyCopy[T any, PT recordPtr[T]](stored PT, fn func(rec PT) error) (PT, error) {
	c := cloneRecord[T, PT](stored)
	if err := fn(c); err != nil {
		return nil, err
	}

	updatedAt := c.GetUpdatedAt()
	c.SetID(stored.GetID())
	c.SetOwnerID(stored.GetOwnerID())
	c.Stamp(stored.GetCreatedAt())
	c.Touch(updatedAt)
	if child, ok := any(c).(resource.Child); ok {
		child.SetParentID(parentIDOf(stored))
	}
	return c, nil
}

func parentIDOf(rec resource.Record) string {
	if child, ok := rec.(resource.Child); ok {
		return child.GetParentID()
	}
	return ""
}

// compile-time interface check
var _ resource.Store[*model.Todo] = (*MemoryStore[model.Todo, *model.Todo])(nil)
