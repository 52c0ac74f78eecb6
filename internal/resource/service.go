package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/planboard/internal/model"
)

// ParentCheck は親リソースが呼び出し元から参照可能かを検証する。
type ParentCheck func(ctx context.Context, p *model.Principal, parentID string) error

// Policy はリソース種別ごとの差分（可視性、権限、入力検証）を表す。
type Policy[T Record] struct {
	// Resource はリソース名（todos, posts 等）。エラーメッセージとメトリクスに使う。
	Resource string
	// OwnerScoped が真の場合、作成者本人の記録のみを一覧・参照できる。
	OwnerScoped bool
	// AdminCreate が真の場合、作成は管理者に限られる。
	AdminCreate bool
	// Normalize は検証前に入力を整形する。
	Normalize func(rec T)
	// Validate は必須項目などを検証する。
	Validate func(rec T) error
	// Parent は親リソースの参照可否を検証する。子リソースでのみ設定する。
	Parent ParentCheck
	// BeforeCreate は保存直前の追加検証を行う。
	BeforeCreate func(ctx context.Context, p *model.Principal, rec T) error
	// BeforeDelete は削除直前の追加検証を行う。
	BeforeDelete func(ctx context.Context, p *model.Principal, rec T) error
	// Insert は保存処理を差し替える。nilの場合はStore.Createを使う。
	Insert func(ctx context.Context, rec T) (T, error)
}

// Deps はServiceの任意依存関係。
type Deps struct {
	Authors AuthorResolver
	Metrics MutationRecorder
	Now     func() time.Time
}

// Service は所有者付きリソースのCRUDを提供する。
// 検証と権限チェックは全て書き込みより前に行う。
type Service[T Record] struct {
	store   Store[T]
	policy  Policy[T]
	authors AuthorResolver
	metrics MutationRecorder
	now     func() time.Time
}

// NewService はServiceを生成する。
func NewService[T Record](store Store[T], policy Policy[T], deps Deps) *Service[T] {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service[T]{
		store:   store,
		policy:  policy,
		authors: deps.Authors,
		metrics: deps.Metrics,
		now:     now,
	}
}

// Resource はリソース名を返す。
func (s *Service[T]) Resource() string {
	return s.policy.Resource
}

// List は呼び出し元が参照可能な記録を新しい順に返す。
// 非公開の記録は作成者と管理者以外には返さない。
func (s *Service[T]) List(ctx context.Context, p *model.Principal, parentID string) ([]T, error) {
	if err := s.checkParent(ctx, p, parentID); err != nil {
		return nil, err
	}

	q := Query{ParentID: parentID}
	if s.policy.OwnerScoped {
		q.OwnerID = p.UserID
	}

	recs, err := s.store.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.policy.Resource, err)
	}

	visible := make([]T, 0, len(recs))
	for _, rec := range recs {
		if s.canView(p, rec) {
			visible = append(visible, rec)
		}
	}

	s.attachAuthors(ctx, visible)
	return visible, nil
}

// Get は指定IDの記録を返す。
func (s *Service[T]) Get(ctx context.Context, p *model.Principal, parentID, id string) (T, error) {
	rec, err := s.load(ctx, p, parentID, id)
	if err != nil {
		var zero T
		return zero, err
	}
	s.attachAuthors(ctx, []T{rec})
	return rec, nil
}

// Create は記録を作成する。ID・所有者・作成日時はサーバー側で設定する。
func (s *Service[T]) Create(ctx context.Context, p *model.Principal, parentID string, rec T) (T, error) {
	var zero T

	// 1. 作成権限の確認
	if s.policy.AdminCreate && !p.IsAdmin() {
		return zero, model.NewForbiddenError(s.policy.Resource)
	}

	// 2. 親リソースの確認
	if err := s.checkParent(ctx, p, parentID); err != nil {
		return zero, err
	}
	if child, ok := any(rec).(Child); ok {
		child.SetParentID(parentID)
	}

	// 3. サーバー管理フィールドの設定
	rec.SetID("")
	rec.SetOwnerID(p.UserID)
	rec.Stamp(s.now().UTC())

	// 4. 入力の整形と検証
	if err := s.validate(rec); err != nil {
		return zero, err
	}
	if s.policy.BeforeCreate != nil {
		if err := s.policy.BeforeCreate(ctx, p, rec); err != nil {
			return zero, err
		}
	}

	// 5. 保存
	insert := s.store.Create
	if s.policy.Insert != nil {
		insert = s.policy.Insert
	}
	created, err := insert(ctx, rec)
	if err != nil {
		return zero, s.translate(err, "")
	}

	s.record("create")
	s.attachAuthors(ctx, []T{created})
	return created, nil
}

// Update は作成者本人による記録の更新を行う。
// applyは変更可能なフィールドのみを書き換える。読み込みから保存まではストアの
// 一操作として行うため、並行する更新が互いの変更を上書きすることはない。
func (s *Service[T]) Update(ctx context.Context, p *model.Principal, parentID, id string, apply func(rec T) error) (T, error) {
	var zero T

	// 1. 親リソースの確認
	if err := s.checkParent(ctx, p, parentID); err != nil {
		return zero, err
	}

	// 2. 最新の記録に対して権限確認・変更・検証を行い保存する
	updated, err := s.store.Update(ctx, id, func(rec T) error {
		if err := s.checkAccess(p, parentID, id, rec); err != nil {
			return err
		}
		if rec.GetOwnerID() != p.UserID {
			return model.NewForbiddenError(s.policy.Resource)
		}
		if err := apply(rec); err != nil {
			return err
		}
		rec.Touch(s.now().UTC())
		return s.validate(rec)
	})
	if err != nil {
		return zero, s.translate(err, id)
	}

	s.record("update")
	s.attachAuthors(ctx, []T{updated})
	return updated, nil
}

// Delete は作成者本人による記録の削除を行う。
// 2回目の削除はNotFoundとなる。
func (s *Service[T]) Delete(ctx context.Context, p *model.Principal, parentID, id string) error {
	rec, err := s.load(ctx, p, parentID, id)
	if err != nil {
		return err
	}
	if rec.GetOwnerID() != p.UserID {
		return model.NewForbiddenError(s.policy.Resource)
	}
	if s.policy.BeforeDelete != nil {
		if err := s.policy.BeforeDelete(ctx, p, rec); err != nil {
			return err
		}
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return s.translate(err, id)
	}

	s.record("delete")
	return nil
}

// load は記録を取得し、親子関係と可視性を検証する。
func (s *Service[T]) load(ctx context.Context, p *model.Principal, parentID, id string) (T, error) {
	var zero T

	if err := s.checkParent(ctx, p, parentID); err != nil {
		return zero, err
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return zero, s.translate(err, id)
	}

	if err := s.checkAccess(p, parentID, id, rec); err != nil {
		return zero, err
	}
	return rec, nil
}

func (s *Service[T]) checkParent(ctx context.Context, p *model.Principal, parentID string) error {
	if s.policy.Parent == nil {
		return nil
	}
	if parentID == "" {
		return model.NewMissingIDError()
	}
	return s.policy.Parent(ctx, p, parentID)
}

func (s *Service[T]) validate(rec T) error {
	if s.policy.Normalize != nil {
		s.policy.Normalize(rec)
	}
	if s.policy.Validate != nil {
		return s.policy.Validate(rec)
	}
	return nil
}

// checkAccess は記録が指定の親に属し、呼び出し元から参照可能かを検証する。
func (s *Service[T]) checkAccess(p *model.Principal, parentID, id string, rec T) error {
	if child, ok := any(rec).(Child); ok && parentID != "" && child.GetParentID() != parentID {
		return model.NewResourceNotFoundError(s.policy.Resource, id)
	}
	if !s.canView(p, rec) {
		return model.NewForbiddenError(s.policy.Resource)
	}
	return nil
}

// canView は記録が呼び出し元から参照可能かを判定する。
func (s *Service[T]) canView(p *model.Principal, rec T) bool {
	if rec.GetOwnerID() == p.UserID {
		return true
	}
	if s.policy.OwnerScoped {
		return false
	}
	if priv, ok := any(rec).(Private); ok && priv.IsPrivateRecord() {
		return p.IsAdmin()
	}
	return true
}

// translate はストア層のエラーをAPIErrorに変換する。
// APIErrorはそのまま返し、想定外のエラーはラップして返す。
func (s *Service[T]) translate(err error, id string) error {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		return err
	case errors.Is(err, ErrNotFound):
		return model.NewResourceNotFoundError(s.policy.Resource, id)
	case errors.Is(err, ErrConflict):
		return model.NewConflictError(s.policy.Resource)
	case errors.Is(err, ErrInvalid):
		return model.NewValidationError(fmt.Sprintf("%s の入力値が長すぎるか形式が不正です", s.policy.Resource))
	default:
		return fmt.Errorf("%s store operation failed: %w", s.policy.Resource, err)
	}
}

func (s *Service[T]) record(op string) {
	if s.metrics != nil {
		s.metrics.RecordMutation(s.policy.Resource, op)
	}
}

// attachAuthors は記録に作成者の表示名を付与する。
// 表示名の解決に失敗しても記録自体は返す。
func (s *Service[T]) attachAuthors(ctx context.Context, recs []T) {
	if s.authors == nil || len(recs) == 0 {
		return
	}

	seen := make(map[string]struct{}, len(recs))
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		if _, ok := seen[rec.GetOwnerID()]; ok {
			continue
		}
		seen[rec.GetOwnerID()] = struct{}{}
		ids = append(ids, rec.GetOwnerID())
	}

	names, err := s.authors.Nicknames(ctx, ids)
	if err != nil {
		slog.Warn("failed to resolve authors",
			slog.String("resource", s.policy.Resource),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, rec := range recs {
		if name, ok := names[rec.GetOwnerID()]; ok {
			rec.SetAuthor(&model.Author{Nickname: name})
		}
	}
}
