// Package resource はセッションで保護された所有者付きリソースの汎用CRUDを提供する。
//
// 各リソース種別（todo, post, event 等）は Store と Policy の組で表現され、
// Service が所有者チェック・可視性・入力検証を一元的に行う。
package resource

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/planboard/internal/model"
)

var (
	// ErrNotFound は指定IDの記録が存在しないことを示す。
	ErrNotFound = errors.New("record not found")
	// ErrConflict は一意制約に違反したことを示す。
	ErrConflict = errors.New("record conflicts with an existing record")
	// ErrInvalid は値がカラムの制約（長さ等）を満たさないことを示す。
	ErrInvalid = errors.New("record value violates a column constraint")
)

// Record は全リソース記録が満たすインターフェース。
// model.Base を埋め込んだ構造体のポインタが満たす。
type Record interface {
	GetID() string
	SetID(id string)
	GetOwnerID() string
	SetOwnerID(ownerID string)
	GetCreatedAt() time.Time
	GetUpdatedAt() time.Time
	Stamp(now time.Time)
	Touch(now time.Time)
	SetAuthor(a *model.Author)
}

// Child は親リソースを持つ記録（コメント、回答、票）が満たすインターフェース。
type Child interface {
	GetParentID() string
	SetParentID(id string)
	ParentColumn() string
}

// Private は非公開フラグを持つ記録が満たすインターフェース。
type Private interface {
	IsPrivateRecord() bool
}

// Query は一覧取得の絞り込み条件。空文字の条件は適用しない。
type Query struct {
	OwnerID  string
	ParentID string
}

// Store はリソース記録の永続化インターフェース。
// 一覧は作成日時の降順（新しい順）で返す。
type Store[T Record] interface {
	// Create は記録を保存し、IDが採番された記録を返す。
	Create(ctx context.Context, rec T) (T, error)
	// Get は指定IDの記録を返す。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, id string) (T, error)
	// List は条件に一致する記録を新しい順に返す。
	List(ctx context.Context, q Query) ([]T, error)
	// Update は保存済みの記録を読み込みfnを適用して書き戻すまでを一つの操作として行う。
	// 並行する更新はこの操作単位で直列化される。fnがエラーを返した場合は何も書き込まず
	// そのエラーをそのまま返す。ID・所有者・作成日時・親参照は変更しない。
	Update(ctx context.Context, id string, fn func(rec T) error) (T, error)
	// Delete は指定IDの記録を削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error
}

// AnswerWriter は回答の登録と質問の回答済みフラグ更新を単一の原子的操作として行う。
type AnswerWriter interface {
	// CreateAnswer は回答を保存し、対象の質問を回答済みにする。
	// 質問が存在しない場合はErrNotFoundを返し、何も書き込まない。
	CreateAnswer(ctx context.Context, answer *model.Answer) (*model.Answer, error)
}

// AuthorResolver はユーザーIDから表示名を解決する。
type AuthorResolver interface {
	Nicknames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// MutationRecorder は変更操作の件数を記録する。
type MutationRecorder interface {
	RecordMutation(resource, operation string)
}

// Sanitizer はHTMLコンテンツを無害化する。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}
