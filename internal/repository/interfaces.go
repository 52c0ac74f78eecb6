// Package repository はデータ永続化のインターフェースと実装を提供する。
//
// 実装は3種類ある。
//   - Memory: プロセス内メモリ（再起動で消える。開発・テスト用）
//   - Postgres: database/sql + lib/pq
//   - Gorm: gorm + SQLite（単一プロセスでの永続化用）
package repository

import (
	"context"

	"github.com/hitoshi/planboard/internal/model"
	"github.com/hitoshi/planboard/internal/resource"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はresource.ErrConflictを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile はニックネームとパスワードハッシュを更新する。
	UpdateProfile(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 作成したリソース記録とセッションも削除される。
	DeleteByID(ctx context.Context, id string) error

	// FindNicknames は指定ユーザーIDのニックネームをまとめて取得する。
	// 存在しないIDは結果に含めない。
	FindNicknames(ctx context.Context, ids []string) (map[string]string, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// Stores はバックエンドごとのリポジトリ一式をまとめた構造体。
type Stores struct {
	Users    UserRepository
	Sessions SessionRepository

	Todos     resource.Store[*model.Todo]
	Events    resource.Store[*model.Event]
	Posts     resource.Store[*model.Post]
	Comments  resource.Store[*model.Comment]
	Questions resource.Store[*model.Question]
	Answers   resource.Store[*model.Answer]
	Notices   resource.Store[*model.Notice]
	Votes     resource.Store[*model.Vote]
	Ballots   resource.Store[*model.Ballot]

	// AnswerWriter は回答の登録と質問の回答済みフラグ更新を原子的に行う。
	AnswerWriter resource.AnswerWriter
}

// Backend はリソースストア一式をresource.Backendとして返す。
func (s *Stores) Backend() resource.Backend {
	return resource.Backend{
		Todos:        s.Todos,
		Events:       s.Events,
		Posts:        s.Posts,
		Comments:     s.Comments,
		Questions:    s.Questions,
		Answers:      s.Answers,
		Notices:      s.Notices,
		Votes:        s.Votes,
		Ballots:      s.Ballots,
		AnswerWriter: s.AnswerWriter,
	}
}
