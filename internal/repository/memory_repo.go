package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/planboard/internal/model"
	"github.com/hitoshi/planboard/internal/resource"
)

// MemoryUserRepo はプロセス内メモリを使用したユーザーリポジトリ。
type MemoryUserRepo struct {
	mu       sync.RWMutex
	users    map[string]model.User
	onDelete []func(userID string)
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]model.User)}
}

// AfterDelete はユーザー削除後に呼び出す関数を登録する。
func (r *MemoryUserRepo) AfterDelete(fn func(userID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDelete = append(r.onDelete, fn)
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。大文字小文字は区別しない。
func (r *MemoryUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			found := u
			return &found, nil
		}
	}
	return nil, nil
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; ok {
		return resource.ErrConflict
	}
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return resource.ErrConflict
		}
	}
	r.users[user.ID] = *user
	return nil
}

// UpdateProfile はニックネームとパスワードハッシュを更新する。
func (r *MemoryUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[user.ID]
	if !ok {
		return resource.ErrNotFound
	}
	u.Nickname = user.Nickname
	u.PasswordHash = user.PasswordHash
	u.UpdatedAt = user.UpdatedAt
	r.users[user.ID] = u
	return nil
}

// DeleteByID は指定IDのユーザーを削除し、登録済みの削除後処理を呼び出す。
func (r *MemoryUserRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.users[id]; !ok {
		r.mu.Unlock()
		return resource.ErrNotFound
	}
	delete(r.users, id)
	hooks := append([]func(string){}, r.onDelete...)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(id)
	}
	return nil
}

// FindNicknames は指定ユーザーIDのニックネームをまとめて取得する。
func (r *MemoryUserRepo) FindNicknames(ctx context.Context, ids []string) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]string, len(ids))
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			result[id] = u.Nickname
		}
	}
	return result, nil
}

// MemorySessionRepo はプロセス内メモリを使用したセッションリポジトリ。
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	now      func() time.Time
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{
		sessions: make(map[string]model.Session),
		now:      time.Now,
	}
}

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(ctx context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = *session
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok || !s.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	return &s, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *MemorySessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *MemorySessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	now := r.now()
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// memoryAnswerWriter はメモリストア上で回答の登録と回答済みフラグの更新を行う。
// フラグ更新に失敗した場合は登録した回答を取り消す。
type memoryAnswerWriter struct {
	questions *MemoryStore[model.Question, *model.Question]
	answers   *MemoryStore[model.Answer, *model.Answer]
	now       func() time.Time
}

// CreateAnswer は回答を保存し、対象の質問を回答済みにする。
func (w *memoryAnswerWriter) CreateAnswer(ctx context.Context, answer *model.Answer) (*model.Answer, error) {
	if _, err := w.questions.Get(ctx, answer.QuestionID); err != nil {
		return nil, err
	}

	created, err := w.answers.Create(ctx, answer)
	if err != nil {
		return nil, err
	}

	_, err = w.questions.Modify(answer.QuestionID, func(q *model.Question) {
		q.IsAnswered = true
		q.Touch(w.now().UTC())
	})
	if err != nil {
		// 質問が並行して削除された場合は回答を取り消す
		_ = w.answers.Delete(ctx, created.ID)
		return nil, err
	}

	return created, nil
}

// NewMemoryStores はメモリバックエンドのリポジトリ一式を生成する。
// 親リソースとユーザーの削除は子リソース・所有記録・セッションに連鎖する。
func NewMemoryStores() *Stores {
	users := NewMemoryUserRepo()
	sessions := NewMemorySessionRepo()

	todos := NewMemoryStore[model.Todo]()
	events := NewMemoryStore[model.Event]()
	posts := NewMemoryStore[model.Post]()
	comments := NewMemoryStore[model.Comment]()
	questions := NewMemoryStore[model.Question]().WithPreserved(func(stored, next *model.Question) {
		next.IsAnswered = stored.IsAnswered
	})
	answers := NewMemoryStore[model.Answer]()
	notices := NewMemoryStore[model.Notice]()
	votes := NewMemoryStore[model.Vote]()
	ballots := NewMemoryStore[model.Ballot]().WithUniqueKey(func(b *model.Ballot) string {
		return b.VoteID + "/" + b.OwnerID
	})

	posts.AfterDelete(func(id string) { comments.DeleteWhere(resource.Query{ParentID: id}) })
	questions.AfterDelete(func(id string) { answers.DeleteWhere(resource.Query{ParentID: id}) })
	votes.AfterDelete(func(id string) { ballots.DeleteWhere(resource.Query{ParentID: id}) })

	users.AfterDelete(func(userID string) {
		_ = sessions.DeleteByUserID(context.Background(), userID)
		owned := resource.Query{OwnerID: userID}
		todos.DeleteWhere(owned)
		events.DeleteWhere(owned)
		posts.DeleteWhere(owned)
		comments.DeleteWhere(owned)
		questions.DeleteWhere(owned)
		answers.DeleteWhere(owned)
		notices.DeleteWhere(owned)
		votes.DeleteWhere(owned)
		ballots.DeleteWhere(owned)
	})

	return &Stores{
		Users:     users,
		Sessions:  sessions,
		Todos:     todos,
		Events:    events,
		Posts:     posts,
		Comments:  comments,
		Questions: questions,
		Answers:   answers,
		Notices:   notices,
		Votes:     votes,
		Ballots:   ballots,
		AnswerWriter: &memoryAnswerWriter{
			questions: questions,
			answers:   answers,
			now:       time.Now,
		},
	}
}

// compile-time interface check
var (
	_ UserRepository        = (*MemoryUserRepo)(nil)
	_ SessionRepository     = (*MemorySessionRepo)(nil)
	_ resource.AnswerWriter = (*memoryAnswerWriter)(nil)
)
