package user

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// NicknameFinder はユーザーIDからニックネームをまとめて取得する。
type NicknameFinder interface {
	FindNicknames(ctx context.Context, ids []string) (map[string]string, error)
}

// NicknameResolver は記録の作成者名を解決する。
// 取得したニックネームは有効期限付きのLRUキャッシュに保持し、
// キャッシュにないIDだけをまとめて問い合わせる。
type NicknameResolver struct {
	finder NicknameFinder
	cache  *expirable.LRU[string, string]
}

// NewNicknameResolver はNicknameResolverを生成する。
func NewNicknameResolver(finder NicknameFinder, size int, ttl time.Duration) *NicknameResolver {
	return &NicknameResolver{
		finder: finder,
		cache:  expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Nicknames は指定ユーザーIDのニックネームを返す。退会済みユーザーは結果に含まれない。
func (r *NicknameResolver) Nicknames(ctx context.Context, userIDs []string) (map[string]string, error) {
	result := make(map[string]string, len(userIDs))
	var missing []string
	for _, id := range userIDs {
		if name, ok := r.cache.Get(id); ok {
			result[id] = name
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	found, err := r.finder.FindNicknames(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to find nicknames: %w", err)
	}
	for id, name := range found {
		r.cache.Add(id, name)
		result[id] = name
	}
	return result, nil
}

// Invalidate は指定ユーザーのキャッシュを破棄する。
func (r *NicknameResolver) Invalidate(userID string) {
	r.cache.Remove(userID)
}
