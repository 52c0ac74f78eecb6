package user

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

type countingFinder struct {
	names map[string]string
	calls [][]string
	err   error
}

func (f *countingFinder) FindNicknames(ctx context.Context, ids []string) (map[string]string, error) {
	requested := append([]string(nil), ids...)
	sort.Strings(requested)
	f.calls = append(f.calls, requested)
	if f.err != nil {
		return nil, f.err
	}
	result := make(map[string]string)
	for _, id := range ids {
		if name, ok := f.names[id]; ok {
			result[id] = name
		}
	}
	return result, nil
}

func TestNicknameResolver_CachesLookups(t *testing.T) {
	finder := &countingFinder{names: map[string]string{"u1": "Alice", "u2": "Bob"}}
	resolver := NewNicknameResolver(finder, 10, time.Minute)
	ctx := context.Background()

	got, err := resolver.Nicknames(ctx, []string{"u1", "u2", "ghost"})
	if err != nil {
		t.Fatalf("Nicknames() error = %v", err)
	}
	if len(got) != 2 || got["u1"] != "Alice" || got["u2"] != "Bob" {
		t.Errorf("Nicknames() = %v", got)
	}

	// 2回目はキャッシュにないIDだけを問い合わせる
	if _, err := resolver.Nicknames(ctx, []string{"u1", "u2", "ghost"}); err != nil {
		t.Fatalf("Nicknames() error = %v", err)
	}
	if len(finder.calls) != 2 {
		t.Fatalf("finder called %d times, want 2", len(finder.calls))
	}
	if len(finder.calls[1]) != 1 || finder.calls[1][0] != "ghost" {
		t.Errorf("second lookup = %v, want [ghost]", finder.calls[1])
	}

	if _, err := resolver.Nicknames(ctx, []string{"u1"}); err != nil {
		t.Fatalf("Nicknames() error = %v", err)
	}
	if len(finder.calls) != 2 {
		t.Errorf("cached lookup must not hit the finder")
	}
}

func TestNicknameResolver_Invalidate(t *testing.T) {
	finder := &countingFinder{names: map[string]string{"u1": "Alice"}}
	resolver := NewNicknameResolver(finder, 10, time.Minute)
	ctx := context.Background()

	if _, err := resolver.Nicknames(ctx, []string{"u1"}); err != nil {
		t.Fatalf("Nicknames() error = %v", err)
	}
	finder.names["u1"] = "Alicia"
	resolver.Invalidate("u1")

	got, err := resolver.Nicknames(ctx, []string{"u1"})
	if err != nil {
		t.Fatalf("Nicknames() error = %v", err)
	}
	if got["u1"] != "Alicia" {
		t.Errorf("nickname = %q, want the refreshed value", got["u1"])
	}
}

func TestNicknameResolver_FinderError(t *testing.T) {
	finder := &countingFinder{err: errors.New("db down")}
	resolver := NewNicknameResolver(finder, 10, time.Minute)

	if _, err := resolver.Nicknames(context.Background(), []string{"u1"}); err == nil {
		t.Fatal("expected error")
	}
}
