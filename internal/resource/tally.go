package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/planboard/internal/model"
)

// Tally は投票の集計を行う。
type Tally struct {
	votes   *Service[*model.Vote]
	ballots Store[*model.Ballot]
	now     func() time.Time
}

// NewTally はTallyを生成する。
func NewTally(votes *Service[*model.Vote], ballots Store[*model.Ballot], now func() time.Time) *Tally {
	if now == nil {
		now = time.Now
	}
	return &Tally{votes: votes, ballots: ballots, now: now}
}

// Results は選択肢ごとの得票数を返す。
// 選択肢に含まれない票（選択肢の変更前に投じられた票）は集計しない。
func (t *Tally) Results(ctx context.Context, p *model.Principal, voteID string) (*model.VoteResult, error) {
	vote, err := t.votes.Get(ctx, p, "", voteID)
	if err != nil {
		return nil, err
	}

	ballots, err := t.ballots.List(ctx, Query{ParentID: voteID})
	if err != nil {
		return nil, fmt.Errorf("failed to list ballots: %w", err)
	}

	result := &model.VoteResult{
		VoteID: vote.ID,
		Counts: make(map[string]int, len(vote.Options)),
		Closed: vote.ClosedAt(t.now()),
	}
	for _, o := range vote.Options {
		result.Counts[o] = 0
	}
	for _, b := range ballots {
		if _, ok := result.Counts[b.Option]; !ok {
			continue
		}
		result.Counts[b.Option]++
		result.Total++
	}

	return result, nil
}
