package resource

import "github.com/hitoshi/planboard/internal/model"

// Backend はリソースごとのストア一式。
type Backend struct {
	Todos     Store[*model.Todo]
	Events    Store[*model.Event]
	Posts     Store[*model.Post]
	Comments  Store[*model.Comment]
	Questions Store[*model.Question]
	Answers   Store[*model.Answer]
	Notices   Store[*model.Notice]
	Votes     Store[*model.Vote]
	Ballots   Store[*model.Ballot]

	AnswerWriter AnswerWriter
}

// Set は全リソースのServiceと投票集計をまとめた構造体。
type Set struct {
	Todos     *Service[*model.Todo]
	Events    *Service[*model.Event]
	Posts     *Service[*model.Post]
	Comments  *Service[*model.Comment]
	Questions *Service[*model.Question]
	Answers   *Service[*model.Answer]
	Notices   *Service[*model.Notice]
	Votes     *Service[*model.Vote]
	Ballots   *Service[*model.Ballot]
	Tally     *Tally
}

// NewSet はストア一式からServiceを組み立てる。
// 子リソースの親検証には親リソースのServiceを使う。
func NewSet(b Backend, sanitizer Sanitizer, deps Deps) *Set {
	posts := NewService(b.Posts, PostPolicy(sanitizer), deps)
	questions := NewService(b.Questions, QuestionPolicy(sanitizer), deps)
	votes := NewService(b.Votes, VotePolicy(), deps)

	return &Set{
		Todos:     NewService(b.Todos, TodoPolicy(), deps),
		Events:    NewService(b.Events, EventPolicy(), deps),
		Posts:     posts,
		Comments:  NewService(b.Comments, CommentPolicy(sanitizer, ParentOf(posts)), deps),
		Questions: questions,
		Answers:   NewService(b.Answers, AnswerPolicy(sanitizer, ParentOf(questions), b.AnswerWriter), deps),
		Notices:   NewService(b.Notices, NoticePolicy(sanitizer), deps),
		Votes:     votes,
		Ballots:   NewService(b.Ballots, BallotPolicy(votes, deps.Now), deps),
		Tally:     NewTally(votes, b.Ballots, deps.Now),
	}
}
