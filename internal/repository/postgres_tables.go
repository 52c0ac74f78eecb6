package repository

import (
	"database/sql"

	"github.com/hitoshi/planboard/internal/model"
	"github.com/lib/pq"
)

var todoTable = pgTable[model.Todo, *model.Todo]{
	name:    "todos",
	columns: []string{"title", "description", "completed", "due_date"},
	values: func(t *model.Todo) []any {
		return []any{t.Title, t.Description, t.Completed, t.DueDate}
	},
	targets: func(t *model.Todo) []any {
		return []any{&t.Title, &t.Description, &t.Completed, &t.DueDate}
	},
}

var eventTable = pgTable[model.Event, *model.Event]{
	name:    "events",
	columns: []string{"title", "date", "start_time", "end_time", "description"},
	values: func(e *model.Event) []any {
		return []any{e.Title, e.Date, e.StartTime, e.EndTime, e.Description}
	},
	targets: func(e *model.Event) []any {
		return []any{&e.Title, &e.Date, &e.StartTime, &e.EndTime, &e.Description}
	},
}

var postTable = pgTable[model.Post, *model.Post]{
	name:    "posts",
	columns: []string{"title", "content"},
	values: func(p *model.Post) []any {
		return []any{p.Title, p.Content}
	},
	targets: func(p *model.Post) []any {
		return []any{&p.Title, &p.Content}
	},
}

var commentTable = pgTable[model.Comment, *model.Comment]{
	name:    "comments",
	parent:  (*model.Comment)(nil).ParentColumn(),
	columns: []string{"content"},
	values: func(c *model.Comment) []any {
		return []any{c.Content}
	},
	targets: func(c *model.Comment) []any {
		return []any{&c.Content}
	},
}

var questionTable = pgTable[model.Question, *model.Question]{
	name:     "questions",
	columns:  []string{"title", "content", "is_private"},
	readOnly: []string{"is_answered"},
	values: func(q *model.Question) []any {
		return []any{q.Title, q.Content, q.IsPrivate}
	},
	targets: func(q *model.Question) []any {
		return []any{&q.Title, &q.Content, &q.IsPrivate, &q.IsAnswered}
	},
}

var answerTable = pgTable[model.Answer, *model.Answer]{
	name:    "answers",
	parent:  (*model.Answer)(nil).ParentColumn(),
	columns: []string{"content"},
	values: func(a *model.Answer) []any {
		return []any{a.Content}
	},
	targets: func(a *model.Answer) []any {
		return []any{&a.Content}
	},
}

var noticeTable = pgTable[model.Notice, *model.Notice]{
	name:    "notices",
	columns: []string{"title", "content"},
	values: func(n *model.Notice) []any {
		return []any{n.Title, n.Content}
	},
	targets: func(n *model.Notice) []any {
		return []any{&n.Title, &n.Content}
	},
}

var voteTable = pgTable[model.Vote, *model.Vote]{
	name:    "votes",
	columns: []string{"title", "description", "end_date", "options"},
	values: func(v *model.Vote) []any {
		return []any{v.Title, v.Description, v.EndDate, pq.Array(v.Options)}
	},
	targets: func(v *model.Vote) []any {
		return []any{&v.Title, &v.Description, &v.EndDate, pq.Array(&v.Options)}
	},
}

var ballotTable = pgTable[model.Ballot, *model.Ballot]{
	name:    "ballots",
	parent:  (*model.Ballot)(nil).ParentColumn(),
	columns: []string{"option"},
	values: func(b *model.Ballot) []any {
		return []any{b.Option}
	},
	targets: func(b *model.Ballot) []any {
		return []any{&b.Option}
	},
}

// NewPostgresStores はPostgreSQLバックエンドのリポジトリ一式を生成する。
func NewPostgresStores(db *sql.DB) *Stores {
	return &Stores{
		Users:        NewPostgresUserRepo(db),
		Sessions:     NewPostgresSessionRepo(db),
		Todos:        newPostgresStore(db, todoTable),
		Events:       newPostgresStore(db, eventTable),
		Posts:        newPostgresStore(db, postTable),
		Comments:     newPostgresStore(db, commentTable),
		Questions:    newPostgresStore(db, questionTable),
		Answers:      newPostgresStore(db, answerTable),
		Notices:      newPostgresStore(db, noticeTable),
		Votes:        newPostgresStore(db, voteTable),
		Ballots:      newPostgresStore(db, ballotTable),
		AnswerWriter: NewPostgresAnswerWriter(db),
	}
}
