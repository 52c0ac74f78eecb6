package resource

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/planboard/internal/model"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	// maxShortText はタイトルや選択肢など1行の項目の最大文字数。
	maxShortText = 255
)

// TodoPolicy はTodoのポリシーを返す。Todoは作成者本人のみが参照できる。
func TodoPolicy() Policy[*model.Todo] {
	return Policy[*model.Todo]{
		Resource:    "todos",
		OwnerScoped: true,
		Normalize: func(t *model.Todo) {
			t.Title = strings.TrimSpace(t.Title)
		},
		Validate: func(t *model.Todo) error {
			return titled(t.Title)
		},
	}
}

// EventPolicy は予定のポリシーを返す。予定は作成者本人のみが参照できる。
func EventPolicy() Policy[*model.Event] {
	return Policy[*model.Event]{
		Resource:    "events",
		OwnerScoped: true,
		Normalize: func(e *model.Event) {
			e.Title = strings.TrimSpace(e.Title)
			e.Date = strings.TrimSpace(e.Date)
			e.StartTime = strings.TrimSpace(e.StartTime)
			e.EndTime = strings.TrimSpace(e.EndTime)
		},
		Validate: validateEvent,
	}
}

// PostPolicy は掲示板投稿のポリシーを返す。
func PostPolicy(sanitizer Sanitizer) Policy[*model.Post] {
	return Policy[*model.Post]{
		Resource: "posts",
		Normalize: func(p *model.Post) {
			p.Title = strings.TrimSpace(p.Title)
			p.Content = sanitize(sanitizer, p.Content)
		},
		Validate: func(p *model.Post) error {
			return titled(p.Title, field{"content", p.Content})
		},
	}
}

// CommentPolicy は投稿コメントのポリシーを返す。
// parentには投稿の参照可否を検証する関数を渡す。
func CommentPolicy(sanitizer Sanitizer, parent ParentCheck) Policy[*model.Comment] {
	return Policy[*model.Comment]{
		Resource: "comments",
		Parent:   parent,
		Normalize: func(c *model.Comment) {
			c.Content = sanitize(sanitizer, c.Content)
		},
		Validate: func(c *model.Comment) error {
			return required(field{"content", c.Content})
		},
	}
}

// QuestionPolicy は質問のポリシーを返す。
// 非公開の質問は作成者と管理者のみが参照できる。
func QuestionPolicy(sanitizer Sanitizer) Policy[*model.Question] {
	return Policy[*model.Question]{
		Resource: "questions",
		Normalize: func(q *model.Question) {
			q.Title = strings.TrimSpace(q.Title)
			q.Content = sanitize(sanitizer, q.Content)
		},
		Validate: func(q *model.Question) error {
			return titled(q.Title, field{"content", q.Content})
		},
	}
}

// AnswerPolicy は回答のポリシーを返す。回答の作成は管理者に限られ、
// 保存と質問の回答済みフラグ更新はwriterにより原子的に行われる。
func AnswerPolicy(sanitizer Sanitizer, parent ParentCheck, writer AnswerWriter) Policy[*model.Answer] {
	return Policy[*model.Answer]{
		Resource:    "answers",
		AdminCreate: true,
		Parent:      parent,
		Normalize: func(a *model.Answer) {
			a.Content = sanitize(sanitizer, a.Content)
		},
		Validate: func(a *model.Answer) error {
			return required(field{"content", a.Content})
		},
		Insert: writer.CreateAnswer,
	}
}

// NoticePolicy はお知らせのポリシーを返す。作成は管理者に限られる。
func NoticePolicy(sanitizer Sanitizer) Policy[*model.Notice] {
	return Policy[*model.Notice]{
		Resource:    "notices",
		AdminCreate: true,
		Normalize: func(n *model.Notice) {
			n.Title = strings.TrimSpace(n.Title)
			n.Content = sanitize(sanitizer, n.Content)
		},
		Validate: func(n *model.Notice) error {
			return titled(n.Title, field{"content", n.Content})
		},
	}
}

// VotePolicy は投票のポリシーを返す。作成は管理者に限られる。
func VotePolicy() Policy[*model.Vote] {
	return Policy[*model.Vote]{
		Resource:    "votes",
		AdminCreate: true,
		Normalize: func(v *model.Vote) {
			v.Title = strings.TrimSpace(v.Title)
			options := make([]string, 0, len(v.Options))
			for _, o := range v.Options {
				options = append(options, strings.TrimSpace(o))
			}
			v.Options = options
		},
		Validate: validateVote,
	}
}

// BallotPolicy は票のポリシーを返す。票は本人のみが参照でき、
// 締切前の投票に対して選択肢のいずれかでのみ投じられる。締切後は取り消せない。
func BallotPolicy(votes *Service[*model.Vote], now func() time.Time) Policy[*model.Ballot] {
	if now == nil {
		now = time.Now
	}
	openVote := func(ctx context.Context, p *model.Principal, voteID string) (*model.Vote, error) {
		vote, err := votes.Get(ctx, p, "", voteID)
		if err != nil {
			return nil, err
		}
		if vote.ClosedAt(now()) {
			return nil, model.NewVoteClosedError()
		}
		return vote, nil
	}

	return Policy[*model.Ballot]{
		Resource:    "ballots",
		OwnerScoped: true,
		Parent:      ParentOf(votes),
		Normalize: func(b *model.Ballot) {
			b.Option = strings.TrimSpace(b.Option)
		},
		Validate: func(b *model.Ballot) error {
			if err := required(field{"option", b.Option}); err != nil {
				return err
			}
			return maxLength(maxShortText, field{"option", b.Option})
		},
		BeforeCreate: func(ctx context.Context, p *model.Principal, b *model.Ballot) error {
			vote, err := openVote(ctx, p, b.VoteID)
			if err != nil {
				return err
			}
			if !vote.HasOption(b.Option) {
				return model.NewValidationError(fmt.Sprintf("option %q は選択肢にありません", b.Option))
			}
			return nil
		},
		BeforeDelete: func(ctx context.Context, p *model.Principal, b *model.Ballot) error {
			_, err := openVote(ctx, p, b.VoteID)
			return err
		},
	}
}

// ParentOf は親リソースのServiceを使って参照可否を検証するParentCheckを返す。
func ParentOf[P Record](parent *Service[P]) ParentCheck {
	return func(ctx context.Context, p *model.Principal, parentID string) error {
		_, err := parent.load(ctx, p, "", parentID)
		return err
	}
}

type field struct {
	name  string
	value string
}

// required は空でない必須項目を検証する。空白のみの値も未入力とみなす。
func required(fields ...field) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return model.NewValidationError(fmt.Sprintf("必須項目が未入力です: %s", strings.Join(missing, ", ")))
	}
	return nil
}

// maxLength は項目の文字数が上限以下であることを検証する。
func maxLength(limit int, fields ...field) error {
	for _, f := range fields {
		if utf8.RuneCountInString(f.value) > limit {
			return model.NewValidationError(fmt.Sprintf("%s は%d文字以内で入力してください", f.name, limit))
		}
	}
	return nil
}

// titled はタイトルと追加の必須項目を検証する。
func titled(title string, more ...field) error {
	if err := required(append([]field{{"title", title}}, more...)...); err != nil {
		return err
	}
	return maxLength(maxShortText, field{"title", title})
}

func sanitize(sanitizer Sanitizer, s string) string {
	s = strings.TrimSpace(s)
	if sanitizer == nil {
		return s
	}
	return strings.TrimSpace(sanitizer.Sanitize(s))
}

func validateEvent(e *model.Event) error {
	if err := titled(e.Title, field{"date", e.Date}); err != nil {
		return err
	}
	if _, err := time.Parse(dateLayout, e.Date); err != nil {
		return model.NewValidationError("date は YYYY-MM-DD 形式で指定してください")
	}
	for _, t := range []field{{"start_time", e.StartTime}, {"end_time", e.EndTime}} {
		if t.value == "" {
			continue
		}
		if _, err := time.Parse(timeLayout, t.value); err != nil {
			return model.NewValidationError(fmt.Sprintf("%s は HH:MM 形式で指定してください", t.name))
		}
	}
	// HH:MM形式同士は文字列比較で前後関係を判定できる
	if e.StartTime != "" && e.EndTime != "" && e.EndTime < e.StartTime {
		return model.NewValidationError("end_time は start_time 以降を指定してください")
	}
	return nil
}

func validateVote(v *model.Vote) error {
	if err := titled(v.Title); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(v.Options))
	for _, o := range v.Options {
		if o == "" {
			return model.NewValidationError("空の選択肢は指定できません")
		}
		if err := maxLength(maxShortText, field{"option", o}); err != nil {
			return err
		}
		if _, dup := seen[o]; dup {
			return model.NewValidationError(fmt.Sprintf("選択肢が重複しています: %s", o))
		}
		seen[o] = struct{}{}
	}
	if len(v.Options) < 2 {
		return model.NewValidationError("選択肢は2つ以上指定してください")
	}
	return nil
}
