package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/planboard/internal/model"
	"github.com/hitoshi/planboard/internal/resource"
)

// optional はJSONでキーが指定されたかどうかを区別するフィールド。
// nullが指定された場合もSetは真になる。
type optional[T any] struct {
	Set   bool
	Value T
}

// UnmarshalJSON はキーが存在する場合にのみ呼ばれる。
func (o *optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	return json.Unmarshal(b, &o.Value)
}

// assign は値が指定されている場合にdstへ代入する。
func (o optional[T]) assign(dst *T) {
	if o.Set {
		*dst = o.Value
	}
}

// bind は作成リクエスト型Rを読み込み、toで記録に変換するDecode関数を返す。
func bind[R any, T resource.Record](to func(req *R) T) func(w http.ResponseWriter, r *http.Request) (T, error) {
	return func(w http.ResponseWriter, r *http.Request) (T, error) {
		var req R
		if err := decodeJSON(w, r, &req); err != nil {
			var zero T
			return zero, err
		}
		return to(&req), nil
	}
}

// patchRequest は更新リクエストが満たすインターフェース。
type patchRequest[T resource.Record] interface {
	bodyID() string
	apply(rec T)
}

// patchWith は更新リクエスト型Rを読み込むPatch関数を返す。
func patchWith[R any, T resource.Record, PR interface {
	*R
	patchRequest[T]
}]() func(w http.ResponseWriter, r *http.Request) (string, func(rec T) error, error) {
	return func(w http.ResponseWriter, r *http.Request) (string, func(rec T) error, error) {
		req := PR(new(R))
		if err := decodeJSON(w, r, req); err != nil {
			return "", nil, err
		}
		return req.bodyID(), func(rec T) error {
			req.apply(rec)
			return nil
		}, nil
	}
}

// patchID は更新リクエストのボディに含まれるIDを保持する。
type patchID struct {
	ID string `json:"id"`
}

func (p *patchID) bodyID() string { return p.ID }

// --- todos ---

type createTodoRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	DueDate     *time.Time `json:"due_date"`
}

type patchTodoRequest struct {
	patchID
	Title       optional[string]     `json:"title"`
	Description optional[string]     `json:"description"`
	Completed   optional[bool]       `json:"completed"`
	DueDate     optional[*time.Time] `json:"due_date"`
}

func (p *patchTodoRequest) apply(t *model.Todo) {
	p.Title.assign(&t.Title)
	p.Description.assign(&t.Description)
	p.Completed.assign(&t.Completed)
	p.DueDate.assign(&t.DueDate)
}

// TodoBinding はTodoのリクエスト変換を返す。
func TodoBinding() Binding[*model.Todo] {
	return Binding[*model.Todo]{
		Decode: bind(func(req *createTodoRequest) *model.Todo {
			return &model.Todo{
				Title:       req.Title,
				Description: req.Description,
				Completed:   req.Completed,
				DueDate:     req.DueDate,
			}
		}),
		Patch: patchWith[patchTodoRequest, *model.Todo](),
	}
}

// --- events ---

type createEventRequest struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Description string `json:"description"`
}

type patchEventRequest struct {
	patchID
	Title       optional[string] `json:"title"`
	Date        optional[string] `json:"date"`
	StartTime   optional[string] `json:"start_time"`
	EndTime     optional[string] `json:"end_time"`
	Description optional[string] `json:"description"`
}

func (p *patchEventRequest) apply(e *model.Event) {
	p.Title.assign(&e.Title)
	p.Date.assign(&e.Date)
	p.StartTime.assign(&e.StartTime)
	p.EndTime.assign(&e.EndTime)
	p.Description.assign(&e.Description)
}

// EventBinding は予定のリクエスト変換を返す。
func EventBinding() Binding[*model.Event] {
	return Binding[*model.Event]{
		Decode: bind(func(req *createEventRequest) *model.Event {
			return &model.Event{
				Title:       req.Title,
				Date:        req.Date,
				StartTime:   req.StartTime,
				EndTime:     req.EndTime,
				Description: req.Description,
			}
		}),
		Patch: patchWith[patchEventRequest, *model.Event](),
	}
}

// --- posts / notices（タイトルと本文） ---

type createArticleRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type patchPostRequest struct {
	patchID
	Title   optional[string] `json:"title"`
	Content optional[string] `json:"content"`
}

func (p *patchPostRequest) apply(post *model.Post) {
	p.Title.assign(&post.Title)
	p.Content.assign(&post.Content)
}

// PostBinding は掲示板投稿のリクエスト変換を返す。
func PostBinding() Binding[*model.Post] {
	return Binding[*model.Post]{
		Decode: bind(func(req *createArticleRequest) *model.Post {
			return &model.Post{Title: req.Title, Content: req.Content}
		}),
		Patch: patchWith[patchPostRequest, *model.Post](),
	}
}

type patchNoticeRequest struct {
	patchID
	Title   optional[string] `json:"title"`
	Content optional[string] `json:"content"`
}

func (p *patchNoticeRequest) apply(n *model.Notice) {
	p.Title.assign(&n.Title)
	p.Content.assign(&n.Content)
}

// NoticeBinding はお知らせのリクエスト変換を返す。
func NoticeBinding() Binding[*model.Notice] {
	return Binding[*model.Notice]{
		Decode: bind(func(req *createArticleRequest) *model.Notice {
			return &model.Notice{Title: req.Title, Content: req.Content}
		}),
		Patch: patchWith[patchNoticeRequest, *model.Notice](),
	}
}

// --- comments / answers（本文のみ） ---

type createContentRequest struct {
	Content string `json:"content"`
}

type patchCommentRequest struct {
	patchID
	Content optional[string] `json:"content"`
}

func (p *patchCommentRequest) apply(c *model.Comment) {
	p.Content.assign(&c.Content)
}

// CommentBinding はコメントのリクエスト変換を返す。親IDはURLから設定される。
func CommentBinding() Binding[*model.Comment] {
	return Binding[*model.Comment]{
		Decode: bind(func(req *createContentRequest) *model.Comment {
			return &model.Comment{Content: req.Content}
		}),
		Patch: patchWith[patchCommentRequest, *model.Comment](),
	}
}

type patchAnswerRequest struct {
	patchID
	Content optional[string] `json:"content"`
}

func (p *patchAnswerRequest) apply(a *model.Answer) {
	p.Content.assign(&a.Content)
}

// AnswerBinding は回答のリクエスト変換を返す。
func AnswerBinding() Binding[*model.Answer] {
	return Binding[*model.Answer]{
		Decode: bind(func(req *createContentRequest) *model.Answer {
			return &model.Answer{Content: req.Content}
		}),
		Patch: patchWith[patchAnswerRequest, *model.Answer](),
	}
}

// --- questions ---

type createQuestionRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	IsPrivate bool   `json:"is_private"`
}

type patchQuestionRequest struct {
	patchID
	Title     optional[string] `json:"title"`
	Content   optional[string] `json:"content"`
	IsPrivate optional[bool]   `json:"is_private"`
}

func (p *patchQuestionRequest) apply(q *model.Question) {
	p.Title.assign(&q.Title)
	p.Content.assign(&q.Content)
	p.IsPrivate.assign(&q.IsPrivate)
}

// QuestionBinding は質問のリクエスト変換を返す。回答済みフラグは受け付けない。
func QuestionBinding() Binding[*model.Question] {
	return Binding[*model.Question]{
		Decode: bind(func(req *createQuestionRequest) *model.Question {
			return &model.Question{Title: req.Title, Content: req.Content, IsPrivate: req.IsPrivate}
		}),
		Patch: patchWith[patchQuestionRequest, *model.Question](),
	}
}

// --- votes ---

type createVoteRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	EndDate     *time.Time `json:"end_date"`
	Options     []string   `json:"options"`
}

type patchVoteRequest struct {
	patchID
	Title       optional[string]     `json:"title"`
	Description optional[string]     `json:"description"`
	EndDate     optional[*time.Time] `json:"end_date"`
	Options     optional[[]string]   `json:"options"`
}

func (p *patchVoteRequest) apply(v *model.Vote) {
	p.Title.assign(&v.Title)
	p.Description.assign(&v.Description)
	p.EndDate.assign(&v.EndDate)
	p.Options.assign(&v.Options)
}

// VoteBinding は投票のリクエスト変換を返す。
func VoteBinding() Binding[*model.Vote] {
	return Binding[*model.Vote]{
		Decode: bind(func(req *createVoteRequest) *model.Vote {
			return &model.Vote{
				Title:       req.Title,
				Description: req.Description,
				EndDate:     req.EndDate,
				Options:     req.Options,
			}
		}),
		Patch: patchWith[patchVoteRequest, *model.Vote](),
	}
}

// --- ballots ---

type createBallotRequest struct {
	Option string `json:"option"`
}

// BallotBinding は票のリクエスト変換を返す。票は変更できない。
func BallotBinding() Binding[*model.Ballot] {
	return Binding[*model.Ballot]{
		Decode: bind(func(req *createBallotRequest) *model.Ballot {
			return &model.Ballot{Option: req.Option}
		}),
	}
}
