package model

import "time"

// Post は掲示板の投稿を表す。
type Post struct {
	Base
	Title   string `json:"title" gorm:"not null"`
	Content string `json:"content" gorm:"not null"`
}

// Comment は投稿へのコメントを表す。
type Comment struct {
	Base
	PostID  string `json:"post_id" gorm:"index;not null"`
	Content string `json:"content" gorm:"not null"`
}

// GetParentID は親となる投稿のIDを返す。
func (c *Comment) GetParentID() string { return c.PostID }

// SetParentID は親となる投稿のIDを設定する。
func (c *Comment) SetParentID(id string) { c.PostID = id }

// ParentColumn は親参照のカラム名を返す。
func (*Comment) ParentColumn() string { return "post_id" }

// Question は質問を表す。IsPrivateが真の場合、作成者と管理者のみが参照できる。
// IsAnsweredは回答の登録時にサーバーが設定する。
type Question struct {
	Base
	Title      string `json:"title" gorm:"not null"`
	Content    string `json:"content" gorm:"not null"`
	IsPrivate  bool   `json:"is_private" gorm:"not null;default:false"`
	IsAnswered bool   `json:"is_answered" gorm:"not null;default:false"`
}

// IsPrivateRecord は非公開の質問かどうかを返す。
func (q *Question) IsPrivateRecord() bool { return q.IsPrivate }

// Answer は質問への回答を表す。管理者のみが作成できる。
type Answer struct {
	Base
	QuestionID string `json:"question_id" gorm:"index;not null"`
	Content    string `json:"content" gorm:"not null"`
}

// GetParentID は親となる質問のIDを返す。
func (a *Answer) GetParentID() string { return a.QuestionID }

// SetParentID は親となる質問のIDを設定する。
func (a *Answer) SetParentID(id string) { a.QuestionID = id }

// ParentColumn は親参照のカラム名を返す。
func (*Answer) ParentColumn() string { return "question_id" }

// Notice はお知らせを表す。管理者のみが作成できる。
type Notice struct {
	Base
	Title   string `json:"title" gorm:"not null"`
	Content string `json:"content" gorm:"not null"`
}

// Vote は投票を表す。管理者のみが作成できる。
// EndDateを過ぎた投票には投票できない。
type Vote struct {
	Base
	Title       string     `json:"title" gorm:"not null"`
	Description string     `json:"description"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Options     []string   `json:"options" gorm:"serializer:json"`
}

// ClosedAt は指定時刻において投票が締め切られているかどうかを返す。
func (v *Vote) ClosedAt(now time.Time) bool {
	return v.EndDate != nil && now.After(*v.EndDate)
}

// HasOption は選択肢に含まれるかどうかを返す。
func (v *Vote) HasOption(option string) bool {
	for _, o := range v.Options {
		if o == option {
			return true
		}
	}
	return false
}

// Ballot は投票への1票を表す。1ユーザーにつき1投票1票。
type Ballot struct {
	Base
	VoteID string `json:"vote_id" gorm:"index;not null"`
	Option string `json:"option" gorm:"not null"`
}

// GetParentID は親となる投票のIDを返す。
func (b *Ballot) GetParentID() string { return b.VoteID }

// SetParentID は親となる投票のIDを設定する。
func (b *Ballot) SetParentID(id string) { b.VoteID = id }

// ParentColumn は親参照のカラム名を返す。
func (*Ballot) ParentColumn() string { return "vote_id" }

// VoteResult は選択肢ごとの得票数を表す。
type VoteResult struct {
	VoteID string         `json:"vote_id"`
	Total  int            `json:"total"`
	Counts map[string]int `json:"counts"`
	Closed bool           `json:"closed"`
}
