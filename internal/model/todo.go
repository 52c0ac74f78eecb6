package model

import "time"

// Todo は個人のタスクを表す。作成者本人のみが参照できる。
type Todo struct {
	Base
	Title       string     `json:"title" gorm:"not null"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed" gorm:"not null;default:false"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// Event はカレンダーの予定を表す。作成者本人のみが参照できる。
// Dateは YYYY-MM-DD、StartTime/EndTimeは HH:MM 形式。
type Event struct {
	Base
	Title       string `json:"title" gorm:"not null"`
	Date        string `json:"date" gorm:"not null;index"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Description string `json:"description"`
}
