package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/planboard/internal/model"
	"github.com/hitoshi/planboard/internal/resource"
)

// PostgresAnswerWriter は回答の登録と質問の回答済みフラグ更新を
// 単一トランザクションで行う。
type PostgresAnswerWriter struct {
	db *sql.DB
}

// NewPostgresAnswerWriter はPostgresAnswerWriterを生成する。
func NewPostgresAnswerWriter(db *sql.DB) *PostgresAnswerWriter {
	return &PostgresAnswerWriter{db: db}
}

// CreateAnswer は回答を保存し、対象の質問を回答済みにする。
func (w *PostgresAnswerWriter) CreateAnswer(ctx context.Context, answer *model.Answer) (*model.Answer, error) {
	if _, err := uuid.Parse(answer.QuestionID); err != nil {
		return nil, resource.ErrNotFound
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. 質問行をロックし、並行する削除と直列化する
	var questionID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM questions WHERE id = $1 FOR UPDATE`,
		answer.QuestionID,
	).Scan(&questionID)
	if err == sql.ErrNoRows {
		return nil, resource.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock question: %w", err)
	}

	// 2. 回答を挿入
	var id string
	err = tx.QueryRowContext(ctx,
		`INSERT INTO answers (owner_id, created_at, updated_at, question_id, content)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		answer.OwnerID, answer.CreatedAt, answer.UpdatedAt, answer.QuestionID, answer.Content,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert answer: %w", translatePQError(err))
	}

	// 3. 質問を回答済みにする
	_, err = tx.ExecContext(ctx,
		`UPDATE questions SET is_answered = true, updated_at = $1 WHERE id = $2`,
		answer.CreatedAt, answer.QuestionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark question answered: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	answer.ID = id
	return answer, nil
}

// compile-time interface check
var _ resource.AnswerWriter = (*PostgresAnswerWriter)(nil)
