package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/gormlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// sqlitePragmas はSQLite接続の初期化時に設定するPRAGMA。
var sqlitePragmas = []string{
	"PRAGMA journal_mode=wal",
	"PRAGMA foreign_keys=on",
	"PRAGMA busy_timeout=5000",
}

// OpenSQLite はSQLiteデータベースをGORM経由で開く。
// pathにはファイルパスまたは ":memory:" を指定する。
// logLevelはslogのレベルで、GORMのSQLログ出力レベルに対応付ける。
func OpenSQLite(path string, logLevel slog.Level) (*gorm.DB, error) {
	db, err := gorm.Open(gormlite.Open(path), &gorm.Config{
		Logger: constraintLogger{gormlogger.Default.LogMode(gormLogLevel(logLevel))},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite connection: %w", err)
	}
	// SQLiteは単一ライターのため接続を1本に制限する
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// AutoMigrate はモデル定義からSQLiteのスキーマを作成・更新する。
// owner_id は全モデル共通の model.Base に定義されているため、
// 票の (vote_id, owner_id) ユニーク制約はタグではなくここで追加する。
func AutoMigrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ballots_vote_owner ON ballots (vote_id, owner_id)`,
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// constraintLogger は制約違反をエラーとして出力しないGORMロガー。
// 制約違反はストア層で ErrConflict・ErrNotFound に変換され、呼び出し側に返される。
type constraintLogger struct {
	gormlogger.Interface
}

func (l constraintLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return constraintLogger{l.Interface.LogMode(level)}
}

func (l constraintLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.CONSTRAINT {
		err = nil
	}
	l.Interface.Trace(ctx, begin, fc, err)
}

func gormLogLevel(level slog.Level) gormlogger.LogLevel {
	switch {
	case level <= slog.LevelDebug:
		return gormlogger.Info
	case level <= slog.LevelInfo:
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}
