package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hitoshi/planboard/internal/config"
	"github.com/spf13/cobra"
)

// サブコマンド名。
const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe = "serve"
	// CommandWorker は期限切れセッションの削除ワーカーとして起動することを示す。
	CommandWorker = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck = "healthcheck"
)

// NewRootCommand はCLIのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして動作する。
// wにはログの出力先を渡す。
func NewRootCommand(w io.Writer) *cobra.Command {
	// withConfig は設定を読み込んでから処理を実行するRunE関数を返す。
	withConfig := func(name string, run func(ctx context.Context, cfg *config.Config) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			slog.Info("starting application",
				slog.String("command", name),
				slog.String("store_driver", cfg.StoreDriver),
				slog.String("port", cfg.ServerPort),
				slog.String("base_url", cfg.BaseURL),
			)
			return run(cmd.Context(), cfg)
		}
	}

	root := &cobra.Command{
		Use:           "planboard",
		Short:         "Session-gated todo, board, Q&A and voting API",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          withConfig(CommandServe, runServe),
	}

	root.AddCommand(
		&cobra.Command{
			Use:   CommandServe,
			Short: "Run the HTTP API server",
			Args:  cobra.NoArgs,
			RunE:  withConfig(CommandServe, runServe),
		},
		&cobra.Command{
			Use:   CommandWorker,
			Short: "Purge expired sessions periodically",
			Args:  cobra.NoArgs,
			RunE:  withConfig(CommandWorker, runWorker),
		},
		&cobra.Command{
			Use:   CommandMigrate,
			Short: "Apply database schema migrations",
			Args:  cobra.NoArgs,
			RunE:  withConfig(CommandMigrate, runMigrate),
		},
		&cobra.Command{
			Use:   CommandHealthcheck,
			Short: "Check the local server's /health endpoint",
			Args:  cobra.NoArgs,
			// 軽量サブコマンドのため、フル初期化をスキップする
			RunE: func(cmd *cobra.Command, args []string) error {
				port := os.Getenv("SERVER_PORT")
				if port == "" {
					port = "8080"
				}
				return runHealthcheck(cmd.Context(), port)
			},
		},
	)

	return root
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMでコンテキストがキャンセルされる。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return RunContext(ctx, w, args)
}

// RunContext はctxを使ってコマンドを実行する。
func RunContext(ctx context.Context, w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	root.SetOut(w)
	root.SetErr(w)
	return root.ExecuteContext(ctx)
}
