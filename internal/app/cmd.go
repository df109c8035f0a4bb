package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// NewRootCommand はpubadminのルートコマンドを生成する。
// サブコマンドなしで起動した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "pubadmin",
		Short:         "アプリ配信組織向けの管理API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .envは任意。既に設定済みの環境変数は上書きしない
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(w)
		},
	}

	root.AddCommand(
		newServeCommand(w),
		newMigrateCommand(w),
		newHealthcheckCommand(),
	)
	return root
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "APIサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(w)
		},
	}
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "データベースマイグレーションを適用する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if down < 0 {
				return fmt.Errorf("--down must not be negative: %d", down)
			}
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg, down)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "直近のマイグレーションを指定数だけ戻す")
	return cmd
}

// newHealthcheckCommand は軽量サブコマンドのため、設定の読み込みを行わない。
func newHealthcheckCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "稼働中のサーバーの/healthを確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == "" {
				port = defaultPort()
			}
			return runHealthcheck(fmt.Sprintf("http://localhost:%s/health", port))
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "確認するポート（既定はSERVER_PORTまたは8080）")
	return cmd
}

func serve(w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.Bool("oauth_code_flow", cfg.OAuthCodeFlowEnabled()),
	)
	return runServe(cfg)
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.Execute()
}
