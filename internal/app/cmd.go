package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hitoshi/librarian/internal/auth"
	"github.com/hitoshi/librarian/internal/config"
)

// PasswordReader はエコーなしでパスワードを読み取る。
type PasswordReader func(prompt string) (string, error)

// NewRootCommand はlibrarianのコマンドツリーを構築する。
// logWriterはログ出力先、readPasswordはcreate-adminのパスワード入力に使う。
func NewRootCommand(logWriter io.Writer, readPassword PasswordReader) *cobra.Command {
	if readPassword == nil {
		readPassword = terminalPassword
	}

	root := &cobra.Command{
		Use:           "librarian",
		Short:         "小規模図書館の貸出管理APIサーバー",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// 設定を読み込むサブコマンド共通の前処理
	var cfg *config.Config
	loadConfig := func(cmd *cobra.Command, args []string) error {
		c, err := Init(logWriter)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		cfg = c
		return nil
	}

	serve := &cobra.Command{
		Use:     "serve",
		Short:   "APIサーバーを起動する",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Serve(cfg)
		},
	}

	migrateCmd := &cobra.Command{
		Use:     "migrate",
		Short:   "未適用のマイグレーションを適用する",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Migrate(cfg)
		},
	}
	var steps int
	migrateDown := &cobra.Command{
		Use:     "down",
		Short:   "直近のマイグレーションを取り消す",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return MigrateDown(cfg, steps)
		},
	}
	migrateDown.Flags().IntVar(&steps, "steps", 1, "取り消すマイグレーション数")
	migrateVersion := &cobra.Command{
		Use:     "version",
		Short:   "現在のスキーマバージョンを表示する",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return MigrationStatus(cfg, cmd.OutOrStdout())
		},
	}
	migrateCmd.AddCommand(migrateDown, migrateVersion)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	healthcheck := &cobra.Command{
		Use:   "healthcheck",
		Short: "稼働中サーバーの/healthを確認する",
		RunE: func(cmd *cobra.Command, args []string) error {
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return Healthcheck(port)
		},
	}

	var name, email string
	createAdminCmd := &cobra.Command{
		Use:     "create-admin",
		Short:   "管理者アカウントを作成する",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			u, err := CreateAdmin(cmd.Context(), cfg, auth.SignupInput{
				Name:     name,
				Email:    email,
				Password: password,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin created: %s\n", u.ID)
			return nil
		},
	}
	createAdminCmd.Flags().StringVar(&name, "name", "", "表示名")
	createAdminCmd.Flags().StringVar(&email, "email", "", "メールアドレス")
	_ = createAdminCmd.MarkFlagRequired("name")
	_ = createAdminCmd.MarkFlagRequired("email")

	cleanupCmd := &cobra.Command{
		Use:     "cleanup-sessions",
		Short:   "期限切れセッションを削除する",
		PreRunE: loadConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := CleanupSessions(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired sessions\n", n)
			return nil
		},
	}

	root.AddCommand(serve, migrateCmd, healthcheck, createAdminCmd, cleanupCmd)
	return root
}

// Execute はコマンドツリーを実行する。argsにはos.Args[1:]を渡す。
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand(os.Stdout, nil)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// terminalPassword は端末からエコーなしで読み取る。
// 標準入力が端末でない場合は1行を読み取る。
func terminalPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readLine(os.Stdin)
	}

	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	fmt.Fprint(os.Stderr, "Confirm: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
