// zaplinkctl 是运维用的命令行：迁移、生成密码哈希、查看和清扫链接。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/bootstrap"
	"github.com/gdg-charusat/zaplink/internal/app/zaplink/sweeper"
	"github.com/gdg-charusat/zaplink/internal/platform/config"
	"github.com/gdg-charusat/zaplink/internal/platform/migrate"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "zaplinkctl",
		Short:         "Zaplink maintenance tool",
		SilenceUsage:  true,
	}
	root.AddCommand(newMigrateCmd(), newHashpassCmd(), newInspectCmd(), newSweepCmd())
	return root
}

// openBackend 按环境变量/.env 打开存储，与 api 进程读同一份配置
func openBackend(ctx context.Context) (config.Config, *bootstrap.Backend, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	b, err := bootstrap.Open(ctx, cfg)
	return cfg, b, err
}

func newMigrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, b, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			if b.DB == nil {
				return fmt.Errorf("migrate needs STORE_DRIVER=%s, got %q", config.StorePostgres, cfg.StoreDriver)
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}
			res, err := migrate.Up(cmd.Context(), b.DB, migrate.Options{Dir: dir})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "source: %s\n", res.Source)
			for _, f := range res.AppliedFiles {
				fmt.Fprintf(out, "applied %s\n", f)
			}
			fmt.Fprintf(out, "%d applied, %d already up to date\n", len(res.AppliedFiles), len(res.SkippedFiles))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "read migrations from this directory instead of the embedded set")
	return cmd
}

func newHashpassCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hashpass <password>",
		Short: "Print a bcrypt hash for a link or user password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := zaplink.HashPassword(args[0], cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost (0 uses the default)")
	return cmd
}

type inspectOutput struct {
	Code           string     `json:"code"`
	Name           string     `json:"name"`
	FileName       string     `json:"file_name"`
	ArtifactRef    string     `json:"artifact_ref"`
	Policy         string     `json:"policy"`
	Protected      bool       `json:"protected"`
	ViewCount      int64      `json:"view_count"`
	RemainingViews *int64     `json:"remaining_views,omitempty"`
	Accessible     bool       `json:"accessible"`
	OwnerID        *int64     `json:"owner_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExhaustedAt    *time.Time `json:"exhausted_at,omitempty"`
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <code>",
		Short: "Show a link without consuming a view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := zaplink.ValidateCode(args[0]); err != nil {
				return err
			}
			_, b, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			l, err := b.Links.Get(cmd.Context(), args[0])
			if errors.Is(err, zaplink.ErrNotFound) {
				return fmt.Errorf("link %s not found", args[0])
			}
			if err != nil {
				return err
			}
			out := inspectOutput{
				Code:        l.Code,
				Name:        l.Name,
				FileName:    l.FileName,
				ArtifactRef: string(l.ArtifactRef),
				Policy:      l.Policy.String(),
				Protected:   l.Protected(),
				ViewCount:   l.ViewCount,
				Accessible:  l.Accessible(time.Now()),
				OwnerID:     l.OwnerID,
				CreatedAt:   l.CreatedAt,
				ExhaustedAt: l.ExhaustedAt,
			}
			if n, ok := l.RemainingViews(); ok {
				out.RemainingViews = &n
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func newSweepCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Tombstone links whose expiry has passed, once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, b, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			if batch <= 0 {
				batch = cfg.SweepBatch
			}
			// 进程内缓存不在这里，api 侧的缓存条目会按 TTL 自然过期
			s := sweeper.New(b.Links, nil, cfg.SweepInterval, batch)
			n, err := s.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tombstoned %d links\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "max links per sweep query (0 uses SWEEP_BATCH)")
	return cmd
}
