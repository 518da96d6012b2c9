package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ArchiveDrop/internal/config"
	"github.com/dharsanguruparan/ArchiveDrop/internal/logger"
	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
	"github.com/dharsanguruparan/ArchiveDrop/internal/pool"
	"github.com/dharsanguruparan/ArchiveDrop/internal/purge"
	"github.com/dharsanguruparan/ArchiveDrop/internal/server"
	"github.com/dharsanguruparan/ArchiveDrop/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "archivedrop: %v\n", err)
		os.Exit(1)
	}
	rootCmd := newRootCommand(v)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "archivedrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archivedrop",
		Short: "Rename, process and publish archival collections",
		Long: `archivedrop assigns inventory codes to the files of a collection, produces
archival and access renditions on a bounded worker pool, and publishes the
result to the catalog. An import that is abandoned is rolled back to the
original file names.`,
		SilenceUsage: true,
	}
	flags := cmd.PersistentFlags()
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Int("max-workers", 0, "Worker pool size (0 derives it from the CPU count)")
	flags.String("processed-dir", "processed", "Directory receiving finalized collections")
	flags.String("ledger-dir", config.DefaultLedgerDir(), "Directory holding rename ledgers")
	flags.Bool("queue", false, "Defer catalog publication and purges to the worker")
	flags.Bool("insecure", false, "Allow running without a catalog secret")
	for key, flag := range map[string]string{
		"log.level":     "log-level",
		"max_workers":   "max-workers",
		"processed_dir": "processed-dir",
		"ledger_dir":    "ledger-dir",
		"queue_publish": "queue",
		"insecure":      "insecure",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(
		newImportCmd(v),
		newRenameCmd(v),
		newRollbackCmd(v),
		newPurgeCmd(v),
		newServeCmd(v),
	)
	return cmd
}

// setup decodes the configuration once flags are parsed.
func setup(v *viper.Viper) (*app, error) {
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, log), nil
}

type collectionFlags struct {
	prefix string
	kind   string
	name   string
}

func (f *collectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.prefix, "prefix", "p", "", "Collection prefix, e.g. ABC")
	cmd.Flags().StringVarP(&f.kind, "type", "t", "", "Processing type: image, movie, audio or document")
	cmd.Flags().StringVar(&f.name, "name", "", "Collection name (defaults to the folder name)")
	_ = cmd.MarkFlagRequired("prefix")
	_ = cmd.MarkFlagRequired("type")
}

func (f *collectionFlags) request(path string) (session.Request, error) {
	t, err := model.ParseProcessingType(f.kind)
	if err != nil {
		return session.Request{}, err
	}
	return session.Request{CollectionPath: path, Name: f.name, Prefix: f.prefix, Type: t}, nil
}

func newImportCmd(v *viper.Viper) *cobra.Command {
	var (
		flags          collectionFlags
		status         bool
		abandonOnError bool
	)
	cmd := &cobra.Command{
		Use:   "import <collection>",
		Short: "Rename, process and publish a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			a, err := setup(v)
			if err != nil {
				return err
			}
			defer a.Close()

			coord, err := a.coordinator(ctx, printProgress)
			if err != nil {
				return err
			}
			if status {
				statusCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				srv := server.New(a.cfg.StatusAddress, coord, a.states, a.registry, a.log.Named("status"))
				go func() {
					if err := srv.Serve(statusCtx); err != nil {
						a.log.Warn("status server stopped", zap.Error(err))
					}
				}()
			}

			s, err := coord.Start(ctx, req)
			if err != nil {
				return err
			}
			results, err := coord.Process(ctx, s, nil)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return abandon(a, coord, s, err)
			}
			if ctx.Err() != nil {
				return abandon(a, coord, s, ctx.Err())
			}
			if failed := countFailed(results); failed > 0 && abandonOnError {
				return abandon(a, coord, s, fmt.Errorf("%d of %d items failed", failed, len(results)))
			}

			report, err := coord.Finalize(ctx, s)
			if err != nil {
				if errors.Is(err, session.ErrRelocate) {
					a.log.Error("collection left renamed in place; run rollback to restore it", zap.String("path", s.State.FolderPath))
				}
				return err
			}
			fmt.Printf("imported %s: %d published, %d failed, moved to %s\n",
				s.State.CollectionName, report.Published, report.Failed, report.Destination)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&status, "status", false, "Serve progress and metrics while importing")
	cmd.Flags().BoolVar(&abandonOnError, "abandon-on-error", false, "Roll back instead of publishing when any item fails")
	return cmd
}

func newRenameCmd(v *viper.Viper) *cobra.Command {
	var flags collectionFlags
	cmd := &cobra.Command{
		Use:   "rename <collection>",
		Short: "Assign inventory codes without processing",
		Long:  "Renames the collection and prints the resulting items as JSON. The renames can be undone with rollback.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			a, err := setup(v)
			if err != nil {
				return err
			}
			defer a.Close()

			coord, err := a.lightCoordinator(ctx)
			if err != nil {
				return err
			}
			s, err := coord.Start(ctx, req)
			if err != nil {
				return err
			}
			if s.Rename.Err != nil {
				fmt.Fprintf(os.Stderr, "some entries were not renamed:\n%v\n", s.Rename.Err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Import   model.ImportState      `json:"import"`
				Items    []model.ProcessingItem `json:"items"`
				Skipped  []string               `json:"skipped,omitempty"`
				Metadata any                    `json:"metadata,omitempty"`
			}{s.State, s.Items, s.Rename.Skipped, s.Rename.Metadata})
		},
	}
	flags.register(cmd)
	return cmd
}

func newRollbackCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <collection>",
		Short: "Restore the original names of a renamed collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(v)
			if err != nil {
				return err
			}
			defer a.Close()
			coord, err := a.lightCoordinator(ctx)
			if err != nil {
				return err
			}
			report, err := coord.RollbackPath(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("restored %d files and %d folders, removed %d empty folders, %d entries missing\n",
				report.FilesRestored, report.DirsRestored, report.DirsRemoved, report.Missing)
			for _, dir := range report.Kept {
				fmt.Printf("kept non-empty folder %s\n", dir)
			}
			return nil
		},
	}
}

func newPurgeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete the catalog rows and stored objects of the last import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(v)
			if err != nil {
				return err
			}
			defer a.Close()
			coord, err := a.coordinator(ctx, nil)
			if err != nil {
				return err
			}
			report, err := coord.PurgePrevious(ctx)
			if errors.Is(err, purge.ErrNoImport) {
				fmt.Println("no previous import recorded")
				return nil
			}
			if err != nil {
				return err
			}
			if report == nil {
				fmt.Println("purge queued")
				return nil
			}
			total := 0
			for _, n := range report.Deleted {
				total += n
			}
			fmt.Printf("purged %s objects, catalog import deleted: %t\n", humanize.Comma(int64(total)), report.CatalogDeleted)
			return nil
		},
	}
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the state of the last import and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(v)
			if err != nil {
				return err
			}
			defer a.Close()
			coord, err := a.lightCoordinator(ctx)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.StatusAddress
			}
			return server.New(addr, coord, a.states, a.registry, a.log.Named("status")).Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to status_address)")
	return cmd
}

func abandon(a *app, coord *session.Coordinator, s *session.Session, cause error) error {
	a.log.Warn("abandoning import", zap.String("import", s.State.ID), zap.Error(cause))
	report, err := coord.Abandon(context.Background(), s)
	if err != nil {
		return errors.Join(cause, err)
	}
	if len(report.Kept) > 0 {
		a.log.Warn("folders kept after rollback", zap.Strings("paths", report.Kept))
	}
	return cause
}

func printProgress(ev pool.Event) {
	fmt.Fprintf(os.Stderr, "\r%5.1f%% %d/%d", ev.Percent, ev.State.ProcessedFiles, ev.State.TotalFiles)
}

func countFailed(items []model.ProcessingItem) int {
	n := 0
	for _, it := range items {
		if !it.Processed {
			n++
		}
	}
	return n
}
