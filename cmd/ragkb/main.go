package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragkb/internal/config"
	"github.com/xxxsen/ragkb/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "ragkb",
		Short:        "ragkb knowledge base with retrieval-augmented answers",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	load := func() (*config.Config, error) {
		if configPath == "" {
			return nil, fmt.Errorf("--config is required")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(
			cfg.LogConfig.File,
			cfg.LogConfig.Level,
			int(cfg.LogConfig.FileCount),
			int(cfg.LogConfig.FileSize),
			int(cfg.LogConfig.KeepDays),
			cfg.LogConfig.Console,
		)
		logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
		return cfg, nil
	}

	rootCmd.AddCommand(
		newRunCmd(load),
		newIngestCmd(load),
		newAskCmd(load),
		newMigrateCmd(load),
	)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

type loader func() (*config.Config, error)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the http server and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signalContext()
			defer stop()
			return runServer(ctx, a)
		},
	}
}

func newIngestCmd(load loader) *cobra.Command {
	var meta service.IngestMeta
	var tags string
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "ingest files from disk",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signalContext()
			defer stop()

			for _, tag := range strings.Split(tags, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					meta.Tags = append(meta.Tags, tag)
				}
			}
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				file := &service.UploadFile{
					Name:     filepath.Base(path),
					MimeType: mime.TypeByExtension(filepath.Ext(path)),
					Data:     data,
				}
				ids, err := a.ingest.ProcessFile(ctx, file, meta)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunk(s) %s\n", path, len(ids), strings.Join(ids, ","))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&meta.Title, "title", "", "title for every file (default: file name)")
	cmd.Flags().StringVar(&meta.Category, "category", "", "document category")
	cmd.Flags().StringVar(&meta.EmergencyType, "emergency-type", "", "emergency classification")
	cmd.Flags().StringVar(&tags, "tags", "", "comma separated tags")
	return cmd
}

func newAskCmd(load loader) *cobra.Command {
	var req service.QueryRequest
	var threshold float32
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "answer one question from the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, stop := signalContext()
			defer stop()

			req.Query = strings.Join(args, " ")
			if cmd.Flags().Changed("threshold") {
				req.Threshold = &threshold
			}
			ans, err := a.query.Answer(ctx, &req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ans.Text)
			if len(ans.Sources) > 0 {
				fmt.Fprintln(out, "\nSources:")
			}
			for i, doc := range ans.Sources {
				score := ""
				if doc.Similarity != nil {
					score = fmt.Sprintf(" (%.3f)", *doc.Similarity)
				}
				fmt.Fprintf(out, "  [%d] %s%s\n", i+1, doc.Title, score)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "number of context documents (default from config)")
	cmd.Flags().Float32Var(&threshold, "threshold", 0, "minimum similarity (default from config)")
	cmd.Flags().StringVar(&req.Filter.Category, "category", "", "restrict to a category")
	cmd.Flags().StringVar(&req.Filter.EmergencyType, "emergency-type", "", "restrict to an emergency type")
	return cmd
}

func newMigrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			conn, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			logutil.GetLogger(context.Background()).Info("migrations applied", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}
