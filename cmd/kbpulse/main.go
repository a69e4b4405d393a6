package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kbpulse/internal/audit"
	"kbpulse/internal/config"
	"kbpulse/internal/fetch"
	"kbpulse/internal/model"
	"kbpulse/internal/registry"
	"kbpulse/internal/rules"
	"kbpulse/internal/scheduler"
	web "kbpulse/internal/server"
	"kbpulse/internal/store"
	"kbpulse/internal/syncer"
)

var (
	logger     *zap.Logger
	configPath string
	redisAddr  string
	badgerPath string
)

var rootCmd = &cobra.Command{
	Use:   "kbpulse",
	Short: "kbpulse - knowledge base sync and content health auditing",
}

type app struct {
	cfg      config.Config
	store    *store.HybridStore
	registry *registry.Registry
	syncer   *syncer.Orchestrator
	catalog  *rules.Catalog
	engine   *audit.Engine
}

// buildApp wires the full component graph. Client mode skips the Badger
// file lock for commands that only touch Redis metadata.
func buildApp(ctx context.Context, clientMode bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if redisAddr != "" {
		cfg.RedisAddr = redisAddr
	}
	if badgerPath != "" {
		cfg.BadgerPath = badgerPath
	}
	if clientMode {
		cfg.BadgerPath = ""
	}

	st, err := store.NewHybridStore(cfg.RedisAddr, cfg.BadgerPath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	reg := registry.New(st, logger)
	if err := reg.Load(ctx, cfg.ModelSources()); err != nil {
		st.Close()
		return nil, fmt.Errorf("load sources: %w", err)
	}

	client := fetch.NewClient(30*time.Second, cfg.Sync.PerHostRPS, 2, logger)
	// Conditional fetches reuse the stored article's Last-Modified stamp.
	lookup := func(ctx context.Context, sourceID, canonicalURL string) *time.Time {
		article, err := st.Get(ctx, model.ArticleID(sourceID, canonicalURL))
		if err != nil {
			return nil
		}
		return article.LastModifiedAt
	}
	pipeline := fetch.NewPipeline(client, lookup, cfg.Sync.Workers, logger)

	orch := syncer.New(reg, st, pipeline, logger)
	orch.SetRunBudget(time.Duration(cfg.Sync.RunBudgetMinutes) * time.Minute)
	orch.SetSweepWidth(cfg.Sync.SweepConcurrency)

	catalog := rules.DefaultCatalog(time.Now)

	return &app{
		cfg:      cfg,
		store:    st,
		registry: reg,
		syncer:   orch,
		catalog:  catalog,
		engine:   audit.NewEngine(st, catalog, logger),
	}, nil
}

func (a *app) fetchOptions() fetch.Options {
	return fetch.Options{MaxArticlesPerCategory: a.cfg.Sync.MaxArticlesPerCategory}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Fatal("encode output", zap.Error(err))
	}
	fmt.Println(string(out))
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server and sync scheduler",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			logger.Info("shutting down")
			cancel()
		}()

		a, err := buildApp(ctx, false)
		if err != nil {
			logger.Fatal("startup failed", zap.Error(err))
		}
		defer a.store.Close()

		if expr := a.cfg.Sync.CronExpression; expr != "" {
			sched := scheduler.New(a.syncer, a.fetchOptions(), logger)
			if err := sched.Start(ctx, expr); err != nil {
				logger.Fatal("scheduler failed", zap.Error(err))
			}
			defer sched.Stop()
		}

		srv := web.NewServer(a.registry, a.syncer, a.engine, a.catalog, a.store, logger)
		go func() {
			if err := srv.Start(a.cfg.Server.Port); err != nil {
				logger.Error("server stopped", zap.Error(err))
				cancel()
			}
		}()

		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
		logger.Info("goodbye")
	},
}

var syncAll bool

var syncCmd = &cobra.Command{
	Use:   "sync [source-id]",
	Short: "Sync one source, or all enabled sources with --all",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, err := buildApp(ctx, false)
		if err != nil {
			logger.Fatal("startup failed", zap.Error(err))
		}
		defer a.store.Close()

		if syncAll {
			printJSON(a.syncer.SyncAll(ctx, a.fetchOptions()))
			return
		}
		if len(args) != 1 {
			logger.Fatal("pass a source id or --all")
		}

		result, err := a.syncer.SyncOne(ctx, args[0], a.fetchOptions())
		if err != nil {
			logger.Fatal("sync failed", zap.Error(err))
		}
		printJSON(result)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit [article-id]",
	Short: "Run the audit rules against a stored article",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := uuid.Parse(args[0])
		if err != nil {
			logger.Fatal("invalid article id", zap.Error(err))
		}

		ctx := context.Background()
		a, err := buildApp(ctx, false)
		if err != nil {
			logger.Fatal("startup failed", zap.Error(err))
		}
		defer a.store.Close()

		result, err := a.engine.Audit(ctx, id)
		if err != nil {
			logger.Fatal("audit failed", zap.Error(err))
		}
		printJSON(result)
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured sources and their sync state",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		// Listing only touches Redis metadata, so skip the Badger lock.
		a, err := buildApp(ctx, true)
		if err != nil {
			logger.Fatal("startup failed", zap.Error(err))
		}
		defer a.store.Close()

		printJSON(a.registry.List())
	},
}

func main() {
	var err error
	logger, err = zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Address of Redis server")
	rootCmd.PersistentFlags().StringVar(&badgerPath, "badger", "", "Path to BadgerDB data directory")

	syncCmd.Flags().BoolVar(&syncAll, "all", false, "Sync every enabled source")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(sourcesCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
