// Command chatkit serves task-oriented chat bots over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chatkit-dev/chatkit"
	"github.com/chatkit-dev/chatkit/internal/server"
	"github.com/chatkit-dev/chatkit/pkg/botconfig"
	"github.com/chatkit-dev/chatkit/pkg/cache"
	"github.com/chatkit-dev/chatkit/pkg/nlu"
	"github.com/chatkit-dev/chatkit/pkg/observability"
	"github.com/chatkit-dev/chatkit/pkg/store"
)

// version is set via ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type serveFlags struct {
	addr      string
	adminPort int
	storePath string
	nluCache  string
	cacheDir  string
	cacheTTL  time.Duration
	redisAddr string
	envFile   string
	logLevel  string
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatkit",
		Short:         "Multi-turn dialogue orchestrator for task-oriented bots",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), validateCmd())
	return root
}

func serveCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve <bot-config>...",
		Short: "Serve one or more bots over HTTP",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), flags, args)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", ":8080", "conversation API listen address")
	cmd.Flags().IntVar(&flags.adminPort, "admin-port", 9090, "metrics and health listen port")
	cmd.Flags().StringVar(&flags.storePath, "store", "", "sqlite database path (empty = in-memory)")
	cmd.Flags().StringVar(&flags.nluCache, "nlu-cache", "memory", "NLU cache backend: memory, redis, disk, off")
	cmd.Flags().StringVar(&flags.cacheDir, "cache-dir", ".chatkit-cache", "directory for the disk NLU cache")
	cmd.Flags().DurationVar(&flags.cacheTTL, "cache-ttl", time.Hour, "NLU cache entry TTL")
	cmd.Flags().StringVar(&flags.redisAddr, "redis-addr", "localhost:6379", "redis address for the redis NLU cache")
	cmd.Flags().StringVar(&flags.envFile, "env-file", "", "env file to load before reading bot configs")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	return cmd
}

func serve(ctx context.Context, flags *serveFlags, configPaths []string) error {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil {
			return fmt.Errorf("loading env file: %w", err)
		}
	}

	logger := newLogger(flags.logLevel)
	slog.SetDefault(logger)

	backing, err := openStore(flags.storePath)
	if err != nil {
		return err
	}
	defer backing.Close()

	nluCache, err := openCache(flags)
	if err != nil {
		return err
	}

	registry := nlu.NewRegistry()
	bots := make([]*chatkit.Bot, 0, len(configPaths))
	for _, path := range configPaths {
		bot, err := loadBot(path, registry, nluCache, backing, logger)
		if err != nil {
			return err
		}
		logger.Info("bot loaded", "bot", bot.Catalog().Bot, "config", path)
		bots = append(bots, bot)
	}

	observability.InitMetrics()
	checker := observability.NewHealthChecker()
	checker.Register(observability.StoreCheck(storePing(backing)))
	admin := observability.NewServer(flags.adminPort, checker)

	api := server.New(bots, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Run(ctx, flags.addr) })
	g.Go(func() error {
		logger.Info("admin server listening", "port", flags.adminPort)
		if err := admin.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return admin.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("stopped")
	return err
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <bot-config>...",
		Short: "Validate bot configuration files without serving",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				file, err := botconfig.Load(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				catalog, err := file.Catalog()
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (bot %q, %d intents)\n",
					path, catalog.Bot, len(catalog.Intents))
			}
			return nil
		},
	}
}

func loadBot(path string, registry *nlu.Registry, nluCache cache.Cache, backing store.Store, logger *slog.Logger) (*chatkit.Bot, error) {
	file, err := botconfig.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	catalog, err := file.Catalog()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	bot, err := chatkit.NewBot(catalog, registry, nluCache,
		chatkit.WithStore(backing),
		chatkit.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bot, nil
}

func openStore(path string) (store.Store, error) {
	if path == "" {
		return store.NewMemory(), nil
	}
	return store.NewSQLite(path)
}

func openCache(flags *serveFlags) (cache.Cache, error) {
	switch flags.nluCache {
	case "off":
		return nil, nil
	case "memory":
		return cache.NewMemory(cache.MemoryConfig{TTL: flags.cacheTTL}), nil
	case "disk":
		return cache.NewDisk(flags.cacheDir, flags.cacheTTL)
	case "redis":
		return cache.NewRedis(cache.RedisConfig{Addr: flags.redisAddr, TTL: flags.cacheTTL})
	}
	return nil, fmt.Errorf("unknown nlu-cache backend %q", flags.nluCache)
}

// storePing exercises the store with a lookup of an id that never exists.
func storePing(backing store.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := backing.LoadSnapshot(ctx, "health-check")
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
