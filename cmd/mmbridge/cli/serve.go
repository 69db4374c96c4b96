package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oncallhq/mmbridge/internal/config"
	"github.com/oncallhq/mmbridge/internal/mattermost"
	"github.com/oncallhq/mmbridge/internal/server"
	"github.com/oncallhq/mmbridge/internal/sync"
	"github.com/oncallhq/mmbridge/internal/token"
	"github.com/oncallhq/mmbridge/internal/worker"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge server",
		Long:  "Start the HTTP server and the background worker that keeps channels in sync.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	settings := config.Load()
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()
	logger.Info("store initialized")

	client, err := mattermost.New(mattermost.Config{
		Host:     settings.Mattermost.Host,
		BotToken: settings.Mattermost.BotToken,
		Timeout:  settings.Mattermost.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("init mattermost client: %w", err)
	}

	// Shared marker backend: Redis when configured, otherwise in-process.
	// Single-node deployments don't need the shared backend; multi-worker
	// ones do, or duplicate syncs are only suppressed per process.
	var marker sync.Marker
	if settings.Redis.Addr != "" {
		redisMarker := sync.NewRedisMarker(settings.Redis.Addr, settings.Redis.Password, settings.Redis.DB)
		if err := redisMarker.Ping(context.Background()); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisMarker.Close()
		marker = redisMarker
		logger.Info("using redis sync marker", "addr", settings.Redis.Addr)
	} else {
		marker = sync.NewMemoryMarker()
		logger.Warn("no redis configured, sync markers are process-local")
	}

	syncer := sync.NewSyncer(st, client, marker, logger)

	queue, err := worker.NewQueue(syncer, logger)
	if err != nil {
		return fmt.Errorf("init worker queue: %w", err)
	}
	defer queue.Close()

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	go func() {
		if err := queue.Run(workerCtx); err != nil {
			logger.Error("worker queue stopped", "error", err)
		}
	}()
	<-queue.Running()
	logger.Info("worker queue running")

	codec := token.NewCodec(st)

	srv := server.New(server.Config{
		Host:            settings.Server.Host,
		Port:            settings.Server.Port,
		ShutdownTimeout: settings.Server.ShutdownTimeout,
		CORSOrigins:     settings.Server.CORSOrigins,
		WebhookHost:     settings.Mattermost.WebhookHost,
	}, st, codec, queue, logger)

	return srv.ListenAndServe()
}
