// Command actionserver is the server CLI surface contracted in §6: it
// loads a settings module, starts one worker (or forks N of them under a
// supervisor), and wires the action server engine to a Redis Gateway
// transport.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"actionrpc/config"
	"actionrpc/serializer"
	"actionrpc/server"
	"actionrpc/transport"
)

const forkEnvVar = "ACTIONRPC_FORK_INDEX"

var (
	settingsPath   string
	forkCount      int
	noRespawn      bool
	fileWatcherArg string
)

func main() {
	root := &cobra.Command{
		Use:   "actionserver",
		Short: "Runs an action server worker group over the Redis Gateway transport.",
		RunE:  run,
	}
	root.Flags().StringVar(&settingsPath, "settings", "", "settings module or file path")
	root.Flags().IntVar(&forkCount, "fork", 1, "number of worker processes")
	root.Flags().BoolVar(&noRespawn, "no-respawn", false, "disable crash respawn")
	root.Flags().StringVar(&fileWatcherArg, "use-file-watcher", "", "comma-separated paths to watch for auto-reload")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(settingsPath)
	if err != nil {
		return fmt.Errorf("settings error: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	if index, ok := server.IsForkedChild(forkEnvVar); ok {
		return runWorker(cfg, log, index)
	}

	if forkCount <= 1 {
		return runWorker(cfg, log, 0)
	}

	sv := server.NewSupervisor(server.SupervisorConfig{
		ForkCount:     forkCount,
		NoRespawn:     noRespawn,
		ShutdownGrace: cfg.Harakiri.ShutdownGrace,
		ForkEnvVar:    forkEnvVar,
		Log:           log,
	})
	if err := sv.Run(context.Background()); err != nil {
		log.Error("server group terminated", zap.Error(err))
		os.Exit(1)
	}
	return nil
}

func runWorker(cfg config.Settings, log *zap.Logger, forkIndex int) error {
	backend := transport.NewStandaloneBackend(transport.Endpoint{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer backend.Close()

	s := serializerFor(cfg)
	st := transport.NewServerTransport(backend, s, transportConfig(cfg), log)

	srvCfg := server.DefaultConfig()
	srvCfg.HarakiriTimeout = cfg.Harakiri.Timeout
	srvCfg.HeartbeatPathTemplate = cfg.HeartbeatFile

	// Action registration is left to the embedding application: this
	// binary wires the transport, worker lifecycle, and CLI surface only,
	// the way §1 treats handlers as an external collaborator concern.
	srv := server.New(cfg.ServiceName, st, srvCfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if paths := watchedPaths(cfg); len(paths) > 0 {
		reloader, err := server.NewReloader(paths, log)
		if err != nil {
			return fmt.Errorf("file watcher: %w", err)
		}
		defer reloader.Close()
		go reloader.Watch(func(_ fsnotify.Event) { srv.Shutdown() })
	}

	return srv.Run(ctx, forkIndex)
}

func watchedPaths(cfg config.Settings) []string {
	if fileWatcherArg != "" {
		return strings.Split(fileWatcherArg, ",")
	}
	return cfg.FileWatcher
}

func serializerFor(cfg config.Settings) serializer.Serializer {
	return serializer.NewBinary()
}

func transportConfig(cfg config.Settings) transport.Config {
	tc := transport.ServerDefaults()
	if cfg.Transport.QueueCapacity > 0 {
		tc.QueueCapacity = cfg.Transport.QueueCapacity
	}
	if cfg.Transport.QueueFullRetries > 0 {
		tc.QueueFullRetries = cfg.Transport.QueueFullRetries
	}
	if cfg.Transport.ReceiveTimeout > 0 {
		tc.ReceiveTimeout = cfg.Transport.ReceiveTimeout
	}
	if cfg.Transport.MaximumMessageSizeBytes > 0 {
		tc.MaximumMessageSizeBytes = cfg.Transport.MaximumMessageSizeBytes
	}
	if cfg.Transport.LogMessagesLargerThanBytes > 0 {
		tc.LogMessagesLargerThanBytes = cfg.Transport.LogMessagesLargerThanBytes
	}
	if cfg.Transport.ChunkMessagesLargerThanBytes > 0 {
		tc.ChunkMessagesLargerThanBytes = cfg.Transport.ChunkMessagesLargerThanBytes
	}
	if cfg.Transport.ChunkWaitWindow > 0 {
		tc.ChunkWaitWindow = cfg.Transport.ChunkWaitWindow
	}
	return tc
}
