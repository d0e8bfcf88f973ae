package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bnema/vidpipe/config"
	"github.com/bnema/vidpipe/internal/adapter/events/kafka"
	HTTPAdapter "github.com/bnema/vidpipe/internal/adapter/http"
	"github.com/bnema/vidpipe/internal/adapter/playlist/ytget"
	"github.com/bnema/vidpipe/internal/adapter/progress/redis"
	"github.com/bnema/vidpipe/internal/adapter/resolver/ytdlp"
	"github.com/bnema/vidpipe/internal/adapter/storage/jsonfile"
	sqlitestore "github.com/bnema/vidpipe/internal/adapter/storage/sqlite"
	"github.com/bnema/vidpipe/internal/adapter/transfer/aria2"
	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/infrastructure/logger"
	"github.com/bnema/vidpipe/internal/port"
	"github.com/bnema/vidpipe/internal/service"
)

const usage = `usage:
  vidpipe [locator ...]    queue locators, run a pass, serve the API if HTTP_ADDR is set
  vidpipe hash-token       read a control token from stdin and print its bcrypt hash`

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "hash-token":
			if err := hashToken(); err != nil {
				logger.Error.Printf("hash token: %v", err)
				os.Exit(1)
			}
			return
		case "-h", "--help", "help":
			fmt.Println(usage)
			return
		}
	}

	if err := run(os.Args[1:]); err != nil {
		logger.Error.Printf("%v", err)
		os.Exit(1)
	}
}

func run(locators []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetDebug(cfg.Debug)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s state store: %w", cfg.StateBackend, err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := service.NewEventBus()
	var sinks sync.WaitGroup
	defer sinks.Wait()
	defer cancel()

	if cfg.RedisAddr != "" {
		mirror := redis.NewMirror(cfg.RedisAddr, cfg.RedisPrefix, cfg.RedisTTL)
		startSink(ctx, &sinks, eventBus, mirror.Run, mirror.Close)
		logger.Info.Printf("mirroring progress to redis at %s", cfg.RedisAddr)
	}
	if cfg.KafkaBroker != "" {
		publisher := kafka.NewPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
		startSink(ctx, &sinks, eventBus, publisher.Run, publisher.Close)
		logger.Info.Printf("publishing item events to kafka topic %s", cfg.KafkaTopic)
	}

	pipeline := service.NewPipeline(
		ytdlp.NewResolver(cfg.YtdlpPath),
		aria2.NewTransferer(cfg.Aria2Path, cfg.Aria2Connections),
		service.Options{
			MaxResolvers: cfg.MaxResolvers,
			MaxTransfers: cfg.MaxTransfers,
			DownloadDir:  cfg.DownloadDir,
			Quality:      cfg.Quality,
			JoinTimeout:  cfg.ResolveJoinTimeout,
			Events:       eventBus,
			Store:        store,
			Playlists:    ytget.NewExpander(cfg.PlaylistTimeout),
		},
	)

	if err := pipeline.Load(); err != nil {
		return err
	}

	for _, locator := range locators {
		if err := enqueue(ctx, pipeline, locator); err != nil {
			logger.Error.Printf("skip %s: %v", logger.SanitizeForLog(locator), err)
		}
	}

	go handleSignals(ctx, cancel, pipeline)

	if cfg.HTTPAddr == "" {
		err := pipeline.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	return serve(ctx, cfg, pipeline, eventBus)
}

func openStore(cfg *config.Config) (port.StateStore, error) {
	if cfg.StateBackend == config.BackendSQLite {
		return sqlitestore.NewStore(cfg.DataDir)
	}
	return jsonfile.NewStore(cfg.DataDir)
}

func enqueue(ctx context.Context, pipeline *service.Pipeline, locator string) error {
	if ytget.IsPlaylist(locator) {
		ids, err := pipeline.AddPlaylist(ctx, locator, "")
		if err != nil {
			return err
		}
		logger.Info.Printf("queued %d items from playlist", len(ids))
		return nil
	}
	_, err := pipeline.Add(locator, "")
	return err
}

// startSink feeds every bus event to run until ctx is done.
func startSink(ctx context.Context, wg *sync.WaitGroup, bus *service.EventBus, run func(context.Context, <-chan service.Event), closeFn func() error) {
	ch := bus.SubscribeAll()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if err := closeFn(); err != nil {
				logger.Warn.Printf("close event sink: %v", err)
			}
		}()
		defer bus.UnsubscribeAll(ch)
		run(ctx, ch)
	}()
}

// handleSignals maps SIGINT/SIGTERM to stop and SIGUSR1/SIGUSR2 to pause and
// resume.
func handleSignals(ctx context.Context, cancel context.CancelFunc, pipeline *service.Pipeline) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				pipeline.Pause()
			case syscall.SIGUSR2:
				pipeline.Resume()
			default:
				logger.Info.Printf("received %s, shutting down", sig)
				pipeline.Stop()
				cancel()
				return
			}
		}
	}
}

func serve(ctx context.Context, cfg *config.Config, pipeline *service.Pipeline, bus *service.EventBus) error {
	authSvc, err := service.NewAuthService(cfg.ControlTokenHash, cfg.TicketSecret)
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}
	if !authSvc.Enabled() {
		logger.Warn.Printf("CONTROL_TOKEN_HASH is not set, the control API is unauthenticated")
	}

	server := HTTPAdapter.NewServer(ctx, pipeline, authSvc, bus, cfg.BehindProxy)
	defer server.Close()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if pipeline.Counts()[domain.StatusPending] > 0 {
		if err := pipeline.Start(ctx); err != nil {
			logger.Error.Printf("start pipeline: %v", err)
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error.Printf("http shutdown error: %v", err)
		}
		pipeline.Wait()
		logger.Info.Printf("shutdown complete")
	}()

	logger.Info.Printf("control API listening on %s", cfg.HTTPAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	pipeline.Wait()
	return nil
}

func hashToken() error {
	fmt.Fprint(os.Stderr, "token: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return err
	}
	hash, err := service.HashToken(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
