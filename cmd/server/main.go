package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"study-agent-backend/config"
	"study-agent-backend/controller"
	"study-agent-backend/dao"
	"study-agent-backend/router"
	"study-agent-backend/service/cleanup"
	knowledgebase "study-agent-backend/service/knowledge-base"
	"study-agent-backend/service/knowledge-base/chunker"
	"study-agent-backend/service/knowledge-base/etl"
	"study-agent-backend/service/knowledge-base/etl/processor"
	"study-agent-backend/service/mq"
	"study-agent-backend/service/scheduler"
	"study-agent-backend/service/summarization"
	"syscall"
	"time"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(*configPath); err != nil {
		slog.Error("Server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if err := config.Load(configPath); err != nil {
		return err
	}

	if err := dao.Init(); err != nil {
		return err
	}

	if err := mq.Init(); err != nil {
		return err
	}

	if err := summarization.Init(); err != nil {
		return err
	}
	summarization.SummarizerInstance.Run()

	base, err := processor.NewBaseETLProcessor()
	if err != nil {
		return err
	}

	fileStore := dao.NewFileStore(dao.DB)
	sessionStore := dao.NewSessionStore(dao.DB)

	etlService := etl.NewService(base, fileStore)
	mq.RegisterHandler(mq.TopicKnowledgeBase, mq.TagDelete, etlService.HandleDeleteMessage)
	mq.RegisterHandler(mq.TopicKnowledgeBase, mq.TagReprocess, etlService.HandleReprocessMessage)
	if err := mq.Run(); err != nil {
		return err
	}
	defer mq.Shutdown()

	fileChunker := chunker.New(fileStore, knowledgebase.NewOSSFetcher(), etl.NewProcessorRegistry(base))
	sessionCleaner := cleanup.NewService(sessionStore)

	sched := scheduler.New(fileStore, fileChunker, sessionCleaner, scheduler.Options{
		TickInterval:     config.Cfg.Scheduler.TickInterval,
		StaleThreshold:   config.Cfg.Scheduler.StaleThreshold,
		BatchSize:        config.Cfg.Scheduler.BatchSize,
		FileTimeout:      config.Cfg.Scheduler.FileTimeout,
		MaxRetryAttempts: config.Cfg.Scheduler.MaxRetryAttempts,
		RetryBackoffBase: config.Cfg.Scheduler.RetryBackoffBase,
	})
	sched.Start()
	defer sched.Stop()

	r := router.Register(controller.NewSchedulerController(sched))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Cfg.Server.Port),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("Server started", "port", config.Cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		slog.Info("Shutting down server", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %v", err)
	}

	return nil
}
