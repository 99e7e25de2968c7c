package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"study-agent-backend/config"
	"study-agent-backend/model"
	"study-agent-backend/service/knowledge-base/chunker"
	"sync"
	"sync/atomic"
	"time"
)

// FileStore 调度器需要的文件存储能力
type FileStore interface {
	PendingFiles(ctx context.Context, limit int) ([]model.FileMetadata, error)
	StaleProcessingFiles(ctx context.Context, cutoff time.Time) ([]model.FileMetadata, error)
	FailedFiles(ctx context.Context, limit int) ([]model.FileMetadata, error)
	Transition(ctx context.Context, fileID uint, from, to model.ProcessingStatus, patch map[string]any) (bool, error)
}

// FileProcessor 单文件处理原语，终态由其内部统一写入
type FileProcessor interface {
	ProcessFile(ctx context.Context, file *model.FileMetadata) (*model.ProcessResult, error)
}

type SessionCleaner interface {
	CleanupInactiveSessions(ctx context.Context) (int, error)
}

type Options struct {
	TickInterval   time.Duration
	StaleThreshold time.Duration
	BatchSize      int
	FileTimeout    time.Duration

	// 失败文件自动重试次数上限，0 表示仅人工重试
	MaxRetryAttempts int
	RetryBackoffBase time.Duration
}

func (o *Options) applyDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = config.DefaultTickInterval
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = config.DefaultStaleThreshold
	}
	if o.BatchSize <= 0 {
		o.BatchSize = config.DefaultBatchSize
	}
	if o.FileTimeout <= 0 {
		o.FileTimeout = config.DefaultFileTimeout
	}
	if o.RetryBackoffBase <= 0 {
		o.RetryBackoffBase = config.DefaultRetryBackoffBase
	}
}

type Status struct {
	Running    bool `json:"running"`
	TimerArmed bool `json:"timer_armed"`

	// 停止后仍可为true，表示最后一个周期尚在收尾
	CycleInFlight bool `json:"cycle_in_flight"`
}

// CycleSummary 单个调度周期的统计，不跨周期保留
type CycleSummary struct {
	Skipped bool

	StaleReset      int
	Requeued        int
	Attempted       int
	Succeeded       int
	Failed          int
	SessionsDeleted int
}

// Scheduler 文件处理调度器：周期性地恢复卡住的文件、批量处理待处理文件、
// 触发会话清理。所有失败均被就地吸收，调度器自身不会让进程退出。
type Scheduler struct {
	store     FileStore
	processor FileProcessor
	cleaner   SessionCleaner
	opts      Options

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	// tick 与上一周期重叠时跳过本次 tick
	cycleInFlight atomic.Bool
	timerArmed    atomic.Bool

	now func() time.Time
}

func New(store FileStore, processor FileProcessor, cleaner SessionCleaner, opts Options) *Scheduler {
	opts.applyDefaults()
	return &Scheduler{
		store:     store,
		processor: processor,
		cleaner:   cleaner,
		opts:      opts,
		now:       time.Now,
	}
}

// Start 启动调度循环，立即执行一轮后按固定间隔重复。重复调用为空操作。
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	go s.loop(ctx)
	slog.Info("File processing scheduler started",
		"tick_interval", s.opts.TickInterval,
		"stale_threshold", s.opts.StaleThreshold,
		"batch_size", s.opts.BatchSize,
	)
}

// Stop 停止后续调度并立即返回，不等待在途周期收尾。
// 在途周期通过 Status 的 cycle_in_flight 观察。重复调用为空操作。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.timerArmed.Store(false)
	slog.Info("File processing scheduler stopped",
		"cycle_in_flight", s.cycleInFlight.Load(),
	)
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:       s.running,
		TimerArmed:    s.running && s.timerArmed.Load(),
		CycleInFlight: s.cycleInFlight.Load(),
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	// 周期自身不随 Stop 取消，只阻止后续 tick
	s.RunCycle(context.Background())

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	if ctx.Err() != nil {
		return
	}
	s.timerArmed.Store(true)

	for {
		select {
		case <-ticker.C:
			s.RunCycle(context.Background())
		case <-ctx.Done():
			return
		}
	}
}

// RunCycle 执行一轮完整的 恢复 → 选择 → 处理 → 清理。
// 上一周期未结束时直接跳过，保证同一文件不会被并发处理。
func (s *Scheduler) RunCycle(ctx context.Context) CycleSummary {
	if !s.cycleInFlight.CompareAndSwap(false, true) {
		slog.Warn("Previous processing cycle still in flight, skipping this tick")
		return CycleSummary{Skipped: true}
	}
	defer s.cycleInFlight.Store(false)

	summary := CycleSummary{}

	if err := s.recoverStaleFiles(ctx, &summary); err != nil {
		slog.Error("Failed to query stale processing files, aborting cycle", "err", err)
		return summary
	}

	if s.opts.MaxRetryAttempts > 0 {
		s.requeueFailedFiles(ctx, &summary)
	}

	files, err := s.store.PendingFiles(ctx, s.opts.BatchSize)
	if err != nil {
		slog.Error("Failed to select pending files, aborting cycle", "err", err)
		return summary
	}

	for i := range files {
		s.processFile(ctx, &files[i], &summary)
	}

	deleted, err := s.cleaner.CleanupInactiveSessions(ctx)
	if err != nil {
		// 清理失败不影响本周期，也不影响调度器
		slog.Error("Failed to cleanup inactive sessions", "err", err)
	} else {
		summary.SessionsDeleted = deleted
	}

	if summary.Attempted > 0 || summary.StaleReset > 0 || summary.SessionsDeleted > 0 {
		slog.Info("Processing cycle finished",
			"stale_reset", summary.StaleReset,
			"requeued", summary.Requeued,
			"attempted", summary.Attempted,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"sessions_deleted", summary.SessionsDeleted,
		)
	}
	return summary
}

// recoverStaleFiles 将卡在 PROCESSING 状态超过阈值的文件重置回 PENDING，
// 同一周期内重置的文件可以被本周期的批量选择再次选中
func (s *Scheduler) recoverStaleFiles(ctx context.Context, summary *CycleSummary) error {
	now := s.now()
	cutoff := now.Add(-s.opts.StaleThreshold)

	files, err := s.store.StaleProcessingFiles(ctx, cutoff)
	if err != nil {
		return err
	}

	for i := range files {
		file := &files[i]
		ok, err := s.store.Transition(ctx, file.ID, model.StatusProcessing, model.StatusPending, map[string]any{
			model.MetaResetFromProcessingAt: now.Format(time.RFC3339),
			model.MetaPreviousAttemptAt:     file.UpdatedAt.Format(time.RFC3339),
		})
		if err != nil {
			slog.Error("Failed to reset stale file", "file_id", file.ID, "err", err)
			continue
		}
		if ok {
			summary.StaleReset++
			slog.Warn("Reset stale processing file back to pending",
				"file_id", file.ID,
				"object_name", file.ObjectName,
				"stuck_since", file.UpdatedAt,
			)
		}
	}
	return nil
}

// requeueFailedFiles 失败文件按指数退避自动重试：
// 第 n 次重试在失败后等待 backoff_base * 2^(n-1)，次数达到上限后只能人工重试
func (s *Scheduler) requeueFailedFiles(ctx context.Context, summary *CycleSummary) {
	now := s.now()

	files, err := s.store.FailedFiles(ctx, s.opts.BatchSize)
	if err != nil {
		slog.Error("Failed to query failed files for requeue", "err", err)
		return
	}

	for i := range files {
		file := &files[i]
		attempts := file.RetryAttempt()
		if attempts >= s.opts.MaxRetryAttempts {
			continue
		}

		backoff := s.opts.RetryBackoffBase
		if attempts > 1 {
			backoff = s.opts.RetryBackoffBase << (attempts - 1)
		}
		if failedAt := file.FailedAt(); !failedAt.IsZero() && now.Before(failedAt.Add(backoff)) {
			continue
		}

		ok, err := s.store.Transition(ctx, file.ID, model.StatusFailed, model.StatusPending, map[string]any{
			model.MetaRequeuedAt: now.Format(time.RFC3339),
			model.MetaRequeuedBy: "scheduler",
		})
		if err != nil {
			slog.Error("Failed to requeue failed file", "file_id", file.ID, "err", err)
			continue
		}
		if ok {
			summary.Requeued++
		}
	}
}

// processFile 单文件处理，失败被隔离在文件粒度，不中断批次
func (s *Scheduler) processFile(ctx context.Context, file *model.FileMetadata, summary *CycleSummary) {
	summary.Attempted++

	fileCtx, cancel := context.WithTimeout(ctx, s.opts.FileTimeout)
	defer cancel()

	result, err := s.processor.ProcessFile(fileCtx, file)
	if err != nil {
		if errors.Is(err, chunker.ErrAlreadyClaimed) {
			// 其他周期或人工脚本已占用该文件
			summary.Attempted--
			return
		}
		summary.Failed++
		slog.Error("Failed to process file",
			"file_id", file.ID,
			"object_name", file.ObjectName,
			"err", err,
		)
		return
	}

	summary.Succeeded++
	slog.Info("Processed file",
		"file_id", file.ID,
		"object_name", file.ObjectName,
		"chunks_created", result.ChunksCreated,
		"tokens_processed", result.TokensProcessed,
	)
}
