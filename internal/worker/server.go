package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dunamismax/pixelaug/internal/config"
	"github.com/dunamismax/pixelaug/internal/domain"
	"github.com/dunamismax/pixelaug/internal/pipeline"
	"github.com/dunamismax/pixelaug/internal/progress"
	"github.com/dunamismax/pixelaug/internal/queue"
	"github.com/dunamismax/pixelaug/internal/store"
	"github.com/dunamismax/pixelaug/internal/telemetry"
	"github.com/dunamismax/pixelaug/internal/webhook"
)

// persistEvery is how many finished images pass between job store writes.
const persistEvery = 25

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Dependencies struct {
	// Storage backs s3_presigned jobs; nil leaves only local_file jobs.
	Storage      pipeline.ObjectStore
	OutputPrefix string
	Webhook      webhookSender
	Jobs         store.JobStore
	Progress     progress.Tracker
}

type Server struct {
	logger          *zap.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  processor
	objectProcessor processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	progress        progress.Tracker
	metrics         *metrics
	tracer          trace.Tracer
	now             func() time.Time
}

func NewServer(
	logger *zap.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	deps Dependencies,
) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Jobs == nil {
		return nil, errors.New("job store is required")
	}

	procOpts := []pipeline.Option{
		pipeline.WithConcurrency(workerCfg.ImageConcurrency),
		pipeline.WithLogger(logger.Named("pipeline")),
	}

	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, procOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline processor: %w", err)
	}

	var objectProcessor processor
	if deps.Storage != nil {
		p, err := pipeline.NewObjectStoreProcessor(deps.Storage, deps.OutputPrefix, procOpts...)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
		objectProcessor = p
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				Logger:   logger.Named("asynq").Sugar(),
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Error("task failed",
						zap.String("type", task.Type()),
						zap.Int("retry", retried),
						zap.Int("max_retry", maxRetry),
						zap.Error(err),
					)
				}),
			},
		),
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   deps.Webhook,
		jobStore:        deps.Jobs,
		progress:        deps.Progress,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("github.com/dunamismax/pixelaug/internal/worker"),
		now:             func() time.Time { return time.Now().UTC() },
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeAugmentImages, s.handleAugment)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleAugment(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseAugmentPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx = telemetry.Extract(ctx, payload.Trace)
	ctx, span := s.tracer.Start(ctx, "worker.augment", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.sources", len(payload.Sources)),
		attribute.StringSlice("job.operations", payload.Augment.Operations),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	logger := s.logger.With(zap.String("job_id", payload.JobID))
	total := len(payload.Sources) * payload.Augment.VariantCount()
	logger.Info("augment job started",
		zap.String("source_type", payload.SourceType),
		zap.Int("sources", len(payload.Sources)),
		zap.Int("total", total),
	)

	proc, err := s.processorFor(payload.SourceType)
	if err != nil {
		s.finish(ctx, payload, total, pipeline.Result{}, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unsupported source")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)
	if s.progress != nil {
		if err := s.progress.Start(ctx, payload.JobID, total); err != nil {
			logger.Warn("progress start failed", zap.Error(err))
		}
	}

	result, err := proc.Process(ctx, pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		Sources:    payload.Sources,
		Augment:    payload.Augment,
		Observer:   s.observer(ctx, payload.JobID),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		if ctx.Err() != nil {
			// Cancelled or timed out: leave the job to the asynq retry.
			return fmt.Errorf("run pipeline: %w", err)
		}
		s.finish(ctx, payload, total, pipeline.Result{}, err)
		return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
	}

	status := s.finish(ctx, payload, total, result, nil)
	logger.Info("augment job finished",
		zap.String("status", status),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", time.Since(startedAt)),
	)

	outcome = status
	if status == domain.JobStatusSucceeded {
		span.SetStatus(codes.Ok, "processed")
	} else {
		span.SetStatus(codes.Error, "no image succeeded")
	}
	return nil
}

func (s *Server) processorFor(sourceType string) (processor, error) {
	switch sourceType {
	case domain.SourceTypeLocalFile:
		return s.localProcessor, nil
	case domain.SourceTypeS3Presigned:
		if s.objectProcessor == nil {
			return nil, errors.New("object storage is not configured")
		}
		return s.objectProcessor, nil
	default:
		return nil, fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, sourceType)
	}
}

// observer feeds the live tracker and metrics for every finished image and
// persists the counters to the job store every persistEvery images.
func (s *Server) observer(ctx context.Context, jobID string) pipeline.Observer {
	var (
		mu        sync.Mutex
		processed int
		failed    int
	)
	return func(out pipeline.Output) {
		if out.Success {
			s.metrics.imagesTotal.WithLabelValues("succeeded").Inc()
			s.metrics.outputBytesTotal.Add(float64(out.Bytes))
			s.metrics.pixelsTotal.Add(float64(out.Width * out.Height))
		} else {
			s.metrics.imagesTotal.WithLabelValues("failed").Inc()
		}

		if s.progress != nil {
			if _, err := s.progress.Record(ctx, jobID, out.Success); err != nil {
				s.logger.Debug("progress record failed", zap.String("job_id", jobID), zap.Error(err))
			}
		}

		mu.Lock()
		defer mu.Unlock()
		processed++
		if !out.Success {
			failed++
		}
		if processed%persistEvery == 0 {
			if err := s.jobStore.UpdateProgress(ctx, jobID, processed, failed); err != nil {
				s.logger.Warn("job progress update failed", zap.String("job_id", jobID), zap.Error(err))
			}
		}
	}
}

// finish stores the final counters and status and notifies the webhook. A job
// fails when runErr is set or when no image succeeded. It returns the status.
func (s *Server) finish(ctx context.Context, payload queue.AugmentPayload, total int, result pipeline.Result, runErr error) string {
	status := domain.JobStatusSucceeded
	errMsg := ""
	switch {
	case runErr != nil:
		status = domain.JobStatusFailed
		errMsg = runErr.Error()
	case result.Succeeded == 0:
		status = domain.JobStatusFailed
		errMsg = fmt.Sprintf("all %d images failed", result.Failed)
		if first := firstError(result.Outputs); first != "" {
			errMsg += ": " + first
		}
	}

	if err := s.jobStore.UpdateProgress(ctx, payload.JobID, result.Succeeded+result.Failed, result.Failed); err != nil {
		s.logger.Warn("job progress update failed", zap.String("job_id", payload.JobID), zap.Error(err))
	}
	if _, err := s.jobStore.Finish(ctx, payload.JobID, status, errMsg, jobOutputs(result.Outputs)); err != nil {
		s.logger.Warn("job finish failed", zap.String("job_id", payload.JobID), zap.Error(err))
	}

	event := webhook.EventJobCompleted
	if status == domain.JobStatusFailed {
		event = webhook.EventJobFailed
	}
	s.dispatchWebhook(ctx, payload, event, webhook.JobEvent{
		JobID:     payload.JobID,
		Status:    status,
		Total:     total,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Error:     errMsg,
		Outputs:   outputRefs(result.Outputs),
		SentAt:    s.now(),
	})
	return status
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Warn("job status update failed",
			zap.String("job_id", jobID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

// dispatchWebhook logs delivery failures instead of failing the task; the
// client already retried and re-running the job would redo every image.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.AugmentPayload, event string, body webhook.JobEvent) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailuresTotal.Inc()
		s.logger.Warn("webhook delivery failed",
			zap.String("job_id", payload.JobID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func outputRefs(outputs []pipeline.Output) []webhook.OutputRef {
	if len(outputs) == 0 {
		return nil
	}
	refs := make([]webhook.OutputRef, 0, len(outputs))
	for _, out := range outputs {
		refs = append(refs, webhook.OutputRef{
			Source:  out.Source,
			Variant: out.Variant,
			Path:    out.Path,
			Format:  out.Format,
			Error:   out.Error,
		})
	}
	return refs
}

func jobOutputs(outputs []pipeline.Output) []domain.JobOutput {
	if len(outputs) == 0 {
		return nil
	}
	recorded := make([]domain.JobOutput, 0, len(outputs))
	for _, out := range outputs {
		recorded = append(recorded, domain.JobOutput{
			Source:   out.Source,
			Variant:  out.Variant,
			Success:  out.Success,
			Location: out.Path,
			Format:   out.Format,
			Error:    out.Error,
		})
	}
	return recorded
}

func firstError(outputs []pipeline.Output) string {
	for _, out := range outputs {
		if out.Error != "" {
			return out.Error
		}
	}
	return ""
}
