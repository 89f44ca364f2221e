package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dunamismax/pixelaug/internal/augment"
	"github.com/dunamismax/pixelaug/internal/domain"
	"github.com/dunamismax/pixelaug/internal/id"
	"github.com/dunamismax/pixelaug/internal/pipeline"
	"github.com/dunamismax/pixelaug/internal/progress"
	"github.com/dunamismax/pixelaug/internal/queue"
	"github.com/dunamismax/pixelaug/internal/storage"
	"github.com/dunamismax/pixelaug/internal/store"
	"github.com/dunamismax/pixelaug/internal/telemetry"
)

const defaultPresignTTL = 15 * time.Minute

type queueEnqueuer interface {
	EnqueueAugment(ctx context.Context, payload queue.AugmentPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	MissingObjects(ctx context.Context, objectKeys []string) ([]string, error)
}

type Dependencies struct {
	Queue      queueEnqueuer
	Jobs       store.JobStore
	Storage    objectStorage
	Progress   progress.Tracker
	PresignTTL time.Duration
}

type Server struct {
	logger     *zap.Logger
	queue      queueEnqueuer
	jobs       store.JobStore
	storage    objectStorage
	progress   progress.Tracker
	presignTTL time.Duration
	metrics    *metrics
	tracer     trace.Tracer
	router     chi.Router
	now        func() time.Time
}

func NewServer(logger *zap.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.PresignTTL <= 0 {
		deps.PresignTTL = defaultPresignTTL
	}
	if deps.Storage == nil {
		deps.Storage = unavailableObjectStorage{}
	}

	s := &Server{
		logger:     logger,
		queue:      deps.Queue,
		jobs:       deps.Jobs,
		storage:    deps.Storage,
		progress:   deps.Progress,
		presignTTL: deps.PresignTTL,
		metrics:    newMetrics(),
		tracer:     otel.Tracer("github.com/dunamismax/pixelaug/internal/api"),
		now:        func() time.Time { return time.Now().UTC() },
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

var errStorageUnavailable = errors.New("object storage is unavailable")

func (unavailableObjectStorage) PresignedPutURL(context.Context, string, time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) PresignedGetURL(context.Context, string, time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) MissingObjects(context.Context, []string) ([]string, error) {
	return nil, errStorageUnavailable
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withTracing)
	r.Use(s.metrics.withHTTPMetrics)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/operations", s.handleListOperations)
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Post("/jobs/{jobID}/start", s.handleStartJob)
	})
	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListOperations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"operations":   augment.Operations(),
		"noise_types":  []augment.NoiseType{augment.NoiseGaussian, augment.NoiseSaltPepper},
		"blur_types":   []augment.BlurType{augment.BlurGaussian, augment.BlurMedian},
		"formats":      pipeline.OutputFormats(),
		"max_variants": domain.MaxVariants,
	})
}

type uploadTarget struct {
	ObjectKey       string `json:"object_key"`
	PresignedPutURL string `json:"presigned_put_url"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req = req.Normalize()

	now := s.now()
	jobID := id.New()
	sources := req.Sources
	var uploads []uploadTarget

	if req.SourceType == domain.SourceTypeS3Presigned {
		sources = storage.UploadKeys(jobID, req.SourceCount)
		uploads = make([]uploadTarget, 0, len(sources))
		for _, key := range sources {
			url, err := s.storage.PresignedPutURL(r.Context(), key, s.presignTTL)
			if err != nil {
				s.logger.Error("presign upload failed", zap.String("job_id", jobID), zap.String("object_key", key), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
				return
			}
			uploads = append(uploads, uploadTarget{ObjectKey: key, PresignedPutURL: url})
		}
	}

	job := domain.Job{
		ID:         jobID,
		Status:     domain.JobStatusCreated,
		SourceType: req.SourceType,
		WebhookURL: req.WebhookURL,
		Sources:    sources,
		Augment:    req.Augment,
		Total:      len(sources) * req.Augment.VariantCount(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobs.Create(r.Context(), job); err != nil {
		s.logger.Error("create job failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	s.metrics.jobsCreated.WithLabelValues(job.SourceType).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    job.ID,
		"status":    job.Status,
		"total":     job.Total,
		"uploads":   uploads,
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}

	if err := s.verifySourcesExist(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	payload := queue.PayloadForJob(job, s.now())
	payload.Trace = telemetry.Inject(r.Context())

	taskInfo, err := s.queue.EnqueueAugment(r.Context(), payload)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			writeError(w, http.StatusConflict, "job is already enqueued")
			return
		}
		s.logger.Error("enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobs.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Warn("update status failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

type jobView struct {
	ID         string             `json:"job_id"`
	Status     string             `json:"status"`
	SourceType string             `json:"source_type"`
	Sources    []string           `json:"sources"`
	Augment    domain.AugmentSpec `json:"augment"`
	Progress   progress.Snapshot  `json:"progress"`
	Outputs    []outputView       `json:"outputs,omitempty"`
	Error      string             `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, jobView{
		ID:         job.ID,
		Status:     job.Status,
		SourceType: job.SourceType,
		Sources:    job.Sources,
		Augment:    job.Augment,
		Progress:   s.snapshot(r.Context(), job),
		Outputs:    s.outputViews(r.Context(), job),
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	})
}

type outputView struct {
	domain.JobOutput
	DownloadURL string `json:"download_url,omitempty"`
}

// outputViews lists the recorded results of a finished job. Successful
// s3_presigned outputs carry a presigned GET URL; a presign failure leaves the
// URL empty rather than failing the request.
func (s *Server) outputViews(ctx context.Context, job domain.Job) []outputView {
	if len(job.Outputs) == 0 {
		return nil
	}
	views := make([]outputView, 0, len(job.Outputs))
	for _, out := range job.Outputs {
		view := outputView{JobOutput: out}
		if out.Success && out.Location != "" && job.SourceType == domain.SourceTypeS3Presigned {
			url, err := s.storage.PresignedGetURL(ctx, out.Location, s.presignTTL)
			if err != nil {
				s.logger.Warn("presign download failed",
					zap.String("job_id", job.ID),
					zap.String("object_key", out.Location),
					zap.Error(err),
				)
			}
			view.DownloadURL = url
		}
		views = append(views, view)
	}
	return views
}

// snapshot prefers the live tracker and falls back to the counters the worker
// persisted at the end of the job.
func (s *Server) snapshot(ctx context.Context, job domain.Job) progress.Snapshot {
	if s.progress != nil {
		snap, ok, err := s.progress.Snapshot(ctx, job.ID)
		if err != nil {
			s.logger.Warn("read progress failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		if ok {
			return snap
		}
	}
	return progress.NewSnapshot(job.Total, job.Processed, job.Failed)
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := chi.URLParam(r, "jobID")
	job, ok, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error("fetch job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) verifySourcesExist(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		for _, path := range job.Sources {
			if _, err := os.Stat(path); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("source is missing: %s", path)
				}
				return fmt.Errorf("source check failed: %w", err)
			}
		}
		return nil
	default:
		missing, err := s.storage.MissingObjects(ctx, job.Sources)
		if err != nil {
			return fmt.Errorf("source check failed: %w", err)
		}
		if len(missing) > 0 {
			return fmt.Errorf("%d of %d sources not uploaded yet, first missing: %s", len(missing), len(job.Sources), missing[0])
		}
		return nil
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
