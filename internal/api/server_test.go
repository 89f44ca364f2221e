package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/pixelaug/internal/domain"
	"github.com/dunamismax/pixelaug/internal/progress"
	"github.com/dunamismax/pixelaug/internal/queue"
	"github.com/dunamismax/pixelaug/internal/store"
)

type fakeQueue struct {
	payloads []queue.AugmentPayload
	err      error
}

func (q *fakeQueue) EnqueueAugment(_ context.Context, payload queue.AugmentPayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: payload.JobID, Queue: "default", State: asynq.TaskStatePending}, nil
}

type fakeStorage struct {
	uploaded map[string]bool
}

func (s *fakeStorage) PresignedPutURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://storage.test/" + objectKey + "?signed=1", nil
}

func (s *fakeStorage) PresignedGetURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://storage.test/" + objectKey + "?download=1", nil
}

func (s *fakeStorage) MissingObjects(_ context.Context, objectKeys []string) ([]string, error) {
	var missing []string
	for _, key := range objectKeys {
		if !s.uploaded[key] {
			missing = append(missing, key)
		}
	}
	return missing, nil
}

type testEnv struct {
	server   *Server
	queue    *fakeQueue
	jobs     *store.MemoryJobStore
	storage  *fakeStorage
	progress *progress.MemoryTracker
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	env := testEnv{
		queue:    &fakeQueue{},
		jobs:     store.NewMemoryJobStore(),
		storage:  &fakeStorage{uploaded: map[string]bool{}},
		progress: progress.NewMemoryTracker(),
	}
	env.server = NewServer(nil, Dependencies{
		Queue:    env.queue,
		Jobs:     env.jobs,
		Storage:  env.storage,
		Progress: env.progress,
	})
	return env
}

func (env testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestListOperations(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/operations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	ops, ok := body["operations"].([]any)
	if !ok || len(ops) != 9 {
		t.Fatalf("expected 9 operations, got %v", body["operations"])
	}
	if body["max_variants"].(float64) != domain.MaxVariants {
		t.Fatalf("unexpected max_variants: %v", body["max_variants"])
	}
}

func TestCreateJobPresignsUploads(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/jobs", map[string]any{
		"source_type":  "s3_presigned",
		"source_count": 2,
		"augment": map[string]any{
			"operations": []string{"rotation", "noise"},
			"variants":   3,
		},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["total"].(float64) != 6 {
		t.Fatalf("expected total 6, got %v", body["total"])
	}
	uploads := body["uploads"].([]any)
	if len(uploads) != 2 {
		t.Fatalf("expected 2 upload targets, got %d", len(uploads))
	}
	first := uploads[0].(map[string]any)
	if !strings.HasPrefix(first["object_key"].(string), "uploads/") {
		t.Fatalf("unexpected object key: %v", first["object_key"])
	}
	if !strings.Contains(first["presigned_put_url"].(string), "signed=1") {
		t.Fatalf("unexpected presigned url: %v", first["presigned_put_url"])
	}

	job, ok, err := env.jobs.Get(context.Background(), body["job_id"].(string))
	if err != nil || !ok {
		t.Fatalf("expected stored job, ok=%v err=%v", ok, err)
	}
	if job.Status != domain.JobStatusCreated || len(job.Sources) != 2 {
		t.Fatalf("unexpected stored job: %+v", job)
	}
}

func TestCreateJobRejectsInvalidRequests(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		body any
	}{
		{name: "empty", body: map[string]any{}},
		{name: "unknown field", body: map[string]any{"source_type": "local_file", "bogus": true}},
		{name: "no operations", body: map[string]any{
			"source_type": "local_file",
			"sources":     []string{"a.png"},
			"augment":     map[string]any{"operations": []string{}},
		}},
		{name: "too many variants", body: map[string]any{
			"source_type": "local_file",
			"sources":     []string{"a.png"},
			"augment":     map[string]any{"operations": []string{"blur"}, "variants": 51},
		}},
		{name: "bad noise type", body: map[string]any{
			"source_type": "local_file",
			"sources":     []string{"a.png"},
			"augment":     map[string]any{"operations": []string{"noise"}, "noise_type": "speckle"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/jobs", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStartJobLocalFile(t *testing.T) {
	env := newTestEnv(t)
	src := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(src, []byte("not decoded here"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/v1/jobs", map[string]any{
		"source_type": "local_file",
		"sources":     []string{src},
		"augment":     map[string]any{"operations": []string{"flip"}},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	jobID := decodeBody(t, rec)["job_id"].(string)

	rec = env.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.queue.payloads) != 1 {
		t.Fatalf("expected one enqueued payload, got %d", len(env.queue.payloads))
	}
	payload := env.queue.payloads[0]
	if payload.JobID != jobID || payload.Sources[0] != src {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	job, _, _ := env.jobs.Get(context.Background(), jobID)
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("expected queued status, got %s", job.Status)
	}

	rec = env.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second start: expected 409, got %d", rec.Code)
	}
}

func TestStartJobWaitsForUploads(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/jobs", map[string]any{
		"source_type":  "s3_presigned",
		"source_count": 2,
		"augment":      map[string]any{"operations": []string{"blur"}},
	})
	jobID := decodeBody(t, rec)["job_id"].(string)
	job, _, _ := env.jobs.Get(context.Background(), jobID)

	env.storage.uploaded[job.Sources[0]] = true
	rec = env.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while uploads are missing, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), job.Sources[1]) {
		t.Fatalf("expected missing key in error, got %s", rec.Body.String())
	}

	env.storage.uploaded[job.Sources[1]] = true
	rec = env.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 once uploaded, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStartJobEnqueueConflict(t *testing.T) {
	env := newTestEnv(t)
	env.queue.err = asynq.ErrTaskIDConflict
	src := filepath.Join(t.TempDir(), "a.png")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := env.do(t, http.MethodPost, "/v1/jobs", map[string]any{
		"source_type": "local_file",
		"sources":     []string{src},
		"augment":     map[string]any{"operations": []string{"flip"}},
	})
	jobID := decodeBody(t, rec)["job_id"].(string)

	rec = env.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	env.queue.err = errors.New("redis down")
	rec = env.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestGetJobReportsProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := domain.Job{
		ID:         "job-1",
		Status:     domain.JobStatusProcessing,
		SourceType: domain.SourceTypeLocalFile,
		Sources:    []string{"a.png", "b.png"},
		Augment:    domain.AugmentSpec{Operations: []string{"flip"}},
		Total:      2,
	}
	if err := env.jobs.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	// Without a live tracker entry the stored counters are reported.
	rec := env.do(t, http.MethodGet, "/v1/jobs/job-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	prog := decodeBody(t, rec)["progress"].(map[string]any)
	if prog["processed"].(float64) != 0 || prog["total"].(float64) != 2 {
		t.Fatalf("unexpected stored progress: %v", prog)
	}

	if err := env.progress.Start(ctx, "job-1", 2); err != nil {
		t.Fatal(err)
	}
	if _, err := env.progress.Record(ctx, "job-1", false); err != nil {
		t.Fatal(err)
	}
	rec = env.do(t, http.MethodGet, "/v1/jobs/job-1", nil)
	prog = decodeBody(t, rec)["progress"].(map[string]any)
	if prog["processed"].(float64) != 1 || prog["failed"].(float64) != 1 || prog["percent"].(float64) != 50 {
		t.Fatalf("unexpected live progress: %v", prog)
	}

	rec = env.do(t, http.MethodGet, "/v1/jobs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetJobListsOutputs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := domain.Job{
		ID:         "job-s3",
		Status:     domain.JobStatusProcessing,
		SourceType: domain.SourceTypeS3Presigned,
		Sources:    []string{"uploads/job-s3/source-000", "uploads/job-s3/source-001"},
		Augment:    domain.AugmentSpec{Operations: []string{"blur"}},
		Total:      2,
	}
	if err := env.jobs.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/v1/jobs/job-s3", nil)
	if _, ok := decodeBody(t, rec)["outputs"]; ok {
		t.Fatal("expected no outputs before the job finishes")
	}

	_, err := env.jobs.Finish(ctx, "job-s3", domain.JobStatusSucceeded, "", []domain.JobOutput{
		{Source: job.Sources[0], Success: true, Location: "outputs/job-s3/000_source-000_v00.png", Format: "png"},
		{Source: job.Sources[1], Error: "decode source image: unknown format"},
	})
	if err != nil {
		t.Fatal(err)
	}

	rec = env.do(t, http.MethodGet, "/v1/jobs/job-s3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	outputs, ok := decodeBody(t, rec)["outputs"].([]any)
	if !ok || len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %v", outputs)
	}
	first := outputs[0].(map[string]any)
	if first["success"] != true || first["location"] != "outputs/job-s3/000_source-000_v00.png" {
		t.Fatalf("unexpected first output: %v", first)
	}
	if !strings.Contains(first["download_url"].(string), "download=1") {
		t.Fatalf("expected presigned download url, got %v", first["download_url"])
	}
	second := outputs[1].(map[string]any)
	if second["success"] != false || second["error"] == "" {
		t.Fatalf("unexpected failed output: %v", second)
	}
	if _, ok := second["download_url"]; ok {
		t.Fatalf("expected no download url for a failed output: %v", second)
	}
}

func TestMetricsUseRoutePatterns(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/v1/jobs/abc123", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `route="/v1/jobs/{jobID}"`) {
		t.Fatal("expected route pattern label in metrics output")
	}
	if strings.Contains(body, "abc123") {
		t.Fatal("expected job id to stay out of metric labels")
	}
}
