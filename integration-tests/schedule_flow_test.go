package integration_tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vcscsvcscs/regimen/internal/adherence"
	"github.com/vcscsvcscs/regimen/internal/audit"
	"github.com/vcscsvcscs/regimen/internal/azure"
	"github.com/vcscsvcscs/regimen/internal/cache"
	"github.com/vcscsvcscs/regimen/internal/conflict"
	"github.com/vcscsvcscs/regimen/internal/handler"
	"github.com/vcscsvcscs/regimen/internal/middleware"
	"github.com/vcscsvcscs/regimen/internal/pdf"
	"github.com/vcscsvcscs/regimen/internal/repository"
	"github.com/vcscsvcscs/regimen/internal/schedule"
	"github.com/vcscsvcscs/regimen/internal/security"
	"github.com/vcscsvcscs/regimen/internal/service"
	"github.com/vcscsvcscs/regimen/pkg/api"
	"go.uber.org/zap"
)

const testEncryptionKey = "MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE="

type stack struct {
	router  *gin.Engine
	db      *pgxpool.Pool
	redis   *miniredis.Miniredis
	archive *azure.MockBlobStorageClient
	audit   *audit.Logger
}

// TestScheduleLifecycleIntegration drives the HTTP API against PostgreSQL,
// Redis and the report archive the way the server wires them
func TestScheduleLifecycleIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	db, cleanup := setupTestDatabase(t, ctx)
	defer cleanup()

	s := newStack(t, db)

	// Step 1: create a schedule
	t.Log("Step 1: Creating schedule")
	w := s.do(http.MethodPost, "/schedules", `{
		"medication_id": "metformin", "subject_id": "subject-1", "recurrence_type": "daily",
		"times": ["08:00"], "start_date": "2025-03-01", "timezone": "UTC"
	}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	created := decode[api.MutationResponse](t, w)
	scheduleID := created.Schedule.Id
	require.NotEmpty(t, scheduleID)

	// Step 2: a proposal ten minutes away conflicts with the stored schedule
	t.Log("Step 2: Checking conflicts")
	w = s.do(http.MethodPost, "/schedule/check-conflicts", `{"medication_id": "lisinopril", "proposed_time": "08:10", "subject_id": "subject-1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	conflicts := decode[api.CheckConflictsResponse](t, w)
	require.Len(t, conflicts.Conflicts, 1)
	assert.Equal(t, "time_proximity", conflicts.Conflicts[0].Type)
	assert.Equal(t, "metformin", conflicts.Conflicts[0].Medication2)
	assert.NotEmpty(t, conflicts.Conflicts[0].Suggestions)

	// Step 3: record a dose with notes
	t.Log("Step 3: Recording dose")
	w = s.do(http.MethodPost, "/schedules/"+scheduleID+"/doses", `{"status": "taken", "taken_at": "2025-03-01T08:05:00Z", "notes": "with breakfast"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var storedNotes string
	require.NoError(t, db.QueryRow(ctx, `SELECT notes FROM dose_logs WHERE schedule_id = $1`, scheduleID).Scan(&storedNotes))
	assert.NotEqual(t, "with breakfast", storedNotes, "notes are encrypted at rest")

	// Step 4: adherence over an elapsed window is computed and cached
	t.Log("Step 4: Computing adherence")
	adherencePath := "/subjects/subject-1/adherence?start=2025-03-01T00:00:00Z&end=2025-03-02T23:59:59Z"
	w = s.do(http.MethodGet, adherencePath, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stats := decode[api.AdherenceResponse](t, w)
	assert.Equal(t, 2, stats.Overall.Total)
	assert.Equal(t, 1, stats.Overall.Taken)
	assert.Equal(t, 50.0, stats.Overall.AdherenceRate)
	assert.NotEmpty(t, s.redis.Keys(), "elapsed windows are cached")

	// Step 5: a new dose invalidates the cached window
	t.Log("Step 5: Recording second dose")
	w = s.do(http.MethodPost, "/schedules/"+scheduleID+"/doses", `{"status": "taken", "taken_at": "2025-03-02T08:20:00Z"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Empty(t, s.redis.Keys())

	w = s.do(http.MethodGet, adherencePath, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 100.0, decode[api.AdherenceResponse](t, w).Overall.AdherenceRate)

	// Step 6: generate and archive a report
	t.Log("Step 6: Generating report")
	w = s.do(http.MethodPost, "/subjects/subject-1/adherence/report?start=2025-03-01T00:00:00Z&end=2025-03-02T23:59:59Z", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, strings.HasPrefix(w.Body.String(), "%PDF"))
	location := w.Header().Get("X-Report-Location")
	assert.Equal(t, []string{location}, s.archive.ListBlobs())
	generated := w.Body.Bytes()

	w = s.do(http.MethodGet, "/"+location, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, generated, w.Body.Bytes())

	// Step 7: retire the schedule
	t.Log("Step 7: Retiring schedule")
	w = s.do(http.MethodPost, "/schedules/"+scheduleID+"/retire", `{"expected_version": 1, "end_date": "2025-03-10"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodGet, "/schedules/"+scheduleID+"/next-dose?from=2025-03-11T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Nil(t, decode[api.NextDoseResponse](t, w).NextDose)

	// Step 8: every mutation is attributed to the caller
	t.Log("Step 8: Verifying audit trail")
	entries, err := s.audit.GetAuditLogs(ctx, scheduleID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.Equal(t, "clinician-1", e.UserID)
	}

	w = s.do(http.MethodGet, "/schedules/"+scheduleID+"/audit?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	trail := decode[api.AuditTrailResponse](t, w)
	require.Len(t, trail.Entries, len(entries))
	assert.Equal(t, "RETIRE", trail.Entries[0].Operation)
	assert.Equal(t, "clinician-1", trail.Entries[0].UserId)

	// Step 9: health reports both dependencies
	w = s.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	health := decode[api.HealthResponse](t, w)
	assert.Equal(t, "ok", health.Storage)
	assert.Equal(t, "ok", health.Cache)
}

func newStack(t *testing.T, db *pgxpool.Pool) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	mr := miniredis.RunT(t)
	redisClient := cache.NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { redisClient.Close() })
	statCache := cache.NewAdherenceCache(redisClient, 10*time.Minute, logger)

	encryptor, err := security.NewEncryptorFromBase64(testEncryptionKey)
	require.NoError(t, err)

	schedules := repository.NewScheduleRepository(db, logger)
	doseLogs := repository.NewDoseLogRepository(db, encryptor, logger)
	auditLogger := audit.NewLogger(db, logger)
	archive := azure.NewMockBlobStorageClient(logger)

	scheduleService := service.NewScheduleService(schedules, conflict.NewDetector(conflict.DefaultConfig()), schedule.NewCalculator(0), auditLogger, logger)
	adherenceService := service.NewAdherenceService(schedules, doseLogs, adherence.NewAggregator(adherence.DefaultConfig()), statCache, auditLogger, logger)
	reportService := service.NewReportService(adherenceService, pdf.NewPDFGenerator(logger), archive, auditLogger, logger)

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.ActorMiddleware())
	router.Use(middleware.NewRateLimiter(1000, 1000, logger).Middleware())
	router.Use(middleware.RequestLoggingMiddleware(logger, time.Second))
	router.Use(middleware.ErrorLoggingMiddleware(logger))

	api.RegisterHandlers(router, handler.NewServer(
		handler.NewHealthHandler(db, statCache, logger),
		handler.NewScheduleHandler(scheduleService, logger),
		handler.NewAdherenceHandler(adherenceService, logger),
		handler.NewReportHandler(reportService, logger),
	))

	return &stack{router: router, db: db, redis: mr, archive: archive, audit: auditLogger}
}

func (s *stack) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.UserIDHeader, "clinician-1")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// setupTestDatabase connects to TEST_DATABASE_URL, or starts a PostgreSQL
// container when it is unset, and applies the schema
func setupTestDatabase(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	terminate := func() {}

	if dbURL == "" {
		container, err := postgres.Run(ctx,
			"postgres:15-alpine",
			postgres.WithDatabase("regimen_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		require.NoError(t, err)
		terminate = func() {
			if err := container.Terminate(ctx); err != nil {
				t.Logf("failed to terminate container: %s", err)
			}
		}

		dbURL, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	config, err := pgxpool.ParseConfig(dbURL)
	require.NoError(t, err, "Should be able to parse database URL")

	db, err := pgxpool.NewWithConfig(ctx, config)
	require.NoError(t, err, "Should be able to connect to database")
	require.NoError(t, db.Ping(ctx), "Should be able to ping database")

	require.NoError(t, repository.Migrate(ctx, db, zap.NewNop()), "Should be able to apply migrations")

	cleanup := func() {
		db.Close()
		terminate()
	}
	return db, cleanup
}
