package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcscsvcscs/regimen/internal/audit"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// All incoming requests are logged with method, path, user ID, and timestamp
func TestProperty_RequestLogging(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("all requests are logged with required fields", prop.ForAll(
		func(method string, path string, userID string) bool {
			// Create observed logger
			core, logs := observer.New(zapcore.InfoLevel)
			logger := zap.New(core)

			// Create test router
			gin.SetMode(gin.TestMode)
			router := gin.New()
			router.Use(RequestLoggingMiddleware(logger, 0))

			// Add test route
			router.Use(ActorMiddleware())
			router.Handle(method, path, func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			// Create test request
			req := httptest.NewRequest(method, path, nil)
			if userID != "" {
				req.Header.Set(UserIDHeader, userID)
			}
			w := httptest.NewRecorder()

			// Execute request
			router.ServeHTTP(w, req)

			// Verify log entry was created
			logEntries := logs.All()
			if len(logEntries) == 0 {
				t.Logf("No log entries found")
				return false
			}

			// Find the request log entry
			var requestLog *observer.LoggedEntry
			for i := range logEntries {
				if logEntries[i].Message == "Request completed" {
					requestLog = &logEntries[i]
					break
				}
			}

			if requestLog == nil {
				t.Logf("Request log entry not found")
				return false
			}

			// Verify required fields
			fields := requestLog.ContextMap()

			if fields["method"] != method {
				t.Logf("Method mismatch: expected %s, got %v", method, fields["method"])
				return false
			}

			if fields["path"] != path {
				t.Logf("Path mismatch: expected %s, got %v", path, fields["path"])
				return false
			}

			// User ID is the forwarded caller, or "anonymous"
			wantUser := userID
			if wantUser == "" {
				wantUser = "anonymous"
			}
			if fields["user_id"] != wantUser {
				t.Logf("user_id mismatch: expected %s, got %v", wantUser, fields["user_id"])
				return false
			}

			// Timestamp should be present
			if _, ok := fields["timestamp"]; !ok {
				t.Logf("timestamp field missing")
				return false
			}

			// Duration should be present
			if _, ok := fields["duration"]; !ok {
				t.Logf("duration field missing")
				return false
			}

			// Status should be present
			if _, ok := fields["status"]; !ok {
				t.Logf("status field missing")
				return false
			}

			return true
		},
		gen.OneConstOf("GET", "POST", "PUT", "DELETE"),
		gen.OneConstOf("/schedules", "/health", "/schedule/check-conflicts"),
		gen.AlphaString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Errors attached to the context are logged with stack traces and request context
func TestProperty_ErrorLoggingDetail(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("errors are logged with stack traces and context", prop.ForAll(
		func(errorMessage string, path string) bool {
			// Create observed logger
			core, logs := observer.New(zapcore.ErrorLevel)
			logger := zap.New(core)

			// Create test router
			gin.SetMode(gin.TestMode)
			router := gin.New()
			router.Use(ErrorLoggingMiddleware(logger))

			// Add test route that generates an error
			router.GET(path, func(c *gin.Context) {
				c.Error(gin.Error{
					Err:  &testError{msg: errorMessage},
					Type: gin.ErrorTypePrivate,
				})
				c.Status(http.StatusInternalServerError)
			})

			// Create test request
			req := httptest.NewRequest("GET", path, nil)
			w := httptest.NewRecorder()

			// Execute request
			router.ServeHTTP(w, req)

			// Verify error log entry was created
			logEntries := logs.All()
			if len(logEntries) == 0 {
				t.Logf("No error log entries found")
				return false
			}

			// Find the error log entry
			var errorLog *observer.LoggedEntry
			for i := range logEntries {
				if logEntries[i].Message == "Request error occurred" {
					errorLog = &logEntries[i]
					break
				}
			}

			if errorLog == nil {
				t.Logf("Error log entry not found")
				return false
			}

			// Verify required fields
			fields := errorLog.ContextMap()

			// Error should be present
			if _, ok := fields["error"]; !ok {
				t.Logf("error field missing")
				return false
			}

			// Method should be present
			if fields["method"] != "GET" {
				t.Logf("method field missing or incorrect")
				return false
			}

			// Path should be present
			if fields["path"] != path {
				t.Logf("path field missing or incorrect")
				return false
			}

			// Stack trace should be present
			if _, ok := fields["stack_trace"]; !ok {
				t.Logf("stack_trace field missing")
				return false
			}

			return true
		},
		gen.AlphaString(),
		gen.OneConstOf("/schedules/s1", "/schedule/adjust", "/subjects/p1/adherence"),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Helper types

type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}

func TestRecoveryMiddleware_AnswersInternalError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware(), RecoveryMiddleware(zap.New(core)))
	router.GET("/boom", func(c *gin.Context) {
		panic("tz database missing")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	require.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
	assert.NotEmpty(t, logs.All()[0].ContextMap()["request_id"])
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(requestIDKey))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	generated := w.Header().Get("X-Request-ID")
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "upstream-42")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "upstream-42", w.Header().Get("X-Request-ID"))
}

func TestActorMiddleware_PropagatesToContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ActorMiddleware())

	var got audit.Actor
	router.POST("/schedules", func(c *gin.Context) {
		got = audit.ActorFrom(c.Request.Context())
		c.Status(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/schedules", nil)
	req.Header.Set(UserIDHeader, "nurse-7")
	req.Header.Set("User-Agent", "schedctl/1.0")
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "nurse-7", got.UserID)
	assert.Equal(t, "schedctl/1.0", got.UserAgent)
	assert.NotEmpty(t, got.IPAddress)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/schedules", nil))
	assert.Equal(t, "anonymous", got.UserID)
}

func TestRequestLoggingMiddleware_WarnsOnSlowRequest(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLoggingMiddleware(zap.New(core), 5*time.Millisecond))
	router.GET("/slow", func(c *gin.Context) {
		time.Sleep(20 * time.Millisecond)
		c.Status(http.StatusOK)
	})
	router.GET("/fast", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fast", nil))

	slow := logs.FilterMessage("Slow request").All()
	require.Len(t, slow, 1)
	assert.Equal(t, "/slow", slow[0].ContextMap()["route"])
	assert.Equal(t, 2, logs.FilterMessage("Request completed").Len())
}

func TestRequestLoggingMiddleware_LevelsByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLoggingMiddleware(zap.New(core), 0))
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/broken", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/broken", nil))

	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}
