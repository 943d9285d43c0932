package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/doc-kpis/internal/daterange"
	"github.com/example/doc-kpis/internal/metrics"
	"github.com/example/doc-kpis/internal/repository"
	"github.com/example/doc-kpis/internal/usecase"
)

func testClock() time.Time {
	return time.Date(2024, time.March, 15, 9, 30, 0, 0, time.Local)
}

type stubService struct {
	result   *usecase.KPIResult
	err      error
	calls    int
	interval daterange.Interval
}

func (s *stubService) GetKPIs(ctx context.Context, interval daterange.Interval) (*usecase.KPIResult, error) {
	s.calls++
	s.interval = interval
	return s.result, s.err
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newRouter(deps Dependencies) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if deps.Resolver == nil {
		deps.Resolver = daterange.NewResolverWithClock(testClock)
	}
	router := gin.New()
	router.Use(RequestContext(deps.Logger))
	RegisterRoutes(router, deps)
	return router
}

func get(t *testing.T, router *gin.Engine, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))

	var body envelope
	if strings.HasPrefix(resp.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
			t.Fatalf("failed to decode body %q: %v", resp.Body.String(), err)
		}
	}
	return resp, body
}

func TestKPIsRejectsInvalidParametersBeforeQuerying(t *testing.T) {
	cases := map[string]string{
		"/kpis?from=bad-date&to=2024-01-05":   "Invalid date format for 'from'",
		"/kpis?from=2024-01-05":               "Missing 'to' date parameter",
		"/kpis?to=2024-01-05":                 "Missing 'from' date parameter",
		"/kpis?from=2024-01-10&to=2024-01-05": "'from' date must not be after 'to' date",
	}
	for target, wantMessage := range cases {
		svc := &stubService{}
		resp, body := get(t, newRouter(Dependencies{Service: svc}), target)

		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status %d, got %d", target, http.StatusBadRequest, resp.Code)
		}
		if body.Status != "error" || !strings.Contains(body.Message, wantMessage) {
			t.Fatalf("%s: unexpected body %+v", target, body)
		}
		if svc.calls != 0 {
			t.Fatalf("%s: service must not be called on validation failure", target)
		}
	}
}

func TestKPIsDefaultsToToday(t *testing.T) {
	svc := &stubService{result: &usecase.KPIResult{FilesProcessed: 1, AvgProcessingTime: "0 seconds", DateRange: "2024-03-15 to 2024-03-15"}}
	resp, body := get(t, newRouter(Dependencies{Service: svc}), "/kpis")

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if body.Status != "success" || body.Message != MessageSuccess {
		t.Fatalf("unexpected envelope: %+v", body)
	}
	if svc.interval.String() != "2024-03-15 to 2024-03-15" {
		t.Fatalf("unexpected interval: %s", svc.interval)
	}
}

func TestKPIsMapsServiceErrors(t *testing.T) {
	resp, body := get(t, newRouter(Dependencies{Service: &stubService{err: usecase.ErrNoRecords}}), "/kpis?filter=yesterday")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
	if body.Message != MessageNotFound || string(body.Data) != "{}" {
		t.Fatalf("unexpected not found body: %s", resp.Body.String())
	}

	resp, body = get(t, newRouter(Dependencies{Service: &stubService{err: errors.New("pq: password authentication failed")}}), "/kpis")
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, resp.Code)
	}
	if body.Message != MessageInternal || strings.Contains(resp.Body.String(), "pq:") {
		t.Fatalf("internal details leaked: %s", resp.Body.String())
	}
}

func TestKPIsSetsRequestID(t *testing.T) {
	svc := &stubService{err: usecase.ErrNoRecords}
	router := newRouter(Dependencies{Service: svc})

	resp, _ := get(t, router, "/kpis")
	if resp.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected generated request id header")
	}

	req := httptest.NewRequest(http.MethodGet, "/kpis", nil)
	req.Header.Set(RequestIDHeader, "5f0f3a5e-1a47-4c41-9b39-6f0f9b0b2d11")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "5f0f3a5e-1a47-4c41-9b39-6f0f9b0b2d11" {
		t.Fatalf("expected caller request id to be kept, got %s", got)
	}
}

func TestReadiness(t *testing.T) {
	resp, _ := get(t, newRouter(Dependencies{Service: &stubService{}, Store: stubPinger{}}), "/ready")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}

	resp, _ = get(t, newRouter(Dependencies{Service: &stubService{}, Store: stubPinger{err: errors.New("down")}}), "/ready")
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, resp.Code)
	}
}

func TestKPIMiddlewareGuardsOnlyKPIs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }
	RegisterRoutes(router, Dependencies{Service: &stubService{}, Resolver: daterange.NewResolverWithClock(testClock)}, deny)

	resp, _ := get(t, router, "/kpis")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
	resp, _ = get(t, router, "/health")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}

// End-to-end: real use case and repository over a mocked store.

func newStoreRouter(t *testing.T, logger *zap.Logger) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}

	repo := repository.NewFileMetadataRepository(db)
	router := newRouter(Dependencies{
		Service: usecase.NewKPIUseCase(repo, logger),
		Store:   repo,
		Metrics: metrics.NewHTTPMetrics("test"),
		Logger:  logger,
	})
	return router, mock
}

var (
	filesQuery = regexp.MustCompile(`SELECT COUNT\(\*\) FROM file_metadata WHERE is_doc_processed = 'y'`)
	pagesQuery = regexp.MustCompile(`SELECT SUM\(texteract_pages\) FROM file_metadata`)
	avgQuery   = regexp.MustCompile(`SELECT AVG\(EXTRACT\(EPOCH FROM \(process_end_time - process_start_time\)\)\) FROM file_metadata WHERE DATE\(process_end_time\)`)
)

func TestEndToEndTodayReport(t *testing.T) {
	router, mock := newStoreRouter(t, zap.NewNop())

	mock.ExpectQuery(filesQuery.String()).
		WithArgs("2024-03-15", "2024-03-15").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(pagesQuery.String()).
		WithArgs("2024-03-15", "2024-03-15").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(30))
	mock.ExpectQuery(avgQuery.String()).
		WithArgs("2024-03-15", "2024-03-15").
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(90.0))

	resp, body := get(t, router, "/kpis?filter=today")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	if body.Status != "success" {
		t.Fatalf("unexpected status: %s", body.Status)
	}

	var data usecase.KPIResult
	if err := json.Unmarshal(body.Data, &data); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
	want := usecase.KPIResult{FilesProcessed: 3, TexteractPages: 30, AvgProcessingTime: "1 mins", DateRange: "2024-03-15 to 2024-03-15"}
	if data != want {
		t.Fatalf("expected %+v, got %+v", want, data)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEndToEndFutureRangeIsNotFound(t *testing.T) {
	router, mock := newStoreRouter(t, zap.NewNop())

	mock.ExpectQuery(filesQuery.String()).
		WithArgs("2099-01-01", "2099-01-02").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(pagesQuery.String()).
		WithArgs("2099-01-01", "2099-01-02").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(nil))
	mock.ExpectQuery(avgQuery.String()).
		WithArgs("2099-01-01", "2099-01-02").
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(nil))

	resp, body := get(t, router, "/kpis?from=2099-01-01&to=2099-01-02")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d: %s", http.StatusNotFound, resp.Code, resp.Body.String())
	}
	if body.Message != MessageNotFound {
		t.Fatalf("unexpected message: %s", body.Message)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEndToEndStoreFailureIsLoggedWithQuery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	router, mock := newStoreRouter(t, zap.New(core))

	mock.ExpectQuery(filesQuery.String()).
		WillReturnError(errors.New("driver: bad connection"))

	resp, body := get(t, router, "/kpis?filter=last_week")
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, resp.Code)
	}
	if body.Message != MessageInternal {
		t.Fatalf("unexpected message: %s", body.Message)
	}
	if strings.Contains(resp.Body.String(), "bad connection") || strings.Contains(resp.Body.String(), "SELECT") {
		t.Fatalf("response leaked internals: %s", resp.Body.String())
	}

	entries := logs.FilterMessage("kpi aggregation failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 aggregation failure entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["query"] != repository.FilesProcessedQuery {
		t.Fatalf("expected failing query in log entry, got %v", fields["query"])
	}
	if fields["request_id"] != resp.Header().Get(RequestIDHeader) {
		t.Fatalf("expected request id %s on log entry, got %v", resp.Header().Get(RequestIDHeader), fields["request_id"])
	}
}
