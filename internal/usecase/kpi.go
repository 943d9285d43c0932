package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/doc-kpis/internal/daterange"
	"github.com/example/doc-kpis/internal/logging"
	"github.com/example/doc-kpis/internal/repository"
)

var (
	// ErrNoRecords is returned when the interval has no activity at all.
	ErrNoRecords = errors.New("no records found for the selected date range")
	// ErrInternal replaces store failures once they have been logged.
	ErrInternal = errors.New("kpi aggregation failed")
)

// KPIRepository defines the persistence operations needed by the use case.
type KPIRepository interface {
	AggregateKPIs(ctx context.Context, start, end string) (*repository.KPIAggregation, error)
}

// KPIResult is the formatted KPI payload returned to clients.
type KPIResult struct {
	FilesProcessed    int64  `json:"files_processed"`
	TexteractPages    int64  `json:"texteract_pages"`
	AvgProcessingTime string `json:"avg_processing_time"`
	DateRange         string `json:"date_range"`
}

// KPIUseCase aggregates document processing KPIs over a date interval.
type KPIUseCase struct {
	repo   KPIRepository
	logger *zap.Logger
}

// NewKPIUseCase constructs a new use case instance.
func NewKPIUseCase(repo KPIRepository, logger *zap.Logger) *KPIUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KPIUseCase{
		repo:   repo,
		logger: logger.Named("kpi_usecase"),
	}
}

// GetKPIs runs the aggregates for interval and formats them. It returns
// ErrNoRecords when every metric is zero and ErrInternal on store failures.
func (uc *KPIUseCase) GetKPIs(ctx context.Context, interval daterange.Interval) (*KPIResult, error) {
	opLogger := logging.WithOperation(logging.FromContext(ctx, uc.logger), "usecase.get_kpis", "")

	agg, err := uc.repo.AggregateKPIs(ctx, interval.StartDate(), interval.EndDate())
	if err != nil {
		fields := []zap.Field{zap.Error(err), zap.String("date_range", interval.String())}
		var opErr *logging.OperationError
		if errors.As(err, &opErr) && opErr.Query != "" {
			fields = append(fields, zap.String("query", opErr.Query))
		}
		opLogger.Error("kpi aggregation failed", fields...)
		return nil, ErrInternal
	}

	if agg.FilesProcessed == 0 && agg.TexteractPages == 0 && agg.AvgProcessingSeconds == 0 {
		opLogger.Debug("no records for interval", zap.String("date_range", interval.String()))
		return nil, ErrNoRecords
	}

	return &KPIResult{
		FilesProcessed:    agg.FilesProcessed,
		TexteractPages:    agg.TexteractPages,
		AvgProcessingTime: FormatDuration(agg.AvgProcessingSeconds),
		DateRange:         interval.String(),
	}, nil
}

// FormatDuration renders an average in seconds as "<n> seconds" below one
// minute and "<n> mins" otherwise. Sub-second and sub-minute parts are dropped.
func FormatDuration(seconds float64) string {
	if seconds == 0 {
		return "0 seconds"
	}
	n := int64(seconds)
	if n < 60 {
		return fmt.Sprintf("%d seconds", n)
	}
	return fmt.Sprintf("%d mins", n/60)
}
