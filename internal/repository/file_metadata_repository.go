package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/example/doc-kpis/internal/logging"
)

// FileMetadata represents a document that went through the processing pipeline.
type FileMetadata struct {
	ID               uint       `gorm:"primaryKey"`
	IsDocProcessed   string     `gorm:"column:is_doc_processed;size:1;default:n"`
	TimeStamp        time.Time  `gorm:"column:time_stamp;index"`
	TexteractPages   *int64     `gorm:"column:texteract_pages"`
	ProcessStartTime *time.Time `gorm:"column:process_start_time"`
	ProcessEndTime   *time.Time `gorm:"column:process_end_time;index"`
}

// TableName overrides the default table name.
func (FileMetadata) TableName() string {
	return "file_metadata"
}

// Aggregate queries. Placeholders are rebound by the gorm dialector.
const (
	FilesProcessedQuery = `SELECT COUNT(*) FROM file_metadata WHERE is_doc_processed = 'y' AND DATE(time_stamp) BETWEEN ? AND ?`

	TexteractPagesQuery = `SELECT SUM(texteract_pages) FROM file_metadata WHERE DATE(time_stamp) BETWEEN ? AND ? AND texteract_pages IS NOT NULL`

	AvgProcessingSecondsQuery = `SELECT AVG(EXTRACT(EPOCH FROM (process_end_time - process_start_time))) FROM file_metadata WHERE DATE(process_end_time) BETWEEN ? AND ?`
)

// KPIAggregation holds the raw results of the three aggregate queries.
// Queries matching no rows report zero.
type KPIAggregation struct {
	FilesProcessed       int64
	TexteractPages       int64
	AvgProcessingSeconds float64
}

// FileMetadataRepository runs the KPI aggregates against file_metadata.
type FileMetadataRepository struct {
	db *gorm.DB
}

// NewFileMetadataRepository creates a new repository instance.
func NewFileMetadataRepository(db *gorm.DB) *FileMetadataRepository {
	return &FileMetadataRepository{db: db}
}

// AutoMigrate ensures the schema is available. Only used for local setups.
func (r *FileMetadataRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&FileMetadata{})
}

// Ping checks that a connection to the store can be established.
func (r *FileMetadataRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AggregateKPIs runs the three aggregates for dates in [start, end] on a
// single connection that is released before returning. Dates are YYYY-MM-DD.
// Failures come back as *logging.OperationError carrying the failing query.
func (r *FileMetadataRepository) AggregateKPIs(ctx context.Context, start, end string) (*KPIAggregation, error) {
	requestID := logging.RequestID(ctx)
	agg := &KPIAggregation{}

	err := r.db.WithContext(ctx).Connection(func(tx *gorm.DB) error {
		var files sql.NullInt64
		if err := scanValue(tx, FilesProcessedQuery, &files, start, end); err != nil {
			return logging.NewQueryError("repository.files_processed", requestID, FilesProcessedQuery, err)
		}

		var pages sql.NullInt64
		if err := scanValue(tx, TexteractPagesQuery, &pages, start, end); err != nil {
			return logging.NewQueryError("repository.texteract_pages", requestID, TexteractPagesQuery, err)
		}

		var avg sql.NullFloat64
		if err := scanValue(tx, AvgProcessingSecondsQuery, &avg, start, end); err != nil {
			return logging.NewQueryError("repository.avg_processing_seconds", requestID, AvgProcessingSecondsQuery, err)
		}

		agg.FilesProcessed = files.Int64
		agg.TexteractPages = pages.Int64
		agg.AvgProcessingSeconds = avg.Float64
		return nil
	})
	if err != nil {
		var opErr *logging.OperationError
		if !errors.As(err, &opErr) {
			err = logging.NewOperationError("repository.acquire_connection", requestID, err)
		}
		return nil, err
	}
	return agg, nil
}

// scanValue runs a single-value query on a fresh session bound to tx's connection.
func scanValue(tx *gorm.DB, query string, dest any, args ...any) error {
	stmt := tx.Session(&gorm.Session{}).Raw(query, args...)
	row := stmt.Row()
	if stmt.Error != nil {
		return stmt.Error
	}
	if row == nil {
		return errors.New("query returned no row handle")
	}
	if err := row.Scan(dest); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return nil
}
