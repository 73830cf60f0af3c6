// Package db persists terminal ExecutionResults for historical reporting,
// using the same connect-migrate-insert shape as a periodic portfolio
// snapshot recorder, but modeling one row per attempted opportunity instead
// of a periodic snapshot.
package db

import (
	"fmt"
	"math/big"
	"time"

	"github.com/duneflow/arbengine"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ExecutionRecord is the database model for a terminal arbengine.ExecutionResult.
type ExecutionRecord struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	OpportunityID   string    `gorm:"index;not null"`
	Success         bool      `gorm:"not null"`
	TransactionHash string    `gorm:"type:varchar(80)"`
	ActualProfit    string    `gorm:"type:varchar(78)"`
	GasUsed         uint64
	GasCost         string    `gorm:"type:varchar(78)"`
	ErrorCode       string    `gorm:"type:varchar(64)"`
	ErrorMessage    string    `gorm:"type:varchar(512)"`
	Chain           string    `gorm:"index;type:varchar(64)"`
	Dex             string    `gorm:"type:varchar(64)"`
	OccurredAt      time.Time `gorm:"index;not null"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (ExecutionRecord) TableName() string {
	return "execution_results"
}

// Recorder persists ExecutionResults. Implemented by MySQLRecorder; kept as
// an interface so the orchestrator can depend on it without importing GORM.
type Recorder interface {
	RecordResult(result *arbengine.ExecutionResult) error
	Close() error
}

// MySQLRecorder implements Recorder using GORM and MySQL.
type MySQLRecorder struct {
	db *gorm.DB
}

// NewMySQLRecorder opens a connection and migrates the schema.
// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func NewMySQLRecorder(dsn string) (*MySQLRecorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	return NewMySQLRecorderWithDB(db)
}

// NewMySQLRecorderWithDB wraps an existing GORM DB instance, migrating the schema.
func NewMySQLRecorderWithDB(db *gorm.DB) (*MySQLRecorder, error) {
	if err := db.AutoMigrate(&ExecutionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &MySQLRecorder{db: db}, nil
}

// RecordResult persists a terminal ExecutionResult.
func (r *MySQLRecorder) RecordResult(result *arbengine.ExecutionResult) error {
	record := ExecutionRecord{
		OpportunityID:   result.OpportunityID,
		Success:         result.Success,
		TransactionHash: result.TransactionHash,
		ActualProfit:    bigIntToString(result.ActualProfit),
		GasUsed:         result.GasUsed,
		GasCost:         bigIntToString(result.GasCost),
		Chain:           result.Chain,
		Dex:             result.Dex,
		OccurredAt:      time.UnixMilli(result.TimestampMs),
	}
	if result.Error != nil {
		record.ErrorCode = result.Error.Code
		record.ErrorMessage = result.Error.Message
	}

	if err := r.db.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to record execution result: %w", err)
	}
	return nil
}

// GetDB returns the underlying GORM DB instance for advanced queries.
func (r *MySQLRecorder) GetDB() *gorm.DB {
	return r.db
}

// Close closes the database connection.
func (r *MySQLRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}

// bigIntToString safely converts *big.Int to string, handling nil values.
func bigIntToString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

// GetResultsByOpportunity retrieves every recorded attempt for one opportunity.
func (r *MySQLRecorder) GetResultsByOpportunity(opportunityID string) ([]ExecutionRecord, error) {
	var records []ExecutionRecord
	if err := r.db.Where("opportunity_id = ?", opportunityID).Order("occurred_at ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get results by opportunity: %w", err)
	}
	return records, nil
}

// GetResultsByTimeRange retrieves results within a time range.
func (r *MySQLRecorder) GetResultsByTimeRange(start, end time.Time) ([]ExecutionRecord, error) {
	var records []ExecutionRecord
	if err := r.db.Where("occurred_at BETWEEN ? AND ?", start, end).Order("occurred_at ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get results by time range: %w", err)
	}
	return records, nil
}

// CountSuccesses returns the total number of successful executions recorded.
func (r *MySQLRecorder) CountSuccesses() (int64, error) {
	var count int64
	if err := r.db.Model(&ExecutionRecord{}).Where("success = ?", true).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count successes: %w", err)
	}
	return count, nil
}
