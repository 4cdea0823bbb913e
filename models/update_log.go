package models

import "time"

// Ledger data types
const (
	DataTypeStockInfo           = "stock_info"
	DataTypeDailyData           = "daily_data"
	DataTypeTechnicalIndicators = "technical_indicators"
)

// DataTypes lists every ledger data type in reporting order
var DataTypes = []string{
	DataTypeStockInfo,
	DataTypeDailyData,
	DataTypeTechnicalIndicators,
}

// Ledger statuses
const (
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// DataUpdateLog brackets one synchronization unit. Created RUNNING, then
// moved to SUCCESS or FAILED when the unit completes.
type DataUpdateLog struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	DataType     string     `gorm:"index;not null;size:32" json:"data_type"`
	StartTime    time.Time  `gorm:"not null" json:"start_time"`
	EndTime      *time.Time `json:"end_time"`
	Status       string     `gorm:"not null;size:16" json:"status"`
	RecordsCount int        `json:"records_count"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
}

// Duration returns how long the unit ran, zero while still RUNNING
func (l *DataUpdateLog) Duration() time.Duration {
	if l.EndTime == nil {
		return 0
	}
	return l.EndTime.Sub(l.StartTime)
}
