package syncer

import (
	"context"
	"time"

	"marketsync/models"
	"marketsync/store"
)

// StatusNever marks a data type with no ledger entry
const StatusNever = "NEVER"

// TypeStatus is the latest ledger view of one data type
type TypeStatus struct {
	DataType     string     `json:"data_type"`
	Status       string     `json:"status"`
	LastUpdate   *time.Time `json:"last_update,omitempty"`
	RecordsCount int        `json:"records_count"`
	Error        string     `json:"error,omitempty"`
}

// Status combines ledger state with store row counts. Reporting only.
type Status struct {
	Success bool         `json:"success"`
	Types   []TypeStatus `json:"types"`
	Counts  store.Counts `json:"counts"`
	Error   string       `json:"error,omitempty"`
}

// Type returns the status of dataType, NEVER when it is unknown
func (s Status) Type(dataType string) TypeStatus {
	for _, t := range s.Types {
		if t.DataType == dataType {
			return t
		}
	}
	return TypeStatus{DataType: dataType, Status: StatusNever}
}

// GetSyncStatus reads the latest ledger entry of every data type and the
// store's row counts.
func (o *Orchestrator) GetSyncStatus(ctx context.Context) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			status.Success = false
			status.Error = "status unavailable"
		}
	}()

	status.Success = true
	for _, dataType := range models.DataTypes {
		ts := TypeStatus{DataType: dataType, Status: StatusNever}

		entry, err := o.ledger.Latest(ctx, dataType)
		switch {
		case err != nil:
			status.Success = false
			status.Error = err.Error()
		case entry != nil:
			ts.Status = entry.Status
			ts.RecordsCount = entry.RecordsCount
			ts.Error = entry.ErrorMessage
			last := entry.StartTime
			if entry.EndTime != nil {
				last = *entry.EndTime
			}
			ts.LastUpdate = &last
		}
		status.Types = append(status.Types, ts)
	}

	counts, err := o.store.Counts(ctx)
	if err != nil {
		status.Success = false
		status.Error = err.Error()
		return status
	}
	status.Counts = counts
	return status
}
