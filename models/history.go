package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/utils"
	"gorm.io/gorm"
)

// History is the audit trail of a report: one row per persisted mutation.
type History struct {
	ID             int           `gorm:"primary_key" json:"id"`
	ReportID       string        `gorm:"size:36;index;not null" json:"report_id"`
	ActionType     HistoryAction `gorm:"size:10;not null" json:"action_type"`
	Before         string        `gorm:"type:text" json:"before"`
	After          string        `gorm:"type:text" json:"after"`
	Description    string        `gorm:"type:text;not null" json:"description"`
	TechnicianId   string        `gorm:"size:64;index" json:"technician_id"`
	TechnicianName string        `gorm:"size:100" json:"technician_name"`
	CreatedAt      time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

func newHistory(ctx context.Context, reportId string, actionType HistoryAction, before interface{}, after interface{}, description string) *History {
	history := History{
		ReportID:    reportId,
		ActionType:  actionType,
		Description: description,
	}
	if before != nil {
		b, _ := json.Marshal(before)
		history.Before = string(b)
	}
	if after != nil {
		a, _ := json.Marshal(after)
		history.After = string(a)
	}
	history.TechnicianId, _ = utils.GetTechnicianIdFromContext(ctx)
	history.TechnicianName, _ = utils.GetTechnicianNameFromContext(ctx)
	return &history
}

func createHistory(tx *gorm.DB, history *History) error {
	return tx.Create(history).Error
}

// ListHistory returns a report's audit trail, oldest first.
func ListHistory(ctx context.Context, db *gorm.DB, reportId string) ([]*History, error) {
	var rows []*History
	err := db.WithContext(ctx).Where("report_id = ?", reportId).Order("id ASC").Find(&rows).Error
	return rows, err
}
