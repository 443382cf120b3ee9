package models

import "time"

// IdempotencyKey remembers which report a technician's create request produced, so a retried
// create returns the same draft instead of a second one.
// Unique constraint: (technician_id, idempotency_key).
type IdempotencyKey struct {
	ID           int       `gorm:"primary_key" json:"id"`
	TechnicianId string    `gorm:"size:64;not null;index:uniq_idem,unique" json:"technician_id"`
	Key          string    `gorm:"column:idempotency_key;size:255;not null;index:uniq_idem,unique" json:"idempotency_key"`
	ReportID     string    `gorm:"size:36;not null" json:"report_id"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}
