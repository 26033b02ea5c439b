package notifications

import (
	"time"

	"gorm.io/datatypes"
)

// TypeTimeEntry tags notifications about newly logged labor.
const TypeTimeEntry = "time_entry"

// Notification is one entry in a job's activity feed.
type Notification struct {
	ID            uint              `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	JobID         string            `gorm:"column:job_id;size:190;not null;index:idx_notifications_job_time,priority:1" json:"job_id"`
	CreatedBy     string            `gorm:"column:created_by;size:190;not null" json:"created_by"`
	Type          string            `gorm:"column:type;size:64;not null" json:"type"`
	Brief         string            `gorm:"column:brief;type:text;not null" json:"brief"`
	ReferenceID   *uint             `gorm:"column:reference_id" json:"reference_id,omitempty"`
	ReferenceData datatypes.JSONMap `gorm:"column:reference_data" json:"reference_data"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime;index:idx_notifications_job_time,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// Request is the input of CreateNotification.
type Request struct {
	JobID         string
	CreatedBy     string
	Type          string
	Brief         string
	ReferenceID   *uint
	ReferenceData map[string]any
}
