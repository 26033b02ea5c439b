package timeentries

import (
	"io"
	"math"
	"time"

	"gorm.io/datatypes"
)

// TimeEntry is the durable record of completed labor on a job.
// ComponentID is nil for pure clock-in/out entries.
type TimeEntry struct {
	ID            uint                        `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	JobID         string                      `gorm:"column:job_id;size:190;not null;index:idx_time_entries_job_component,priority:1" json:"job_id"`
	ComponentID   *string                     `gorm:"column:component_id;size:190;index:idx_time_entries_job_component,priority:2" json:"component_id"`
	ComponentName string                      `gorm:"column:component_name;size:512" json:"component_name"`
	UserID        string                      `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	StartTime     time.Time                   `gorm:"column:start_time;not null" json:"start_time"`
	EndTime       time.Time                   `gorm:"column:end_time;not null" json:"end_time"`
	TotalHours    float64                     `gorm:"column:total_hours;not null" json:"total_hours"`
	CrewCount     int                         `gorm:"column:crew_count;not null" json:"crew_count"`
	IsManual      bool                        `gorm:"column:is_manual;not null;default:false" json:"is_manual"`
	IsActive      bool                        `gorm:"column:is_active;not null;default:false" json:"is_active"`
	Notes         string                      `gorm:"column:notes;type:text;not null;default:''" json:"notes"`
	WorkerNames   datatypes.JSONSlice[string] `gorm:"column:worker_names" json:"worker_names"`
	CreatedAt     time.Time                   `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (TimeEntry) TableName() string {
	return "time_entries"
}

// Photo is an image attached to a time entry.
type Photo struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TimeEntryID uint      `gorm:"column:time_entry_id;not null;index" json:"time_entry_id"`
	ComponentID *string   `gorm:"column:component_id;size:190" json:"component_id"`
	JobID       string    `gorm:"column:job_id;size:190;not null;index" json:"job_id"`
	PhotoURL    string    `gorm:"column:photo_url;size:1024;not null" json:"photo_url"`
	PhotoDate   string    `gorm:"column:photo_date;size:10;not null" json:"photo_date"`
	UploadedBy  string    `gorm:"column:uploaded_by;size:190;not null" json:"uploaded_by"`
	Caption     string    `gorm:"column:caption;type:text" json:"caption"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Photo) TableName() string {
	return "photos"
}

// PhotoUpload is one attached image awaiting upload.
type PhotoUpload struct {
	Filename string
	Body     io.Reader
}

// Totals are the job aggregates refreshed after every saved entry.
type Totals struct {
	ComponentHours float64 `json:"component_hours"`
	ClockInHours   float64 `json:"clock_in_hours"`
}

// SaveResult describes a persisted entry and the outcome of its follow-up steps.
type SaveResult struct {
	Entry        TimeEntry
	PhotosStored int
	Warnings     []string
	Totals       Totals
}

// RoundToQuarterHour rounds hours to the nearest 0.25.
func RoundToQuarterHour(hours float64) float64 {
	return math.Round(hours*4) / 4
}

// HoursFromMilliseconds converts elapsed milliseconds to quarter-hour rounded hours.
func HoursFromMilliseconds(elapsedMs int64) float64 {
	return RoundToQuarterHour(float64(elapsedMs) / float64(time.Hour/time.Millisecond))
}
