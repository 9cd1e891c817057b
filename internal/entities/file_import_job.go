package entities

import (
	"encoding/json"
	"time"
)

// NoCheckpoint is the blank checkpoint sentinel.
const NoCheckpoint = ""

// MaxRecentErrors bounds the distinct error messages kept per file.
const MaxRecentErrors = 10

type FileImportJob struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	ImportJobID      string     `gorm:"index;size:36" json:"import_job_id"` // "includes" relation
	FileName         string     `gorm:"size:1024" json:"file_name"`         // blob key
	LocalPath        string     `gorm:"size:2048" json:"-"`
	ApplicationName  string     `gorm:"size:512" json:"application_name"`
	Completed        bool       `json:"completed"`
	LastCheckpointID string     `gorm:"size:64" json:"last_checkpoint_id,omitempty"`
	State            JobState   `gorm:"index;size:20" json:"state"`
	ErrorMessage     string     `gorm:"type:text" json:"error_message,omitempty"`
	ErrorCount       int64      `json:"error_count"`
	RecentErrors     string     `gorm:"type:text" json:"-"` // JSON array of distinct messages
	EntitiesWritten  int64      `json:"entities_written"`
	EventsWritten    int64      `json:"events_written"`
	Attempts         int        `json:"attempts"`
	Version          int64      `gorm:"not null;default:0" json:"-"`
	HeartbeatAt      *time.Time `gorm:"index" json:"heartbeat_at,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (FileImportJob) TableName() string {
	return "file_import_jobs"
}

// HasCheckpoint reports whether a resume position was recorded.
func (f *FileImportJob) HasCheckpoint() bool {
	return f.LastCheckpointID != NoCheckpoint
}

// GetRecentErrors decodes the bounded list of distinct error messages.
func (f *FileImportJob) GetRecentErrors() []string {
	if f.RecentErrors == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(f.RecentErrors), &out); err != nil {
		return nil
	}
	return out
}

// RecordErrors sets the last error and merges msgs into the distinct list,
// dropping the oldest entries once MaxRecentErrors is reached.
func (f *FileImportJob) RecordErrors(count int64, msgs ...string) {
	if len(msgs) == 0 {
		return
	}
	f.ErrorCount += count
	f.ErrorMessage = msgs[len(msgs)-1]

	recent := f.GetRecentErrors()
	for _, msg := range msgs {
		seen := false
		for _, r := range recent {
			if r == msg {
				seen = true
				break
			}
		}
		if !seen {
			recent = append(recent, msg)
		}
	}
	if len(recent) > MaxRecentErrors {
		recent = recent[len(recent)-MaxRecentErrors:]
	}
	encoded, _ := json.Marshal(recent)
	f.RecentErrors = string(encoded)
}
