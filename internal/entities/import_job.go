package entities

import (
	"encoding/json"
	"fmt"
	"time"
)

// PropertyFiles is the ImportJob property holding the file manifest.
const PropertyFiles = "files"

// ManifestEntry links a source file to the sub-job importing it.
type ManifestEntry struct {
	FileName string `json:"fileName"`
	JobID    string `json:"jobId"`
}

type ImportJob struct {
	ID           string        `gorm:"primaryKey;size:36" json:"id"`
	State        JobState      `gorm:"index;size:20" json:"state"`
	Outcome      ImportOutcome `gorm:"size:30" json:"outcome,omitempty"`
	ErrorMessage string        `gorm:"type:text" json:"error_message,omitempty"`
	Config       string        `gorm:"type:text" json:"-"`         // JSON of the import configuration
	Properties   string        `gorm:"type:text" json:"-"`         // JSON, free-form; holds the manifest
	Version      int64         `gorm:"not null;default:0" json:"-"` // optimistic concurrency token
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`

	FileImports []FileImportJob `gorm:"foreignKey:ImportJobID" json:"-"`
}

func (ImportJob) TableName() string {
	return "import_jobs"
}

// GetProperties decodes the free-form property bag.
func (j *ImportJob) GetProperties() (map[string]any, error) {
	props := make(map[string]any)
	if j.Properties == "" {
		return props, nil
	}
	if err := json.Unmarshal([]byte(j.Properties), &props); err != nil {
		return nil, fmt.Errorf("decode import job properties: %w", err)
	}
	return props, nil
}

// AddProperties merges values into the property bag.
func (j *ImportJob) AddProperties(values map[string]any) error {
	props, err := j.GetProperties()
	if err != nil {
		return err
	}
	for k, v := range values {
		props[k] = v
	}
	encoded, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encode import job properties: %w", err)
	}
	j.Properties = string(encoded)
	return nil
}

// Manifest returns the file manifest recorded in the properties.
func (j *ImportJob) Manifest() ([]ManifestEntry, error) {
	props, err := j.GetProperties()
	if err != nil {
		return nil, err
	}
	raw, ok := props[PropertyFiles]
	if !ok {
		return nil, nil
	}
	// Round-trip through JSON to get typed entries back out of map[string]any.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(encoded, &entries); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return entries, nil
}

// AppendManifest adds entries to the manifest, preserving existing ones.
// Entries whose sub-job is already listed are skipped.
func (j *ImportJob) AppendManifest(entries ...ManifestEntry) error {
	existing, err := j.Manifest()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e.JobID] = true
	}
	for _, e := range entries {
		if seen[e.JobID] {
			continue
		}
		seen[e.JobID] = true
		existing = append(existing, e)
	}
	return j.AddProperties(map[string]any{PropertyFiles: existing})
}
