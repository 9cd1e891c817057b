package entities

import "time"

// EntityRef identifies an entity inside an application partition. Type may
// be blank when only the id is known, as for connection targets.
type EntityRef struct {
	ID   string `json:"uuid"`
	Type string `json:"type,omitempty"`
}

// Entity is a record in the target entity store.
type Entity struct {
	EntityRef
	Properties map[string]any `json:"properties"`
	Created    time.Time      `json:"created"`
	Modified   time.Time      `json:"modified"`
}
