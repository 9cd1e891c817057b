package entities

import "time"

// Organization owns applications; import scope resolves against it.
type Organization struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:255" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (Organization) TableName() string {
	return "organizations"
}

// Application is a tenant partition of the entity store. Name is
// qualified by its organization: "<org>/<app>".
type Application struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID string    `gorm:"index;size:36" json:"organization_id"`
	Name           string    `gorm:"uniqueIndex;size:512" json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Application) TableName() string {
	return "applications"
}
