// Package directory resolves organizations and applications by id or name.
//
// Applications are named "<org>/<app>" so that an application name alone is
// enough to find the entity store partition it belongs to.
package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mrlokans/bulkimport/internal/entities"
)

var ErrNotFound = errors.New("not found in directory")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetOrganization looks an organization up by id, falling back to name.
func (r *Repository) GetOrganization(idOrName string) (*entities.Organization, error) {
	var org entities.Organization
	err := r.db.Where("id = ? OR name = ?", idOrName, idOrName).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("organization %q: %w", idOrName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get organization %q: %w", idOrName, err)
	}
	return &org, nil
}

// GetApplication looks an application up by id, or by its qualified name.
func (r *Repository) GetApplication(idOrName string) (*entities.Application, error) {
	var app entities.Application
	err := r.db.Where("id = ? OR name = ?", idOrName, idOrName).First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("application %q: %w", idOrName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get application %q: %w", idOrName, err)
	}
	return &app, nil
}

// EnsureOrganization returns the named organization, creating it if needed.
func (r *Repository) EnsureOrganization(name string) (*entities.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid organization name %q", name)
	}
	var org entities.Organization
	err := r.db.Where("name = ?", name).First(&org).Error
	if err == nil {
		return &org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get organization %q: %w", name, err)
	}

	org = entities.Organization{ID: uuid.NewString(), Name: name}
	if err := r.db.Create(&org).Error; err != nil {
		return nil, fmt.Errorf("create organization %q: %w", name, err)
	}
	return &org, nil
}

// EnsureApplication returns "<org>/<app>", creating the application and its
// organization if needed.
func (r *Repository) EnsureApplication(orgName, appName string) (*entities.Application, error) {
	org, err := r.EnsureOrganization(orgName)
	if err != nil {
		return nil, err
	}
	appName = strings.TrimSpace(appName)
	if appName == "" || strings.Contains(appName, "/") {
		return nil, fmt.Errorf("invalid application name %q", appName)
	}

	qualified := org.Name + "/" + appName
	var app entities.Application
	err = r.db.Where("name = ?", qualified).First(&app).Error
	if err == nil {
		return &app, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get application %q: %w", qualified, err)
	}

	app = entities.Application{ID: uuid.NewString(), OrganizationID: org.ID, Name: qualified}
	if err := r.db.Create(&app).Error; err != nil {
		return nil, fmt.Errorf("create application %q: %w", qualified, err)
	}
	return &app, nil
}

// ListApplications returns the applications of an organization by name.
func (r *Repository) ListApplications(orgID string) ([]entities.Application, error) {
	var apps []entities.Application
	if err := r.db.Where("organization_id = ?", orgID).Order("name ASC").Find(&apps).Error; err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}
