package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/bulkimport/internal/database/imports"
	"github.com/mrlokans/bulkimport/internal/entities"
	"github.com/mrlokans/bulkimport/internal/importers"
	"github.com/mrlokans/bulkimport/internal/logging"
)

// ImportService is the part of the import engine exposed over HTTP.
type ImportService interface {
	Schedule(ctx context.Context, cfg *importers.ImportConfig) (string, error)
	Status(importID string) (*importers.ImportStatus, error)
	List(limit int) ([]entities.ImportJob, error)
}

// ImportRequest is the body of POST /api/imports.
type ImportRequest struct {
	OrganizationID string `json:"organizationId" binding:"required"`
	ApplicationID  string `json:"applicationId"`
	CollectionName string `json:"collectionName"`
}

type ImportResponse struct {
	ID    string            `json:"id"`
	State entities.JobState `json:"state"`
}

// ImportsController handles import job endpoints.
type ImportsController struct {
	svc ImportService
	log *logrus.Entry
}

func NewImportsController(svc ImportService, log *logrus.Entry) *ImportsController {
	return &ImportsController{svc: svc, log: logging.OrNop(log)}
}

// Create handles POST /api/imports. The import runs in the background; the
// response carries the id to poll.
func (ic *ImportsController) Create(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "organizationId is required")
		return
	}
	if req.CollectionName != "" && req.ApplicationID == "" {
		respondBadRequest(c, "collectionName requires applicationId")
		return
	}

	id, err := ic.svc.Schedule(c.Request.Context(), &importers.ImportConfig{
		OrganizationID: req.OrganizationID,
		ApplicationID:  req.ApplicationID,
		CollectionName: req.CollectionName,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, ImportResponse{ID: id, State: entities.JobStateScheduled})
	case errors.Is(err, importers.ErrConfiguration):
		respondError(c, http.StatusBadRequest, err.Error(), string(importers.KindConfiguration))
	case errors.Is(err, importers.ErrScheduling):
		// The job exists in FAILED state, so hand its id back.
		c.JSON(http.StatusServiceUnavailable, gin.H{"id": id, "error": err.Error(), "code": string(importers.KindScheduling)})
	default:
		respondInternalError(c, ic.log, err, "schedule import")
	}
}

// List handles GET /api/imports
func (ic *ImportsController) List(c *gin.Context) {
	limit, ok := parseLimit(c, 20, 200)
	if !ok {
		return
	}
	jobs, err := ic.svc.List(limit)
	if err != nil {
		respondInternalError(c, ic.log, err, "list imports")
		return
	}
	c.JSON(http.StatusOK, gin.H{"imports": jobs})
}

// Get handles GET /api/imports/:id
func (ic *ImportsController) Get(c *gin.Context) {
	status, ok := ic.status(c)
	if !ok {
		return
	}
	status.Files = nil
	c.JSON(http.StatusOK, status)
}

// Files handles GET /api/imports/:id/files
func (ic *ImportsController) Files(c *gin.Context) {
	status, ok := ic.status(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"import_id": status.ID, "files": status.Files})
}

func (ic *ImportsController) status(c *gin.Context) (*importers.ImportStatus, bool) {
	status, err := ic.svc.Status(c.Param("id"))
	if errors.Is(err, imports.ErrNotFound) {
		respondNotFound(c, "import")
		return nil, false
	}
	if err != nil {
		respondInternalError(c, ic.log, err, "import status")
		return nil, false
	}
	return status, true
}
