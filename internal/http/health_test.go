package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/bulkimport/internal/database"
)

func setupHealthTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "health.db"), nil)
	require.NoError(t, err)
	return db
}

func getHealth(t *testing.T, controller *HealthController) (int, HealthResponse) {
	t.Helper()
	router := gin.New()
	router.GET("/health", controller.Status)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	var response HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return w.Code, response
}

func TestHealthController_Status(t *testing.T) {
	t.Run("returns healthy when database is connected", func(t *testing.T) {
		db := setupHealthTestDB(t)
		defer db.Close()

		code, response := getHealth(t, NewHealthController(db, "1.0.0"))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", response.Status)
		assert.Equal(t, "1.0.0", response.Version)
		assert.Equal(t, "ok", response.Checks["database"].Status)
		assert.Contains(t, response.Time, "T")
	})

	t.Run("omits the database when none is configured", func(t *testing.T) {
		code, response := getHealth(t, NewHealthController(nil, "1.0.0"))

		assert.Equal(t, http.StatusOK, code)
		assert.Empty(t, response.Checks)
	})

	t.Run("returns unhealthy when database connection is closed", func(t *testing.T) {
		db := setupHealthTestDB(t)
		db.Close()

		code, response := getHealth(t, NewHealthController(db, "1.0.0"))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", response.Status)
		assert.Equal(t, "error", response.Checks["database"].Status)
		assert.NotEmpty(t, response.Checks["database"].Error)
	})

	t.Run("runs extra checks", func(t *testing.T) {
		controller := NewHealthController(nil, "").
			WithCheck("entity_store", func() error { return nil }).
			WithCheck("tasks", func() error { return errors.New("locked") })

		code, response := getHealth(t, controller)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "ok", response.Checks["entity_store"].Status)
		assert.Equal(t, "error", response.Checks["tasks"].Status)
		assert.Equal(t, "locked", response.Checks["tasks"].Error)
	})

	t.Run("a panicking check is reported, not fatal", func(t *testing.T) {
		controller := NewHealthController(nil, "").
			WithCheck("entity_store", func() error { panic("closed") })

		code, response := getHealth(t, controller)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "check panicked", response.Checks["entity_store"].Error)
	})
}

func TestHealthController_ChecksRunInNameOrder(t *testing.T) {
	var order []string
	check := func(name string) HealthCheck {
		return func() error {
			order = append(order, name)
			return nil
		}
	}
	controller := NewHealthController(nil, "").
		WithCheck("tasks", check("tasks")).
		WithCheck("entity_store", check("entity_store")).
		WithCheck("blobs", check("blobs"))

	getHealth(t, controller)
	assert.Equal(t, []string{"blobs", "entity_store", "tasks"}, order)
}
