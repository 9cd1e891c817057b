package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikestefanello/backlite"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/bulkimport/internal/logging"
	"github.com/mrlokans/bulkimport/internal/tasks"
)

// TaskStatusGetter looks up background task state.
type TaskStatusGetter interface {
	Status(ctx context.Context, taskID string) (backlite.TaskStatus, error)
}

// TasksController exposes the task queue behind import jobs.
type TasksController struct {
	client TaskStatusGetter
	log    *logrus.Entry
}

func NewTasksController(client TaskStatusGetter, log *logrus.Entry) *TasksController {
	return &TasksController{client: client, log: logging.OrNop(log)}
}

// GetTaskStatus handles GET /api/tasks/:id
func (tc *TasksController) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status, err := tc.client.Status(ctx, taskID)
	if err != nil {
		respondInternalError(c, tc.log, err, "task status")
		return
	}
	if status == backlite.TaskStatusNotFound {
		respondNotFound(c, "task")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     taskID,
		"status": tasks.StatusString(status),
	})
}
