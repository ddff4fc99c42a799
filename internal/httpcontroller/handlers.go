package httpcontroller

import (
	_ "embed"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/patchwork-go/internal/activelearning"
	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/labelstate"
	"github.com/tphakala/patchwork-go/internal/logger"
)

//go:embed index.html
var indexHTML []byte

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	SessionID string              `json:"session_id,omitempty"`
	Iteration int                 `json:"iteration"`
	Mode      activelearning.Mode `json:"mode,omitempty"`
	Counts    labelstate.Counts   `json:"counts"`
	Accuracy  []float64           `json:"test_accuracy"`
	Pending   bool                `json:"pending"`
}

// BatchResponse is returned by GET /api/v1/batch. Images are URLs served by
// this server, one per batch position.
type BatchResponse struct {
	Iteration int                 `json:"iteration"`
	Mode      activelearning.Mode `json:"mode"`
	Size      int                 `json:"size"`
	Indices   []int               `json:"indices"`
	Images    []string            `json:"images"`
}

// LabelsRequest is the body of POST /api/v1/batch/labels. Positions are zero-based.
type LabelsRequest struct {
	Positives []int `json:"positives"`
}

// LabelsResponse acknowledges accepted labels.
type LabelsResponse struct {
	Iteration int `json:"iteration"`
	Accepted  int `json:"accepted"`
}

// initRoutes registers the API, the page and the metrics endpoint.
func (s *Server) initRoutes() {
	s.Echo.GET("/", s.handleIndex)

	api := s.Echo.Group("/api/v1")
	api.GET("/status", s.handleStatus)
	api.GET("/batch", s.handleBatch)
	api.GET("/batch/:pos/image", s.handleBatchImage)
	api.POST("/batch/labels", s.handleLabels)

	if s.metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

func (s *Server) handleIndex(c echo.Context) error {
	return c.HTMLBlob(http.StatusOK, indexHTML)
}

func (s *Server) handleStatus(c echo.Context) error {
	s.mu.Lock()
	resp := StatusResponse{
		SessionID: s.sessionID,
		Iteration: s.iteration,
		Mode:      s.lastMode,
		Accuracy:  append([]float64{}, s.accuracy...),
		Pending:   s.pending != nil,
	}
	s.mu.Unlock()
	if s.store != nil {
		resp.Counts = s.store.Counts()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleBatch(c echo.Context) error {
	b, ok := s.currentBatch()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no batch is waiting for labels")
	}
	images := make([]string, len(b.Indices))
	for i := range images {
		images[i] = fmt.Sprintf("/api/v1/batch/%d/image", i)
	}
	return c.JSON(http.StatusOK, BatchResponse{
		Iteration: b.Iteration,
		Mode:      b.Mode,
		Size:      len(b.Indices),
		Indices:   b.Indices,
		Images:    images,
	})
}

func (s *Server) handleBatchImage(c echo.Context) error {
	b, ok := s.currentBatch()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no batch is waiting for labels")
	}
	pos, err := strconv.Atoi(c.Param("pos"))
	if err != nil || pos < 0 || pos >= len(b.Images) {
		return echo.NewHTTPError(http.StatusNotFound, "no image at this position")
	}
	return c.File(b.Images[pos])
}

func (s *Server) handleLabels(c echo.Context) error {
	var req LabelsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be {\"positives\": [positions]}")
	}
	resp, err := s.submit(req.Positives)
	if err != nil {
		return err
	}
	s.log.Info("labels submitted",
		logger.Int("iteration", resp.Iteration),
		logger.Int("positives", resp.Accepted))
	return c.JSON(http.StatusAccepted, resp)
}

// errorHandler maps error categories onto status codes and answers with JSON.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := err.Error()

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		msg = fmt.Sprint(he.Message)
	case errors.IsCategory(err, errors.CategoryValidation):
		code = http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryState):
		code = http.StatusConflict
	case errors.IsNotFound(err):
		code = http.StatusNotFound
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, map[string]string{"error": msg})
	}
	if err != nil {
		s.log.Error("failed to write error response", logger.Error(err))
	}
}
