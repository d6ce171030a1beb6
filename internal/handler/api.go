package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/buildd/internal/dispatch"
	"github.com/sumire/buildd/internal/domain"
	"github.com/sumire/buildd/internal/repository"
	"github.com/sumire/buildd/internal/service"
)

// BuildRequest is the payload of POST /api/v1/build.
type BuildRequest struct {
	GitRef   string   `json:"git_ref" validate:"required"`
	Packages []string `json:"packages" validate:"required,min=1,dive,required"`
	Archs    []string `json:"archs" validate:"required,min=1,dive,required"`
	ChatID   int64    `json:"chat_id"`
}

// APIHandler serves the build and status endpoints.
type APIHandler struct {
	dispatcher service.JobDispatcher
	reporter   *service.StatusReporter
	store      *repository.Store // nil when no database is configured
}

// NewAPIHandler creates an APIHandler. store may be nil.
func NewAPIHandler(dispatcher service.JobDispatcher, reporter *service.StatusReporter, store *repository.Store) *APIHandler {
	return &APIHandler{dispatcher: dispatcher, reporter: reporter, store: store}
}

// Build handles POST /api/v1/build: fan a build request out to the
// per-architecture job queues.
func (h *APIHandler) Build(c echo.Context) error {
	var req BuildRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	jobs, err := h.dispatcher.Dispatch(c.Request().Context(), dispatch.Request{
		GitRef:   req.GitRef,
		Packages: req.Packages,
		Archs:    req.Archs,
		ChatID:   req.ChatID,
	})
	if err != nil {
		return err
	}

	return JSON(c, http.StatusCreated, map[string]any{"jobs": jobs})
}

// Status handles GET /api/v1/status.
func (h *APIHandler) Status(c echo.Context) error {
	status, err := h.reporter.Report(c.Request().Context())
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, status)
}

// Pipeline handles GET /api/v1/pipelines/:id.
func (h *APIHandler) Pipeline(c echo.Context) error {
	if h.store == nil {
		return domain.ErrMissingCredential
	}

	pipeline, err := h.store.FindPipeline(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, pipeline)
}
