package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/buildd/internal/domain"
)

func TestBuildEndpoint(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	h := NewAPIHandler(dispatcher, nil, nil)

	e := echo.New()
	e.Validator = NewAppValidator()
	body := `{"git_ref": "stable", "packages": ["bash"], "archs": ["amd64"], "chat_id": 42}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/build", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	require.NoError(t, h.Build(e.NewContext(req, rec)))

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, dispatcher.requests, 1)
	assert.Equal(t, "stable", dispatcher.requests[0].GitRef)
	assert.Equal(t, int64(42), dispatcher.requests[0].ChatID)
}

func TestBuildEndpointValidation(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	h := NewAPIHandler(dispatcher, nil, nil)

	e := echo.New()
	e.Validator = NewAppValidator()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/build", strings.NewReader(`{"git_ref": "stable"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.Build(e.NewContext(req, rec))
	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)
	assert.Empty(t, dispatcher.requests)
}

func TestPipelineEndpointWithoutDatabase(t *testing.T) {
	h := NewAPIHandler(nil, nil, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/pipelines/abc", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("abc")

	err := h.Pipeline(c)
	assert.True(t, errors.Is(err, domain.ErrMissingCredential))
}
