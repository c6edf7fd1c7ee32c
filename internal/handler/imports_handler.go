package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/reachforge/crm-api/internal/dto"
	"github.com/reachforge/crm-api/internal/entity"
	"github.com/reachforge/crm-api/internal/middleware"
	"github.com/reachforge/crm-api/internal/repository"
	"github.com/reachforge/crm-api/internal/service"
)

// ImportsHandler exposes the CSV import lifecycle endpoints.
type ImportsHandler struct {
	imports *service.ImportBatchService
	runner  *service.ImportRunner
}

// NewImportsHandler wires the handler over the batch service and runner.
func NewImportsHandler(imports *service.ImportBatchService, runner *service.ImportRunner) *ImportsHandler {
	return &ImportsHandler{imports: imports, runner: runner}
}

// Create handles POST /admin/imports requests with a multipart CSV.
func (h *ImportsHandler) Create(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return Error(c, http.StatusBadRequest, "missing csv file")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return Error(c, http.StatusBadRequest, "unable to open file")
	}
	defer file.Close()

	userID := currentUserID(c)

	batch, err := h.imports.CreateBatch(c.Request().Context(), userID, fileHeader.Filename, file)
	if err != nil {
		var validationErr *service.UploadValidationError
		if errors.As(err, &validationErr) {
			return Error(c, http.StatusUnprocessableEntity, validationErr.Error())
		}
		return Error(c, http.StatusInternalServerError, "failed to store upload")
	}

	return Success(c, http.StatusCreated, "import batch created", batch)
}

// List handles GET /admin/imports requests.
func (h *ImportsHandler) List(c echo.Context) error {
	limit := parseIntDefault(c.QueryParam("limit"), 15)
	offset := parseIntDefault(c.QueryParam("offset"), 0)

	batches, err := h.imports.List(c.Request().Context(), limit, offset)
	if err != nil {
		return Error(c, http.StatusInternalServerError, "failed to list import batches")
	}
	return Success(c, http.StatusOK, "import batches retrieved", batches)
}

// Show handles GET /admin/imports/:id requests.
func (h *ImportsHandler) Show(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return Error(c, http.StatusBadRequest, "invalid import batch id")
	}

	batch, err := h.imports.Get(c.Request().Context(), id)
	if err != nil {
		return importBatchError(c, err)
	}
	return Success(c, http.StatusOK, "import batch retrieved", batch)
}

// Mapping handles GET /admin/imports/:id/mapping requests.
func (h *ImportsHandler) Mapping(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return Error(c, http.StatusBadRequest, "invalid import batch id")
	}

	info, err := h.imports.MappingInfo(c.Request().Context(), id)
	if err != nil {
		return importBatchError(c, err)
	}
	return Success(c, http.StatusOK, "mapping suggestions generated", info)
}

// Preview handles POST /admin/imports/:id/preview requests.
func (h *ImportsHandler) Preview(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return Error(c, http.StatusBadRequest, "invalid import batch id")
	}

	var req dto.PreviewRequest
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "invalid payload")
	}
	if len(req.ColumnMapping) == 0 {
		return Error(c, http.StatusBadRequest, "column_mapping is required")
	}

	checks, err := h.imports.Preview(c.Request().Context(), id, req.ColumnMapping)
	if err != nil {
		var validationErr *service.UploadValidationError
		if errors.As(err, &validationErr) {
			return Error(c, http.StatusUnprocessableEntity, validationErr.Error())
		}
		return importBatchError(c, err)
	}
	return Success(c, http.StatusOK, "preview generated", checks)
}

// Perform handles POST /admin/imports/:id/perform requests. The import
// runs asynchronously; the response is 202 with the batch id to poll.
func (h *ImportsHandler) Perform(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return Error(c, http.StatusBadRequest, "invalid import batch id")
	}

	var req dto.PerformRequest
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "invalid payload")
	}

	opts := entity.ImportOptions{
		UpdateExisting:   req.UpdateExisting,
		OverrideExisting: req.OverrideExisting,
		DefaultConsent:   req.DefaultConsent,
		DefaultTags:      req.DefaultTags,
		DefaultSource:    req.DefaultSource,
	}

	if err := h.runner.Start(c.Request().Context(), id, opts); err != nil {
		return importBatchError(c, err)
	}
	return Success(c, http.StatusAccepted, "import started", map[string]string{"id": id.String()})
}

// Status handles GET /admin/imports/:id/status requests.
func (h *ImportsHandler) Status(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return Error(c, http.StatusBadRequest, "invalid import batch id")
	}

	status, err := h.imports.Status(c.Request().Context(), id)
	if err != nil {
		return importBatchError(c, err)
	}
	return Success(c, http.StatusOK, "import status retrieved", status)
}

// DownloadErrors handles GET /admin/imports/:id/errors requests and
// streams the error log as a CSV attachment.
func (h *ImportsHandler) DownloadErrors(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return Error(c, http.StatusBadRequest, "invalid import batch id")
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="import_errors_%s.csv"`, id))
	c.Response().WriteHeader(http.StatusOK)

	if err := h.imports.ErrorsCSV(c.Request().Context(), id, c.Response()); err != nil {
		return err
	}
	return nil
}

// Delete handles DELETE /admin/imports/:id requests.
func (h *ImportsHandler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return Error(c, http.StatusBadRequest, "invalid import batch id")
	}

	if err := h.imports.Delete(c.Request().Context(), id); err != nil {
		return importBatchError(c, err)
	}
	return Success(c, http.StatusOK, "import batch deleted", nil)
}

func importBatchError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrImportBatchNotFound):
		return Error(c, http.StatusNotFound, "import batch not found")
	case errors.Is(err, repository.ErrInvalidTransition):
		return Error(c, http.StatusConflict, "import batch is not in a state that allows this operation")
	default:
		return Error(c, http.StatusInternalServerError, "import batch operation failed")
	}
}

func currentUserID(c echo.Context) uuid.UUID {
	raw, _ := c.Get(middleware.ContextKeyUserID).(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}
