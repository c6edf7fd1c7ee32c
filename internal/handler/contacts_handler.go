package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/reachforge/crm-api/internal/dto"
	"github.com/reachforge/crm-api/internal/repository"
	"github.com/reachforge/crm-api/internal/service"
)

// ContactsHandler exposes the contact book endpoints.
type ContactsHandler struct {
	service *service.ContactsService
}

// NewContactsHandler creates a new handler instance.
func NewContactsHandler(service *service.ContactsService) *ContactsHandler {
	return &ContactsHandler{service: service}
}

// List handles GET /admin/contacts requests.
func (h *ContactsHandler) List(c echo.Context) error {
	filter := dto.ContactFilter{
		Q:             strings.TrimSpace(c.QueryParam("q")),
		AccountType:   strings.TrimSpace(c.QueryParam("account_type")),
		ConsentStatus: strings.TrimSpace(c.QueryParam("consent_status")),
		Tag:           strings.TrimSpace(c.QueryParam("tag")),
		Page:          parseIntDefault(c.QueryParam("page"), 1),
		PerPage:       parseIntDefault(c.QueryParam("per_page"), 20),
	}

	if bouncedStr := strings.TrimSpace(c.QueryParam("bounced")); bouncedStr != "" {
		bounced, err := strconv.ParseBool(bouncedStr)
		if err != nil {
			return Error(c, http.StatusBadRequest, "invalid bounced filter")
		}
		filter.Bounced = &bounced
	}

	contacts, err := h.service.List(c.Request().Context(), filter)
	if err != nil {
		return Error(c, http.StatusInternalServerError, "failed to list contacts")
	}
	return Success(c, http.StatusOK, "contacts retrieved", contacts)
}

// Show handles GET /admin/contacts/:id requests.
func (h *ContactsHandler) Show(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return Error(c, http.StatusBadRequest, "invalid contact id")
	}

	contact, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return contactError(c, err)
	}
	return Success(c, http.StatusOK, "contact retrieved", contact)
}

// Create handles POST /admin/contacts requests.
func (h *ContactsHandler) Create(c echo.Context) error {
	var req dto.ContactRequest
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "invalid payload")
	}

	contact, msgs, err := h.service.Create(c.Request().Context(), req)
	if err != nil {
		return contactError(c, err)
	}
	if len(msgs) > 0 {
		return ValidationFailed(c, msgs)
	}
	return Success(c, http.StatusCreated, "contact created", contact)
}

// Update handles PUT /admin/contacts/:id requests.
func (h *ContactsHandler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return Error(c, http.StatusBadRequest, "invalid contact id")
	}

	var req dto.ContactRequest
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "invalid payload")
	}

	contact, msgs, err := h.service.Update(c.Request().Context(), id, req)
	if err != nil {
		return contactError(c, err)
	}
	if len(msgs) > 0 {
		return ValidationFailed(c, msgs)
	}
	return Success(c, http.StatusOK, "contact updated", contact)
}

// Delete handles DELETE /admin/contacts/:id requests.
func (h *ContactsHandler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return Error(c, http.StatusBadRequest, "invalid contact id")
	}

	if err := h.service.Delete(c.Request().Context(), id); err != nil {
		return contactError(c, err)
	}
	return Success(c, http.StatusOK, "contact deleted", nil)
}

// Unsubscribe handles POST /admin/contacts/unsubscribe requests.
func (h *ContactsHandler) Unsubscribe(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "invalid payload")
	}
	if strings.TrimSpace(req.Email) == "" {
		return Error(c, http.StatusBadRequest, "email is required")
	}

	if err := h.service.Unsubscribe(c.Request().Context(), req.Email); err != nil {
		return contactError(c, err)
	}
	return Success(c, http.StatusOK, "contact unsubscribed", nil)
}

func contactError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrContactNotFound):
		return Error(c, http.StatusNotFound, "contact not found")
	case errors.Is(err, repository.ErrEmailTaken):
		return Error(c, http.StatusConflict, "email has already been taken")
	default:
		return Error(c, http.StatusInternalServerError, "contact operation failed")
	}
}

func parseIntDefault(input string, fallback int) int {
	if input == "" {
		return fallback
	}
	if value, err := strconv.Atoi(input); err == nil {
		return value
	}
	return fallback
}
