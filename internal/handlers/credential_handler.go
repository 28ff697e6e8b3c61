package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"ebs-gateway/internal/services"

	"github.com/gin-gonic/gin"
)

// StatsReader exposes the running decision counters.
type StatsReader interface {
	Totals(ctx context.Context) (map[string]int64, error)
}

type CredentialHandler struct {
	admin       *services.AdminService
	authService *services.AuthService
	stats       StatsReader
	log         *slog.Logger
}

// NewCredentialHandler builds the admin handler. stats may be nil when Redis
// is not configured.
func NewCredentialHandler(admin *services.AdminService, authService *services.AuthService, stats StatsReader, log *slog.Logger) *CredentialHandler {
	return &CredentialHandler{admin: admin, authService: authService, stats: stats, log: log}
}

// Login issues an admin token
// @Summary Admin login
// @Description Exchange the admin username and password for a bearer token
// @Tags admin
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Admin credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /admin/login [post]
func (h *CredentialHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	token, exp, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid username or password"})
		return
	}
	c.JSON(http.StatusOK, LoginResponse{Token: token, ExpiresAt: exp})
}

// CreateCredential issues a new client/secret key pair
// @Summary Create credential
// @Description Create a credential with optional limit and IP rules. The secret key is only returned here.
// @Tags credentials
// @Accept json
// @Produce json
// @Param request body services.CreateCredentialInput true "Credential data"
// @Security BearerAuth
// @Success 201 {object} services.CredentialView
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/credentials [post]
func (h *CredentialHandler) CreateCredential(c *gin.Context) {
	var req services.CreateCredentialInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	view, err := h.admin.CreateCredential(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err, "Failed to create credential")
		return
	}
	c.JSON(http.StatusCreated, view)
}

// GetCredential returns a credential with its rules
// @Summary Get credential
// @Tags credentials
// @Produce json
// @Param id path int true "Credential id"
// @Security BearerAuth
// @Success 200 {object} services.CredentialView
// @Failure 404 {object} ErrorResponse
// @Router /admin/credentials/{id} [get]
func (h *CredentialHandler) GetCredential(c *gin.Context) {
	id, ok := credentialID(c)
	if !ok {
		return
	}
	view, err := h.admin.GetCredential(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Failed to load credential")
		return
	}
	c.JSON(http.StatusOK, view)
}

// UpdateCredential changes status or expiry
// @Summary Update credential
// @Tags credentials
// @Accept json
// @Produce json
// @Param id path int true "Credential id"
// @Param request body services.UpdateCredentialInput true "Fields to change"
// @Security BearerAuth
// @Success 200 {object} services.CredentialView
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/credentials/{id} [patch]
func (h *CredentialHandler) UpdateCredential(c *gin.Context) {
	id, ok := credentialID(c)
	if !ok {
		return
	}
	var req services.UpdateCredentialInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	view, err := h.admin.UpdateCredential(c.Request.Context(), id, req)
	if err != nil {
		h.fail(c, err, "Failed to update credential")
		return
	}
	c.JSON(http.StatusOK, view)
}

// ReplaceLimits swaps the rate-limit rules of a credential
// @Summary Replace limit rules
// @Tags credentials
// @Accept json
// @Produce json
// @Param id path int true "Credential id"
// @Param request body []services.LimitInput true "Limit rules"
// @Security BearerAuth
// @Success 200 {object} services.CredentialView
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/credentials/{id}/limits [put]
func (h *CredentialHandler) ReplaceLimits(c *gin.Context) {
	id, ok := credentialID(c)
	if !ok {
		return
	}
	var req []services.LimitInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	view, err := h.admin.ReplaceLimits(c.Request.Context(), id, req)
	if err != nil {
		h.fail(c, err, "Failed to replace limits")
		return
	}
	c.JSON(http.StatusOK, view)
}

// ReplaceIPs swaps the IP allowlist of a credential
// @Summary Replace IP allowlist
// @Tags credentials
// @Accept json
// @Produce json
// @Param id path int true "Credential id"
// @Param request body IPsRequest true "IP patterns"
// @Security BearerAuth
// @Success 200 {object} services.CredentialView
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/credentials/{id}/ips [put]
func (h *CredentialHandler) ReplaceIPs(c *gin.Context) {
	id, ok := credentialID(c)
	if !ok {
		return
	}
	var req IPsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	view, err := h.admin.ReplaceIPs(c.Request.Context(), id, req.IPs)
	if err != nil {
		h.fail(c, err, "Failed to replace ips")
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetStats returns gateway outcome totals
// @Summary Decision totals
// @Description Running count of gateway outcomes across all instances
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} SuccessResponse
// @Failure 503 {object} ErrorResponse
// @Router /admin/stats [get]
func (h *CredentialHandler) GetStats(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Stats require Redis"})
		return
	}
	totals, err := h.stats.Totals(c.Request.Context())
	if err != nil {
		h.log.Error("failed to read stats", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to read stats"})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "ok", Data: totals})
}

func (h *CredentialHandler) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Credential not found"})
	case errors.Is(err, services.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error(msg, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msg})
	}
}

func credentialID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid credential id"})
		return 0, false
	}
	return id, true
}
