package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/metadata"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/mysql"
	"go.uber.org/zap"
)

const settingsKeyPrefix = "settings::"

const maxSettingsBytes = 64 * 1024

func (h *httpHandler) handleListDatabases(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, ws.Metadata.State())
}

type refreshRequestPayload struct {
	Force    bool   `json:"force"`
	Database string `json:"database"`
}

func (h *httpHandler) handleRefreshDatabases(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request refreshRequestPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	state := ws.Metadata.Refresh(c.Request.Context(), metadata.RefreshOptions{
		Force:    request.Force,
		Database: request.Database,
	})
	h.publishChange(ws.Identity, RealtimeEventMetadataChanged)

	if state.Err != "" {
		c.JSON(http.StatusBadGateway, state)
		return
	}
	c.JSON(http.StatusOK, state)
}

type createDatabaseRequestPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleCreateDatabase(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request createDatabaseRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := ws.DB.CreateDatabase(c.Request.Context(), request.Name); err != nil {
		h.logger.Error("create database failed",
			zap.String("identity", ws.Identity.Key()),
			zap.String("database", request.Name), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "create_database_failed", "detail": err.Error()})
		return
	}

	// Structural change: the whole snapshot is stale.
	state := ws.Metadata.Refresh(c.Request.Context(), metadata.RefreshOptions{Force: true})
	h.publishChange(ws.Identity, RealtimeEventMetadataChanged)
	c.JSON(http.StatusCreated, state)
}

func (h *httpHandler) handleDropDatabase(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	name := c.Param("db")
	if err := ws.DB.DropDatabase(c.Request.Context(), name); err != nil {
		h.logger.Error("drop database failed",
			zap.String("identity", ws.Identity.Key()),
			zap.String("database", name), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "drop_database_failed", "detail": err.Error()})
		return
	}

	state := ws.Metadata.Refresh(c.Request.Context(), metadata.RefreshOptions{Force: true})
	h.publishChange(ws.Identity, RealtimeEventMetadataChanged)
	c.JSON(http.StatusOK, state)
}

func (h *httpHandler) handleBrowseRows(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	page := mysql.Page{
		Limit:      queryInt(c, "limit", 0),
		Offset:     queryInt(c, "offset", 0),
		OrderBy:    c.Query("order_by"),
		Descending: c.Query("desc") == "true",
	}

	rows, err := ws.DB.FetchRows(c.Request.Context(), c.Param("db"), c.Param("table"), page)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "browse_failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *httpHandler) handleTableStructure(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	columns, err := ws.DB.DescribeTable(c.Request.Context(), c.Param("db"), c.Param("table"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "describe_failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"columns": columns})
}

type queryRequestPayload struct {
	SQL string `json:"sql"`
}

func (h *httpHandler) handleQuery(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request queryRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.SQL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := ws.DB.Execute(c.Request.Context(), request.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query_failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleListAccounts(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	accounts, err := ws.DB.ListAccounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "accounts_unavailable", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

type createAccountRequestPayload struct {
	Username string `json:"username"`
	Host     string `json:"host"`
	Password string `json:"password"`
}

func (h *httpHandler) handleCreateAccount(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request createAccountRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := ws.DB.CreateAccount(c.Request.Context(), request.Username, request.Host, request.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "create_account_failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "created"})
}

func (h *httpHandler) handleDropAccount(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := ws.DB.DropAccount(c.Request.Context(), c.Param("user"), c.Param("host")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "drop_account_failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dropped"})
}

func (h *httpHandler) handleAccountGrants(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	grants, err := ws.DB.AccountGrants(c.Request.Context(), c.Param("user"), c.Param("host"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "grants_failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": grants})
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	id := h.contextIdentity(c)
	blob, ok, err := h.registry.Store().Get(c.Request.Context(), settingsKeyPrefix+id.Key())
	if err != nil {
		h.logger.Warn("settings read failed", zap.String("identity", id.Key()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.Data(http.StatusOK, "application/json", blob)
}

func (h *httpHandler) handlePutSettings(c *gin.Context) {
	id := h.contextIdentity(c)
	blob, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSettingsBytes+1))
	if err != nil || len(blob) == 0 || len(blob) > maxSettingsBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.registry.Store().Put(c.Request.Context(), settingsKeyPrefix+id.Key(), blob); err != nil {
		h.logger.Warn("settings write failed", zap.String("identity", id.Key()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_write_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
