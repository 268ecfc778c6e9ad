package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/session"
)

func (h *httpHandler) handleSessionState(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, ws.Tabs.State())
}

type addTabRequestPayload struct {
	Title    string            `json:"title"`
	Kind     string            `json:"kind"`
	Params   map[string]string `json:"params"`
	Closable *bool             `json:"closable"`
	Content  session.Content   `json:"content"`
}

func (h *httpHandler) handleAddTab(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request addTabRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	kind, err := session.ParseKind(request.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_kind"})
		return
	}

	closable := true
	if request.Closable != nil {
		closable = *request.Closable
	}

	tab := ws.Tabs.AddTab(c.Request.Context(), session.Spec{
		Title:    strings.TrimSpace(request.Title),
		Kind:     kind,
		Params:   request.Params,
		Closable: closable,
		Content:  request.Content,
	})
	h.publishChange(ws.Identity, RealtimeEventSessionChanged)

	c.JSON(http.StatusOK, gin.H{"tab": tab, "session": ws.Tabs.State()})
}

func (h *httpHandler) handleRemoveTab(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	tab, found := ws.Tabs.TabByID(c.Param("id"))
	if found && !tab.Closable {
		c.JSON(http.StatusConflict, gin.H{"error": "tab_not_closable"})
		return
	}

	ws.Tabs.RemoveTab(c.Request.Context(), c.Param("id"))
	h.publishChange(ws.Identity, RealtimeEventSessionChanged)
	c.JSON(http.StatusOK, ws.Tabs.State())
}

type setActiveTabRequestPayload struct {
	ID string `json:"id"`
}

func (h *httpHandler) handleSetActiveTab(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request setActiveTabRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if _, found := ws.Tabs.TabByID(request.ID); !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "tab_not_found"})
		return
	}

	ws.Tabs.SetActiveTab(c.Request.Context(), request.ID)
	h.publishChange(ws.Identity, RealtimeEventSessionChanged)
	c.JSON(http.StatusOK, ws.Tabs.State())
}

type updateTabContentRequestPayload struct {
	EditorText *string `json:"editor_text"`
	Query      *string `json:"query"`
}

func (h *httpHandler) handleUpdateTabContent(c *gin.Context) {
	ws, ok := h.contextWorkspace(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request updateTabContentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ws.Tabs.UpdateTabContent(c.Request.Context(), c.Param("id"), session.ContentPatch{
		EditorText: request.EditorText,
		Query:      request.Query,
	})
	h.publishChange(ws.Identity, RealtimeEventSessionChanged)
	c.JSON(http.StatusOK, ws.Tabs.State())
}
