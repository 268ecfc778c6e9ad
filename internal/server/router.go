// Package server exposes the console's REST surface: credential login,
// database/metadata browsing, ad-hoc query execution, account management
// and the per-identity tab session.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/identity"
	"github.com/tamadeu/jsMyAdmin-sub000/internal/workspace"
	"go.uber.org/zap"
)

const (
	identityContextKey  = "jsmyadmin_identity"
	workspaceContextKey = "jsmyadmin_workspace"
)

var (
	errMissingVerifier      = errors.New("credential verifier dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingRegistry      = errors.New("workspace registry dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// CredentialVerifier authenticates a login against the database server.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (identity.Identity, error)
}

// SessionTokenManager issues and validates console session tokens.
type SessionTokenManager interface {
	IssueSessionToken(id identity.Identity) (string, int64, error)
	ValidateToken(token string) (identity.Identity, error)
}

// Dependencies wires the handler's collaborators.
type Dependencies struct {
	Verifier       CredentialVerifier
	TokenManager   SessionTokenManager
	Registry       *workspace.Registry
	Dispatcher     *RealtimeDispatcher
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewHTTPHandler builds the gin router for the console API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewRealtimeDispatcher()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier:   deps.Verifier,
		tokens:     deps.TokenManager,
		registry:   deps.Registry,
		dispatcher: dispatcher,
		logger:     logger,
	}

	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/logout", handler.handleLogout)

	protected.GET("/databases", handler.handleListDatabases)
	protected.POST("/databases/refresh", handler.handleRefreshDatabases)
	protected.POST("/databases", handler.handleCreateDatabase)
	protected.DELETE("/databases/:db", handler.handleDropDatabase)
	protected.GET("/databases/:db/tables/:table/rows", handler.handleBrowseRows)
	protected.GET("/databases/:db/tables/:table/structure", handler.handleTableStructure)

	protected.POST("/query", handler.handleQuery)

	protected.GET("/accounts", handler.handleListAccounts)
	protected.POST("/accounts", handler.handleCreateAccount)
	protected.DELETE("/accounts/:user/:host", handler.handleDropAccount)
	protected.GET("/accounts/:user/:host/grants", handler.handleAccountGrants)

	protected.GET("/session/tabs", handler.handleSessionState)
	protected.POST("/session/tabs", handler.handleAddTab)
	protected.DELETE("/session/tabs/:id", handler.handleRemoveTab)
	protected.PUT("/session/tabs/active", handler.handleSetActiveTab)
	protected.PATCH("/session/tabs/:id", handler.handleUpdateTabContent)

	protected.GET("/settings", handler.handleGetSettings)
	protected.PUT("/settings", handler.handlePutSettings)

	protected.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	verifier   CredentialVerifier
	tokens     SessionTokenManager
	registry   *workspace.Registry
	dispatcher *RealtimeDispatcher
	logger     *zap.Logger
}

type loginRequestPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Username    string `json:"username"`
	Host        string `json:"host"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	id, err := h.verifier.Verify(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		h.logger.Warn("login rejected", zap.String("username", request.Username), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if _, err := h.registry.Open(c.Request.Context(), id, request.Password); err != nil {
		h.logger.Error("workspace open failed", zap.String("identity", id.Key()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "workspace_open_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(id)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		h.registry.Close(id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Username:    id.Username,
		Host:        id.Host,
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	id := h.contextIdentity(c)
	h.registry.Close(id)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	id, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ws, err := h.registry.Lookup(id)
	if err != nil {
		// Valid token but no live workspace: the server restarted or the
		// identity logged out elsewhere. The client must log in again.
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session_expired"})
		return
	}

	c.Set(identityContextKey, id)
	c.Set(workspaceContextKey, ws)
	c.Next()
}

func (h *httpHandler) contextIdentity(c *gin.Context) identity.Identity {
	value, ok := c.Get(identityContextKey)
	if !ok {
		return identity.Identity{}
	}
	id, ok := value.(identity.Identity)
	if !ok {
		return identity.Identity{}
	}
	return id
}

func (h *httpHandler) contextWorkspace(c *gin.Context) (*workspace.Workspace, bool) {
	value, ok := c.Get(workspaceContextKey)
	if !ok {
		return nil, false
	}
	ws, ok := value.(*workspace.Workspace)
	return ws, ok
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	id := h.contextIdentity(c)
	stream, cleanup := h.dispatcher.Subscribe(c.Request.Context(), id.Key())
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case message, open := <-stream:
			if !open {
				return
			}
			c.SSEvent(message.EventType, gin.H{
				"identity":  message.IdentityKey,
				"timestamp": message.Timestamp.UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{})
			c.Writer.Flush()
		}
	}
}

func (h *httpHandler) publishChange(id identity.Identity, eventType string) {
	h.dispatcher.Publish(RealtimeMessage{
		IdentityKey: id.Key(),
		EventType:   eventType,
		Timestamp:   time.Now(),
	})
}
