package server

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NandiVardhan2007/Parking-Management-System/internal/ledger"
	"github.com/NandiVardhan2007/Parking-Management-System/internal/printqueue"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const agentIDContextKey = "parking_agent_id"

var (
	errMissingLedgerService = errors.New("ledger service dependency required")
	errMissingPrintQueue    = errors.New("print queue dependency required")
	errMissingAgentTokens   = errors.New("agent token issuer dependency required")
	errMissingPrintSecret   = errors.New("print secret required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// AgentTokenManager issues and validates print-agent bearer tokens.
type AgentTokenManager interface {
	IssueAgentToken(agentID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to its collaborators.
type Dependencies struct {
	Ledger       *ledger.Service
	PrintQueue   *printqueue.Service
	AgentTokens  AgentTokenManager
	Dispatcher   *Dispatcher
	Logger       *zap.Logger
	PrintSecret  string
	DatabasePath string
	Clock        func() time.Time
}

// NewHTTPHandler builds the gin router for the parking API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Ledger == nil {
		return nil, errMissingLedgerService
	}
	if deps.PrintQueue == nil {
		return nil, errMissingPrintQueue
	}
	if deps.AgentTokens == nil {
		return nil, errMissingAgentTokens
	}
	if strings.TrimSpace(deps.PrintSecret) == "" {
		return nil, errMissingPrintSecret
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		ledger:       deps.Ledger,
		printQueue:   deps.PrintQueue,
		agentTokens:  deps.AgentTokens,
		dispatcher:   dispatcher,
		logger:       logger,
		printSecret:  deps.PrintSecret,
		databasePath: deps.DatabasePath,
		clock:        clock,
	}

	api := router.Group("/api")
	api.GET("/health", handler.handleHealth)
	api.GET("/stats", handler.handleStats)
	api.GET("/settings", handler.handleGetSettings)
	api.POST("/settings", handler.handleSetSettings)
	api.GET("/records", handler.handleListRecords)
	api.GET("/records/:id", handler.handleGetRecord)
	api.POST("/records", handler.handleCreateRecord)
	api.PATCH("/records/:id/exit", handler.handleProcessExit)
	api.DELETE("/records/:id", handler.handleDeleteRecord)
	api.DELETE("/records", handler.handleDeleteAllRecords)
	api.POST("/import", handler.handleImport)
	api.GET("/events", handler.handleEvents)
	api.POST("/print-auth", handler.handlePrintAuth)

	printGroup := api.Group("/print-queue")
	printGroup.Use(handler.authorizeAgent)
	printGroup.POST("", handler.handleEnqueuePrint)
	printGroup.GET("/pending", handler.handlePendingPrintJobs)
	printGroup.PATCH("/:id/ack", handler.handleAckPrintJob)
	printGroup.GET("", handler.handleListPrintJobs)
	printGroup.DELETE("/:id", handler.handleDeletePrintJob)
	printGroup.DELETE("", handler.handleCleanupPrintJobs)

	return router, nil
}

type httpHandler struct {
	ledger       *ledger.Service
	printQueue   *printqueue.Service
	agentTokens  AgentTokenManager
	dispatcher   *Dispatcher
	logger       *zap.Logger
	printSecret  string
	databasePath string
	clock        func() time.Time
}

// envelope is the uniform response shape: {ok, data, error?}.
func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"ok": true, "data": data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"ok": false, "error": message})
}

func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrDuplicateActiveVehicle), errors.Is(err, ledger.ErrAlreadyExited):
		respondError(c, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err), zap.String("path", c.FullPath()))
		respondError(c, http.StatusInternalServerError, "internal error")
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	respondOK(c, http.StatusOK, gin.H{
		"db":        h.databasePath,
		"timestamp": h.clock().UTC().Format(time.RFC3339),
	})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	stats, err := h.ledger.Stats(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, stats)
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	rate, err := h.ledger.GetRate(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"daily_rate": rate})
}

type settingsRequestPayload struct {
	DailyRate *float64 `json:"daily_rate"`
}

func (h *httpHandler) handleSetSettings(c *gin.Context) {
	var request settingsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.DailyRate == nil {
		respondError(c, http.StatusBadRequest, "daily_rate required")
		return
	}
	if err := h.ledger.SetRate(c.Request.Context(), *request.DailyRate); err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"daily_rate": *request.DailyRate})
}

func (h *httpHandler) handleListRecords(c *gin.Context) {
	query := ledger.ListQuery{
		Status: strings.ToUpper(strings.TrimSpace(c.Query("status"))),
		Search: strings.TrimSpace(c.Query("q")),
	}
	if page, err := parsePositiveInt(c.Query("page")); err == nil {
		query.Page = page
	}
	if limit, err := parsePositiveInt(c.Query("limit")); err == nil {
		query.Limit = limit
	}

	result, err := h.ledger.List(c.Request.Context(), query)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":    true,
		"total": result.Total,
		"page":  result.Page,
		"limit": result.Limit,
		"data":  result.Records,
	})
}

func (h *httpHandler) handleGetRecord(c *gin.Context) {
	record, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, record)
}

type createRecordPayload struct {
	ID          string `json:"id"`
	Lorry       string `json:"lorry"`
	Driver      string `json:"driver"`
	Phone       string `json:"phone"`
	Remarks     string `json:"remarks"`
	EntryMoment string `json:"entryMoment"`
}

func (h *httpHandler) handleCreateRecord(c *gin.Context) {
	var request createRecordPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	entryAt, err := parseOptionalMoment(request.EntryMoment)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid entryMoment")
		return
	}

	record, err := h.ledger.CreateEntry(c.Request.Context(), ledger.EntryRequest{
		ID:      request.ID,
		Lorry:   request.Lorry,
		Driver:  strings.TrimSpace(request.Driver),
		Phone:   strings.TrimSpace(request.Phone),
		Remarks: strings.TrimSpace(request.Remarks),
		EntryAt: entryAt,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.dispatcher.Publish(Event{Type: EventRecordCreated, Record: record, Timestamp: h.clock().UTC()})
	respondOK(c, http.StatusCreated, record)
}

type exitRecordPayload struct {
	ExitMoment string   `json:"exitMoment"`
	Rate       *float64 `json:"rate"`
}

func (h *httpHandler) handleProcessExit(c *gin.Context) {
	// An absent body means "exit now at the current rate".
	var request exitRecordPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	exitAt, err := parseOptionalMoment(request.ExitMoment)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid exitMoment")
		return
	}

	rate := 0.0
	if request.Rate != nil {
		rate = *request.Rate
	} else {
		rate, err = h.ledger.GetRate(c.Request.Context())
		if err != nil {
			h.respondServiceError(c, err)
			return
		}
	}

	record, err := h.ledger.ProcessExitByID(c.Request.Context(), c.Param("id"), exitAt, rate)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.dispatcher.Publish(Event{Type: EventRecordExited, Record: record, Timestamp: h.clock().UTC()})
	respondOK(c, http.StatusOK, record)
}

func (h *httpHandler) handleDeleteRecord(c *gin.Context) {
	id := c.Param("id")
	if err := h.ledger.Delete(c.Request.Context(), id); err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.dispatcher.Publish(Event{Type: EventRecordDeleted, Record: ledger.Record{ID: id}, Timestamp: h.clock().UTC()})
	respondOK(c, http.StatusOK, gin.H{"message": "record " + id + " deleted"})
}

type deleteAllPayload struct {
	Confirm string `json:"confirm"`
}

func (h *httpHandler) handleDeleteAllRecords(c *gin.Context) {
	var request deleteAllPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Confirm != "DELETE_ALL" {
		respondError(c, http.StatusBadRequest, `send {"confirm": "DELETE_ALL"} to confirm`)
		return
	}
	if err := h.ledger.DeleteAll(c.Request.Context()); err != nil {
		h.respondServiceError(c, err)
		return
	}
	h.dispatcher.Publish(Event{Type: EventCollectionCleared, Timestamp: h.clock().UTC()})
	respondOK(c, http.StatusOK, gin.H{"message": "all records deleted"})
}

type importRequestPayload struct {
	Records []ledger.ImportRow `json:"records"`
}

func (h *httpHandler) handleImport(c *gin.Context) {
	var request importRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Records == nil {
		respondError(c, http.StatusBadRequest, "records array required")
		return
	}
	result, err := h.ledger.Import(c.Request.Context(), request.Records)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

type printAuthPayload struct {
	Secret  string `json:"secret"`
	AgentID string `json:"agent_id"`
}

type printAuthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handlePrintAuth(c *gin.Context) {
	var request printAuthPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.AgentID) == "" {
		respondError(c, http.StatusBadRequest, "secret and agent_id required")
		return
	}
	if subtle.ConstantTimeCompare([]byte(request.Secret), []byte(h.printSecret)) != 1 {
		h.logger.Warn("print auth rejected", zap.String("agent_id", request.AgentID))
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	token, expiresIn, err := h.agentTokens.IssueAgentToken(strings.TrimSpace(request.AgentID))
	if err != nil {
		h.logger.Error("agent token issue failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "token issue failed")
		return
	}
	respondOK(c, http.StatusOK, printAuthResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeAgent(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": errInvalidAuthorization.Error()})
		return
	}
	agentID, err := h.agentTokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("agent token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
		return
	}
	c.Set(agentIDContextKey, agentID)
	c.Next()
}
