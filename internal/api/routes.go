package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fatturaanalyzer/reconciler/internal/core"
	"github.com/fatturaanalyzer/reconciler/internal/facade"
	"github.com/fatturaanalyzer/reconciler/internal/ledger"
	"github.com/fatturaanalyzer/reconciler/internal/store"
)

// APIHandler wires the orchestration facade and the raw store
// (for the plain read endpoints the facade doesn't wrap) into the
// gin handlers.
type APIHandler struct {
	facade *facade.Facade
	store  *store.Store
	wsHub  *Hub
}

// SetupRouter builds the gin engine: CORS, then a public group for
// health/websocket, then an authenticated + rate-limited group for
// every reconciliation operation.
func SetupRouter(dbStore *store.Store, f *facade.Facade, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var.
	// Production: ALLOWED_ORIGINS=https://app.example.com
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{facade: f, store: dbStore, wsHub: wsHub}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
	}

	auth := r.Group("/api/v1")
	auth.Use(AuthMiddleware())
	auth.Use(NewRateLimiter(60, 10).Middleware())
	{
		auth.GET("/invoices/:id", handler.handleGetInvoice)
		auth.GET("/invoices", handler.handleListOpenInvoices)
		auth.GET("/transactions/:id", handler.handleGetTransaction)
		auth.GET("/transactions", handler.handleListUnreconciledTransactions)
		auth.GET("/counterparties/:id", handler.handleGetCounterparty)
		auth.GET("/counterparties", handler.handleListCounterparties)

		auth.GET("/reconciliation/suggestions/1-to-1", handler.handleSuggest1to1)
		auth.GET("/reconciliation/suggestions/n-to-m", handler.handleSuggestNtoM)
		auth.GET("/reconciliation/links", handler.handleListLinks)
		auth.GET("/reconciliation/analytics", handler.handleAnalytics)
		auth.GET("/clients/:id/reliability", handler.handleClientReliability)

		auth.POST("/reconciliation/validate", handler.handleValidateMatch)
		auth.POST("/reconciliation/apply", handler.handleApplyMatch)
		auth.POST("/reconciliation/apply-batch", handler.handleApplyBatch)
		auth.POST("/reconciliation/auto", handler.handleAutoReconcile)
		auth.POST("/reconciliation/recompute-all", handler.handleRecomputeAll)
		auth.POST("/reconciliation/manual-suggestion", handler.handleManualSuggestion)

		auth.DELETE("/reconciliation/by-transaction/:id", handler.handleUndoByTransaction)
		auth.DELETE("/reconciliation/by-invoice/:id", handler.handleUndoByInvoice)

		auth.POST("/transactions/:id/ignore", handler.handleIgnoreTransaction)
		auth.POST("/transactions/:id/unignore", handler.handleUnignoreTransaction)
	}

	r.Static("/dashboard", "./public")

	return r
}

// handleHealth returns engine status for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "operational",
		"engine":      "FatturaAnalyzer Reconciliation Engine",
		"dbConnected": h.store != nil,
	})
}

func (h *APIHandler) handleGetInvoice(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
		return
	}
	inv, err := h.store.GetInvoice(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, renderInvoice(inv))
}

func (h *APIHandler) handleListOpenInvoices(c *gin.Context) {
	invoices, err := h.store.ListAllOpenInvoices(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	views := make([]invoiceView, len(invoices))
	for i, inv := range invoices {
		views[i] = renderInvoice(inv)
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (h *APIHandler) handleGetTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
		return
	}
	txn, err := h.store.GetTransaction(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, renderTransaction(txn))
}

func (h *APIHandler) handleListUnreconciledTransactions(c *gin.Context) {
	txns, err := h.store.ListUnreconciledTransactions(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	views := make([]transactionView, len(txns))
	for i, t := range txns {
		views[i] = renderTransaction(t)
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (h *APIHandler) handleGetCounterparty(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid counterparty id"})
		return
	}
	cp, err := h.store.GetCounterparty(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h *APIHandler) handleListCounterparties(c *gin.Context) {
	cps, err := h.store.ListCounterparties(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cps})
}

// handleSuggest1to1 implements
// GET /reconciliation/suggestions/1-to-1?invoice_id|transaction_id&counterparty_id
func (h *APIHandler) handleSuggest1to1(c *gin.Context) {
	invID, _ := strconv.ParseInt(c.Query("invoice_id"), 10, 64)
	txnID, _ := strconv.ParseInt(c.Query("transaction_id"), 10, 64)
	if invID == 0 && txnID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invoice_id or transaction_id is required"})
		return
	}
	cpID, _ := strconv.ParseInt(c.Query("counterparty_id"), 10, 64)
	env := h.facade.GetSuggestions1to1(c.Request.Context(), invID, txnID, cpID)
	c.JSON(http.StatusOK, env)
}

// handleSuggestNtoM implements GET /reconciliation/suggestions/n-to-m?transaction_id=&counterparty_id=
func (h *APIHandler) handleSuggestNtoM(c *gin.Context) {
	txnID, err := strconv.ParseInt(c.Query("transaction_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transaction_id is required"})
		return
	}
	cpID, err := strconv.ParseInt(c.Query("counterparty_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "counterparty_id is required"})
		return
	}
	env := h.facade.GetSuggestionsNtoM(c.Request.Context(), txnID, cpID)
	c.JSON(http.StatusOK, env)
}

// handleListLinks implements GET /reconciliation/links?invoiceId=&transactionId=
func (h *APIHandler) handleListLinks(c *gin.Context) {
	var filter facade.LinkFilter
	if raw := c.Query("invoiceId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoiceId"})
			return
		}
		filter.InvoiceID = &id
	}
	if raw := c.Query("transactionId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transactionId"})
			return
		}
		filter.TransactionID = &id
	}
	env := h.facade.ListLinks(c.Request.Context(), filter)
	c.JSON(http.StatusOK, env)
}

type matchRequest struct {
	InvoiceID     int64   `json:"invoiceId" binding:"required"`
	TransactionID int64   `json:"transactionId" binding:"required"`
	Amount        float64 `json:"amount" binding:"required"`
}

// handleValidateMatch implements POST /reconciliation/validate (validate_match, dry run, no write).
func (h *APIHandler) handleValidateMatch(c *gin.Context) {
	var req matchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	env := h.facade.ValidateMatch(c.Request.Context(), req.InvoiceID, req.TransactionID, req.Amount)
	c.JSON(envelopeStatus(env), env)
}

// handleApplyMatch implements POST /reconciliation/apply (apply_match).
func (h *APIHandler) handleApplyMatch(c *gin.Context) {
	var req matchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	env := h.facade.ApplyMatch(c.Request.Context(), req.InvoiceID, req.TransactionID, req.Amount)
	if env.Success {
		h.broadcast("match_applied", env.Data)
	}
	c.JSON(envelopeStatus(env), env)
}

// handleApplyBatch implements POST /reconciliation/apply-batch (apply_batch).
func (h *APIHandler) handleApplyBatch(c *gin.Context) {
	var req struct {
		Pairs []ledger.MatchPair `json:"pairs" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	env := h.facade.ApplyBatch(c.Request.Context(), req.Pairs)
	if env.Success {
		h.broadcast("batch_applied", env.Data)
	}
	c.JSON(envelopeStatus(env), env)
}

// handleAutoReconcile implements POST /reconciliation/auto (auto_reconcile).
func (h *APIHandler) handleAutoReconcile(c *gin.Context) {
	var req struct {
		InvoiceIDs     []int64 `json:"invoiceIds"`
		TransactionIDs []int64 `json:"transactionIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	env := h.facade.AutoReconcile(c.Request.Context(), req.InvoiceIDs, req.TransactionIDs)
	if env.Success {
		h.broadcast("auto_reconciled", env.Data)
	}
	c.JSON(envelopeStatus(env), env)
}

// handleRecomputeAll triggers the whole-ledger recomputation sweep.
func (h *APIHandler) handleRecomputeAll(c *gin.Context) {
	env := h.facade.RecomputeAll(c.Request.Context())
	c.JSON(envelopeStatus(env), env)
}

// handleAnalytics implements GET /reconciliation/analytics.
func (h *APIHandler) handleAnalytics(c *gin.Context) {
	env := h.facade.ReconciliationAnalytics(c.Request.Context())
	c.JSON(envelopeStatus(env), env)
}

// handleClientReliability implements GET /clients/{id}/reliability.
func (h *APIHandler) handleClientReliability(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
		return
	}
	env := h.facade.ClientReliability(c.Request.Context(), id)
	c.JSON(envelopeStatus(env), env)
}

// handleManualSuggestion implements
// POST /reconciliation/manual-suggestion.
func (h *APIHandler) handleManualSuggestion(c *gin.Context) {
	var req struct {
		InvoiceID       int64   `json:"invoiceId" binding:"required"`
		TransactionID   int64   `json:"transactionId" binding:"required"`
		Amount          float64 `json:"amount" binding:"required"`
		ConfidenceLabel string  `json:"confidenceLabel" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	env := h.facade.ManualSuggestion(c.Request.Context(), req.InvoiceID, req.TransactionID, req.Amount, req.ConfidenceLabel)
	c.JSON(envelopeStatus(env), env)
}

func (h *APIHandler) handleUndoByTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
		return
	}
	env := h.facade.UndoReconciliation(c.Request.Context(), id)
	if env.Success {
		h.broadcast("reconciliation_undone", gin.H{"transactionId": id})
	}
	c.JSON(envelopeStatus(env), env)
}

func (h *APIHandler) handleUndoByInvoice(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
		return
	}
	env := h.facade.UndoReconciliationByInvoice(c.Request.Context(), id)
	if env.Success {
		h.broadcast("reconciliation_undone", gin.H{"invoiceId": id})
	}
	c.JSON(envelopeStatus(env), env)
}

func (h *APIHandler) handleIgnoreTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
		return
	}
	env := h.facade.IgnoreTransaction(c.Request.Context(), id)
	if env.Success {
		h.broadcast("transaction_ignored", gin.H{"transactionId": id})
	}
	c.JSON(envelopeStatus(env), env)
}

func (h *APIHandler) handleUnignoreTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
		return
	}
	env := h.facade.UnignoreTransaction(c.Request.Context(), id)
	c.JSON(envelopeStatus(env), env)
}

// broadcast pushes a reconciliation event to every connected dashboard
// client, tagged with a UUID so a client can deduplicate an event it
// already applied optimistically against the one the hub replays;
// a payload that fails to marshal is dropped without being sent or logged.
func (h *APIHandler) broadcast(event string, data interface{}) {
	if h.wsHub == nil {
		return
	}
	payload, err := json.Marshal(gin.H{"id": uuid.NewString(), "type": event, "data": data})
	if err != nil {
		return
	}
	h.wsHub.Broadcast(payload)
}

// envelopeStatus maps a facade.Envelope's error kind to an HTTP status
// — the HTTP layer switches on Kind, never on message content.
func envelopeStatus(env facade.Envelope) int {
	if env.Success || env.Error == nil {
		return http.StatusOK
	}
	switch env.Error.Kind {
	case "Validation":
		return http.StatusBadRequest
	case "NotFound":
		return http.StatusNotFound
	case "Conflict":
		return http.StatusConflict
	case "Transient":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// statusFor maps a raw store error to a status code for the plain read
// endpoints that bypass the facade envelope.
func statusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindValidation:
		return http.StatusBadRequest
	case core.KindConflict:
		return http.StatusConflict
	case core.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
