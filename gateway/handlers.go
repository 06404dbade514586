// Package gateway is the HTTP edge: it parses transport callbacks, drives the
// lifecycle controller, and maps domain errors to status codes.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"escrowflow/auth"
	"escrowflow/escrow"
	"escrowflow/metrics"
	"escrowflow/notify"
	"escrowflow/token"
)

// Lifecycle is the slice of the controller the handlers drive.
type Lifecycle interface {
	SubmitForm(ctx context.Context, chatRef, creatorID string, form escrow.Form) (escrow.Submission, error)
	HandleAction(ctx context.Context, req escrow.ActionRequest) (escrow.ActionResult, error)
	IssueStepToken(ctx context.Context, escrowCode, action, partyID string) (token.Token, error)
	ResolveDispute(ctx context.Context, code string, resolution escrow.Resolution, adminID string) (escrow.ActionResult, error)
}

// Reader serves the read-only views.
type Reader interface {
	GetByCode(ctx context.Context, code string) (escrow.Escrow, error)
	List(ctx context.Context, filters escrow.ListFilters) ([]escrow.Escrow, int, error)
	Log(ctx context.Context, escrowID string) ([]escrow.LogEntry, error)
}

// Handler provides the HTTP endpoints.
type Handler struct {
	lifecycle Lifecycle
	reader    Reader
	auth      *auth.Service
}

func NewHandler(lifecycle Lifecycle, reader Reader, authSvc *auth.Service) *Handler {
	return &Handler{lifecycle: lifecycle, reader: reader, auth: authSvc}
}

// RegisterRoutes sets up the public escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.CreateEscrow)
	r.GET("/escrows/:code", h.GetEscrow)
	r.POST("/escrows/:code/tokens", h.IssueToken)
	r.POST("/callbacks", h.Callback)
	r.POST("/auth/login", h.Login)
}

// RegisterOperatorRoutes sets up the token-authenticated operator routes.
func (h *Handler) RegisterOperatorRoutes(r *gin.RouterGroup) {
	r.Use(auth.Middleware(h.auth))
	r.GET("/escrows", h.ListEscrows)
	r.GET("/escrows/:code/log", h.EscrowLog)
	r.POST("/escrows/:code/resolve", h.ResolveDispute)
}

// ParseCallback splits the transport callback data "action|escrow_code|token".
func ParseCallback(data string) (action, escrowCode, tok string, err error) {
	parts := strings.Split(data, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("gateway: malformed callback data")
	}
	return parts[0], parts[1], parts[2], nil
}

// CreateEscrowRequest is the body for POST /v1/escrows. Form carries the raw
// eight-line deal form exactly as the user typed it.
type CreateEscrowRequest struct {
	ChatRef   string `json:"chat_ref" binding:"required"`
	CreatorID string `json:"creator_id" binding:"required"`
	Form      string `json:"form" binding:"required"`
}

// CreateEscrow handles POST /v1/escrows.
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	form, err := escrow.ParseForm(req.Form)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_form",
			"message": err.Error(),
		})
		return
	}

	sub, err := h.lifecycle.SubmitForm(c.Request.Context(), req.ChatRef, req.CreatorID, form)
	if err != nil {
		h.domainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"escrow": escrowView(sub.Escrow),
		"tokens": gin.H{
			"buyer_agree":     tokenView(sub.Tokens.BuyerAgree),
			"seller_agree":    tokenView(sub.Tokens.SellerAgree),
			"buyer_disagree":  tokenView(sub.Tokens.BuyerDisagree),
			"seller_disagree": tokenView(sub.Tokens.SellerDisagree),
		},
	})
}

// GetEscrow handles GET /v1/escrows/:code.
func (h *Handler) GetEscrow(c *gin.Context) {
	esc, err := h.reader.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.domainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": escrowView(esc)})
}

// IssueTokenRequest is the body for POST /v1/escrows/:code/tokens.
type IssueTokenRequest struct {
	Action  string `json:"action" binding:"required"`
	PartyID string `json:"party_id" binding:"required"`
}

// IssueToken mints a follow-up action token for one party of an escrow.
func (h *Handler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	tok, err := h.lifecycle.IssueStepToken(c.Request.Context(), c.Param("code"), req.Action, req.PartyID)
	if err != nil {
		h.domainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": tokenView(tok)})
}

// CallbackRequest is the body for POST /v1/callbacks. Data is the opaque
// button payload in the form "action|escrow_code|token".
type CallbackRequest struct {
	Data    string `json:"data" binding:"required"`
	PartyID string `json:"party_id" binding:"required"`
	ChatRef string `json:"chat_ref"`
}

// Callback handles one pressed button: parse, drive the lifecycle, answer.
func (h *Handler) Callback(c *gin.Context) {
	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	action, code, tok, err := ParseCallback(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_callback",
			"message": "callback data must be action|escrow_code|token",
		})
		return
	}

	res, err := h.lifecycle.HandleAction(c.Request.Context(), escrow.ActionRequest{
		Action:     action,
		EscrowCode: code,
		Token:      tok,
		PartyID:    req.PartyID,
		ChatRef:    req.ChatRef,
	})
	if err != nil {
		metrics.Actions.WithLabelValues(action, "denied").Inc()
		h.domainError(c, err)
		return
	}

	metrics.Actions.WithLabelValues(action, string(res.Outcome)).Inc()
	if res.Outcome == escrow.OutcomeStateChanged {
		metrics.Transitions.WithLabelValues(string(res.From), string(res.To)).Inc()
	}

	body := gin.H{
		"outcome": string(res.Outcome),
		"escrow":  escrowView(res.Escrow),
	}
	if len(res.WaitingOn) > 0 {
		body["waiting_on"] = res.WaitingOn
	}
	c.JSON(http.StatusOK, body)
}

// LoginRequest is the body for POST /v1/auth/login.
type LoginRequest struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates an operator and returns a bearer token.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	tok, err := h.auth.Login(req.Name, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_credentials",
				"message": "Wrong operator name or password",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}

// ListEscrows handles GET /v1/operator/escrows.
func (h *Handler) ListEscrows(c *gin.Context) {
	filters := escrow.ListFilters{
		State: escrow.State(c.Query("state")),
	}
	if filters.State != "" && !escrow.ValidState(filters.State) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_state",
			"message": "Unknown escrow state " + string(filters.State),
		})
		return
	}
	filters.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filters.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	escrows, total, err := h.reader.List(c.Request.Context(), filters)
	if err != nil {
		h.domainError(c, err)
		return
	}

	views := make([]gin.H, len(escrows))
	for i, e := range escrows {
		views[i] = escrowView(e)
	}
	c.JSON(http.StatusOK, gin.H{"escrows": views, "total": total})
}

// EscrowLog handles GET /v1/operator/escrows/:code/log.
func (h *Handler) EscrowLog(c *gin.Context) {
	esc, err := h.reader.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.domainError(c, err)
		return
	}

	entries, err := h.reader.Log(c.Request.Context(), esc.ID)
	if err != nil {
		h.domainError(c, err)
		return
	}

	views := make([]gin.H, len(entries))
	for i, entry := range entries {
		views[i] = gin.H{
			"actor_id":   entry.ActorID,
			"action":     entry.Action,
			"payload":    json.RawMessage(entry.Payload),
			"created_at": entry.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"escrow_code": esc.Code, "log": views})
}

// ResolveRequest is the body for POST /v1/operator/escrows/:code/resolve.
type ResolveRequest struct {
	Resolution string `json:"resolution" binding:"required"`
}

// ResolveDispute applies an operator decision to a disputed escrow.
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	operator, _ := auth.Operator(c)
	res, err := h.lifecycle.ResolveDispute(c.Request.Context(), c.Param("code"),
		escrow.Resolution(req.Resolution), operator)
	if err != nil {
		h.domainError(c, err)
		return
	}

	if res.Outcome == escrow.OutcomeStateChanged {
		metrics.Transitions.WithLabelValues(string(res.From), string(res.To)).Inc()
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome": string(res.Outcome),
		"escrow":  escrowView(res.Escrow),
	})
}

// domainError maps lifecycle errors onto HTTP responses. Denials carry their
// reason; invalid transitions read as "no longer available" because the
// button usually refers to a state the escrow already left.
func (h *Handler) domainError(c *gin.Context, err error) {
	if reason, ok := token.Denied(err); ok {
		metrics.Denials.WithLabelValues(string(reason)).Inc()
		c.JSON(http.StatusConflict, gin.H{
			"error":   "denied",
			"reason":  string(reason),
			"message": notify.DenialMessage(string(reason)),
		})
		return
	}

	var unauthorized *escrow.UnauthorizedError
	if errors.As(err, &unauthorized) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": unauthorized.Error(),
		})
		return
	}

	var invalid *escrow.InvalidTransitionError
	if errors.As(err, &invalid) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": "This action is no longer available.",
		})
		return
	}

	switch {
	case errors.Is(err, escrow.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No such escrow",
		})
	case errors.Is(err, escrow.ErrUnknownAction):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unknown_action",
			"message": "Unknown action",
		})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "storage_failure",
			"message": "Could not complete the action, try again.",
		})
	}
}

func escrowView(e escrow.Escrow) gin.H {
	return gin.H{
		"code":              e.Code,
		"chat_ref":          e.ChatRef,
		"buyer_id":          e.BuyerID,
		"seller_id":         e.SellerID,
		"deal_title":        e.DealTitle,
		"amount":            e.Amount,
		"fee_amount":        e.FeeAmount,
		"delivery_deadline": e.DeliveryDeadline,
		"state":             string(e.State),
		"created_at":        e.CreatedAt,
		"updated_at":        e.UpdatedAt,
	}
}

func tokenView(t token.Token) gin.H {
	return gin.H{
		"id":         t.ID,
		"action":     t.Action,
		"party_id":   t.PartyID,
		"expires_at": t.ExpiresAt,
	}
}
