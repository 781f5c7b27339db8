package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-student-marketplace/internal/auth"
	"github.com/imrishuroy/go-student-marketplace/internal/idempotency"
	"github.com/imrishuroy/go-student-marketplace/internal/requests"
	"github.com/imrishuroy/go-student-marketplace/internal/validation"
)

const purchaseRequestScope = "purchase_request"

var requestErrors = []mapping{
	{requests.ErrNotFound, http.StatusNotFound, "request_not_found"},
	{requests.ErrForbidden, http.StatusForbidden, "forbidden"},
	{requests.ErrStatusMismatch, http.StatusConflict, "status_conflict"},
	{requests.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
}

func (h *Handler) registerPurchaseRequestRoutes(r *gin.Engine, authed gin.HandlerFunc) {
	g := r.Group("/purchase-requests", authed)
	g.POST("", h.createPurchaseRequest)
	g.GET("/buyer", h.buyerRequests)
	g.GET("/seller", h.sellerRequests)
	g.GET("/:id", h.getPurchaseRequest)
	g.PATCH("/:id/status", h.setRequestStatus)
	g.PATCH("/:id/ordered", h.setRequestOrdered)
}

// createPurchaseRequest honours an optional Idempotency-Key header so a double
// submit returns the first request instead of creating a second one.
func (h *Handler) createPurchaseRequest(c *gin.Context) {
	ctx := c.Request.Context()
	var req validation.CreatePurchaseRequest
	if !h.bind(c, &req) {
		return
	}
	buyer := auth.UserID(c)

	it, err := h.cfg.Items.Get(ctx, req.ItemID)
	if err != nil {
		respondError(c, err, itemErrors...)
		return
	}
	switch {
	case req.SellerID != "" && req.SellerID != it.OwnerID:
		fail(c, http.StatusBadRequest, "seller_mismatch")
		return
	case it.OwnerID == buyer:
		fail(c, http.StatusBadRequest, "own_item")
		return
	case !it.Available:
		fail(c, http.StatusConflict, "item_unavailable")
		return
	}

	pr := requests.PurchaseRequest{
		RequestID: uuid.NewString(),
		ItemID:    it.ItemID,
		BuyerID:   buyer,
		SellerID:  it.OwnerID,
		Quantity:  req.Quantity,
	}

	clientKey := c.GetHeader("Idempotency-Key")
	if clientKey == "" {
		created, err := h.cfg.Requests.Create(ctx, pr)
		if err != nil {
			internalError(c, err)
			return
		}
		writeCreatedRequest(c, created)
		return
	}

	idemKey := idempotency.Key(purchaseRequestScope+":"+buyer, clientKey)
	if done := h.claimKey(c, idemKey, pr.RequestID); done {
		return
	}

	created, err := h.cfg.Requests.Create(ctx, pr)
	if err != nil {
		if ferr := h.cfg.Idempotency.MarkFailed(ctx, idemKey, fmt.Sprintf("create_failed: %v", err)); ferr != nil {
			slog.Warn("failed to mark idempotency record failed", "key", idemKey, "error", ferr)
		}
		internalError(c, err)
		return
	}
	body, err := json.Marshal(created)
	if err != nil {
		internalError(c, err)
		return
	}
	if err := h.cfg.Idempotency.MarkDone(ctx, idemKey, string(body), http.StatusCreated); err != nil {
		slog.Warn("failed to mark idempotency record done", "key", idemKey, "error", err)
	}
	c.Header("Location", "/purchase-requests/"+created.RequestID)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

// claimKey reserves idemKey for this attempt. It returns true when the response
// has already been written (replay, in progress or conflict).
func (h *Handler) claimKey(c *gin.Context, idemKey, resourceID string) bool {
	ctx := c.Request.Context()
	created, err := h.cfg.Idempotency.CreateIfNotExists(ctx, idemKey, purchaseRequestScope, resourceID)
	if err != nil {
		internalError(c, err)
		return true
	}
	if created {
		return false
	}

	rec, err := h.cfg.Idempotency.Get(ctx, idemKey)
	if err != nil {
		internalError(c, err)
		return true
	}
	if rec == nil {
		internalError(c, errors.New("idempotency record vanished after conditional failure"))
		return true
	}
	switch rec.Status {
	case idempotency.StatusDone:
		c.Header("Location", "/purchase-requests/"+rec.ResourceID)
		c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
		return true
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "request_id": rec.ResourceID})
		return true
	case idempotency.StatusFailed:
		err := h.cfg.Idempotency.Reclaim(ctx, idemKey, resourceID)
		if errors.Is(err, idempotency.ErrConditionFailed) {
			fail(c, http.StatusConflict, "idempotency_conflict")
			return true
		}
		if err != nil {
			internalError(c, err)
			return true
		}
		return false
	default:
		fail(c, http.StatusInternalServerError, "unknown_idempotency_status")
		return true
	}
}

func writeCreatedRequest(c *gin.Context, pr *requests.PurchaseRequest) {
	c.Header("Location", "/purchase-requests/"+pr.RequestID)
	c.JSON(http.StatusCreated, pr)
}

func (h *Handler) buyerRequests(c *gin.Context) {
	list, err := h.cfg.Requests.ListByBuyer(c.Request.Context(), auth.UserID(c))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": list})
}

func (h *Handler) sellerRequests(c *gin.Context) {
	list, err := h.cfg.Requests.ListBySeller(c.Request.Context(), auth.UserID(c))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": list})
}

func (h *Handler) getPurchaseRequest(c *gin.Context) {
	pr, err := h.cfg.Requests.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, requestErrors...)
		return
	}
	if caller := auth.UserID(c); pr.BuyerID != caller && pr.SellerID != caller {
		fail(c, http.StatusForbidden, "forbidden")
		return
	}
	c.JSON(http.StatusOK, pr)
}

func (h *Handler) setRequestStatus(c *gin.Context) {
	var req validation.UpdateStatusRequest
	if !h.bind(c, &req) {
		return
	}
	pr, err := h.cfg.Requests.SetStatus(c.Request.Context(), c.Param("id"), auth.UserID(c), req.Status)
	if err != nil {
		respondError(c, err, requestErrors...)
		return
	}
	c.JSON(http.StatusOK, pr)
}

func (h *Handler) setRequestOrdered(c *gin.Context) {
	var req validation.UpdateOrderedRequest
	if !h.bind(c, &req) {
		return
	}
	pr, err := h.cfg.Requests.SetOrdered(c.Request.Context(), c.Param("id"), auth.UserID(c), *req.Ordered)
	if err != nil {
		respondError(c, err, requestErrors...)
		return
	}
	c.JSON(http.StatusOK, pr)
}
