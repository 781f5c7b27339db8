package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-student-marketplace/internal/auth"
	"github.com/imrishuroy/go-student-marketplace/internal/checkout"
	"github.com/imrishuroy/go-student-marketplace/internal/orders"
	"github.com/imrishuroy/go-student-marketplace/internal/validation"
)

var checkoutErrors = []mapping{
	{checkout.ErrMissingIdempotencyKey, http.StatusBadRequest, "missing_idempotency_key"},
	{checkout.ErrInvalidCart, http.StatusBadRequest, "invalid_cart"},
	{checkout.ErrCartTooLarge, http.StatusBadRequest, "cart_too_large"},
	{checkout.ErrNotFound, http.StatusNotFound, "not_found"},
	{checkout.ErrForbidden, http.StatusForbidden, "forbidden"},
	{checkout.ErrOwnItem, http.StatusBadRequest, "own_item"},
	{checkout.ErrInsufficientBalance, http.StatusPaymentRequired, "insufficient_balance"},
	{checkout.ErrItemUnavailable, http.StatusConflict, "item_unavailable"},
	{checkout.ErrRequestConflict, http.StatusConflict, "request_conflict"},
	{checkout.ErrInProgress, http.StatusConflict, "checkout_in_progress"},
	{checkout.ErrConflict, http.StatusConflict, "transaction_conflict"},
}

func (h *Handler) registerOrderRoutes(r *gin.Engine, authed gin.HandlerFunc) {
	g := r.Group("/orders", authed)
	g.POST("/add", h.checkout)
	g.GET("/get", h.buyerOrders)
	g.GET("/find", h.sellerOrders)
	g.GET("/:id", h.getOrder)
}

// checkout settles the caller's cart. Replays of the same Idempotency-Key return
// the stored response byte for byte.
func (h *Handler) checkout(c *gin.Context) {
	var req validation.CheckoutRequest
	if !h.bind(c, &req) {
		return
	}
	idemKey := c.GetHeader("Idempotency-Key")
	if idemKey == "" {
		fail(c, http.StatusBadRequest, "missing_idempotency_key")
		return
	}

	lines := make([]checkout.Line, 0, len(req.Items))
	for _, l := range req.Items {
		lines = append(lines, checkout.Line{
			ItemID:            l.ItemID,
			PurchaseRequestID: l.PurchaseRequestID,
			Quantity:          l.Quantity,
		})
	}
	res, err := h.cfg.Checkout.Checkout(c.Request.Context(), checkout.Request{
		BuyerID:         auth.UserID(c),
		IdempotencyKey:  idemKey,
		CorrelationID:   c.GetString(ctxRequestID),
		DeliveryAddress: req.DeliveryAddress,
		Lines:           lines,
	})
	if err != nil {
		respondError(c, err, checkoutErrors...)
		return
	}
	c.Header("Location", "/orders/"+res.OrderID)
	if res.Replayed {
		c.Header("Idempotent-Replayed", "true")
	}
	c.Data(res.Status, "application/json; charset=utf-8", res.Body)
}

func (h *Handler) buyerOrders(c *gin.Context) {
	list, err := h.cfg.Orders.ListByUser(c.Request.Context(), auth.UserID(c))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (h *Handler) sellerOrders(c *gin.Context) {
	list, err := h.cfg.Orders.ListBySeller(c.Request.Context(), auth.UserID(c))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// getOrder shows the whole order to its buyer and only their own lines to a seller.
func (h *Handler) getOrder(c *gin.Context) {
	o, err := h.cfg.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, mapping{orders.ErrNotFound, http.StatusNotFound, "order_not_found"})
		return
	}
	caller := auth.UserID(c)
	if o.UserID == caller {
		c.JSON(http.StatusOK, o)
		return
	}
	if lines := o.BySeller()[caller]; len(lines) > 0 {
		c.JSON(http.StatusOK, orders.SellerView{OrderID: o.OrderID, OrderNumber: o.OrderNumber, Items: lines})
		return
	}
	fail(c, http.StatusNotFound, "order_not_found")
}
