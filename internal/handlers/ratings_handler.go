package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-student-marketplace/internal/auth"
	"github.com/imrishuroy/go-student-marketplace/internal/orders"
	"github.com/imrishuroy/go-student-marketplace/internal/ratings"
	"github.com/imrishuroy/go-student-marketplace/internal/validation"
)

var ratingErrors = []mapping{
	{ratings.ErrInvalidPoints, http.StatusBadRequest, "invalid_points"},
	{ratings.ErrSelfRating, http.StatusBadRequest, "self_rating"},
	{orders.ErrNotFound, http.StatusNotFound, "order_not_found"},
	{ratings.ErrNotYourOrder, http.StatusForbidden, "forbidden"},
	{ratings.ErrSellerNotInOrder, http.StatusBadRequest, "seller_not_in_order"},
	{ratings.ErrAlreadyRated, http.StatusConflict, "already_rated"},
}

func (h *Handler) registerRatingRoutes(r *gin.Engine, authed gin.HandlerFunc) {
	g := r.Group("/ratings")
	g.GET("/get", h.getRating)
	g.POST("/add", authed, h.addRating)
}

func ratingBody(r ratings.Rating) gin.H {
	return gin.H{
		"seller_id": r.SellerID,
		"points":    r.Points,
		"reviews":   r.Reviews,
		"rating":    r.Average(),
	}
}

func (h *Handler) getRating(c *gin.Context) {
	seller := c.Query("sellerId")
	if seller == "" {
		fail(c, http.StatusBadRequest, "missing_seller_id")
		return
	}
	r, err := h.cfg.Ratings.Get(c.Request.Context(), seller)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, ratingBody(r))
}

func (h *Handler) addRating(c *gin.Context) {
	var req validation.AddRatingRequest
	if !h.bind(c, &req) {
		return
	}
	r, err := h.cfg.Ratings.Submit(c.Request.Context(), auth.UserID(c), req.SellerID, req.OrderID, req.Points)
	if err != nil {
		respondError(c, err, ratingErrors...)
		return
	}
	c.JSON(http.StatusCreated, ratingBody(r))
}
