package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-student-marketplace/internal/auth"
	"github.com/imrishuroy/go-student-marketplace/internal/items"
	"github.com/imrishuroy/go-student-marketplace/internal/validation"
)

var itemErrors = []mapping{
	{items.ErrNotFound, http.StatusNotFound, "item_not_found"},
	{items.ErrForbidden, http.StatusForbidden, "forbidden"},
	{items.ErrConflict, http.StatusConflict, "item_conflict"},
	{items.ErrNoChanges, http.StatusBadRequest, "no_changes"},
}

func (h *Handler) registerItemRoutes(r *gin.Engine, authed gin.HandlerFunc) {
	g := r.Group("/items")
	g.GET("/all", h.listItems)
	g.GET("/mine", authed, h.myItems)
	g.GET("/:id", h.getItem)
	g.POST("/add", authed, h.addItem)
	g.PUT("/:id", authed, h.updateItem)
	g.POST("/add_comment", authed, h.addComments)
	g.PUT("/make_unavailable", authed, h.makeUnavailable)
}

func (h *Handler) listItems(c *gin.Context) {
	list, err := h.cfg.Items.List(c.Request.Context(), c.Query("include_unavailable") != "true")
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

func (h *Handler) myItems(c *gin.Context) {
	list, err := h.cfg.Items.ListByOwner(c.Request.Context(), auth.UserID(c))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

func (h *Handler) getItem(c *gin.Context) {
	it, err := h.cfg.Items.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, itemErrors...)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (h *Handler) addItem(c *gin.Context) {
	var req validation.CreateItemRequest
	if !h.bind(c, &req) {
		return
	}
	it, err := h.cfg.Items.Create(c.Request.Context(), items.Item{
		Name:      req.Name,
		Category:  req.Category,
		Condition: req.Condition,
		Grade:     req.Grade,
		Subject:   req.Subject,
		Price:     req.Price,
		Images:    req.Images,
		OwnerID:   auth.UserID(c),
		Available: true,
	})
	if err != nil {
		internalError(c, err)
		return
	}
	c.Header("Location", "/items/"+it.ItemID)
	c.JSON(http.StatusCreated, it)
}

func (h *Handler) updateItem(c *gin.Context) {
	var req validation.UpdateItemRequest
	if !h.bind(c, &req) {
		return
	}
	it, err := h.cfg.Items.Update(c.Request.Context(), c.Param("id"), auth.UserID(c), items.Patch{
		Name:      req.Name,
		Category:  req.Category,
		Condition: req.Condition,
		Grade:     req.Grade,
		Subject:   req.Subject,
		Price:     req.Price,
		Images:    req.Images,
	})
	if err != nil {
		respondError(c, err, itemErrors...)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (h *Handler) addComments(c *gin.Context) {
	var req validation.AddCommentsRequest
	if !h.bind(c, &req) {
		return
	}
	batch := make([]items.Comment, 0, len(req.Comments))
	for _, e := range req.Comments {
		batch = append(batch, items.Comment{ItemID: e.ItemID, Text: e.Comment})
	}
	results, err := h.cfg.Items.AddComments(c.Request.Context(), batch)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *Handler) makeUnavailable(c *gin.Context) {
	var req validation.MakeUnavailableRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.cfg.Items.MakeUnavailable(c.Request.Context(), auth.UserID(c), req.ItemIDs); err != nil {
		respondError(c, err, itemErrors...)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_ids": req.ItemIDs, "available": false})
}
