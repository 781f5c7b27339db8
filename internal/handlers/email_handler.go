package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-student-marketplace/internal/auth"
	"github.com/imrishuroy/go-student-marketplace/internal/notify"
	"github.com/imrishuroy/go-student-marketplace/internal/validation"
)

func (h *Handler) registerEmailRoutes(r *gin.Engine, authed gin.HandlerFunc) {
	g := r.Group("/email", authed)
	g.POST("/text", h.textEmail)
	g.POST("/html", h.htmlEmail)
}

func (h *Handler) textEmail(c *gin.Context) {
	var req validation.TextEmailRequest
	if !h.bind(c, &req) {
		return
	}
	h.emailSeller(c, req.SellerID, notify.Message{Subject: req.Subject, Text: req.Text})
}

func (h *Handler) htmlEmail(c *gin.Context) {
	var req validation.HTMLEmailRequest
	if !h.bind(c, &req) {
		return
	}
	h.emailSeller(c, req.SellerID, notify.Message{Subject: req.Subject, HTML: req.HTML})
}

// emailSeller resolves the recipient server side; clients never supply an address.
func (h *Handler) emailSeller(c *gin.Context, sellerID string, msg notify.Message) {
	ctx := c.Request.Context()
	sender, err := h.cfg.Users.Get(ctx, auth.UserID(c))
	if err != nil {
		respondError(c, err, userErrors...)
		return
	}
	seller, err := h.cfg.Users.Get(ctx, sellerID)
	if err != nil {
		respondError(c, err, userErrors...)
		return
	}
	msg.To = seller.Usermail
	msg.Subject = fmt.Sprintf("[%s] %s", sender.Username, msg.Subject)

	id, err := h.cfg.Mailer.Send(ctx, msg)
	if err != nil {
		slog.Error("email send failed", "seller_id", sellerID, "error", err)
		fail(c, http.StatusBadGateway, "email_failed")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message_id": id})
}
