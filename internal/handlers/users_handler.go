package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-student-marketplace/internal/auth"
	"github.com/imrishuroy/go-student-marketplace/internal/users"
	"github.com/imrishuroy/go-student-marketplace/internal/validation"
)

var userErrors = []mapping{
	{users.ErrNotFound, http.StatusNotFound, "user_not_found"},
	{users.ErrUsernameTaken, http.StatusConflict, "username_taken"},
	{users.ErrNoChanges, http.StatusBadRequest, "no_changes"},
}

func (h *Handler) registerUserRoutes(r *gin.Engine, authed gin.HandlerFunc) {
	g := r.Group("/users")
	g.POST("/register", h.register)
	g.POST("/login", h.login)
	g.POST("/logout", authed, h.logout)
	g.GET("/me", authed, h.me)
	g.PUT("/update", authed, h.updateUser)
	g.POST("/add_balance", authed, h.addBalance)
	g.GET("/get_bal", authed, h.getBalance)
	g.POST("/donation", authed, h.donation)
}

func (h *Handler) register(c *gin.Context) {
	var req validation.RegisterRequest
	if !h.bind(c, &req) {
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		internalError(c, err)
		return
	}
	u, err := h.cfg.Users.Create(c.Request.Context(), req.Username, req.Usermail, hash)
	if err != nil {
		respondError(c, err, userErrors...)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) login(c *gin.Context) {
	var req validation.LoginRequest
	if !h.bind(c, &req) {
		return
	}
	u, err := h.cfg.Users.GetByUsername(c.Request.Context(), req.Username)
	if errors.Is(err, users.ErrNotFound) {
		fail(c, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		fail(c, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, s, err := h.cfg.Tokens.Issue(u.UserID)
	if err != nil {
		internalError(c, err)
		return
	}
	auth.SetCookie(c, token, h.cfg.Tokens.TTL(), h.cfg.CookieSecure)
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": s.ExpiresAt,
		"user":       u,
	})
}

func (h *Handler) logout(c *gin.Context) {
	s, _ := auth.SessionFrom(c)
	if err := h.cfg.Revocations.Revoke(c.Request.Context(), s.TokenID, s.ExpiresAt); err != nil {
		internalError(c, err)
		return
	}
	auth.ClearCookie(c, h.cfg.CookieSecure)
	c.Status(http.StatusNoContent)
}

func (h *Handler) me(c *gin.Context) {
	u, err := h.cfg.Users.Get(c.Request.Context(), auth.UserID(c))
	if err != nil {
		respondError(c, err, userErrors...)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) updateUser(c *gin.Context) {
	var req validation.UpdateUserRequest
	if !h.bind(c, &req) {
		return
	}
	ch := users.Changes{Usermail: req.Email, About: req.About}
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			internalError(c, err)
			return
		}
		ch.PasswordHash = hash
	}
	u, err := h.cfg.Users.Update(c.Request.Context(), auth.UserID(c), ch)
	if err != nil {
		respondError(c, err, userErrors...)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) addBalance(c *gin.Context) {
	var req validation.AddBalanceRequest
	if !h.bind(c, &req) {
		return
	}
	balance, err := h.cfg.Users.AddBalance(c.Request.Context(), auth.UserID(c), req.Amount)
	if err != nil {
		respondError(c, err, userErrors...)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// getBalance keeps the userId query parameter for old clients but only answers for the caller.
func (h *Handler) getBalance(c *gin.Context) {
	caller := auth.UserID(c)
	if q := c.Query("userId"); q != "" && q != caller {
		fail(c, http.StatusForbidden, "forbidden")
		return
	}
	balance, err := h.cfg.Users.Balance(c.Request.Context(), caller)
	if err != nil {
		respondError(c, err, userErrors...)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (h *Handler) donation(c *gin.Context) {
	if err := h.cfg.Users.SetDonor(c.Request.Context(), auth.UserID(c)); err != nil {
		respondError(c, err, userErrors...)
		return
	}
	c.JSON(http.StatusOK, gin.H{"donor": true})
}
