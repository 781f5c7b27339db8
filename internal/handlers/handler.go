package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-student-marketplace/internal/auth"
	"github.com/imrishuroy/go-student-marketplace/internal/checkout"
	"github.com/imrishuroy/go-student-marketplace/internal/idempotency"
	"github.com/imrishuroy/go-student-marketplace/internal/items"
	"github.com/imrishuroy/go-student-marketplace/internal/notify"
	"github.com/imrishuroy/go-student-marketplace/internal/orders"
	"github.com/imrishuroy/go-student-marketplace/internal/ratings"
	"github.com/imrishuroy/go-student-marketplace/internal/requests"
	"github.com/imrishuroy/go-student-marketplace/internal/users"
	"github.com/imrishuroy/go-student-marketplace/internal/validation"
)

// HandlerConfig groups the dependencies of the HTTP API.
type HandlerConfig struct {
	Users        *users.Store
	Items        *items.Store
	Requests     *requests.Store
	Orders       *orders.Store
	Ratings      *ratings.Service
	Checkout     *checkout.Service
	Idempotency  *idempotency.Store
	Mailer       notify.Sender
	Tokens       *auth.Tokens
	Revocations  auth.Revocations
	CookieSecure bool
	CORSOrigins  []string
}

// Handler serves every route of the marketplace API.
type Handler struct {
	cfg HandlerConfig
	v   *validatorv10.Validate
}

func New(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg, v: validation.New()}
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(), CORS(h.cfg.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := auth.Middleware(h.cfg.Tokens, h.cfg.Revocations)
	h.registerUserRoutes(r, authed)
	h.registerItemRoutes(r, authed)
	h.registerPurchaseRequestRoutes(r, authed)
	h.registerOrderRoutes(r, authed)
	h.registerRatingRoutes(r, authed)
	h.registerEmailRoutes(r, authed)
	return r
}

func (h *Handler) bind(c *gin.Context, out interface{}) bool {
	return validation.BindAndValidate(c, out, h.v) == nil
}

func fail(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

func internalError(c *gin.Context, err error) {
	slog.Error("request failed",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"request_id", c.GetString(ctxRequestID),
		"error", err,
	)
	fail(c, http.StatusInternalServerError, "internal_server_error")
}

// mapping pairs a sentinel with the status and code it is answered with.
type mapping struct {
	err    error
	status int
	code   string
}

// respondError answers err with the first matching mapping, or a logged 500.
func respondError(c *gin.Context, err error, table ...mapping) {
	for _, m := range table {
		if errors.Is(err, m.err) {
			fail(c, m.status, m.code)
			return
		}
	}
	internalError(c, err)
}
