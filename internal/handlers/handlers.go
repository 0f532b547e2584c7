package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"plantscan/api/internal/apperr"
	"plantscan/api/internal/config"
	"plantscan/api/internal/middleware"
	"plantscan/api/internal/service"
)

// Dependencies are built by cmd/api. DB and Cache are nil when the process
// runs on the in-memory store or without redis.
type Dependencies struct {
	Log         zerolog.Logger
	Config      *config.AppConfig
	Auth        *service.AuthService
	Users       *service.UserService
	Entitlement *service.EntitlementService
	Windows     middleware.WindowCounter
	DB          *pgxpool.Pool
	Cache       *redis.Client
}

type HandlerSet struct {
	log         zerolog.Logger
	cfg         *config.AppConfig
	auth        *service.AuthService
	users       *service.UserService
	entitlement *service.EntitlementService
	windows     middleware.WindowCounter
	db          *pgxpool.Pool
	cache       *redis.Client
}

func NewHandlerSet(deps Dependencies) HandlerSet {
	useJSONFieldNames()

	return HandlerSet{
		log:         deps.Log,
		cfg:         deps.Config,
		auth:        deps.Auth,
		users:       deps.Users,
		entitlement: deps.Entitlement,
		windows:     deps.Windows,
		db:          deps.DB,
		cache:       deps.Cache,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/health", h.Health)

	// Gateway redeliveries arrive in bursts from a few addresses. The webhook
	// is authenticated by signature and stays outside the per-IP limits.
	router.POST("/api/payments/webhook", middleware.WebhookSignature(h.cfg.Payments.SecretKey, h.log), h.PaymentWebhook)

	limits := h.cfg.RateLimit
	api := router.Group("/api")
	api.Use(middleware.RateLimit(h.windows, "global", limits.Max, limits.Window, h.log))

	requireAuth := middleware.Auth(h.auth)
	requireSelf := middleware.RequireSelf("userId")

	auth := api.Group("/auth")
	if limits.AuthMax > 0 {
		auth.Use(middleware.RateLimit(h.windows, "auth", limits.AuthMax, limits.Window, h.log))
	}
	{
		auth.POST("/signup", h.SignUp)
		auth.POST("/signin", h.SignIn)
		auth.POST("/reset-password", h.RequestPasswordReset)
		auth.POST("/reset-password-confirm", h.ConfirmPasswordReset)
		auth.POST("/signout", requireAuth, h.SignOut)
		auth.GET("/me", requireAuth, h.Me)
	}

	users := api.Group("/users/:userId", requireAuth, requireSelf)
	{
		users.GET("", h.GetUser)
		users.PATCH("", h.UpdateUser)
		users.POST("/avatar", h.PresignAvatar)
	}

	subs := api.Group("/subscriptions", requireAuth)
	{
		subs.GET("/active/:userId", requireSelf, h.ActiveSubscription)
		subs.POST("", h.CreateSubscription)
		subs.POST("/cancel", h.CancelSubscription)
	}

	scans := api.Group("/scans/:userId", requireAuth, requireSelf)
	{
		scans.POST("/reserve", h.ReserveScan)
		scans.GET("/:date", h.GetScanCount)
		scans.POST("/:date/increment", h.IncrementScan)
		scans.POST("/:date/release", h.ReleaseScan)
	}

	api.GET("/entitlements/:userId", requireAuth, requireSelf, h.Entitlements)

	api.POST("/payments/verify", requireAuth, h.VerifyPayment)
}

// respondError writes err as {"error": message}. Errors that are not
// classified are logged and hidden behind a generic 500.
func (h HandlerSet) respondError(c *gin.Context, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		_ = c.Error(err)
		h.log.Error().
			Err(err).
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Str("request_id", middleware.GetRequestID(c)).
			Msg("request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	body := gin.H{"error": appErr.Message}
	if appErr.Retryable {
		body["retryable"] = true
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(appErr), body)
}

func (h HandlerSet) principal(c *gin.Context) (service.Principal, bool) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		h.respondError(c, service.ErrUnauthenticated)
	}
	return principal, ok
}

// bindJSON decodes the body into dst and answers 400 when it is malformed or
// misses a required field.
func (h HandlerSet) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.respondError(c, bindingError(err))
		return false
	}
	return true
}

func bindingError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Validation("invalid request body")
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return apperr.Validation(fmt.Sprintf("%s is required", fe.Field()))
	case "oneof":
		return apperr.Validation(fmt.Sprintf("%s must be one of %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", ")))
	default:
		return apperr.Validation(fmt.Sprintf("invalid %s", fe.Field()))
	}
}

var fieldNamesOnce sync.Once

// useJSONFieldNames makes binding errors name fields the way clients send them.
func useJSONFieldNames() {
	fieldNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
}
