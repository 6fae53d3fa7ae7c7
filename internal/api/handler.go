package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"catering-service/internal/apperror"
	"catering-service/internal/service"
	"catering-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	csrfCookieName   = "csrf_token"
	csrfCookieMaxAge = 2 * 60 * 60
	readinessTimeout = 2 * time.Second
)

// CheckoutSubmitter is implemented by *service.CheckoutService
type CheckoutSubmitter interface {
	SubmitCheckout(ctx context.Context, req *service.CheckoutRequest, csrfCookie string) (*service.CheckoutResponse, error)
}

// NotificationHandler is implemented by *service.SettlementService
type NotificationHandler interface {
	HandleNotification(ctx context.Context, orderToken string) (*service.NotificationAck, error)
}

// TokenIssuer is implemented by *security.CSRFGuard
type TokenIssuer interface {
	Issue() (token, cookieValue string)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	checkout     CheckoutSubmitter
	settlement   NotificationHandler
	csrf         TokenIssuer
	dependencies map[string]Pinger
	secureCookie bool
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler. dependencies are pinged by /ready.
func NewHandler(
	checkout CheckoutSubmitter,
	settlement NotificationHandler,
	csrf TokenIssuer,
	dependencies map[string]Pinger,
	secureCookie bool,
) *Handler {
	return &Handler{
		checkout:     checkout,
		settlement:   settlement,
		csrf:         csrf,
		dependencies: dependencies,
		secureCookie: secureCookie,
		logger:       util.Logger("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/csrf", h.issueCSRFToken)
	router.POST("/checkout", h.submitCheckout)
	router.POST("/payment-notification", h.paymentNotification)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency and reports the ones that failed
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// issueCSRFToken hands out a token for the form and binds it in a cookie
func (h *Handler) issueCSRFToken(c *gin.Context) {
	token, cookieValue := h.csrf.Issue()

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(csrfCookieName, cookieValue, csrfCookieMaxAge, "/", "", h.secureCookie, true)
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"csrfToken": token})
}

// submitCheckout handles checkout submission
func (h *Handler) submitCheckout(c *gin.Context) {
	var req service.CheckoutRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_request",
			"message": "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	// a missing cookie is rejected by the service with the right error
	cookie, _ := c.Cookie(csrfCookieName)

	resp, err := h.checkout.SubmitCheckout(c.Request.Context(), &req, cookie)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type notificationRequest struct {
	OrderToken string `json:"orderToken"`
}

// paymentNotification handles status callbacks from the payment processor
func (h *Handler) paymentNotification(c *gin.Context) {
	var req notificationRequest

	if err := c.ShouldBindJSON(&req); err != nil || req.OrderToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "bad_request",
			"message": "orderToken is required",
		})
		return
	}

	ack, err := h.settlement.HandleNotification(c.Request.Context(), req.OrderToken)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ack)
}

// writeError renders err using its classification. Internal causes are
// logged but never sent to the client.
func (h *Handler) writeError(c *gin.Context, err error) {
	appErr := apperror.As(err)

	body := gin.H{
		"error":   appErr.Code(),
		"message": appErr.Message,
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	if appErr.Retryable() {
		body["retryable"] = true
	}
	if appErr.Kind == apperror.KindPriceMismatch || appErr.Kind == apperror.KindTotalMismatch {
		body["refreshCart"] = true
	}

	status := appErr.HTTPStatus()
	switch {
	case apperror.IsKind(err, apperror.KindUnavailable):
		h.logger.Warn("Request failed, client may retry",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	case status >= http.StatusInternalServerError:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}

	c.JSON(status, body)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
