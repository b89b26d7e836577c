package httpapi

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/service"
)

const (
	actorKey     = "actor"
	maxBodyBytes = 1 << 20
)

var validate = newValidator()

// newValidator reports field errors under their json names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type Options struct {
	AllowedOrigin string
	// UploadDir, when set, is served read-only under /uploads.
	UploadDir string
	Release   bool
}

type API struct {
	service      *service.Service
	auth         *AuthManager
	opts         Options
	loginLimiter *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if strings.TrimSpace(opts.AllowedOrigin) == "" {
		opts.AllowedOrigin = "*"
	}
	return &API{
		service:      svc,
		auth:         auth,
		opts:         opts,
		loginLimiter: newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func (a *API) Handler() http.Handler {
	if a.opts.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(requestLogger(), recovery(), securityHeaders(), limitBody())
	r.Use(cors.New(a.corsConfig()))

	r.GET("/healthz", a.handleHealth)
	if a.opts.UploadDir != "" {
		r.Static("/uploads", a.opts.UploadDir)
	}

	v1 := r.Group("/api/v1")
	v1.POST("/auth/login", a.handleLogin)

	authed := v1.Group("", a.requireAuth())
	{
		authed.GET("/cells", a.handleListCells)
		authed.POST("/cells", a.handleCreateCell)
		authed.GET("/cells/:id", a.handleGetCell)
		authed.POST("/cells/:id/divide", a.handleDivideCell)
		authed.PATCH("/cells/:id/status", a.handleSetStatus)

		authed.POST("/stock/place", a.handlePlaceProduct)
		authed.POST("/stock/withdraw", a.handleWithdrawProduct)
		authed.POST("/stock/move", a.handleMoveProduct)
		authed.POST("/stock/moves", a.handleMoveProducts)

		authed.GET("/bills", a.handleListBills)
		authed.GET("/bills/:number", a.handleGetBill)
		authed.POST("/bills/import", a.handleCreateImportBill)
		authed.POST("/bills/assign", a.handleAssignFromBill)
		authed.POST("/bills/withdraw", a.handleWithdraw)

		authed.GET("/products", a.handleListProducts)
		authed.GET("/products/:id", a.handleGetProduct)
		authed.POST("/products", a.handleCreateProduct)

		authed.GET("/dashboard/summary", a.handleSummary)
		authed.GET("/dashboard/latest-items", a.handleLatestItems)
		authed.GET("/dashboard/daily-items", a.handleDailyItems)

		authed.GET("/documents", a.handleListDocuments)
		authed.GET("/reports/stock.xlsx", a.handleStockReport)

		admin := authed.Group("", requireRole(service.RoleAdmin))
		admin.GET("/users", a.handleListUsers)
		admin.POST("/users", a.handleCreateUser)
		admin.POST("/maintenance/normalize-cells", a.handleNormalizeCells)
	}

	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, errors.New("route not found"))
	})
	return r
}

func (a *API) corsConfig() cors.Config {
	config := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if a.opts.AllowedOrigin == "*" {
		config.AllowAllOrigins = true
		return config
	}
	for _, origin := range strings.Split(a.opts.AllowedOrigin, ",") {
		origin = strings.TrimSpace(origin)
		if strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://") {
			config.AllowOrigins = append(config.AllowOrigins, origin)
		}
	}
	if len(config.AllowOrigins) == 0 {
		log.Warn().Str("allowed_origin", a.opts.AllowedOrigin).Msg("no usable CORS origin, allowing all")
		config.AllowAllOrigins = true
	}
	return config
}

func (a *API) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(c, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			writeError(c, http.StatusUnauthorized, err)
			return
		}

		c.Set(actorKey, actor)
		c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := c.Get(actorKey)
		if !ok || !isRoleAllowed(actor.(domain.Actor).Role, roles) {
			writeError(c, http.StatusForbidden, errors.New("forbidden role"))
			return
		}
		c.Next()
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Next()
	}
}

func limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPatch, http.MethodPut:
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Msg("panic recovered")
				writeError(c, http.StatusInternalServerError, errors.New("panic"))
			}
		}()
		c.Next()
	}
}

// bindAndValidate decodes the JSON body into req and checks its validate
// tags. On failure the response is already written.
func bindAndValidate(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(c, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return false
		}
		writeError(c, http.StatusBadRequest, errors.New("invalid JSON: "+err.Error()))
		return false
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(c, http.StatusUnprocessableEntity, err)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fieldPath(fe)] = fe.Tag()
		}
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error":  domain.ErrValidation.Error(),
			"fields": fields,
		})
		return false
	}
	return true
}

// fieldPath drops the root struct name from the validator namespace, so
// "AssignRequest.assignments[0].cell_id" becomes "assignments[0].cell_id".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

// statusFor maps an error kind to its HTTP status. Insufficient stock is
// checked before not-found because a missing line is reported as both.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrInsufficientQuantity):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidSubCell):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDuplicateID),
		errors.Is(err, domain.ErrAlreadyDivided),
		errors.Is(err, domain.ErrNonEmpty),
		errors.Is(err, domain.ErrNotAvailable),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeServiceError(c *gin.Context, err error) {
	writeError(c, statusFor(err), err)
}

func writeError(c *gin.Context, status int, err error) {
	// 5xx details stay in the log.
	body := gin.H{"error": err.Error()}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Str("path", c.Request.URL.Path).Msg("internal error")
		body = gin.H{"error": "internal server error"}
	} else {
		var itemErr *domain.ItemError
		if errors.As(err, &itemErr) {
			body["index"] = itemErr.Index
		}
	}
	c.AbortWithStatusJSON(status, body)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}
