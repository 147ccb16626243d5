package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/anamnesis-api/internal/middleware"
	"github.com/jwalitptl/anamnesis-api/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// PublicHandler serves routes reachable by patients holding a link.
type PublicHandler interface {
	Handler
	RegisterPublicRoutes(*gin.RouterGroup)
}

type Router struct {
	engine     *gin.Engine
	healthH    Handler
	templateH  Handler
	patientH   Handler
	anamnesisH PublicHandler
	metrics    *metrics.Metrics
	config     RouterConfig
}

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	CORSConfig       middleware.CORSConfig
	MaxBodySize      int64
}

func NewRouter(
	healthH Handler,
	templateH Handler,
	patientH Handler,
	anamnesisH PublicHandler,
	m *metrics.Metrics,
	config RouterConfig,
) *Router {
	// Set production mode
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()

	if err := middleware.RegisterValidators(middleware.DefaultValidationConfig()); err != nil {
		panic(err)
	}

	r := &Router{
		engine:     engine,
		healthH:    healthH,
		templateH:  templateH,
		patientH:   patientH,
		anamnesisH: anamnesisH,
		metrics:    m,
		config:     config,
	}

	// Add core middlewares
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		r.metricsMiddleware(),
		middleware.CORS(config.CORSConfig),
		middleware.SizeLimit(middleware.SizeLimitConfig{MaxBodySize: config.MaxBodySize}),
	)

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	// Add version header
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.healthH.RegisterRoutes(api)

	// Staff routes
	r.templateH.RegisterRoutes(api)
	r.patientH.RegisterRoutes(api)
	r.anamnesisH.RegisterRoutes(api)

	// Public routes, guarded by the anamnesis token only
	public := api.Group("")
	if r.config.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.RateLimit,
			Burst: r.config.RateBurst,
		})
		public.Use(limiter.RateLimit())
	}
	r.anamnesisH.RegisterPublicRoutes(public)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		r.metrics.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.RequestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		if c.Writer.Status() >= 400 {
			r.metrics.ErrorTotal.WithLabelValues(c.Request.Method, path, "http").Inc()
		}
	}
}
