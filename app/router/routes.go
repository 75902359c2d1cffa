// Package router provides HTTP routing, middleware configuration, and server setup for the admin API
package router

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/amirphl/leadflow/app/dto"
	"github.com/amirphl/leadflow/app/handlers"
	"github.com/amirphl/leadflow/app/middleware"
	"github.com/amirphl/leadflow/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// Options tunes the router from configuration.
type Options struct {
	AllowOrigins   []string
	RateLimit      int
	MetricsEnabled bool
	MetricsPath    string
	RequestLogs    bool
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ServiceVersion string
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app               *fiber.App
	opts              Options
	logger            *zap.Logger
	authMiddleware    *middleware.AuthMiddleware
	automationHandler handlers.AutomationHandlerInterface
	controlHandler    handlers.ControlHandlerInterface
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(
	opts Options,
	authMiddleware *middleware.AuthMiddleware,
	automationHandler handlers.AutomationHandlerInterface,
	controlHandler handlers.ControlHandlerInterface,
	logger *zap.Logger,
) Router {
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout == 0 {
		// manual dispatch runs and exports may take longer than a plain read
		opts.WriteTimeout = 90 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 600
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:      "LeadFlow Automation API",
		ServerHeader: "LeadFlow",
		ErrorHandler: errorHandler(logger),
		BodyLimit:    1 * 1024 * 1024,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	return &FiberRouter{
		app:               app,
		opts:              opts,
		logger:            logger.Named("http"),
		authMiddleware:    authMiddleware,
		automationHandler: automationHandler,
		controlHandler:    controlHandler,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	r.setupMiddleware()

	if r.opts.MetricsEnabled {
		r.app.Get(r.opts.MetricsPath, adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := r.app.Group("/api/v1")

	// Health check route (no rate limiting, no auth)
	api.Get("/health", r.healthCheck)

	api.Use(limiter.New(limiter.Config{
		Max:        r.opts.RateLimit,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code: "RATE_LIMIT_EXCEEDED",
				},
			})
		},
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/api/v1/health"
		},
	}))

	automation := api.Group("/automation", r.authMiddleware.AdminAuthenticate())

	// Column registry
	columns := automation.Group("/columns")
	columns.Get("/", r.automationHandler.ListColumns)
	columns.Post("/", r.automationHandler.CreateColumn)
	columns.Post("/reorder", r.automationHandler.ReorderColumns)
	columns.Get("/:id", r.automationHandler.GetColumn)
	columns.Put("/:id", r.automationHandler.UpdateColumn)
	columns.Delete("/:id", r.automationHandler.DeleteColumn)

	// Lead positions
	positions := automation.Group("/positions")
	positions.Get("/", r.automationHandler.ListPositions)
	positions.Post("/", r.automationHandler.MoveLead)
	positions.Get("/export", r.automationHandler.ExportPositions)
	positions.Delete("/:lead_id", r.automationHandler.RemoveLead)

	automation.Post("/retry", r.automationHandler.Retry)

	// Dispatch policy and control
	automation.Get("/settings", r.controlHandler.GetSettings)
	automation.Put("/settings", r.controlHandler.UpdateSettings)
	automation.Get("/quota", r.controlHandler.QuotaUsage)
	automation.Post("/dispatch/run", r.controlHandler.RunDispatch)

	connection := automation.Group("/connection")
	connection.Get("/", r.controlHandler.ConnectionStatus)
	connection.Get("/qr", r.controlHandler.QRCode)
	connection.Post("/reconnect", r.controlHandler.Reconnect)
	connection.Post("/logout", r.controlHandler.Logout)

	r.app.Use(r.notFoundHandler)

	r.logger.Info("routes configured")
}

// setupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return generateRequestID()
		},
	}))

	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		HSTSMaxAge:                31536000,
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none';",
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-site",
		XDNSPrefetchControl:       "off",
		XDownloadOptions:          "noopen",
		XPermittedCrossDomain:     "none",
	}))

	if len(r.opts.AllowOrigins) > 0 {
		r.app.Use(cors.New(cors.Config{
			AllowOrigins: r.opts.AllowOrigins,
			AllowMethods: []string{
				"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS",
			},
			AllowHeaders: []string{
				"Origin",
				"Content-Type",
				"Accept",
				"Authorization",
				"X-Request-ID",
			},
			ExposeHeaders: []string{
				"X-Request-ID",
				"Content-Disposition",
			},
			AllowCredentials: true,
			MaxAge:           utils.CORSMaxAge,
		}))
	}

	r.app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
		Next: func(c fiber.Ctx) bool {
			// xlsx is already zipped
			return strings.HasSuffix(c.Path(), "/export")
		},
	}))

	r.app.Use(middleware.Metrics())

	if r.opts.RequestLogs {
		r.app.Use(logger.New(logger.Config{
			Format:     `{"time":"${time}","request_id":"${locals:requestid}","level":"info","method":"${method}","path":"${path}","ip":"${ip}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
			TimeFormat: time.RFC3339,
			TimeZone:   "UTC",
			Next: func(c fiber.Ctx) bool {
				return c.Path() == "/api/v1/health" || c.Path() == r.opts.MetricsPath
			},
		}))
	}

	r.app.Use(r.securityMiddleware)

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.logger.Error("panic while serving request",
				zap.Any("panic", e),
				zap.Any("request_id", c.Locals("requestid")),
				zap.String("path", c.Path()),
				zap.String("method", c.Method()),
				zap.String("ip", c.IP()),
			)
		},
	}))
}

func (r *FiberRouter) securityMiddleware(c fiber.Ctx) error {
	c.Set("X-Response-Time", utils.UTCNow().Format(time.RFC3339))
	c.Set("Server", "LeadFlow")
	return c.Next()
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	r.logger.Info("starting server", zap.String("address", address))
	return r.app.Listen(address, fiber.ListenConfig{DisableStartupMessage: true})
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data: fiber.Map{
			"status":    "ok",
			"timestamp": utils.UTCNow().Unix(),
			"version":   r.opts.ServiceVersion,
			"service":   "leadflow-automation",
		},
	})
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	requestID := c.Locals("requestid")

	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": requestID,
			},
		},
	})
}

func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "An internal server error occurred"
		errCode := "INTERNAL_ERROR"

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			if code < fiber.StatusInternalServerError {
				message = e.Message
				errCode = "REQUEST_ERROR"
			}
		}

		if code >= fiber.StatusInternalServerError {
			log.Error("request failed", zap.Int("status", code), zap.Error(err))
		}

		return c.Status(code).JSON(dto.APIResponse{
			Success: false,
			Message: message,
			Error: dto.ErrorDetail{
				Code: errCode,
				Details: fiber.Map{
					"timestamp":  utils.UTCNow().Unix(),
					"request_id": c.Locals("requestid"),
				},
			},
		})
	}
}

// generateRequestID creates a unique request ID
func generateRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
