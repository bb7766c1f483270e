// Package httpapi exposes the conversation manager over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/leadflow/internal/conversation"
	"github.com/p-blackswan/leadflow/internal/health"
	"github.com/p-blackswan/leadflow/internal/metrics"
	"github.com/p-blackswan/leadflow/internal/requestid"
	"github.com/p-blackswan/leadflow/internal/session"
)

// DefaultBodyLimit caps request bodies; the largest legitimate body is a
// questionnaire of a few kilobytes.
const DefaultBodyLimit = 64 * 1024

// Service is the conversation surface the endpoints call.
type Service interface {
	Submit(ctx context.Context, identity string, q session.WizardData) (*conversation.Result, error)
	Chat(ctx context.Context, identity, sessionID, message string) (*conversation.Result, error)
	Transition(ctx context.Context, sessionID string, target session.State) (*conversation.Result, error)
	RequestQuote(ctx context.Context, sessionID, source string) (*conversation.Result, error)
	Subscribe(ctx context.Context, sessionID, email string) (*conversation.Result, error)
	TrackConsultationClick(ctx context.Context, sessionID string) (*conversation.Result, error)
	TrackAdditionalWorkflowClick(ctx context.Context, sessionID string) (*conversation.Result, error)
	Get(ctx context.Context, sessionID string) (*conversation.View, error)
	Export(ctx context.Context, sessionID string) (*conversation.Export, error)
	Delete(ctx context.Context, sessionID string) error
}

// Config holds configuration for the HTTP server.
type Config struct {
	Addr        string
	CORSOrigins []string
	BodyLimit   int
	// ProxyHeader names the header holding the client IP when running behind
	// a trusted proxy. Empty means the socket address is used.
	ProxyHeader string
	// WebhookSecret, when set, must be sent in X-Webhook-Secret by the
	// booking form's quote webhook.
	WebhookSecret string
}

// Route is one entry of the endpoint table.
type Route struct {
	Method  string
	Path    string
	Handler fiber.Handler
}

// Server is the public API Fiber application.
type Server struct {
	app     *fiber.App
	svc     Service
	checker *health.Checker
	metrics *metrics.Metrics
	logger  zerolog.Logger
	config  Config
}

// New creates and configures the HTTP server.
func New(cfg Config, svc Service, checker *health.Checker, m *metrics.Metrics, logger zerolog.Logger) *Server {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}
	logger = logger.With().Str("component", "httpapi").Logger()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             cfg.BodyLimit,
		ProxyHeader:           cfg.ProxyHeader,
	})

	s := &Server{
		app:     app,
		svc:     svc,
		checker: checker,
		metrics: m,
		logger:  logger,
		config:  cfg,
	}

	s.setupMiddleware()
	for _, r := range s.Routes() {
		app.Add(r.Method, r.Path, r.Handler)
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(func(c *fiber.Ctx) error {
		ctx, reqID := requestid.Accept(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, reqID)
		return c.Next()
	})

	if len(s.config.CORSOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(s.config.CORSOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept, X-Request-ID",
			AllowMethods: "GET, POST, DELETE, OPTIONS",
		}))
	}

	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}
		err := c.Next()
		s.logger.Debug().
			Str("method", c.Method()).
			Str("path", path).
			Int("status", c.Response().StatusCode()).
			Str("request_id", requestid.FromContext(c.UserContext())).
			Msg("api request")
		return err
	})
}

// Routes is the complete endpoint table. It is built once per server.
func (s *Server) Routes() []Route {
	routes := []Route{
		{fiber.MethodGet, "/healthz", health.Liveness},
		{fiber.MethodGet, "/readyz", s.readiness},

		{fiber.MethodPost, "/api/v1/submissions", s.submit},
		{fiber.MethodGet, "/api/v1/sessions/:id", s.getSession},
		{fiber.MethodDelete, "/api/v1/sessions/:id", s.deleteSession},
		{fiber.MethodGet, "/api/v1/sessions/:id/export", s.exportSession},
		{fiber.MethodPost, "/api/v1/sessions/:id/messages", s.chat},
		{fiber.MethodPost, "/api/v1/sessions/:id/transition", s.transition},
		{fiber.MethodPost, "/api/v1/sessions/:id/quote", s.requestQuote},
		{fiber.MethodPost, "/api/v1/sessions/:id/subscribe", s.subscribe},
		{fiber.MethodPost, "/api/v1/sessions/:id/track/:event", s.track},
		{fiber.MethodPost, "/api/v1/webhooks/quote", s.requireWebhookSecret(s.quoteWebhook)},
	}
	if s.metrics != nil {
		routes = append(routes, Route{fiber.MethodGet, "/metrics", adaptor.HTTPHandler(s.metrics.Handler())})
	}
	return routes
}

// WebhookSecretHeader carries the shared webhook secret.
const WebhookSecretHeader = "X-Webhook-Secret"

func (s *Server) requireWebhookSecret(next fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.config.WebhookSecret == "" {
			return next(c)
		}
		got := c.Get(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.config.WebhookSecret)) != 1 {
			s.logger.Warn().
				Str("ip", c.IP()).
				Str("request_id", requestid.FromContext(c.UserContext())).
				Msg("webhook rejected: invalid secret")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_webhook_secret", "Unauthorized",
				"Invalid webhook secret")
		}
		return next(c)
	}
}

func (s *Server) readiness(c *fiber.Ctx) error {
	if s.checker == nil {
		return health.Liveness(c)
	}
	return s.checker.Readiness(c)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.Addr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("api server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("api server shutting down")
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Int("status", code).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Str("request_id", requestid.FromContext(c.UserContext())).
				Msg("unhandled error")
		}

		detail := err.Error()
		errType := "http_error"
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
			errType = "internal_error"
		}
		return problemResponse(c, code, errType, fiber.NewError(code).Message, detail)
	}
}
