package httpapi

import (
	"context"
	"net/http"
	"time"

	"gas_oracle/internal/auth"
	"gas_oracle/internal/billing"
	"gas_oracle/internal/captcha"
	"gas_oracle/internal/history"
	"gas_oracle/internal/logging"
	"gas_oracle/internal/metrics"
	"gas_oracle/internal/middleware"
	"gas_oracle/internal/models"
	"gas_oracle/internal/oracle"
	"gas_oracle/internal/ratelimit"
	"gas_oracle/internal/reconcile"
	"gas_oracle/internal/session"

	"github.com/google/uuid"
)

// KeyDirectory manages API keys on behalf of their owners.
type KeyDirectory interface {
	Lookup(ctx context.Context, key string) (*models.APIKey, error)
	Create(ctx context.Context, req auth.CreateRequest) (*auth.Credentials, error)
	Edit(ctx context.Context, key, secret string, req auth.EditRequest) (*auth.EditResult, error)
}

// Meter authorizes metered requests and reports usage.
type Meter interface {
	Authorize(ctx context.Context, req billing.Request, action billing.Action) (interface{}, error)
	Usage(ctx context.Context, keyID uuid.UUID, ip string) (models.Usage, error)
}

// RequestLogs lists a key's request log.
type RequestLogs interface {
	ListByKeySince(ctx context.Context, keyID uuid.UUID, since time.Time) ([]models.APIRequest, error)
}

// Recharges lists a key's credited deposits.
type Recharges interface {
	ListByKey(ctx context.Context, keyID uuid.UUID) ([]models.CreditRecharge, error)
}

// SessionIssuer starts browser sessions.
type SessionIssuer interface {
	Issue(ctx context.Context) (*session.Issued, error)
}

// HealthCheck is one dependency probed by GET /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Keys       KeyDirectory
	Meter      Meter
	Oracle     oracle.Source
	History    history.Repository
	Requests   RequestLogs
	Recharges  Recharges
	Reconciler reconcile.KeyReconciler
	Sessions   SessionIssuer
	Captcha    captcha.Verifier

	// Throttle limits key and session creation per IP.
	Throttle ratelimit.Limiter

	Metrics        metrics.Metrics
	MetricsHandler http.Handler
	Health         []HealthCheck
	Logger         *logging.Logger

	now func() time.Time
}

func (d *Dependencies) setDefaults() {
	if d.Throttle == nil {
		d.Throttle = ratelimit.NewNoopLimiter()
	}
	if d.Captcha == nil {
		d.Captcha = captcha.NoopVerifier{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewNoopMetrics()
	}
	if d.Logger == nil {
		d.Logger = logging.NewNopLogger()
	}
	if d.now == nil {
		d.now = time.Now
	}
}

// NewRouter creates the HTTP handler serving every public endpoint.
func NewRouter(deps *Dependencies) http.Handler {
	deps.setDefaults()

	mux := http.NewServeMux()
	registerRoutes(mux, deps)

	return middleware.Chain(mux,
		middleware.Recover(deps.Logger),
		logging.AccessLog(deps.Logger, middleware.ClientIP),
		middleware.CallerMiddleware,
	)
}

func registerRoutes(mux *http.ServeMux, d *Dependencies) {
	// Public read endpoints, callable from any origin
	mux.Handle("GET /gas", middleware.CORS(http.HandlerFunc(d.handleGas)))
	mux.Handle("GET /history", middleware.CORS(http.HandlerFunc(d.handleHistory)))
	mux.Handle("GET /keys/{key}", middleware.CORS(http.HandlerFunc(d.handleKeyInfo)))
	mux.Handle("GET /logs/{key}", middleware.CORS(http.HandlerFunc(d.handleLogs)))
	mux.Handle("GET /credit/{key}", middleware.CORS(http.HandlerFunc(d.handleCreditHistory)))
	mux.Handle("OPTIONS /", middleware.CORS(http.NotFoundHandler()))

	// Key management
	mux.HandleFunc("POST /keys", d.handleCreateKey)
	mux.HandleFunc("PUT /keys/{key}", d.handleEditKey)
	mux.HandleFunc("PUT /credit/{key}", d.handleReconcile)

	mux.HandleFunc("POST /session", d.handleCreateSession)

	mux.HandleFunc("GET /health", d.handleHealth)
	if d.MetricsHandler != nil {
		mux.Handle("GET /metrics", d.MetricsHandler)
	}
}
