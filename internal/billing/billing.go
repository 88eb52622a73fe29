package billing

import (
	"context"
	"time"

	"gas_oracle/internal/apperr"
	"gas_oracle/internal/auth"
	"gas_oracle/internal/logging"
	"gas_oracle/internal/metrics"
	"gas_oracle/internal/models"
	"gas_oracle/internal/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	msgNoIdentity = "You must get behind a public ip address or use an api key."
	msgIPLimit    = "You have reached the ip address request limit. Try using an api key."
	msgNoCredit   = "You dont have enough credits. Recharge or wait a few minutes before trying again."
	msgOrigin     = "The origin of this request is not allowed for this api key."
	msgSession    = "A valid session is required. Solve the captcha and try again."
)

// KeyResolver authenticates a plaintext API key.
type KeyResolver interface {
	Lookup(ctx context.Context, key string) (*models.APIKey, error)
}

// RequestLog is the append-only request log the usage windows are counted from.
type RequestLog interface {
	Insert(ctx context.Context, req *models.APIRequest) error
	CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error)
	CountByKeySince(ctx context.Context, keyID uuid.UUID, since time.Time) (int64, error)
	CountByIP(ctx context.Context, ip string) (int64, error)
	CountByKey(ctx context.Context, keyID uuid.UUID) (int64, error)
}

// CreditLedger debits key balances.
type CreditLedger interface {
	AdjustCredit(ctx context.Context, id uuid.UUID, delta int64) (int64, error)
}

// SessionChecker validates and refreshes anonymous browser sessions.
type SessionChecker interface {
	Check(ctx context.Context, token string) error
}

// Config holds the quota policy.
type Config struct {
	Limit          int64         // free requests per window, per IP and per key
	RequestCost    int64         // credits charged per request over the limit
	Window         time.Duration // sliding window length
	RequireSession bool          // anonymous requests must carry a session
}

// Request identifies the caller of a metered endpoint. Empty strings mean absent.
type Request struct {
	Key      string
	IP       string
	Origin   string
	Session  string
	Endpoint string
}

// Action produces the payload of a metered endpoint.
type Action func(ctx context.Context) (interface{}, error)

// Authorizer meters endpoint access against the request log and key credit.
type Authorizer struct {
	keys     KeyResolver
	requests RequestLog
	ledger   CreditLedger
	sessions SessionChecker
	metrics  metrics.Metrics
	logger   *logging.Logger
	cfg      Config
	now      func() time.Time
}

// NewAuthorizer creates an authorizer. sessions may be nil when sessions are disabled.
func NewAuthorizer(keys KeyResolver, requests RequestLog, ledger CreditLedger, sessions SessionChecker, m metrics.Metrics, logger *logging.Logger, cfg Config) *Authorizer {
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &Authorizer{
		keys:     keys,
		requests: requests,
		ledger:   ledger,
		sessions: sessions,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// ticket carries an admission decision into settlement.
type ticket struct {
	key    *models.APIKey
	charge bool
}

func (a *Authorizer) deny(endpoint, reason string, err error) error {
	a.metrics.RequestDenied(endpoint, reason)
	return err
}

// admit runs the lookup, origin, usage and quota checks.
func (a *Authorizer) admit(ctx context.Context, req Request) (*ticket, error) {
	t := &ticket{}

	switch {
	case req.Key != "":
		key, err := a.keys.Lookup(ctx, req.Key)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				return nil, err
			}
			return nil, a.deny(req.Endpoint, metrics.ReasonUnauthorized, err)
		}
		t.key = key

		if key.RestrictsOrigin() && !auth.OriginAllowed(*key.Origin, req.Origin) {
			return nil, a.deny(req.Endpoint, metrics.ReasonOrigin, apperr.Forbidden(msgOrigin))
		}

	case req.IP == "":
		return nil, a.deny(req.Endpoint, metrics.ReasonNoIdentity, apperr.Forbidden(msgNoIdentity))

	default:
		if err := a.checkSession(ctx, req); err != nil {
			return nil, a.deny(req.Endpoint, metrics.ReasonSession, err)
		}
	}

	ipHour, keyHour, err := a.hourlyUsage(ctx, req.IP, t.key)
	if err != nil {
		return nil, apperr.Internal("Error while trying to fetch your usage from the database.", err)
	}

	over := ipHour >= a.cfg.Limit || keyHour >= a.cfg.Limit
	if !over {
		return t, nil
	}

	if t.key == nil {
		return nil, a.deny(req.Endpoint, metrics.ReasonIPLimit, apperr.Forbidden(msgIPLimit))
	}
	if !t.key.HasCredit() {
		return nil, a.deny(req.Endpoint, metrics.ReasonNoCredit, apperr.Forbidden(msgNoCredit))
	}
	t.charge = true
	return t, nil
}

func (a *Authorizer) checkSession(ctx context.Context, req Request) error {
	if a.sessions == nil {
		return nil
	}
	if req.Session == "" {
		if a.cfg.RequireSession {
			return apperr.Unauthorized(msgSession)
		}
		return nil
	}
	return a.sessions.Check(ctx, req.Session)
}

// hourlyUsage counts the trailing window for the IP and the key concurrently.
func (a *Authorizer) hourlyUsage(ctx context.Context, ip string, key *models.APIKey) (int64, int64, error) {
	since := a.now().Add(-a.cfg.Window)

	var ipHour, keyHour int64
	g, gctx := errgroup.WithContext(ctx)
	if ip != "" {
		g.Go(func() error {
			n, err := a.requests.CountByIPSince(gctx, ip, since)
			ipHour = n
			return err
		})
	}
	if key != nil {
		g.Go(func() error {
			n, err := a.requests.CountByKeySince(gctx, key.ID, since)
			keyHour = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return ipHour, keyHour, nil
}

// settle charges the key when the request was over the free limit and logs it.
func (a *Authorizer) settle(ctx context.Context, req Request, t *ticket) error {
	entry := &models.APIRequest{
		IP:       utils.NonEmptyPtr(req.IP),
		Origin:   utils.NonEmptyPtr(req.Origin),
		Endpoint: req.Endpoint,
	}

	if t.key != nil {
		id := t.key.ID
		entry.APIKeyID = &id

		if t.charge {
			balance, err := a.ledger.AdjustCredit(ctx, id, -a.cfg.RequestCost)
			if err != nil {
				return apperr.Internal("Error while trying to update your api key credit.", err)
			}
			a.metrics.CreditsDebited(a.cfg.RequestCost)
			a.logger.Debug("credit debited", "key_id", id, "cost", a.cfg.RequestCost, "balance", balance)
		}
	}

	if err := a.requests.Insert(ctx, entry); err != nil {
		return apperr.Internal("Error while trying to register your request.", err)
	}
	return nil
}

// Authorize admits req, runs action and settles the request. Failed actions are neither
// charged nor logged. Every returned error is an *apperr.Error.
func (a *Authorizer) Authorize(ctx context.Context, req Request, action Action) (interface{}, error) {
	t, err := a.admit(ctx, req)
	if err != nil {
		return nil, apperr.From(err)
	}

	payload, err := action(ctx)
	if err != nil {
		return nil, apperr.From(err)
	}

	if err := a.settle(ctx, req, t); err != nil {
		a.logger.Error("failed to settle request", "endpoint", req.Endpoint, "error", err)
		return nil, err
	}

	a.metrics.RequestServed(req.Endpoint)
	return payload, nil
}

// Usage returns hourly and total request counts for a key and an IP.
func (a *Authorizer) Usage(ctx context.Context, keyID uuid.UUID, ip string) (models.Usage, error) {
	since := a.now().Add(-a.cfg.Window)

	var u models.Usage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		u.APIKeyHour, err = a.requests.CountByKeySince(gctx, keyID, since)
		return err
	})
	g.Go(func() (err error) {
		u.APIKeyTotal, err = a.requests.CountByKey(gctx, keyID)
		return err
	})
	if ip != "" {
		g.Go(func() (err error) {
			u.IPHour, err = a.requests.CountByIPSince(gctx, ip, since)
			return err
		})
		g.Go(func() (err error) {
			u.IPTotal, err = a.requests.CountByIP(gctx, ip)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return models.Usage{}, apperr.Internal("Error while trying to fetch your usage from the database.", err)
	}
	return u, nil
}
