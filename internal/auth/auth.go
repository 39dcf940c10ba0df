// Package auth verifies OpenID Connect bearer tokens and scopes requests to
// the organizations the caller belongs to.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/coreos/go-oidc"
	"github.com/labstack/echo/v4"

	"pipeline-proxy/internal/config"
	"pipeline-proxy/internal/logging"
)

// DevSubject is the subject attached to requests when authentication is bypassed.
const DevSubject = "dev@localhost"

// Principal is the authenticated caller.
type Principal struct {
	Subject       string
	Email         string
	Organizations []string

	// AllOrganizations is set for the development bypass principal.
	AllOrganizations bool
}

// Member reports whether the principal may act on behalf of org.
func (p *Principal) Member(org string) bool {
	if p == nil {
		return false
	}
	return p.AllOrganizations || slices.Contains(p.Organizations, org)
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// Auth validates bearer tokens issued by the configured OIDC provider.
type Auth struct {
	apiVerifier        *oidc.IDTokenVerifier
	organizationsClaim string
	logger             *logging.Logger
	authBypass         bool
}

// New creates an Auth from the application configuration. Outside of the
// development bypass it contacts the issuer to discover its signing keys.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Auth, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	a := &Auth{
		organizationsClaim: cfg.Auth.OrganizationsClaim,
		logger:             logger.With("component", "auth"),
		authBypass:         cfg.IsDev() && cfg.DevModeBypass,
	}
	if a.organizationsClaim == "" {
		a.organizationsClaim = "organizations"
	}
	if a.authBypass {
		a.logger.Warn("authentication bypassed in development mode")
		return a, nil
	}
	if cfg.Auth.Issuer == "" {
		return nil, errors.New("auth configuration is incomplete: issuer is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Auth.Issuer)
	if err != nil {
		return nil, err
	}
	// access tokens often carry an API audience rather than a client id
	a.apiVerifier = provider.Verifier(&oidc.Config{
		ClientID:          cfg.Auth.Audience,
		SkipClientIDCheck: cfg.Auth.Audience == "",
	})
	return a, nil
}

// NewWithVerifier creates an Auth around an existing verifier.
func NewWithVerifier(verifier *oidc.IDTokenVerifier, organizationsClaim string, logger *logging.Logger) *Auth {
	if logger == nil {
		logger = logging.Discard()
	}
	if organizationsClaim == "" {
		organizationsClaim = "organizations"
	}
	return &Auth{apiVerifier: verifier, organizationsClaim: organizationsClaim, logger: logger}
}

// Authenticate verifies a raw bearer token and returns its principal.
func (a *Auth) Authenticate(ctx context.Context, rawToken string) (*Principal, error) {
	if a.authBypass {
		return &Principal{Subject: DevSubject, Email: DevSubject, AllOrganizations: true}, nil
	}
	token, err := a.apiVerifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	var claims map[string]json.RawMessage
	if err := token.Claims(&claims); err != nil {
		return nil, err
	}
	p := &Principal{Subject: token.Subject}
	if raw, ok := claims["email"]; ok {
		_ = json.Unmarshal(raw, &p.Email)
	}
	if raw, ok := claims[a.organizationsClaim]; ok {
		p.Organizations = parseOrganizations(raw)
	}
	return p, nil
}

// parseOrganizations accepts either a list of ids or a single id.
func parseOrganizations(raw json.RawMessage) []string {
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return normalize(many)
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return normalize(strings.Fields(strings.ReplaceAll(one, ",", " ")))
	}
	return nil
}

func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// RequireAuth is echo middleware that rejects requests without a valid
// bearer token and stores the principal in the request context.
func (a *Auth) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			var raw string
			if !a.authBypass {
				header := req.Header.Get(echo.HeaderAuthorization)
				if !strings.HasPrefix(header, "Bearer ") {
					return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
				}
				raw = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			}

			p, err := a.Authenticate(req.Context(), raw)
			if err != nil {
				a.logger.Debug("token rejected", "error", err)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			c.SetRequest(req.WithContext(WithPrincipal(req.Context(), p)))
			return next(c)
		}
	}
}

// RequireOrganization is echo middleware that admits only principals that
// belong to the organization named by the path parameter param.
func RequireOrganization(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := FromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			if !p.Member(strings.ToLower(c.Param(param))) {
				return echo.NewHTTPError(http.StatusForbidden, "not a member of this organization")
			}
			return next(c)
		}
	}
}
