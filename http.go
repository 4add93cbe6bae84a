package auth

import (
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal-auth/middleware/tokenlookup"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

const textCodeValidationFailed = "VALIDATION_FAILED"

// RouteAuthenticator chains token lookup, the session validator and the
// role gate in front of router handlers.
type RouteAuthenticator struct {
	cfg            Config
	validator      *SessionValidator
	gate           RoleGate
	extractors     []tokenlookup.Extractor
	cookieDuration time.Duration
	Logger         Logger
	Debug          bool
}

// NewHTTPAuthenticator wires the request side of the session lifecycle
func NewHTTPAuthenticator(validator *SessionValidator, cfg Config) *RouteAuthenticator {
	cookieDuration := 24 * time.Hour
	if cfg.GetTokenExpiration() > 0 {
		cookieDuration = time.Duration(cfg.GetTokenExpiration()) * time.Hour
	}

	lookup := cfg.GetTokenLookup()
	if lookup == "" {
		lookup = "header:Authorization,query:token,cookie:" + cfg.GetContextKey()
	}

	return &RouteAuthenticator{
		cfg:            cfg,
		validator:      validator,
		gate:           NewRoleGate(validator.policy),
		extractors:     tokenlookup.GetExtractors(lookup, cfg.GetAuthScheme()),
		cookieDuration: cookieDuration,
		Logger:         newDefLogger(),
	}
}

func (a *RouteAuthenticator) WithLogger(logger Logger) *RouteAuthenticator {
	a.Logger = resolveLogger(logger)
	return a
}

// RequireRoles only lets through sessions whose identity passes the role
// gate for roles. The identity is then available via IdentityFromRouterContext.
func (a *RouteAuthenticator) RequireRoles(roles ...Role) router.MiddlewareFunc {
	set := NewRoleSet(roles...)
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if err := a.authorize(c, set); err != nil {
				return a.WriteError(c, err)
			}
			return next(c)
		}
	}
}

// authorize resolves the session identity and checks it against roles
func (a *RouteAuthenticator) authorize(c router.Context, roles RoleSet) error {
	raw, err := tokenlookup.Extract(c, a.extractors)
	if err != nil {
		return ErrTokenMalformed
	}

	identity, err := a.validator.Validate(c.Context(), raw)
	if err != nil {
		return err
	}

	if err := a.gate.Check(identity, roles); err != nil {
		return err
	}

	setRouterIdentity(c, identity)
	return nil
}

// SetSessionCookie stores the token under the configured context key
func (a *RouteAuthenticator) SetSessionCookie(c router.Context, session SessionToken) {
	expires := session.ExpiresAt
	if expires.IsZero() {
		expires = time.Now().Add(a.cookieDuration)
	}
	c.Cookie(&router.Cookie{
		Name:     a.cfg.GetContextKey(),
		Value:    session.Token,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

// ClearSessionCookie expires the session cookie
func (a *RouteAuthenticator) ClearSessionCookie(c router.Context) {
	c.Cookie(&router.Cookie{
		Name:     a.cfg.GetContextKey(),
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

// ErrorBody is the JSON error envelope
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

type ErrorPayload struct {
	Code    string         `json:"code,omitempty"`
	Kind    RejectionKind  `json:"kind,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// WriteError renders err with the status and text code it carries
func (a *RouteAuthenticator) WriteError(c router.Context, err error) error {
	return writeError(c, a.Logger, a.Debug, err)
}

// WriteErrorStatus is WriteError with an explicit status
func (a *RouteAuthenticator) WriteErrorStatus(c router.Context, status int, err error) error {
	return c.JSON(status, errorBody(err))
}

func writeError(c router.Context, logger Logger, debug bool, err error) error {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		fields := make(map[string]any, len(verrs))
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
		return c.JSON(http.StatusBadRequest, ErrorBody{Error: ErrorPayload{
			Code:    textCodeValidationFailed,
			Message: "invalid request payload",
			Fields:  fields,
		}})
	}

	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		resolveLogger(logger).Error("request failed", "path", c.Path(), "status", status, "error", err)
		if debug {
			resolveLogger(logger).Debug(print.MaybePrettyJSON(err))
		}
	}

	return c.JSON(status, errorBody(err))
}

func errorBody(err error) ErrorBody {
	payload := ErrorPayload{
		Kind:    KindOf(err),
		Message: "internal server error",
	}

	var richErr *errors.Error
	if errors.As(err, &richErr) {
		payload.Code = richErr.TextCode
		if HTTPStatus(err) < http.StatusInternalServerError || payload.Kind == KindTransientStoreFailure {
			payload.Message = richErr.Message
		}
	}

	return ErrorBody{Error: payload}
}
