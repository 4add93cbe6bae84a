package auth

import (
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

const (
	roleLocalsKey          = "auth.route_role"
	rolePrefix             = "/api/:role"
	textCodeBadPayload     = "BAD_PAYLOAD"
	textCodeUnknownSegment = "UNKNOWN_ROLE_SEGMENT"
	minPasswordLength      = 10
)

var (
	errBadPayload = errors.New("request body could not be parsed", errors.CategoryBadInput).
			WithTextCode(textCodeBadPayload).
			WithCode(errors.CodeBadRequest)

	errUnknownSegment = errors.New("unknown portal role", errors.CategoryNotFound).
				WithTextCode(textCodeUnknownSegment).
				WithCode(errors.CodeNotFound)
)

// AuthController serves the per role credential endpoints
type AuthController struct {
	Debug        bool
	Logger       Logger
	Auther       *Auther
	Resets       *ResetManager
	Routes       *RouteAuthenticator
	StateMachine AccountStateMachine
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = resolveLogger(logger)
		return c
	}
}

func WithControllerStateMachine(sm AccountStateMachine) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.StateMachine = sm
		return c
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func NewAuthController(auther *Auther, resets *ResetManager, routes *RouteAuthenticator, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: newDefLogger(),
		Auther: auther,
		Resets: resets,
		Routes: routes,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auther == nil {
		panic("Missing Auther in auth controller...")
	}

	if c.Resets == nil {
		panic("Missing ResetManager in auth controller...")
	}

	if c.Routes == nil {
		panic("Missing RouteAuthenticator in auth controller...")
	}

	return c
}

// RegisterAuthRoutes mounts the credential endpoints under /api/:role
// and the admin status endpoint.
func RegisterAuthRoutes[T any](app router.Router[T], controller *AuthController) {
	if controller.StateMachine != nil {
		app.Patch("/api/admins/accounts/:id/status",
			controller.UpdateAccountStatus,
			controller.Routes.RequireRoles(RoleAdmin),
		).SetName("accounts.status.patch")
	}

	app.Post(rolePrefix+"/login", controller.LoginPost, controller.resolveRole).
		SetName("login.post")
	app.Post(rolePrefix+"/logout", controller.LogOut, controller.resolveRole).
		SetName("logout.post")
	app.Post(rolePrefix+"/forgot-password", controller.ForgotPasswordPost, controller.resolveRole).
		SetName("forgot-password.post")
	app.Get(rolePrefix+"/validate-reset-token/:token", controller.ValidateResetToken, controller.resolveRole).
		SetName("validate-reset-token.get")
	app.Post(rolePrefix+"/reset-password", controller.ResetPasswordPost, controller.resolveRole).
		SetName("reset-password.post")
	app.Get(rolePrefix+"/me", controller.Me, controller.requireRouteRole).
		SetName("me.get")
}

// resolveRole maps the :role segment to a Role, 404 for anything else
func (a *AuthController) resolveRole(next router.HandlerFunc) router.HandlerFunc {
	return func(c router.Context) error {
		if _, err := a.segmentRole(c); err != nil {
			return a.writeError(c, err)
		}
		return next(c)
	}
}

// requireRouteRole resolves the :role segment and only admits sessions of that role
func (a *AuthController) requireRouteRole(next router.HandlerFunc) router.HandlerFunc {
	return func(c router.Context) error {
		role, err := a.segmentRole(c)
		if err != nil {
			return a.writeError(c, err)
		}
		if err := a.Routes.authorize(c, NewRoleSet(role)); err != nil {
			return a.writeError(c, err)
		}
		return next(c)
	}
}

func (a *AuthController) segmentRole(c router.Context) (Role, error) {
	role, ok := RoleFromSegment(c.Param("role", ""))
	if !ok {
		return "", errUnknownSegment
	}
	c.Locals(roleLocalsKey, role)
	return role, nil
}

func routeRole(c router.Context) Role {
	role, _ := c.Locals(roleLocalsKey).(Role)
	return role
}

type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

// LoginResponse is returned on a successful login
type LoginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt string          `json:"expires_at"`
	Identity  IdentitySummary `json:"identity"`
}

func (a *AuthController) LoginPost(c router.Context) error {
	payload := new(LoginRequest)
	if err := a.parse(c, payload); err != nil {
		return a.writeError(c, err)
	}

	result, err := a.Auther.Login(c.Context(), routeRole(c), payload.Email, payload.Password)
	if err != nil {
		return a.writeError(c, err)
	}

	a.Routes.SetSessionCookie(c, result.Session)

	return c.JSON(http.StatusOK, LoginResponse{
		Token:     result.Session.Token,
		ExpiresAt: result.Session.ExpiresAt.UTC().Format(time.RFC3339),
		Identity:  SummarizeIdentity(result.Identity),
	})
}

func (a *AuthController) LogOut(c router.Context) error {
	a.Routes.ClearSessionCookie(c)
	return c.Status(http.StatusNoContent).SendString("")
}

type ForgotPasswordRequest struct {
	Email string `form:"email" json:"email"`
}

func (r ForgotPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
	)
}

// forgotPasswordMessage is the same whether or not the email matched
const forgotPasswordMessage = "If an account exists for this email, a reset link has been sent."

// ForgotPasswordResponse is the same whether or not the email matched
type ForgotPasswordResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (a *AuthController) ForgotPasswordPost(c router.Context) error {
	payload := new(ForgotPasswordRequest)
	if err := a.parse(c, payload); err != nil {
		return a.writeError(c, err)
	}

	var res *InitializePasswordResetResponse

	req := InitializePasswordResetMessage{
		Role:  routeRole(c),
		Email: payload.Email,
		OnResponse: func(resp *InitializePasswordResetResponse) {
			res = resp
		},
	}

	initPwdReset := NewInitializePasswordResetHandler(a.Resets)
	if err := initPwdReset.Execute(c.Context(), req); err != nil {
		return a.writeError(c, err)
	}

	if a.Debug {
		a.Logger.Debug("password reset requested", "response", print.MaybePrettyJSON(res))
	}

	return c.JSON(http.StatusOK, ForgotPasswordResponse{
		Success: res != nil && res.Success,
		Message: forgotPasswordMessage,
	})
}

// ValidateResetToken answers 200 for a usable token, 404 for an unknown
// one and 410 for expired, superseded or consumed tokens.
func (a *AuthController) ValidateResetToken(c router.Context) error {
	state, err := a.Resets.Validate(c.Context(), c.Param("token", ""))
	if err != nil {
		return a.writeError(c, err)
	}

	switch state {
	case ResetTokenValid:
		return c.JSON(http.StatusOK, map[string]any{
			"valid": true,
			"state": state,
		})
	case ResetTokenConsumed:
		return a.Routes.WriteErrorStatus(c, http.StatusGone, ErrResetTokenConsumed)
	default:
		return a.writeError(c, ResetStateError(state))
	}
}

type ResetPasswordRequest struct {
	Token       string `form:"token" json:"token"`
	NewPassword string `form:"new_password" json:"new_password"`
}

func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Token,
			validation.Required,
		),
		validation.Field(
			&r.NewPassword,
			validation.Required,
			validation.Length(minPasswordLength, 100),
		),
	)
}

// ResetPasswordResponse carries the identity whose password was replaced
type ResetPasswordResponse struct {
	Success  bool            `json:"success"`
	Identity IdentitySummary `json:"identity"`
}

func (a *AuthController) ResetPasswordPost(c router.Context) error {
	payload := new(ResetPasswordRequest)
	if err := a.parse(c, payload); err != nil {
		return a.writeError(c, err)
	}

	var res *FinalizePasswordResetResponse

	req := FinalizePasswordResetMessage{
		Token:    payload.Token,
		Password: payload.NewPassword,
		OnResponse: func(resp *FinalizePasswordResetResponse) {
			res = resp
		},
	}

	finalizePwdReset := NewFinalizePasswordResetHandler(a.Resets)
	if err := finalizePwdReset.Execute(c.Context(), req); err != nil {
		return a.writeError(c, err)
	}

	if res == nil || res.Identity == nil {
		return a.writeError(c, errors.New("password reset finished without an identity", errors.CategoryInternal))
	}

	return c.JSON(http.StatusOK, ResetPasswordResponse{
		Success:  true,
		Identity: SummarizeIdentity(res.Identity),
	})
}

func (a *AuthController) Me(c router.Context) error {
	identity, ok := IdentityFromRouterContext(c)
	if !ok {
		return a.writeError(c, ErrTokenMalformed)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"identity": SummarizeIdentity(identity),
	})
}

type AccountStatusRequest struct {
	Status Status `form:"status" json:"status"`
	Reason string `form:"reason" json:"reason"`
}

func (r AccountStatusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Status,
			validation.Required,
			validation.In(
				StatusPending,
				StatusApproved,
				StatusRejected,
				StatusActive,
			),
		),
		validation.Field(&r.Reason, validation.Length(0, 500)),
	)
}

// UpdateAccountStatus drives the approval workflow, admin only
func (a *AuthController) UpdateAccountStatus(c router.Context) error {
	payload := new(AccountStatusRequest)
	if err := a.parse(c, payload); err != nil {
		return a.writeError(c, err)
	}

	admin, _ := IdentityFromRouterContext(c)

	account, err := a.StateMachine.Transition(
		c.Context(),
		actorFromIdentity(admin),
		c.Param("id", ""),
		payload.Status,
		WithTransitionReason(payload.Reason),
	)
	if err != nil {
		return a.writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"account": account,
	})
}

type validatable interface {
	Validate() error
}

func (a *AuthController) parse(c router.Context, payload validatable) error {
	if err := c.Bind(payload); err != nil {
		a.Logger.Debug("failed to parse request body", "path", c.Path(), "error", err)
		return errBadPayload
	}
	return payload.Validate()
}

func (a *AuthController) writeError(c router.Context, err error) error {
	return writeError(c, a.Logger, a.Debug, err)
}
