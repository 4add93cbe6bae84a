package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type InitializePasswordResetMessage struct {
	Role       Role   `json:"role" example:"leader" doc:"Role the account belongs to."`
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "account.password_reset.request" }

// InitializePasswordResetResponse never says whether an account matched
type InitializePasswordResetResponse struct {
	Success bool
}

type InitializePasswordResetHandler struct {
	manager *ResetManager
	timeout time.Duration
}

func NewInitializePasswordResetHandler(manager *ResetManager) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		manager: manager,
		timeout: time.Second * 10,
	}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.manager.Request(ctx, event.Role, event.Email); err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(&InitializePasswordResetResponse{Success: true})
	}

	return nil
}
