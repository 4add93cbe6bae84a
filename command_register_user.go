package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

// RegisterAccountMessage creates an account for a role. With UseHashid the
// account id is derived from role and email, so reruns are idempotent.
type RegisterAccountMessage struct {
	Role      Role   `json:"role"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Status    Status `json:"status"`
	UseHashid bool
}

func (e RegisterAccountMessage) Type() string { return "account.register" }

type AccountRegistrar interface {
	RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
}

type RegisterAccountHandler struct {
	txs      TxRunner
	accounts AccountRegistrar
	hasher   PasswordAuthenticator
}

func NewRegisterAccountHandler(repo RepositoryManager, hasher PasswordAuthenticator) *RegisterAccountHandler {
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	return &RegisterAccountHandler{
		txs:      repo,
		accounts: repo.Accounts(),
		hasher:   hasher,
	}
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) (*Account, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) (*Account, error) {
	if !event.Role.IsValid() {
		return nil, ErrUnknownRole
	}

	email := NormalizeEmail(event.Email)
	if email == "" {
		return nil, goerrors.New("email is required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	hash, err := h.hasher.HashPassword(event.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	account := &Account{
		Role:         event.Role,
		Email:        email,
		Status:       event.Status,
		PasswordHash: hash,
	}
	if event.UseHashid {
		id, err := hashid.NewUUID(string(event.Role) + ":" + email)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to derive account id")
		}
		account.ID = id
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err = h.txs.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if account, err = h.accounts.RegisterTx(ctx, tx, account); err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return richErr
			}
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create account")
		}
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "account registration transaction failed")
	}

	return account, nil
}
