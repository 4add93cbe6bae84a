package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

const (
	textCodeInvalidTransition = "INVALID_ACCOUNT_STATE_TRANSITION"
	textCodeTerminalState     = "TERMINAL_ACCOUNT_STATE"
)

// ErrInvalidTransition is returned when a requested status change is not
// allowed. Transition returns a copy carrying from/to metadata, match it
// with IsError.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when attempting to move away from a
// terminal status (rejected). Like ErrInvalidTransition it comes back as
// a copy with metadata.
var ErrTerminalState = goerrors.New("account state is terminal", goerrors.CategoryConflict).
	WithTextCode(textCodeTerminalState).
	WithCode(goerrors.CodeConflict)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor   ActorRef
	Account *Account
	From    Status
	To      Status
	Meta    TransitionMetadata
}

// TransitionHook runs inside the status update transaction. A hook error
// rolls the change back.
type TransitionHook func(ctx context.Context, tx bun.IDB, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// AccountStatusStore is what the state machine needs from the account store
type AccountStatusStore interface {
	FindByIDTx(ctx context.Context, tx bun.IDB, subjectID string) (*Account, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, subjectID string, status Status, at time.Time) error
}

// AccountStateMachine drives the account approval workflow.
type AccountStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, subjectID string, target Status, opts ...TransitionOption) (*Account, error)
	CanTransition(from, to Status) bool
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithStateMachineStoreTimeout bounds the status update transaction.
func WithStateMachineStoreTimeout(timeout time.Duration) StateMachineOption {
	return func(sm *accountStateMachine) {
		if timeout > 0 {
			sm.storeTimeout = timeout
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewAccountStateMachine returns the default workflow:
// pending -> approved|rejected, approved -> active|rejected,
// active -> rejected. Rejected is terminal.
func NewAccountStateMachine(txs TxRunner, store AccountStatusStore, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		txs:   txs,
		store: store,
		transitions: map[Status]map[Status]struct{}{
			StatusPending: {
				StatusApproved: {},
				StatusRejected: {},
			},
			StatusApproved: {
				StatusActive:   {},
				StatusRejected: {},
			},
			StatusActive: {
				StatusRejected: {},
			},
		},
		now:          time.Now,
		storeTimeout: DefaultStoreTimeout,
		activitySink: noopActivitySink{},
		logger:       newDefLogger(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

// NewAccountStateMachineFromRepositories uses the bun repositories
func NewAccountStateMachineFromRepositories(repo RepositoryManager, opts ...StateMachineOption) AccountStateMachine {
	return NewAccountStateMachine(repo, repo.Accounts(), opts...)
}

type accountStateMachine struct {
	txs          TxRunner
	store        AccountStatusStore
	transitions  map[Status]map[Status]struct{}
	now          func() time.Time
	storeTimeout time.Duration
	activitySink ActivitySink
	logger       Logger
}

type transitionOptions struct {
	metadata    TransitionMetadata
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *accountStateMachine) Transition(ctx context.Context, actor ActorRef, subjectID string, target Status, opts ...TransitionOption) (*Account, error) {
	if !target.IsValid() {
		return nil, ErrInvalidStatus
	}

	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	txCtx, cancel := context.WithTimeout(ctx, sm.storeTimeout)
	defer cancel()

	var (
		account *Account
		tc      TransitionContext
		changed bool
	)

	err := sm.txs.RunInTx(txCtx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if account, err = sm.store.FindByIDTx(ctx, tx, subjectID); err != nil {
			return err
		}

		account.EnsureStatus()
		from := account.Status
		if from == target {
			return nil
		}

		if from == StatusRejected {
			return ErrTerminalState.Clone().WithMetadata(map[string]any{
				"from": from,
				"to":   target,
			})
		}

		if !sm.CanTransition(from, target) {
			return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
				"from": from,
				"to":   target,
			})
		}

		tc = TransitionContext{
			Actor:   actor,
			Account: account,
			From:    from,
			To:      target,
			Meta:    options.cloneMetadata(),
		}

		if err := runTransitionHooks(ctx, tx, options.beforeHooks, tc); err != nil {
			return err
		}

		if err := sm.store.UpdateStatusTx(ctx, tx, subjectID, target, sm.now().UTC()); err != nil {
			return err
		}
		account.Status = target
		tc.Account = account

		if err := runTransitionHooks(ctx, tx, options.afterHooks, tc); err != nil {
			return err
		}

		changed = true
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, err
		}
		sm.logger.Error("account status transition failed", "subject", subjectID, "error", err)
		return nil, storeFailure(err, "update_status")
	}

	if changed {
		if actor == (ActorRef{}) {
			actor = ActorRef{Type: "system"}
		}
		recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
			EventType:  ActivityEventAccountStatusChanged,
			Actor:      actor,
			SubjectID:  subjectID,
			Role:       account.Role,
			FromStatus: tc.From,
			ToStatus:   tc.To,
			Metadata:   transitionMetadata(tc.Meta),
		})
	}

	return account, nil
}

func (sm *accountStateMachine) CanTransition(from, to Status) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func runTransitionHooks(ctx context.Context, tx bun.IDB, hooks []TransitionHook, tc TransitionContext) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, tx, tc); err != nil {
			return err
		}
	}
	return nil
}

func transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
