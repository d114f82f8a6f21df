// Package recovery runs guardian-approved recovery requests for custodial
// wallets: transfer of funds, key replacement, master key rotation and
// emergency freezes.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wallet-safety/internal/model"
	"wallet-safety/internal/service/alert"
	"wallet-safety/pkg/cache"
	"wallet-safety/pkg/errno"
	"wallet-safety/pkg/logger"
	"wallet-safety/pkg/monitor"
	"wallet-safety/pkg/utils/lock"
)

// Wallets is the subset of the wallet repository recovery needs.
type Wallets interface {
	GetByID(ctx context.Context, id uint64) (*model.Wallet, error)
	SetActive(ctx context.Context, id uint64, active bool) error
	UpdateKey(ctx context.Context, id uint64, address string, encryptedKey []byte, keyID string) error
}

// GuardianDirectory resolves a wallet's guardians as lower-case addresses.
type GuardianDirectory interface {
	Guardians(ctx context.Context, walletID uint64) ([]string, error)
}

type Deps struct {
	Cache     cache.Cache
	Wallets   Wallets
	Guardians GuardianDirectory
	Locker    lock.Locker
	Notifier  Notifier   // optional
	Alerts    alert.Sink // optional
	Executors map[model.RecoveryType]Executor
}

type Options struct {
	ApprovalThreshold int
	RequestTTL        time.Duration
	FreezeDuration    time.Duration
	// Retention keeps finished requests queryable after they expire.
	Retention time.Duration
	// StaleAfter fails IN_PROGRESS requests whose execution died with the process.
	StaleAfter time.Duration
}

func (o *Options) applyDefaults() {
	if o.ApprovalThreshold <= 0 {
		o.ApprovalThreshold = 2
	}
	if o.RequestTTL <= 0 {
		o.RequestTTL = 24 * time.Hour
	}
	if o.FreezeDuration <= 0 {
		o.FreezeDuration = 72 * time.Hour
	}
	if o.Retention <= 0 {
		o.Retention = 7 * 24 * time.Hour
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = time.Hour
	}
}

type Coordinator struct {
	deps  Deps
	opts  Options
	store *store
	now   func() time.Time
	log   *zap.Logger
}

func NewCoordinator(deps Deps, opts Options) *Coordinator {
	opts.applyDefaults()
	if deps.Locker == nil {
		deps.Locker = lock.NewKeyedMutex()
	}
	if deps.Executors == nil {
		deps.Executors = map[model.RecoveryType]Executor{}
	}
	if _, ok := deps.Executors[model.RecoveryEmergencyFreeze]; !ok {
		deps.Executors[model.RecoveryEmergencyFreeze] = FreezeExecutor{Wallets: deps.Wallets}
	}
	c := &Coordinator{
		deps: deps,
		opts: opts,
		now:  time.Now,
		log:  logger.Named("recovery"),
	}
	c.store = &store{cache: deps.Cache, retention: opts.Retention, now: c.clock}
	return c
}

func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

func (c *Coordinator) clock() time.Time {
	return c.now()
}

// InitiateRecovery opens a request for one of the user's wallets. A wallet
// has at most one non-terminal request. Emergency freezes take effect here,
// before any guardian approves.
func (c *Coordinator) InitiateRecovery(ctx context.Context, userID, walletID uint64, typ model.RecoveryType, newAddress *common.Address) (*model.RecoveryRequest, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown recovery type %q", errno.ErrRecoveryInvalidState, typ)
	}
	if typ == model.RecoveryGuardianTransfer && (newAddress == nil || *newAddress == (common.Address{})) {
		return nil, errno.ErrInvalidAddress
	}

	w, err := c.deps.Wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if w.UserID != userID {
		return nil, errno.ErrRecoveryUnauthorized
	}

	unlock, err := c.deps.Locker.Lock(ctx, walletLockKey(walletID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := c.ensureNoActive(ctx, walletID); err != nil {
		return nil, err
	}

	now := c.now()
	req := &model.RecoveryRequest{
		ID:         uuid.NewString(),
		WalletID:   walletID,
		UserID:     userID,
		Type:       typ,
		Status:     model.RecoveryPending,
		NewAddress: newAddress,
		Approvals:  []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(c.opts.RequestTTL),
	}
	// Marker first: a request must never exist without the marker that makes
	// ensureNoActive see it. A marker without a request is cleaned up there.
	if err := c.store.setActive(ctx, walletID, req.ID); err != nil {
		return nil, err
	}
	if err := c.store.save(ctx, req); err != nil {
		if cerr := c.store.clearActive(ctx, walletID, req.ID); cerr != nil {
			c.log.Warn("Active marker not rolled back",
				zap.Uint64("wallet_id", walletID), zap.String("request_id", req.ID), zap.Error(cerr))
		}
		return nil, err
	}
	if err := c.indexForUser(ctx, userID, req.ID); err != nil {
		c.log.Warn("User index not updated", zap.String("request_id", req.ID), zap.Error(err))
	}
	monitor.Engine.RecoveryTransitions.WithLabelValues(string(typ), string(model.RecoveryPending)).Inc()

	c.log.Info("Recovery initiated",
		zap.String("request_id", req.ID),
		zap.Uint64("wallet_id", walletID),
		zap.Uint64("user_id", userID),
		zap.String("type", string(typ)))
	c.raise(ctx, model.AlertRecoveryInitiated, model.SeverityWarning, w.Network, req, "Wallet recovery initiated")
	c.notify(ctx, NoticeApprovalRequested, req)

	if typ == model.RecoveryEmergencyFreeze {
		if err := c.freeze(ctx, req, w); err != nil {
			return req, err
		}
	}
	return req, nil
}

// ensureNoActive rejects when the wallet has a live request. A stale marker
// left by an expired or finished request is cleaned up on the way.
func (c *Coordinator) ensureNoActive(ctx context.Context, walletID uint64) error {
	id, err := c.store.activeID(ctx, walletID)
	if err != nil || id == "" {
		return err
	}
	unlock, err := c.deps.Locker.Lock(ctx, requestLockKey(id))
	if err != nil {
		return err
	}
	defer unlock()

	existing, err := c.store.get(ctx, id)
	if errors.Is(err, errno.ErrRecoveryNotFound) {
		return c.store.clearActive(ctx, walletID, id)
	}
	if err != nil {
		return err
	}
	if c.expireIfDue(ctx, existing) {
		return nil
	}
	if !existing.Status.Terminal() {
		return errno.ErrRecoveryAlreadyActive
	}
	return c.store.clearActive(ctx, walletID, id)
}

func (c *Coordinator) indexForUser(ctx context.Context, userID uint64, id string) error {
	unlock, err := c.deps.Locker.Lock(ctx, userKey(userID))
	if err != nil {
		return err
	}
	defer unlock()
	ids, err := c.store.userRequests(ctx, userID)
	if err != nil {
		return err
	}
	return c.store.setUserRequests(ctx, userID, append(ids, id))
}

// ApproveRecovery records guardian's approval. Reaching the approval
// threshold moves the request to IN_PROGRESS and executes it before returning.
// An execution failure leaves the request FAILED and returns
// ErrRecoveryExecutionFailed alongside it.
func (c *Coordinator) ApproveRecovery(ctx context.Context, requestID, guardian string) (*model.RecoveryRequest, error) {
	if !common.IsHexAddress(guardian) {
		return nil, errno.ErrInvalidAddress
	}
	guardian = strings.ToLower(common.HexToAddress(guardian).Hex())

	unlock, err := c.deps.Locker.Lock(ctx, requestLockKey(requestID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := c.openRequest(ctx, requestID)
	if err != nil {
		return req, err
	}

	guardians, err := c.deps.Guardians.Guardians(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	if !contains(guardians, guardian) {
		return nil, errno.ErrRecoveryUnauthorized
	}

	if !req.AddApproval(guardian) {
		return req, nil
	}
	c.log.Info("Recovery approved",
		zap.String("request_id", req.ID),
		zap.String("guardian", guardian),
		zap.Int("approvals", len(req.Approvals)),
		zap.Int("threshold", c.opts.ApprovalThreshold))

	if len(req.Approvals) < c.opts.ApprovalThreshold {
		if req.Status == model.RecoveryPending {
			return req, c.transition(ctx, req, model.RecoveryAwaitingApprovals)
		}
		req.UpdatedAt = c.now()
		return req, c.store.save(ctx, req)
	}

	if err := c.transition(ctx, req, model.RecoveryInProgress); err != nil {
		return req, err
	}
	return req, c.execute(ctx, req)
}

// openRequest loads a request that guardians may still act on, expiring it
// first if its deadline has passed. Callers hold the request lock.
func (c *Coordinator) openRequest(ctx context.Context, id string) (*model.RecoveryRequest, error) {
	req, err := c.store.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.expireIfDue(ctx, req) || req.Status == model.RecoveryExpired {
		return req, errno.ErrRecoveryExpired
	}
	if !req.Status.Approvable() {
		return req, errno.ErrRecoveryInvalidState
	}
	return req, nil
}

// CancelRecovery lets the initiating user withdraw a request that has not
// started executing. Cancelling a freeze request does not lift the freeze.
func (c *Coordinator) CancelRecovery(ctx context.Context, requestID string, userID uint64) (*model.RecoveryRequest, error) {
	unlock, err := c.deps.Locker.Lock(ctx, requestLockKey(requestID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	req, err := c.store.get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, errno.ErrRecoveryUnauthorized
	}
	if c.expireIfDue(ctx, req) || req.Status == model.RecoveryExpired {
		return req, errno.ErrRecoveryExpired
	}
	if !req.Status.Approvable() {
		return req, errno.ErrRecoveryInvalidState
	}
	if err := c.transition(ctx, req, model.RecoveryCancelled); err != nil {
		return req, err
	}
	c.raise(ctx, model.AlertRecoveryCancelled, model.SeverityInfo, "", req, "Wallet recovery cancelled")
	c.notify(ctx, NoticeCancelled, req)
	return req, nil
}

// GetRecoveryStatus reads without the request lock so it never waits on a
// running execution; the lock is only taken to persist a lazy expiry.
func (c *Coordinator) GetRecoveryStatus(ctx context.Context, requestID string) (*model.RecoveryRequest, error) {
	req, err := c.store.get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.Approvable() || !req.ExpiredAt(c.now()) {
		return req, nil
	}

	unlock, err := c.deps.Locker.Lock(ctx, requestLockKey(requestID))
	if err != nil {
		return nil, err
	}
	defer unlock()
	if req, err = c.store.get(ctx, requestID); err != nil {
		return nil, err
	}
	c.expireIfDue(ctx, req)
	return req, nil
}

// ListActiveRecoveries returns the user's non-terminal requests, oldest first.
func (c *Coordinator) ListActiveRecoveries(ctx context.Context, userID uint64) ([]*model.RecoveryRequest, error) {
	ids, err := c.store.userRequests(ctx, userID)
	if err != nil {
		return nil, err
	}
	var (
		active  []*model.RecoveryRequest
		evicted []string
	)
	for _, id := range ids {
		req, err := c.GetRecoveryStatus(ctx, id)
		if errors.Is(err, errno.ErrRecoveryNotFound) {
			evicted = append(evicted, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !req.Status.Terminal() {
			active = append(active, req)
		}
	}
	if len(evicted) > 0 {
		if err := c.pruneUserIndex(ctx, userID, evicted); err != nil {
			c.log.Warn("User index not pruned", zap.Uint64("user_id", userID), zap.Error(err))
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })
	return active, nil
}

// pruneUserIndex drops ids whose records the cache has evicted.
func (c *Coordinator) pruneUserIndex(ctx context.Context, userID uint64, evicted []string) error {
	unlock, err := c.deps.Locker.Lock(ctx, userKey(userID))
	if err != nil {
		return err
	}
	defer unlock()
	ids, err := c.store.userRequests(ctx, userID)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, id := range ids {
		if !contains(evicted, id) {
			kept = append(kept, id)
		}
	}
	return c.store.setUserRequests(ctx, userID, kept)
}

// expireIfDue moves an approvable request past its deadline to EXPIRED and
// reports whether it did.
func (c *Coordinator) expireIfDue(ctx context.Context, req *model.RecoveryRequest) bool {
	if !req.Status.Approvable() || !req.ExpiredAt(c.now()) {
		return false
	}
	if err := c.transition(ctx, req, model.RecoveryExpired); err != nil {
		c.log.Error("Expiry not persisted", zap.String("request_id", req.ID), zap.Error(err))
	}
	return true
}

// transition applies one state machine edge and persists it. Terminal
// states release the wallet's active slot.
func (c *Coordinator) transition(ctx context.Context, req *model.RecoveryRequest, to model.RecoveryStatus) error {
	if !req.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", errno.ErrRecoveryInvalidState, req.Status, to)
	}
	from := req.Status
	now := c.now()
	req.Status = to
	req.UpdatedAt = now
	if to.Terminal() {
		req.CompletedAt = &now
	}
	monitor.Engine.RecoveryTransitions.WithLabelValues(string(req.Type), string(to)).Inc()
	c.log.Info("Recovery state changed",
		zap.String("request_id", req.ID),
		zap.Uint64("wallet_id", req.WalletID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	if err := c.store.save(ctx, req); err != nil {
		return err
	}
	if to.Terminal() {
		return c.store.clearActive(ctx, req.WalletID, req.ID)
	}
	return nil
}

// execute runs the request's strategy. Callers hold the request lock and
// have moved it to IN_PROGRESS.
func (c *Coordinator) execute(ctx context.Context, req *model.RecoveryRequest) error {
	w, err := c.deps.Wallets.GetByID(ctx, req.WalletID)
	if err == nil {
		exec, ok := c.deps.Executors[req.Type]
		if !ok {
			err = fmt.Errorf("no executor for %s", req.Type)
		} else {
			err = exec.Execute(ctx, req, w)
		}
	}
	if err != nil {
		return c.fail(ctx, req, networkOf(w), err)
	}

	if err := c.transition(ctx, req, model.RecoveryCompleted); err != nil {
		return err
	}
	c.raise(ctx, model.AlertRecoveryCompleted, model.SeverityInfo, w.Network, req, "Wallet recovery completed")
	c.notify(ctx, NoticeCompleted, req)
	return nil
}

// fail records an irreversible-path failure: the request goes to FAILED and
// a CRITICAL alert is raised. Only taxonomy messages reach the stored reason.
func (c *Coordinator) fail(ctx context.Context, req *model.RecoveryRequest, network string, cause error) error {
	c.log.Error("Recovery execution failed",
		zap.String("request_id", req.ID),
		zap.Uint64("wallet_id", req.WalletID),
		zap.String("type", string(req.Type)),
		zap.Error(cause))

	req.FailureReason = errno.ErrRecoveryExecutionFailed.Message
	var typed errno.Errno
	if errors.As(cause, &typed) {
		req.FailureReason = typed.Message
	}
	if err := c.transition(ctx, req, model.RecoveryFailed); err != nil {
		c.log.Error("Failure not persisted", zap.String("request_id", req.ID), zap.Error(err))
	}
	c.raise(ctx, model.AlertRecoveryFailed, model.SeverityCritical, network, req, "Wallet recovery failed: "+req.FailureReason)
	c.notify(ctx, NoticeFailed, req)
	return fmt.Errorf("%w: %v", errno.ErrRecoveryExecutionFailed, cause)
}

func (c *Coordinator) raise(ctx context.Context, t model.AlertType, sev model.Severity, network string, req *model.RecoveryRequest, msg string) {
	if c.deps.Alerts == nil {
		return
	}
	payload := alert.WalletPayload(req.WalletID,
		"request_id", req.ID,
		"type", string(req.Type),
		"status", string(req.Status))
	if req.TxHash != "" {
		payload["tx_hash"] = req.TxHash
	}
	alert.Emit(ctx, c.deps.Alerts, alert.New(t, sev, network, msg, payload))
}

func networkOf(w *model.Wallet) string {
	if w == nil {
		return ""
	}
	return w.Network
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
