package recovery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"wallet-safety/internal/model"
	"wallet-safety/pkg/errno"
)

// freeze deactivates the wallet at initiation time. If the wallet cannot be
// deactivated the request fails at once.
func (c *Coordinator) freeze(ctx context.Context, req *model.RecoveryRequest, w *model.Wallet) error {
	now := c.now()
	rec := &model.FreezeRecord{
		WalletID:   w.ID,
		RequestID:  req.ID,
		FrozenAt:   now,
		UnfreezeAt: now.Add(c.opts.FreezeDuration),
	}
	if err := c.store.saveFreeze(ctx, rec); err != nil {
		return c.fail(ctx, req, w.Network, err)
	}
	if err := c.deps.Wallets.SetActive(ctx, w.ID, false); err != nil {
		if derr := c.store.deleteFreeze(ctx, w.ID); derr != nil {
			c.log.Warn("Freeze record not removed", zap.Uint64("wallet_id", w.ID), zap.Error(derr))
		}
		return c.fail(ctx, req, w.Network, err)
	}
	c.log.Warn("Wallet frozen",
		zap.Uint64("wallet_id", w.ID),
		zap.String("request_id", req.ID),
		zap.Time("unfreeze_at", rec.UnfreezeAt))
	c.raise(ctx, model.AlertWalletFrozen, model.SeverityHigh, w.Network, req, "Wallet frozen until "+rec.UnfreezeAt.UTC().Format(time.RFC3339))
	return nil
}

// GetFreeze returns the wallet's freeze, or nil when it is not frozen.
func (c *Coordinator) GetFreeze(ctx context.Context, walletID uint64) (*model.FreezeRecord, error) {
	return c.store.getFreeze(ctx, walletID)
}

// ReleaseFreeze lifts a freeze ahead of schedule and reactivates the wallet.
func (c *Coordinator) ReleaseFreeze(ctx context.Context, walletID uint64) error {
	unlock, err := c.deps.Locker.Lock(ctx, walletLockKey(walletID))
	if err != nil {
		return err
	}
	defer unlock()

	rec, err := c.store.getFreeze(ctx, walletID)
	if err != nil {
		return err
	}
	if rec == nil {
		return errno.ErrRecoveryNotFound
	}
	return c.unfreeze(ctx, rec)
}

func (c *Coordinator) unfreeze(ctx context.Context, rec *model.FreezeRecord) error {
	if err := c.deps.Wallets.SetActive(ctx, rec.WalletID, true); err != nil {
		return err
	}
	if err := c.store.deleteFreeze(ctx, rec.WalletID); err != nil {
		return err
	}
	c.log.Info("Wallet unfrozen", zap.Uint64("wallet_id", rec.WalletID), zap.String("request_id", rec.RequestID))
	c.raise(ctx, model.AlertWalletUnfrozen, model.SeverityInfo, "",
		&model.RecoveryRequest{ID: rec.RequestID, WalletID: rec.WalletID, Type: model.RecoveryEmergencyFreeze},
		"Wallet freeze lifted")
	return nil
}

// ReleaseDueFreezes lifts every freeze whose unfreeze time has passed and
// returns how many were lifted.
func (c *Coordinator) ReleaseDueFreezes(ctx context.Context) (int, error) {
	recs, err := c.store.freezes(ctx)
	if err != nil {
		return 0, err
	}
	now := c.now()
	released := 0
	var errs []error
	for _, rec := range recs {
		if now.Before(rec.UnfreezeAt) {
			continue
		}
		if err := c.releaseIfDue(ctx, rec.WalletID, now); err != nil {
			errs = append(errs, err)
			continue
		}
		released++
	}
	return released, errors.Join(errs...)
}

func (c *Coordinator) releaseIfDue(ctx context.Context, walletID uint64, now time.Time) error {
	unlock, err := c.deps.Locker.Lock(ctx, walletLockKey(walletID))
	if err != nil {
		return err
	}
	defer unlock()
	rec, err := c.store.getFreeze(ctx, walletID)
	if err != nil || rec == nil || now.Before(rec.UnfreezeAt) {
		return err
	}
	return c.unfreeze(ctx, rec)
}

// SweepExpired marks overdue requests EXPIRED and fails IN_PROGRESS requests
// abandoned by a crashed execution. Requests locked by a running execution
// are skipped. It returns the number of requests changed.
func (c *Coordinator) SweepExpired(ctx context.Context) (int, error) {
	ids, err := c.store.requestIDs(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		ok, err := c.sweepOne(ctx, id)
		if err != nil {
			c.log.Warn("Sweep skipped request", zap.String("request_id", id), zap.Error(err))
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func (c *Coordinator) sweepOne(ctx context.Context, id string) (bool, error) {
	lctx, cancel := context.WithTimeout(ctx, time.Second)
	unlock, err := c.deps.Locker.Lock(lctx, requestLockKey(id))
	cancel()
	if err != nil {
		return false, err
	}
	defer unlock()

	req, err := c.store.get(ctx, id)
	if err != nil {
		if errors.Is(err, errno.ErrRecoveryNotFound) {
			return false, nil
		}
		return false, err
	}
	if c.expireIfDue(ctx, req) {
		return true, nil
	}
	if req.Status == model.RecoveryInProgress && c.now().Sub(req.UpdatedAt) > c.opts.StaleAfter {
		_ = c.fail(ctx, req, "", errors.New("execution abandoned"))
		return true, nil
	}
	return false, nil
}

// FreezeExecutor confirms an emergency freeze once guardians approve it. The
// freeze was applied when the request was created; a wallet reactivated in
// the meantime is deactivated again.
type FreezeExecutor struct {
	Wallets Wallets
}

func (e FreezeExecutor) Execute(ctx context.Context, _ *model.RecoveryRequest, w *model.Wallet) error {
	if !w.IsActive {
		return nil
	}
	return e.Wallets.SetActive(ctx, w.ID, false)
}
