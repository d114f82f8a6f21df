package recovery

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"wallet-safety/internal/model"
	"wallet-safety/internal/service/mq"
)

type NoticeKind string

const (
	NoticeApprovalRequested NoticeKind = "APPROVAL_REQUESTED"
	NoticeCancelled         NoticeKind = "CANCELLED"
	NoticeCompleted         NoticeKind = "COMPLETED"
	NoticeFailed            NoticeKind = "FAILED"
)

// Notice tells a wallet's guardians about a recovery request.
type Notice struct {
	Kind      NoticeKind           `json:"kind"`
	RequestID string               `json:"request_id"`
	WalletID  uint64               `json:"wallet_id"`
	Type      model.RecoveryType   `json:"type"`
	Status    model.RecoveryStatus `json:"status"`
	Guardians []string             `json:"guardians"`
	ExpiresAt time.Time            `json:"expires_at"`
}

type Notifier interface {
	NotifyGuardians(ctx context.Context, n Notice) error
}

// MQNotifier publishes notices on mq.TopicGuardian, keyed by wallet so one
// wallet's notices stay ordered.
type MQNotifier struct {
	producer mq.Producer
}

func NewMQNotifier(p mq.Producer) *MQNotifier {
	return &MQNotifier{producer: p}
}

func (n *MQNotifier) NotifyGuardians(ctx context.Context, notice Notice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	return n.producer.Publish(ctx, mq.TopicGuardian, strconv.FormatUint(notice.WalletID, 10), payload)
}

func newNotice(kind NoticeKind, req *model.RecoveryRequest, guardians []string) Notice {
	return Notice{
		Kind:      kind,
		RequestID: req.ID,
		WalletID:  req.WalletID,
		Type:      req.Type,
		Status:    req.Status,
		Guardians: guardians,
		ExpiresAt: req.ExpiresAt,
	}
}

// notify never fails the caller; guardians are re-notified on the next transition.
func (c *Coordinator) notify(ctx context.Context, kind NoticeKind, req *model.RecoveryRequest) {
	if c.deps.Notifier == nil {
		return
	}
	guardians, err := c.deps.Guardians.Guardians(ctx, req.WalletID)
	if err != nil {
		c.log.Warn("Guardian lookup failed, notice skipped",
			zap.String("request_id", req.ID), zap.Error(err))
		return
	}
	if len(guardians) == 0 {
		return
	}
	if err := c.deps.Notifier.NotifyGuardians(ctx, newNotice(kind, req, guardians)); err != nil {
		c.log.Warn("Guardian notice failed",
			zap.String("request_id", req.ID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}
