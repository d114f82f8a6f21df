package security

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"wallet-safety/internal/model"
	"wallet-safety/internal/service/mq"
	"wallet-safety/pkg/cache"
	"wallet-safety/pkg/errno"
)

var errAlertWithoutAddress = errors.New("blacklist alert without address")

func blacklistKey(addr string) string {
	return "security:blacklist:" + addr
}

func normalize(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", errno.ErrInvalidAddress
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}

// BlacklistAddress blocks every future transfer to addr. The entry is kept
// in memory and, when a cache is configured, shared with other instances.
func (v *Validator) BlacklistAddress(ctx context.Context, addr, reason string) error {
	key, err := normalize(addr)
	if err != nil {
		return err
	}
	v.blacklistMu.Lock()
	v.blacklist[key] = struct{}{}
	v.blacklistMu.Unlock()

	v.log.Warn("Address blacklisted", zap.String("address", key), zap.String("reason", reason))
	if v.deps.Cache == nil {
		return nil
	}
	return v.deps.Cache.Set(ctx, blacklistKey(key), reason, 0)
}

func (v *Validator) IsBlacklisted(ctx context.Context, addr string) (bool, error) {
	key, err := normalize(addr)
	if err != nil {
		return false, err
	}
	v.blacklistMu.RLock()
	_, ok := v.blacklist[key]
	v.blacklistMu.RUnlock()
	if ok || v.deps.Cache == nil {
		return ok, nil
	}

	var reason string
	err = v.deps.Cache.Get(ctx, blacklistKey(key), &reason)
	switch {
	case err == nil:
		v.blacklistMu.Lock()
		v.blacklist[key] = struct{}{}
		v.blacklistMu.Unlock()
		return true, nil
	case errors.Is(err, cache.ErrCacheMiss):
		return false, nil
	default:
		return false, err
	}
}

// CreateAlert lets the validator act as an alert sink: BLACKLISTED_ADDRESS
// alerts carrying an "address" payload feed the blacklist. Other alerts are
// ignored.
func (v *Validator) CreateAlert(ctx context.Context, a model.Alert) error {
	if a.Type != model.AlertBlacklistedAddress {
		return nil
	}
	addr := a.Payload["address"]
	if addr == "" {
		return errAlertWithoutAddress
	}
	return v.BlacklistAddress(ctx, addr, a.Message)
}

// ConsumeAlerts feeds alerts published on mq.TopicAlert, by this engine or
// any other producer, through CreateAlert until ctx is cancelled.
// Undecodable or unusable alerts are logged and acknowledged.
func (v *Validator) ConsumeAlerts(ctx context.Context, consumer mq.Consumer) error {
	return consumer.Subscribe(ctx, mq.TopicAlert, func(msg *mq.Message) error {
		var a model.Alert
		if err := json.Unmarshal(msg.Payload, &a); err != nil {
			v.log.Warn("Malformed alert", zap.Error(err))
			return nil
		}
		if err := v.CreateAlert(ctx, a); err != nil {
			if errors.Is(err, errno.ErrInvalidAddress) || errors.Is(err, errAlertWithoutAddress) {
				v.log.Warn("Blacklist alert ignored", zap.String("alert_id", a.ID), zap.Error(err))
				return nil
			}
			return err
		}
		return nil
	})
}

// ThreatReport is the wire format of the external threat feed.
type ThreatReport struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// ConsumeThreatFeed blacklists every address reported on mq.TopicThreat
// until ctx is cancelled. Malformed reports are logged and acknowledged.
func (v *Validator) ConsumeThreatFeed(ctx context.Context, consumer mq.Consumer) error {
	return consumer.Subscribe(ctx, mq.TopicThreat, func(msg *mq.Message) error {
		var r ThreatReport
		if err := json.Unmarshal(msg.Payload, &r); err != nil {
			v.log.Warn("Malformed threat report", zap.Error(err))
			return nil
		}
		if err := v.BlacklistAddress(ctx, r.Address, r.Reason); err != nil {
			if errors.Is(err, errno.ErrInvalidAddress) {
				v.log.Warn("Threat report with invalid address", zap.String("address", r.Address))
				return nil
			}
			return err
		}
		return nil
	})
}
