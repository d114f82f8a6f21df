// Package alert delivers engine alerts to external sinks without letting a
// sink failure abort the operation that raised the alert.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wallet-safety/internal/model"
	"wallet-safety/internal/service/mq"
	"wallet-safety/pkg/logger"
	"wallet-safety/pkg/monitor"
)

type Sink interface {
	CreateAlert(ctx context.Context, a model.Alert) error
}

type SinkFunc func(ctx context.Context, a model.Alert) error

func (f SinkFunc) CreateAlert(ctx context.Context, a model.Alert) error { return f(ctx, a) }

// New stamps an alert with an id and creation time.
func New(t model.AlertType, sev model.Severity, network, message string, payload map[string]string) model.Alert {
	return model.Alert{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  sev,
		Network:   network,
		Message:   message,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Emit hands a to sink and only logs a failure.
func Emit(ctx context.Context, sink Sink, a model.Alert) {
	monitor.Engine.AlertsTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	if sink == nil {
		return
	}
	if err := sink.CreateAlert(ctx, a); err != nil {
		logger.Warn("Alert delivery failed",
			zap.String("alert_id", a.ID),
			zap.String("type", string(a.Type)),
			zap.String("network", a.Network),
			zap.Error(err))
	}
}

// MQSink publishes alerts as JSON on mq.TopicAlert, keyed by network.
type MQSink struct {
	producer mq.Producer
}

func NewMQSink(p mq.Producer) *MQSink {
	return &MQSink{producer: p}
}

func (s *MQSink) CreateAlert(ctx context.Context, a model.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.producer.Publish(ctx, mq.TopicAlert, a.Network, payload)
}

// LogSink writes alerts to the process log.
type LogSink struct{}

func (LogSink) CreateAlert(_ context.Context, a model.Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("severity", string(a.Severity)),
		zap.String("network", a.Network),
		zap.Any("payload", a.Payload),
	}
	switch a.Severity {
	case model.SeverityCritical, model.SeverityHigh:
		logger.Error(a.Message, fields...)
	case model.SeverityWarning:
		logger.Warn(a.Message, fields...)
	default:
		logger.Info(a.Message, fields...)
	}
	return nil
}

// FanOut delivers to every sink and joins their errors.
type FanOut []Sink

func (f FanOut) CreateAlert(ctx context.Context, a model.Alert) error {
	var errs []error
	for _, s := range f {
		if err := s.CreateAlert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every alert it receives; handy as a sink in tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (r *Recorder) CreateAlert(_ context.Context, a model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *Recorder) Alerts() []model.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Alert(nil), r.alerts...)
}

// OfType returns the recorded alerts of type t.
func (r *Recorder) OfType(t model.AlertType) []model.Alert {
	var out []model.Alert
	for _, a := range r.Alerts() {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

// WalletPayload is the common payload for wallet-scoped alerts.
func WalletPayload(walletID uint64, kv ...string) map[string]string {
	p := map[string]string{"wallet_id": strconv.FormatUint(walletID, 10)}
	for i := 0; i+1 < len(kv); i += 2 {
		p[kv[i]] = kv[i+1]
	}
	return p
}
