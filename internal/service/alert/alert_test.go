package alert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-safety/internal/model"
)

type captureProducer struct {
	topic, key string
	payload    []byte
	err        error
}

func (p *captureProducer) Publish(_ context.Context, topic, key string, payload []byte) error {
	p.topic, p.key, p.payload = topic, key, payload
	return p.err
}

func TestMQSinkPublishesJSON(t *testing.T) {
	p := &captureProducer{}
	a := New(model.AlertLargeTransaction, model.SeverityWarning, "bsc", "large tx", map[string]string{"value": "1"})

	require.NoError(t, NewMQSink(p).CreateAlert(context.Background(), a))
	assert.Equal(t, "wallet_events_alert", p.topic)
	assert.Equal(t, "bsc", p.key)

	var decoded model.Alert
	require.NoError(t, json.Unmarshal(p.payload, &decoded))
	assert.Equal(t, a.ID, decoded.ID)
	assert.Equal(t, model.AlertLargeTransaction, decoded.Type)
}

func TestFanOutDeliversToAllAndJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	failing := SinkFunc(func(context.Context, model.Alert) error { return errors.New("sink down") })

	err := FanOut{failing, rec}.CreateAlert(context.Background(), New(model.AlertBlockDelay, model.SeverityWarning, "eth", "late", nil))
	assert.EqualError(t, err, "sink down")
	assert.Len(t, rec.Alerts(), 1)
}

func TestEmitSwallowsSinkErrors(t *testing.T) {
	failing := SinkFunc(func(context.Context, model.Alert) error { return errors.New("boom") })
	assert.NotPanics(t, func() {
		Emit(context.Background(), failing, New(model.AlertSecurityBreach, model.SeverityCritical, "", "x", nil))
		Emit(context.Background(), nil, New(model.AlertSecurityBreach, model.SeverityCritical, "", "x", nil))
	})
}

func TestWalletPayload(t *testing.T) {
	p := WalletPayload(42, "request_id", "r1", "dangling")
	assert.Equal(t, map[string]string{"wallet_id": "42", "request_id": "r1"}, p)
}
