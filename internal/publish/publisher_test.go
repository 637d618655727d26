package publish

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-sentinel/internal/config"
)

type busRecord struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeBus struct {
	records []busRecord
	err     error
}

func (f *fakeBus) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.records = append(f.records, busRecord{topic, qos, retained, payload})
	return f.err
}

type fakeMirror struct {
	subjects [][2]string
}

func (f *fakeMirror) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, [2]string{subject, string(data)})
	return nil
}

func TestAnalysisPublishesRetainedQoS1(t *testing.T) {
	store := config.NewStore(config.Defaults())
	bus := &fakeBus{}
	p := NewPublisher(store, bus, nil)

	p.Analysis("gate", "person", "Person at the gate.", "ev1", "/snaps/ev1.jpg", sampleDecision(), samplePolicy())

	require.Len(t, bus.records, 1)
	rec := bus.records[0]
	assert.Equal(t, "openclaw/frigate/analysis", rec.topic)
	assert.Equal(t, byte(1), rec.qos)
	assert.True(t, rec.retained)

	var payload Payload
	require.NoError(t, json.Unmarshal(rec.payload, &payload))
	assert.Equal(t, "ev1", payload.EventID)
	assert.Equal(t, "high", payload.Risk)
}

func TestAnalysisMirrorsWhenEnabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.NATSEnabled = true
	store := config.NewStore(cfg)
	mirror := &fakeMirror{}
	p := NewPublisher(store, &fakeBus{}, mirror)

	p.Analysis("gate", "person", "text", "ev1", "", sampleDecision(), samplePolicy())
	require.Len(t, mirror.subjects, 1)
	assert.Equal(t, "sentinel.analysis", mirror.subjects[0][0])
}

func TestAnalysisMirrorSkippedWhenDisabled(t *testing.T) {
	store := config.NewStore(config.Defaults())
	mirror := &fakeMirror{}
	p := NewPublisher(store, &fakeBus{}, mirror)

	p.Analysis("gate", "person", "text", "ev1", "", sampleDecision(), samplePolicy())
	assert.Empty(t, mirror.subjects)
}

func TestAnalysisBusErrorDoesNotPanic(t *testing.T) {
	store := config.NewStore(config.Defaults())
	p := NewPublisher(store, &fakeBus{err: errors.New("broker down")}, nil)

	p.Analysis("gate", "person", "text", "ev1", "", sampleDecision(), samplePolicy())
}
