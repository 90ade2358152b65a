package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RetinaGuard/internal/config"
	"github.com/turtacn/RetinaGuard/internal/domain/notification"
	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/RetinaGuard/pkg/errors"
	"github.com/turtacn/RetinaGuard/pkg/types/common"
)

type mockKafkaWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   int
}

func (m *mockKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockKafkaWriter) sent() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Message(nil), m.messages...)
}

func newTestProducer(w *mockKafkaWriter) *Producer {
	return NewProducerWithWriter(w, logging.NewNopLogger(), nil)
}

func decodeEnvelope(t *testing.T, m kafka.Message) *EventEnvelope {
	t.Helper()
	var env EventEnvelope
	require.NoError(t, json.Unmarshal(m.Value, &env))
	return &env
}

func TestNewProducer_Validation(t *testing.T) {
	_, err := NewProducer(config.KafkaConfig{}, logging.NewNopLogger(), nil)
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = NewProducer(config.KafkaConfig{Brokers: []string{"b:9092"}, MaxRetries: -1}, logging.NewNopLogger(), nil)
	assert.True(t, pkgerrors.IsValidation(err))

	p, err := NewProducer(config.KafkaConfig{Brokers: []string{"b:9092"}}, logging.NewNopLogger(), nil)
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestProducer_Publish(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), &common.ProducerMessage{
		Topic:   "t",
		Key:     []byte("k"),
		Value:   []byte("v"),
		Headers: map[string]string{"h": "1"},
	})
	require.NoError(t, err)

	sent := w.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "t", sent[0].Topic)
	assert.Equal(t, []byte("k"), sent[0].Key)
	assert.Equal(t, []kafka.Header{{Key: "h", Value: []byte("1")}}, sent[0].Headers)
	assert.False(t, sent[0].Time.IsZero())
}

func TestProducer_Publish_Rejects(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	ctx := context.Background()

	assert.True(t, pkgerrors.IsValidation(p.Publish(ctx, &common.ProducerMessage{Value: []byte("v")})))
	assert.True(t, pkgerrors.IsValidation(p.Publish(ctx, &common.ProducerMessage{Topic: "t"})))
	assert.True(t, pkgerrors.IsValidation(p.Publish(ctx, &common.ProducerMessage{Topic: "t", Value: make([]byte, maxMessageBytes+1)})))

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, ErrProducerClosed, p.Publish(ctx, &common.ProducerMessage{Topic: "t", Value: []byte("v")}))
}

func TestProducer_Publish_WriteFailure(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{err: errors.New("broker down")})

	err := p.Publish(context.Background(), &common.ProducerMessage{Topic: "t", Value: []byte("v")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeMessageQueueError))
}

func TestNotificationSink_RoutesByAudience(t *testing.T) {
	w := &mockKafkaWriter{}
	sink := NewNotificationSink(newTestProducer(w))
	ctx := context.Background()

	n := notification.Notification{Kind: notification.KindHighRiskAlert, Title: "High-risk result: High"}

	n.Target = notification.UserTarget("d-1")
	require.NoError(t, sink.Notify(ctx, n))
	n.Target = notification.ClinicTarget("c-1")
	require.NoError(t, sink.Notify(ctx, n))

	sent := w.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, TopicNotificationUser, sent[0].Topic)
	assert.Equal(t, []byte("d-1"), sent[0].Key)
	assert.Equal(t, TopicNotificationClinic, sent[1].Topic)

	env := decodeEnvelope(t, sent[1])
	assert.Equal(t, EventNotification, env.EventType)
	var got notification.Notification
	require.NoError(t, env.DecodePayload(&got))
	assert.Equal(t, notification.ClinicTarget("c-1"), got.Target)
	assert.Equal(t, "High-risk result: High", got.Title)
}

func TestNotificationSink_InvalidTarget(t *testing.T) {
	w := &mockKafkaWriter{}
	sink := NewNotificationSink(newTestProducer(w))

	err := sink.Notify(context.Background(), notification.Notification{Target: notification.UserTarget("")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeNotificationTargetInvalid))

	err = sink.Notify(context.Background(), notification.Notification{Target: notification.Target{Audience: "pager", ID: "x"}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeNotificationTargetInvalid))
	assert.Empty(t, w.sent())
}

func TestNotificationSink_PublishFailure(t *testing.T) {
	sink := NewNotificationSink(newTestProducer(&mockKafkaWriter{err: errors.New("down")}))

	err := sink.Notify(context.Background(), notification.Notification{Target: notification.ClinicTarget("c-1")})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeNotificationFailed))
}

func TestFindingsPublisher(t *testing.T) {
	w := &mockKafkaWriter{}
	pub := NewFindingsPublisher(newTestProducer(w))
	at := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

	findings := []risk.AbnormalTrendFinding{
		{PatientID: "p-1", TrendType: risk.TrendSuddenSpike, CurrentRiskLevel: risk.RiskLevelCritical, DetectedAt: at},
		{PatientID: "p-2", TrendType: risk.TrendConsistentHigh, CurrentRiskLevel: risk.RiskLevelHigh, DetectedAt: at},
	}
	n, err := pub.PublishFindings(context.Background(), "c-1", findings)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sent := w.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, TopicTrendFindings, sent[0].Topic)
	assert.Equal(t, []byte("p-1"), sent[0].Key)

	var payload map[string]interface{}
	require.NoError(t, decodeEnvelope(t, sent[0]).DecodePayload(&payload))
	assert.Equal(t, "c-1", payload["clinicId"])
	assert.Equal(t, "SuddenSpike", payload["trendType"])
	assert.Equal(t, "Critical", payload["currentRiskLevel"])
}

func TestFindingsPublisher_StopsOnFailure(t *testing.T) {
	pub := NewFindingsPublisher(newTestProducer(&mockKafkaWriter{err: errors.New("down")}))

	n, err := pub.PublishFindings(context.Background(), "c-1", []risk.AbnormalTrendFinding{{PatientID: "p-1"}})
	assert.Error(t, err)
	assert.Zero(t, n)
}
