package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dronefleet/gcslink/pkg/events"
	"github.com/dronefleet/gcslink/pkg/gcs"
	"github.com/dronefleet/gcslink/pkg/healthcheck"
	"github.com/dronefleet/gcslink/pkg/mqtt"
	"github.com/dronefleet/gcslink/pkg/protocol"
)

type published struct {
	topic    string
	retained bool
	msg      *mqtt.Message
}

// mockBroker records publishes and captures subscription handlers.
type mockBroker struct {
	mu           sync.Mutex
	published    []published
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	publishErr   error
}

func newMockBroker() *mockBroker {
	return &mockBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *mockBroker) PublishJSON(topic string, qos byte, retained bool, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	msg, ok := payload.(*mqtt.Message)
	if !ok {
		return errors.New("unexpected payload type")
	}
	b.published = append(b.published, published{topic: topic, retained: retained, msg: msg})
	return nil
}

func (b *mockBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *mockBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	b.unsubscribed = append(b.unsubscribed, topic)
	return nil
}

func (b *mockBroker) deliver(t *testing.T, topic string, data string) error {
	t.Helper()
	b.mu.Lock()
	handler, ok := b.handlers[topic]
	b.mu.Unlock()
	require.True(t, ok, "no subscription for %s", topic)
	return handler(topic, []byte(data))
}

func (b *mockBroker) messages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

type sentCommand struct {
	command   string
	kind      string
	system    int
	component int
	params    interface{}
}

// mockLink publishes events through a real bus and records sends.
type mockLink struct {
	*events.Bus[gcs.EventKind, gcs.Event]

	mu      sync.Mutex
	sent    []sentCommand
	sendErr error
}

func newMockLink() *mockLink {
	return &mockLink{Bus: events.NewBus[gcs.EventKind, gcs.Event](nil)}
}

func (l *mockLink) SendCommand(ctx context.Context, command string, params interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, sentCommand{command: command, params: params})
	return nil
}

func (l *mockLink) SendProtocolCommand(ctx context.Context, kind string, system, component int, payload interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, sentCommand{command: protocol.MAVLinkCommand, kind: kind, system: system, component: component, params: payload})
	return nil
}

func (l *mockLink) publish(e gcs.Event) {
	l.Emit(e.Kind(), e)
}

func startRelay(t *testing.T) (*Relay, *mockLink, *mockBroker) {
	t.Helper()
	link := newMockLink()
	broker := newMockBroker()
	r := New(&Config{VehicleID: "uav-7"}, link, broker, zap.NewNop())
	require.NoError(t, r.Start())
	return r, link, broker
}

func TestRelayPublishesEvents(t *testing.T) {
	_, link, broker := startRelay(t)

	link.publish(gcs.TelemetryEvent{
		Telemetry: protocol.Telemetry{Altitude: 45.2, Mode: "AUTO"},
		Payload:   json.RawMessage(`{"altitude":45.2,"mode":"AUTO"}`),
	})
	link.publish(gcs.StatusEvent{Status: protocol.Status{Mode: "GUIDED", Status: "Armed"}})
	link.publish(gcs.HeartbeatEvent{Payload: json.RawMessage(`{}`)})
	link.publish(gcs.ConnectedEvent{Connection: gcs.ConnectionState{Connected: true, Endpoint: "ws://localhost:8080"}})
	link.publish(gcs.ErrorEvent{Err: gcs.ErrNotConnected})
	link.publish(gcs.DisconnectedEvent{})

	msgs := broker.messages()
	require.Len(t, msgs, 6)

	topics := make([]string, len(msgs))
	for i, m := range msgs {
		topics[i] = m.topic
		assert.Equal(t, mqtt.MessageTypeEvent, m.msg.Type)
		assert.Equal(t, "gcslink:relay", m.msg.Source)
	}
	assert.Equal(t, []string{
		"gcslink/vehicle/uav-7/telemetry",
		"gcslink/vehicle/uav-7/status",
		"gcslink/vehicle/uav-7/heartbeat",
		"gcslink/vehicle/uav-7/event/connected",
		"gcslink/vehicle/uav-7/event/error",
		"gcslink/vehicle/uav-7/event/disconnected",
	}, topics)

	var telemetry gcs.TelemetryEvent
	require.NoError(t, msgs[0].msg.UnmarshalPayload(&telemetry))
	assert.Equal(t, 45.2, telemetry.Telemetry.Altitude)
	assert.JSONEq(t, `{"altitude":45.2,"mode":"AUTO"}`, string(telemetry.Payload))

	var errPayload map[string]interface{}
	require.NoError(t, msgs[4].msg.UnmarshalPayload(&errPayload))
	assert.Equal(t, "not connected to ground control", errPayload["message"])
}

func TestRelayForwardsCommands(t *testing.T) {
	tests := []struct {
		name     string
		envelope string
		want     sentCommand
	}{
		{
			name:     "simple command",
			envelope: `{"id":"c1","type":"command","source":"ops","payload":{"command":"move","params":{"vx":1,"vy":0,"vz":0}}}`,
			want:     sentCommand{command: "move", params: json.RawMessage(`{"vx":1,"vy":0,"vz":0}`)},
		},
		{
			name:     "simple command without params",
			envelope: `{"id":"c2","type":"command","source":"ops","payload":{"command":"land"}}`,
			want:     sentCommand{command: "land"},
		},
		{
			name:     "protocol command with defaults",
			envelope: `{"id":"c3","type":"command","source":"ops","payload":{"command":"mavlink","kind":"TAKEOFF","params":{"altitude":10}}}`,
			want:     sentCommand{command: "mavlink", kind: "TAKEOFF", system: 1, component: 1, params: json.RawMessage(`{"altitude":10}`)},
		},
		{
			name:     "protocol command with target",
			envelope: `{"id":"c4","type":"command","source":"ops","payload":{"command":"mavlink","kind":"LAND","target_system":3,"target_component":190}}`,
			want:     sentCommand{command: "mavlink", kind: "LAND", system: 3, component: 190},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, link, broker := startRelay(t)

			require.NoError(t, broker.deliver(t, r.CommandTopic(), tt.envelope))

			require.Len(t, link.sent, 1)
			got := link.sent[0]
			assert.Equal(t, tt.want.command, got.command)
			assert.Equal(t, tt.want.kind, got.kind)
			assert.Equal(t, tt.want.system, got.system)
			assert.Equal(t, tt.want.component, got.component)
			if tt.want.params == nil {
				assert.Nil(t, got.params)
			} else {
				assert.JSONEq(t, string(tt.want.params.(json.RawMessage)), string(got.params.(json.RawMessage)))
			}

			msgs := broker.messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, "gcslink/vehicle/uav-7/resp", msgs[0].topic)
			assert.Equal(t, mqtt.MessageTypeResponse, msgs[0].msg.Type)

			var resp mqtt.ResponseMessage
			require.NoError(t, msgs[0].msg.UnmarshalPayload(&resp))
			assert.True(t, resp.Success)
			assert.NotEmpty(t, msgs[0].msg.CorrelationID)
		})
	}
}

func TestRelayCommandFailures(t *testing.T) {
	tests := []struct {
		name     string
		envelope string
		sendErr  error
		wantErr  string
	}{
		{
			name:     "link not connected",
			envelope: `{"id":"c1","type":"command","payload":{"command":"land"}}`,
			sendErr:  gcs.ErrNotConnected,
			wantErr:  "not connected",
		},
		{
			name:     "missing kind",
			envelope: `{"id":"c2","type":"command","payload":{"command":"mavlink"}}`,
			wantErr:  "requires a kind",
		},
		{
			name:     "missing name",
			envelope: `{"id":"c3","type":"command","payload":{}}`,
			wantErr:  "command name is required",
		},
		{
			name:     "bad payload",
			envelope: `{"id":"c4","type":"command","payload":"land"}`,
			wantErr:  "invalid command payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, link, broker := startRelay(t)
			link.sendErr = tt.sendErr

			require.NoError(t, broker.deliver(t, r.CommandTopic(), tt.envelope))

			msgs := broker.messages()
			require.Len(t, msgs, 1)
			var resp mqtt.ResponseMessage
			require.NoError(t, msgs[0].msg.UnmarshalPayload(&resp))
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tt.wantErr)
		})
	}
}

func TestRelayIgnoresNonCommands(t *testing.T) {
	r, link, broker := startRelay(t)

	require.NoError(t, broker.deliver(t, r.CommandTopic(), `{"id":"x","type":"event","payload":{}}`))
	assert.Error(t, broker.deliver(t, r.CommandTopic(), `garbage`))

	assert.Empty(t, link.sent)
	assert.Empty(t, broker.messages())
}

func TestRelayStop(t *testing.T) {
	r, link, broker := startRelay(t)

	assert.Equal(t, 1, link.Len(gcs.EventTelemetry))
	assert.Error(t, r.Start(), "second start fails")

	require.NoError(t, r.Stop())
	assert.Equal(t, 0, link.Len(gcs.EventTelemetry))
	assert.Equal(t, []string{"gcslink/vehicle/uav-7/cmd"}, broker.unsubscribed)

	link.publish(gcs.DisconnectedEvent{})
	assert.Empty(t, broker.messages())

	require.NoError(t, r.Stop(), "stopping twice is a no-op")
}

func TestRelayPublishHealth(t *testing.T) {
	r, _, broker := startRelay(t)

	err := r.PublishHealth(context.Background(), &healthcheck.AggregatedResult{
		OverallStatus: healthcheck.StatusDegraded,
		Components: map[string]*healthcheck.Result{
			"bridge": {Component: "bridge", Status: healthcheck.StatusUnhealthy},
		},
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	msgs := broker.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "gcslink/vehicle/uav-7/health/status", msgs[0].topic)
	assert.True(t, msgs[0].retained)
	assert.Equal(t, mqtt.MessageTypeStatus, msgs[0].msg.Type)

	var result healthcheck.AggregatedResult
	require.NoError(t, msgs[0].msg.UnmarshalPayload(&result))
	assert.Equal(t, healthcheck.StatusDegraded, result.OverallStatus)
}

func TestRelayPublishFailureIsLogged(t *testing.T) {
	_, link, broker := startRelay(t)
	broker.publishErr = errors.New("broker offline")

	assert.NotPanics(t, func() { link.publish(gcs.HeartbeatEvent{}) })
}
