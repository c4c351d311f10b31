package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantType MessageType
		wantErr  bool
	}{
		{
			name:     "telemetry frame",
			frame:    `{"type":"telemetry","payload":{"altitude":12.5}}`,
			wantType: MessageTypeTelemetry,
		},
		{
			name:     "unrecognized type still decodes",
			frame:    `{"type":"mission_item","payload":{}}`,
			wantType: MessageType("mission_item"),
		},
		{name: "not json", frame: `hello`, wantErr: true},
		{name: "type is not a string", frame: `{"type":7,"payload":{}}`, wantErr: true},
		{name: "missing type", frame: `{"payload":{}}`, wantErr: true},
		{name: "array frame", frame: `[1,2,3]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.frame))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedFrame)
				assert.Nil(t, env)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, env.Type)
		})
	}
}

func TestMessageTypeKnown(t *testing.T) {
	assert.True(t, MessageTypeTelemetry.Known())
	assert.True(t, MessageTypeError.Known())
	assert.False(t, MessageTypeCommand.Known())
	assert.False(t, MessageType("mission_item").Known())
}

func TestDecodeTelemetry(t *testing.T) {
	t.Run("full payload", func(t *testing.T) {
		raw := json.RawMessage(`{"altitude":45.2,"groundspeed":3.1,"battery_remaining":77,"lat":17.38,"lon":78.48,"mode":"AUTO"}`)
		tel, err := DecodeTelemetry(raw)
		require.NoError(t, err)
		assert.Equal(t, Telemetry{
			Altitude:         45.2,
			Groundspeed:      3.1,
			BatteryRemaining: 77,
			Latitude:         17.38,
			Longitude:        78.48,
			Mode:             "AUTO",
		}, tel)
	})

	t.Run("absent fields default", func(t *testing.T) {
		tel, err := DecodeTelemetry(json.RawMessage(`{}`))
		require.NoError(t, err)
		assert.Zero(t, tel.Altitude)
		assert.Zero(t, tel.BatteryRemaining)
		assert.Equal(t, UnknownMode, tel.Mode)
	})

	t.Run("missing payload defaults", func(t *testing.T) {
		tel, err := DecodeTelemetry(nil)
		require.NoError(t, err)
		assert.Equal(t, UnknownMode, tel.Mode)
	})

	t.Run("wrong field type is skipped", func(t *testing.T) {
		tel, err := DecodeTelemetry(json.RawMessage(`{"altitude":"high","groundspeed":4.5}`))
		assert.ErrorIs(t, err, ErrMalformedFrame)
		assert.Contains(t, err.Error(), "altitude")
		assert.Zero(t, tel.Altitude)
		assert.Equal(t, 4.5, tel.Groundspeed)
		assert.Equal(t, UnknownMode, tel.Mode)
	})

	t.Run("numeric mode keeps the other fields", func(t *testing.T) {
		tel, err := DecodeTelemetry(json.RawMessage(`{"altitude":45.2,"mode":4}`))
		assert.ErrorIs(t, err, ErrMalformedFrame)
		assert.Equal(t, 45.2, tel.Altitude)
		assert.Equal(t, UnknownMode, tel.Mode)
	})

	t.Run("non-object payload", func(t *testing.T) {
		tel, err := DecodeTelemetry(json.RawMessage(`[1,2]`))
		assert.ErrorIs(t, err, ErrMalformedFrame)
		assert.Equal(t, Telemetry{Mode: UnknownMode}, tel)
	})
}

func TestDecodeStatus(t *testing.T) {
	st, err := DecodeStatus(json.RawMessage(`{"mode":"GUIDED","status":"armed"}`))
	require.NoError(t, err)
	assert.Equal(t, Status{Mode: "GUIDED", Status: "armed"}, st)

	st, err = DecodeStatus(json.RawMessage(`{"status":"standby"}`))
	require.NoError(t, err)
	assert.Equal(t, UnknownMode, st.Mode)

	st, err = DecodeStatus(json.RawMessage(`{"mode":4,"status":"ACTIVE"}`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
	assert.Equal(t, Status{Mode: UnknownMode, Status: "ACTIVE"}, st)
}

func TestCommandFrameEncode(t *testing.T) {
	sentAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("params omitted when nil", func(t *testing.T) {
		data, err := NewCommandFrame("land", nil, sentAt).Encode()
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, "command", decoded["type"])
		assert.Equal(t, "land", decoded["command"])
		assert.Equal(t, float64(sentAt.UnixMilli()), decoded["timestamp"])
		assert.NotContains(t, decoded, "params")
	})

	t.Run("velocity params", func(t *testing.T) {
		data, err := NewCommandFrame("move", VelocityParams{VX: 1, VY: -2, VZ: 0.5}, sentAt).Encode()
		require.NoError(t, err)
		assert.JSONEq(t,
			`{"type":"command","command":"move","params":{"vx":1,"vy":-2,"vz":0.5},"timestamp":1772366400000}`,
			string(data))
	})

	t.Run("protocol params", func(t *testing.T) {
		params := ProtocolParams{
			MsgID:           22,
			TargetSystem:    1,
			TargetComponent: 1,
			Payload:         map[string]interface{}{"param7": 10},
		}
		data, err := NewCommandFrame(MAVLinkCommand, params, sentAt).Encode()
		require.NoError(t, err)
		assert.JSONEq(t,
			`{"type":"command","command":"mavlink","params":{"msgid":22,"target_system":1,"target_component":1,"payload":{"param7":10}},"timestamp":1772366400000}`,
			string(data))
	})

	t.Run("unencodable params", func(t *testing.T) {
		_, err := NewCommandFrame("bad", map[string]interface{}{"ch": make(chan int)}, sentAt).Encode()
		assert.Error(t, err)
	})
}

func TestMessageTable(t *testing.T) {
	table := DefaultMessageTable()

	expected := map[string]uint32{
		"COMMAND_LONG":     76,
		"SET_MODE":         11,
		"ARM_DISARM":       400,
		"TAKEOFF":          22,
		"LAND":             21,
		"RETURN_TO_LAUNCH": 20,
	}
	for name, id := range expected {
		got, ok := table.Lookup(name)
		assert.True(t, ok, name)
		assert.Equal(t, id, got, name)
	}

	_, ok := table.Lookup("UNKNOWN_NAME")
	assert.False(t, ok)

	extended := table.With(map[string]uint32{"MISSION_START": 300})
	id, ok := extended.Lookup("MISSION_START")
	assert.True(t, ok)
	assert.Equal(t, uint32(300), id)

	_, ok = table.Lookup("MISSION_START")
	assert.False(t, ok, "With must not mutate the receiver")

	assert.Equal(t, []string{"ARM_DISARM", "COMMAND_LONG", "LAND", "RETURN_TO_LAUNCH", "SET_MODE", "TAKEOFF"}, table.Names())
}
