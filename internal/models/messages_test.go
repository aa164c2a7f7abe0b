package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLocationUpdate(t *testing.T) {
	frame := []byte(`{"type":"location_update","driverId":"d1","lat":40.0,"lng":-74.0,"heading":90,"speed":6.5,"timestamp":1700000010000}`)

	msg, err := DecodeInbound(frame)
	require.NoError(t, err)

	loc, ok := msg.(*LocationUpdateMsg)
	require.True(t, ok)
	assert.Equal(t, "d1", loc.DriverID)
	assert.Equal(t, 40.0, loc.Lat)
	assert.Equal(t, -74.0, loc.Lng)
	require.NotNil(t, loc.Heading)
	assert.Equal(t, 90, *loc.Heading)

	domain := loc.Location()
	assert.Equal(t, int64(1700000010000), domain.Timestamp.UnixMilli())
	assert.NoError(t, domain.Validate())
}

func TestDecodeStatusUpdate(t *testing.T) {
	frame := []byte(`{"type":"status_update","driverId":"d2","isOnline":true,"isAvailable":false,"batteryLevel":48,"timestamp":1700000020000}`)

	msg, err := DecodeInbound(frame)
	require.NoError(t, err)

	st, ok := msg.(*StatusUpdateMsg)
	require.True(t, ok)
	assert.True(t, st.IsOnline)
	assert.False(t, st.IsAvailable)
	assert.True(t, st.Status().Assigned())
}

func TestDecodePresence(t *testing.T) {
	frame := []byte(`{"type":"driver_offline","driverId":"d3","timestamp":1700000030000}`)

	msg, err := DecodeInbound(frame)
	require.NoError(t, err)

	p, ok := msg.(*DriverPresenceMsg)
	require.True(t, ok)
	assert.False(t, p.Online())
	assert.Equal(t, MsgDriverOffline, p.Kind())
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{{{`},
		{"unknown type", `{"type":"telemetry","driverId":"d1"}`},
		{"missing driver id", `{"type":"location_update","lat":1,"lng":2,"timestamp":1700000000000}`},
		{"latitude out of range", `{"type":"location_update","driverId":"d1","lat":91,"lng":2,"timestamp":1700000000000}`},
		{"longitude out of range", `{"type":"location_update","driverId":"d1","lat":1,"lng":-181,"timestamp":1700000000000}`},
		{"missing timestamp", `{"type":"location_update","driverId":"d1","lat":1,"lng":2}`},
		{"heading out of range", `{"type":"location_update","driverId":"d1","lat":1,"lng":2,"heading":400,"timestamp":1700000000000}`},
		{"presence missing timestamp", `{"type":"driver_online","driverId":"d1"}`},
		{"presence location missing timestamp", `{"type":"driver_online","driverId":"d1","timestamp":1700000000000,"location":{"driverId":"d1","lat":1,"lng":2}}`},
		{"battery out of range", `{"type":"status_update","driverId":"d1","isOnline":true,"isAvailable":true,"batteryLevel":120,"timestamp":1700000000000}`},
		{"nearby without query id", `{"type":"nearby_result","drivers":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeInbound([]byte(tt.frame))
			assert.Nil(t, msg)
			require.Error(t, err)
			var malformed *MalformedMessageError
			assert.ErrorAs(t, err, &malformed)
		})
	}
}

func TestLatLngValid(t *testing.T) {
	assert.True(t, LatLng{Lat: -90, Lng: 180}.Valid())
	assert.False(t, LatLng{Lat: 90.0001, Lng: 0}.Valid())
	assert.False(t, LatLng{Lat: math.NaN(), Lng: 0}.Valid())
}
