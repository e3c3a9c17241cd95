package capability_test

import (
	"testing"

	"github.com/arzzra/h323ep/pkg/h323/call"
	"github.com/arzzra/h323ep/pkg/h323/capability"
	"github.com/arzzra/h323ep/pkg/h323/h245"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableAdvertise(t *testing.T) {
	tbl := capability.NewTable(
		&capability.Hooks{CapName: "g711ulaw", Session: call.SessionAudio},
		&capability.Hooks{CapName: "h263", Session: call.SessionVideo, NoTransmit: true},
	)
	require.Error(t, tbl.Add(&capability.Hooks{CapName: "g711ulaw"}))

	caps := tbl.Advertise()
	require.Len(t, caps, 2)
	assert.Equal(t, h245.Capability{Name: "g711ulaw", SessionID: 1, Receive: true, Transmit: true}, caps[0])
	assert.False(t, caps[1].Transmit)
	assert.Equal(t, []uint8{1, 2}, tbl.Sessions())
}

func TestFirstCommon(t *testing.T) {
	tbl := capability.NewTable(
		&capability.Hooks{CapName: "g711alaw", Session: call.SessionAudio},
		&capability.Hooks{CapName: "g711ulaw", Session: call.SessionAudio},
	)
	remote := []h245.Capability{
		{Name: "g711ulaw", SessionID: 1, Receive: true},
		{Name: "g711alaw", SessionID: 1, Transmit: true},
	}
	mc := tbl.FirstCommon(call.SessionAudio, remote)
	require.NotNil(t, mc)
	assert.Equal(t, "g711ulaw", mc.Name())
	assert.Nil(t, tbl.FirstCommon(call.SessionVideo, remote))
}

func TestSupportsDirection(t *testing.T) {
	tbl := capability.NewTable(&capability.Hooks{CapName: "g711ulaw", Session: 1, NoReceive: true})
	assert.NotNil(t, tbl.Supports("g711ulaw", call.Transmit))
	assert.Nil(t, tbl.Supports("g711ulaw", call.Receive))
	assert.Nil(t, tbl.Supports("g729", call.Transmit))
}

func TestStartStopDispatch(t *testing.T) {
	var events []string
	h := &capability.Hooks{
		CapName: "g711ulaw",
		OnStartReceive: func(string, *call.LogicalChannel) error {
			events = append(events, "start-rx")
			return nil
		},
		OnStopTransmit: func(string, *call.LogicalChannel) error {
			events = append(events, "stop-tx")
			return nil
		},
	}
	require.NoError(t, capability.Start(h, "h323_o_1", &call.LogicalChannel{Direction: call.Receive}))
	require.NoError(t, capability.Stop(h, "h323_o_1", &call.LogicalChannel{Direction: call.Transmit}))
	require.NoError(t, capability.Start(h, "h323_o_1", &call.LogicalChannel{Direction: call.Transmit}))
	assert.Equal(t, []string{"start-rx", "stop-tx"}, events)
}
