package h245

import (
	"net/netip"
	"testing"

	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecMessages(t *testing.T) {
	codec := TLVCodec{}
	tests := []struct {
		name string
		msg  *Message
	}{
		{"msd", &Message{Type: MasterSlaveDetermination, TerminalType: TerminalTypeEndpoint, StatusDeterminationNumber: 123456, SeqNum: 1}},
		{"msd ack", &Message{Type: MasterSlaveDeterminationAck, Decision: DecisionSlave, SeqNum: 1}},
		{"tcs", &Message{Type: TerminalCapabilitySet, SeqNum: 2, Capabilities: []Capability{
			{Name: "g711ulaw64k", SessionID: 1, Receive: true, Transmit: true},
			{Name: "g711alaw64k", SessionID: 1, Receive: true},
		}}},
		{"olc ack", &Message{Type: OpenLogicalChannelAck, ChannelNumber: 1001, SessionID: 1, Capability: "g711ulaw64k",
			MediaChannel: netip.MustParseAddrPort("192.0.2.1:14030"), MediaControl: netip.MustParseAddrPort("192.0.2.1:14031")}},
		{"fast start reverse", &Message{Type: OpenLogicalChannel, ChannelNumber: 1004, SessionID: 1, Capability: "g711ulaw",
			MediaChannel: netip.MustParseAddrPort("192.0.2.1:14032"), Reverse: true}},
		{"clc", &Message{Type: CloseLogicalChannel, ChannelNumber: 1002, Source: SourceLCSE}},
		{"olc reject", &Message{Type: OpenLogicalChannelReject, ChannelNumber: 1003, Cause: CauseDataTypeNotSupported}},
		{"uii", &Message{Type: UserInputIndication, Digits: "1#"}},
		{"end session", &Message{Type: EndSessionCommand}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := codec.Encode(tt.msg)
			require.NoError(t, err)
			got, err := codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestEmptyTCSIsPause(t *testing.T) {
	codec := TLVCodec{}
	data, err := codec.Encode(&Message{Type: TerminalCapabilitySet, SeqNum: 3})
	require.NoError(t, err)
	got, err := codec.Decode(data)
	require.NoError(t, err)
	assert.True(t, got.IsEmptyCapabilitySet())
}

func TestDecodeGarbage(t *testing.T) {
	_, err := TLVCodec{}.Decode([]byte{0xFF, 0x00})
	require.Error(t, err)
	assert.True(t, h323errors.IsDecode(err))

	_, err = TLVCodec{}.Decode([]byte{byte(OpenLogicalChannel), 0, 6, 0, 1, 0xAB})
	require.Error(t, err)
	assert.True(t, h323errors.IsDecode(err))

	_, err = TLVCodec{}.Encode(&Message{})
	assert.Error(t, err)
}

func TestDecisionOpposite(t *testing.T) {
	assert.Equal(t, DecisionSlave, DecisionMaster.Opposite())
	assert.Equal(t, DecisionMaster, DecisionSlave.Opposite())
	assert.True(t, OpenLogicalChannel.IsRequest())
	assert.False(t, EndSessionCommand.IsRequest())
}
