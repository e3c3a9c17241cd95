package h245

import (
	"fmt"

	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
	"github.com/arzzra/h323ep/pkg/h323/wire"
)

// Codec кодирование и разбор сообщений H.245
type Codec interface {
	Encode(m *Message) ([]byte, error)
	Decode(b []byte) (*Message, error)
}

// TLVCodec кодек на компактном TLV представлении
type TLVCodec struct{}

const (
	attrSeqNum wire.Attribute = iota + 1
	attrTerminalType
	attrStatusNumber
	attrDecision
	attrCapability
	attrChannelNumber
	attrSessionID
	attrDataType
	attrMediaChannel
	attrMediaControl
	attrCause
	attrSource
	attrDigits
	attrReverse
)

const (
	capAttrName wire.Attribute = iota + 1
	capAttrSession
	capAttrReceive
	capAttrTransmit
)

// Encode кодирует сообщение
func (TLVCodec) Encode(m *Message) ([]byte, error) {
	if m == nil || m.Type == MsgNone || m.Type >= msgTypeCount {
		return nil, h323errors.Wrap("h245 encode", h323errors.KindDecode, h323errors.ErrInvalidMessage)
	}
	w := wire.NewWriter(byte(m.Type))

	switch m.Type {
	case MasterSlaveDetermination:
		w.Uint8(attrTerminalType, m.TerminalType)
		w.Uint32(attrStatusNumber, m.StatusDeterminationNumber)
		w.Uint8(attrSeqNum, m.SeqNum)
	case MasterSlaveDeterminationAck:
		w.Uint8(attrDecision, uint8(m.Decision))
		w.Uint8(attrSeqNum, m.SeqNum)
	case TerminalCapabilitySet:
		w.Uint8(attrSeqNum, m.SeqNum)
		for _, c := range m.Capabilities {
			w.Nested(attrCapability, func(n *wire.Writer) {
				n.String(capAttrName, c.Name)
				n.Uint8(capAttrSession, c.SessionID)
				n.Bool(capAttrReceive, c.Receive)
				n.Bool(capAttrTransmit, c.Transmit)
			})
		}
	case TerminalCapabilitySetAck, TerminalCapabilitySetReject:
		w.Uint8(attrSeqNum, m.SeqNum)
		w.Uint8(attrCause, m.Cause)
	case OpenLogicalChannel, OpenLogicalChannelAck:
		w.Uint16(attrChannelNumber, m.ChannelNumber)
		w.Uint8(attrSessionID, m.SessionID)
		w.String(attrDataType, m.Capability)
		w.AddrPort(attrMediaChannel, m.MediaChannel)
		w.AddrPort(attrMediaControl, m.MediaControl)
		if m.Reverse {
			w.Bool(attrReverse, true)
		}
	case CloseLogicalChannel:
		w.Uint16(attrChannelNumber, m.ChannelNumber)
		w.Uint8(attrSource, m.Source)
	case OpenLogicalChannelReject, RequestChannelCloseReject, MasterSlaveDeterminationReject:
		w.Uint16(attrChannelNumber, m.ChannelNumber)
		w.Uint8(attrCause, m.Cause)
	case CloseLogicalChannelAck, RequestChannelClose, RequestChannelCloseAck, RequestChannelCloseRelease:
		w.Uint16(attrChannelNumber, m.ChannelNumber)
	case UserInputIndication:
		w.String(attrDigits, m.Digits)
	case RoundTripDelayRequest, RoundTripDelayResponse:
		w.Uint8(attrSeqNum, m.SeqNum)
	}
	return w.Bytes(), nil
}

// Decode разбирает сообщение
func (TLVCodec) Decode(b []byte) (*Message, error) {
	t, attrs, err := wire.Parse(b)
	if err != nil {
		return nil, err
	}
	if MsgType(t) == MsgNone || MsgType(t) >= msgTypeCount {
		return nil, h323errors.Wrap("h245 decode", h323errors.KindDecode,
			fmt.Errorf("%w: message type %d", h323errors.ErrInvalidMessage, t))
	}
	m := &Message{Type: MsgType(t)}

	for _, a := range attrs {
		var err error
		switch a.Type {
		case attrSeqNum:
			m.SeqNum, err = a.AsUint8()
		case attrTerminalType:
			m.TerminalType, err = a.AsUint8()
		case attrStatusNumber:
			m.StatusDeterminationNumber, err = a.AsUint32()
		case attrDecision:
			var d uint8
			d, err = a.AsUint8()
			m.Decision = Decision(d)
		case attrCapability:
			var c Capability
			c, err = decodeCapability(a)
			m.Capabilities = append(m.Capabilities, c)
		case attrChannelNumber:
			m.ChannelNumber, err = a.AsUint16()
		case attrSessionID:
			m.SessionID, err = a.AsUint8()
		case attrDataType:
			m.Capability = a.AsString()
		case attrMediaChannel:
			m.MediaChannel, err = a.AsAddrPort()
		case attrMediaControl:
			m.MediaControl, err = a.AsAddrPort()
		case attrCause:
			m.Cause, err = a.AsUint8()
		case attrSource:
			m.Source, err = a.AsUint8()
		case attrDigits:
			m.Digits = a.AsString()
		case attrReverse:
			m.Reverse = a.AsBool()
		}
		if err != nil {
			return nil, h323errors.Wrap("h245 decode "+m.Type.String(), h323errors.KindDecode, err)
		}
	}
	return m, nil
}

func decodeCapability(a wire.RawAttribute) (Capability, error) {
	var c Capability
	inner, err := a.AsNested()
	if err != nil {
		return c, err
	}
	for _, f := range inner {
		switch f.Type {
		case capAttrName:
			c.Name = f.AsString()
		case capAttrSession:
			if c.SessionID, err = f.AsUint8(); err != nil {
				return c, err
			}
		case capAttrReceive:
			c.Receive = f.AsBool()
		case capAttrTransmit:
			c.Transmit = f.AsBool()
		}
	}
	if c.Name == "" {
		return c, fmt.Errorf("%w: capability without name", h323errors.ErrInvalidMessage)
	}
	return c, nil
}
