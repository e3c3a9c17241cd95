package h225

import (
	"fmt"

	"github.com/arzzra/h323ep/pkg/h323/alias"
	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
	"github.com/arzzra/h323ep/pkg/h323/wire"
)

// Codec кодирование и разбор сообщений Q.931/H.225
type Codec interface {
	Encode(m *Message) ([]byte, error)
	Decode(b []byte) (*Message, error)
}

// TLVCodec кодек на компактном TLV представлении
type TLVCodec struct{}

const (
	attrCallReference wire.Attribute = iota + 1
	attrFromDestination
	attrCallID
	attrConferenceID
	attrCallingNumber
	attrCalledNumber
	attrDisplay
	attrSourceAlias
	attrDestAlias
	attrSourceCallSignal
	attrDestCallSignal
	attrH245Address
	attrH245Tunneling
	attrH245Control
	attrFastStart
	attrCause
	attrReleaseReason
	attrFacilityReason
	attrAlternativeAddress
	attrAlternativeAlias
)

// Encode кодирует сообщение
func (TLVCodec) Encode(m *Message) ([]byte, error) {
	if m == nil || !m.Type.Valid() {
		return nil, h323errors.Wrap("h225 encode", h323errors.KindDecode, h323errors.ErrInvalidMessage)
	}
	w := wire.NewWriter(byte(m.Type))
	w.Uint16(attrCallReference, m.CallReference)
	w.Bool(attrFromDestination, m.FromDestination)
	w.GUID(attrCallID, m.CallID)
	w.GUID(attrConferenceID, m.ConferenceID)
	w.String(attrCallingNumber, m.CallingNumber)
	w.String(attrCalledNumber, m.CalledNumber)
	w.String(attrDisplay, m.Display)
	m.SourceAliases.Write(w, attrSourceAlias)
	m.DestAliases.Write(w, attrDestAlias)
	w.AddrPort(attrSourceCallSignal, m.SourceCallSignal)
	w.AddrPort(attrDestCallSignal, m.DestCallSignal)
	w.AddrPort(attrH245Address, m.H245Address)
	w.Bool(attrH245Tunneling, m.H245Tunneling)
	for _, pdu := range m.H245Control {
		w.Raw(attrH245Control, pdu)
	}
	for _, olc := range m.FastStart {
		w.Raw(attrFastStart, olc)
	}
	if m.Type == ReleaseComplete {
		w.Uint8(attrCause, m.Cause)
		if m.HasReason {
			w.Uint8(attrReleaseReason, m.ReleaseReason)
		}
	}
	if m.Type == Facility {
		w.Uint8(attrFacilityReason, m.FacilityReason)
		w.AddrPort(attrAlternativeAddress, m.AlternativeAddress)
		m.AlternativeAliases.Write(w, attrAlternativeAlias)
	}
	return w.Bytes(), nil
}

// Decode разбирает сообщение
func (TLVCodec) Decode(b []byte) (*Message, error) {
	t, attrs, err := wire.Parse(b)
	if err != nil {
		return nil, err
	}
	m := &Message{Type: MsgType(t)}
	if !m.Type.Valid() {
		return nil, h323errors.Wrap("h225 decode", h323errors.KindDecode,
			fmt.Errorf("%w: message type 0x%02x", h323errors.ErrInvalidMessage, t))
	}

	for _, a := range attrs {
		var err error
		switch a.Type {
		case attrCallReference:
			m.CallReference, err = a.AsUint16()
		case attrFromDestination:
			m.FromDestination = a.AsBool()
		case attrCallID:
			m.CallID, err = a.AsGUID()
		case attrConferenceID:
			m.ConferenceID, err = a.AsGUID()
		case attrCallingNumber:
			m.CallingNumber = a.AsString()
		case attrCalledNumber:
			m.CalledNumber = a.AsString()
		case attrDisplay:
			m.Display = a.AsString()
		case attrSourceAlias:
			err = appendAlias(&m.SourceAliases, a)
		case attrDestAlias:
			err = appendAlias(&m.DestAliases, a)
		case attrSourceCallSignal:
			m.SourceCallSignal, err = a.AsAddrPort()
		case attrDestCallSignal:
			m.DestCallSignal, err = a.AsAddrPort()
		case attrH245Address:
			m.H245Address, err = a.AsAddrPort()
		case attrH245Tunneling:
			m.H245Tunneling = a.AsBool()
		case attrH245Control:
			m.H245Control = append(m.H245Control, clone(a.Value))
		case attrFastStart:
			m.FastStart = append(m.FastStart, clone(a.Value))
		case attrCause:
			m.Cause, err = a.AsUint8()
		case attrReleaseReason:
			m.ReleaseReason, err = a.AsUint8()
			m.HasReason = true
		case attrFacilityReason:
			m.FacilityReason, err = a.AsUint8()
		case attrAlternativeAddress:
			m.AlternativeAddress, err = a.AsAddrPort()
		case attrAlternativeAlias:
			err = appendAlias(&m.AlternativeAliases, a)
		}
		if err != nil {
			return nil, h323errors.Wrap("h225 decode "+m.Type.String(), h323errors.KindDecode, err)
		}
	}
	return m, nil
}

func appendAlias(l *alias.List, a wire.RawAttribute) error {
	v, err := alias.Decode(a)
	if err != nil {
		return err
	}
	*l = append(*l, v)
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
