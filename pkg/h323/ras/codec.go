package ras

import (
	"fmt"

	"github.com/arzzra/h323ep/pkg/h323/alias"
	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
	"github.com/arzzra/h323ep/pkg/h323/wire"
)

// Codec кодирование и разбор датаграмм RAS
type Codec interface {
	Encode(m *Message) ([]byte, error)
	Decode(b []byte) (*Message, error)
}

// TLVCodec кодек на компактном TLV представлении
type TLVCodec struct{}

const (
	attrSeqNum wire.Attribute = iota + 1
	attrRASAddress
	attrCallSignalAddress
	attrGatekeeperID
	attrEndpointID
	attrAlias
	attrKeepAlive
	attrTTL
	attrRejectReason
	attrCallReference
	attrCallID
	attrConferenceID
	attrCallModel
	attrAnswerCall
	attrBandwidth
	attrSrcAlias
	attrDestAlias
	attrSrcCallSignal
	attrDestCallSignal
	attrDisengageReason
	attrAlertTime
	attrConnectTime
	attrEndTime
)

// Encode кодирует сообщение
func (TLVCodec) Encode(m *Message) ([]byte, error) {
	if m == nil || m.Type == MsgNone || m.Type >= msgTypeCount {
		return nil, h323errors.Wrap("ras encode", h323errors.KindDecode, h323errors.ErrInvalidMessage)
	}
	if m.SeqNum == 0 {
		return nil, h323errors.Wrap("ras encode "+m.Type.String(), h323errors.KindDecode,
			fmt.Errorf("%w: zero sequence number", h323errors.ErrInvalidMessage))
	}

	w := wire.NewWriter(byte(m.Type))
	w.Uint16(attrSeqNum, m.SeqNum)
	w.AddrPort(attrRASAddress, m.RASAddress)
	w.AddrPort(attrCallSignalAddress, m.CallSignalAddress)
	w.String(attrGatekeeperID, m.GatekeeperID)
	w.String(attrEndpointID, m.EndpointID)
	m.Aliases.Write(w, attrAlias)
	w.Bool(attrKeepAlive, m.KeepAlive)
	if m.TTL > 0 {
		w.Uint32(attrTTL, m.TTL)
	}

	switch m.Type {
	case GatekeeperReject, RegistrationReject, UnregistrationReject, AdmissionReject, DisengageReject:
		w.Uint8(attrRejectReason, uint8(m.RejectReason))
	case AdmissionRequest, AdmissionConfirm, DisengageRequest:
		w.Uint16(attrCallReference, m.CallReference)
		w.GUID(attrCallID, m.CallID)
		w.GUID(attrConferenceID, m.ConferenceID)
		w.Uint8(attrCallModel, uint8(m.CallModel))
		w.Bool(attrAnswerCall, m.AnswerCall)
		if m.Bandwidth > 0 {
			w.Uint32(attrBandwidth, m.Bandwidth)
		}
		m.SrcAliases.Write(w, attrSrcAlias)
		m.DestAliases.Write(w, attrDestAlias)
		w.AddrPort(attrSrcCallSignal, m.SrcCallSignal)
		w.AddrPort(attrDestCallSignal, m.DestCallSignal)
		if m.Type == DisengageRequest {
			w.Uint8(attrDisengageReason, m.DisengageReason)
			if m.AlertTime != 0 {
				w.Int64(attrAlertTime, m.AlertTime)
			}
			if m.ConnectTime != 0 {
				w.Int64(attrConnectTime, m.ConnectTime)
			}
			if m.EndTime != 0 {
				w.Int64(attrEndTime, m.EndTime)
			}
		}
	}
	return w.Bytes(), nil
}

// Decode разбирает датаграмму
func (TLVCodec) Decode(b []byte) (*Message, error) {
	t, attrs, err := wire.Parse(b)
	if err != nil {
		return nil, err
	}
	m := &Message{Type: MsgType(t)}
	if m.Type == MsgNone || m.Type >= msgTypeCount {
		return nil, h323errors.Wrap("ras decode", h323errors.KindDecode,
			fmt.Errorf("%w: message type %d", h323errors.ErrInvalidMessage, t))
	}

	for _, a := range attrs {
		var err error
		switch a.Type {
		case attrSeqNum:
			m.SeqNum, err = a.AsUint16()
		case attrRASAddress:
			m.RASAddress, err = a.AsAddrPort()
		case attrCallSignalAddress:
			m.CallSignalAddress, err = a.AsAddrPort()
		case attrGatekeeperID:
			m.GatekeeperID = a.AsString()
		case attrEndpointID:
			m.EndpointID = a.AsString()
		case attrAlias:
			err = appendAlias(&m.Aliases, a)
		case attrKeepAlive:
			m.KeepAlive = a.AsBool()
		case attrTTL:
			m.TTL, err = a.AsUint32()
		case attrRejectReason:
			var r uint8
			r, err = a.AsUint8()
			m.RejectReason = RejectReason(r)
		case attrCallReference:
			m.CallReference, err = a.AsUint16()
		case attrCallID:
			m.CallID, err = a.AsGUID()
		case attrConferenceID:
			m.ConferenceID, err = a.AsGUID()
		case attrCallModel:
			var cm uint8
			cm, err = a.AsUint8()
			m.CallModel = CallModel(cm)
		case attrAnswerCall:
			m.AnswerCall = a.AsBool()
		case attrBandwidth:
			m.Bandwidth, err = a.AsUint32()
		case attrSrcAlias:
			err = appendAlias(&m.SrcAliases, a)
		case attrDestAlias:
			err = appendAlias(&m.DestAliases, a)
		case attrSrcCallSignal:
			m.SrcCallSignal, err = a.AsAddrPort()
		case attrDestCallSignal:
			m.DestCallSignal, err = a.AsAddrPort()
		case attrDisengageReason:
			m.DisengageReason, err = a.AsUint8()
		case attrAlertTime:
			m.AlertTime, err = a.AsInt64()
		case attrConnectTime:
			m.ConnectTime, err = a.AsInt64()
		case attrEndTime:
			m.EndTime, err = a.AsInt64()
		}
		if err != nil {
			return nil, h323errors.Wrap("ras decode "+m.Type.String(), h323errors.KindDecode, err)
		}
	}
	if m.SeqNum == 0 {
		return nil, h323errors.Wrap("ras decode "+m.Type.String(), h323errors.KindDecode,
			fmt.Errorf("%w: zero sequence number", h323errors.ErrInvalidMessage))
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
