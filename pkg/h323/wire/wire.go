// Package wire содержит компактное TLV-кодирование, на котором построены
// встроенные кодеки RAS, H.225 и H.245.
//
// Формат сообщения: 1 байт типа сообщения, затем последовательность
// атрибутов: 2 байта типа, 2 байта длины, значение.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"

	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
)

var be = binary.BigEndian

// Attribute тип атрибута
type Attribute uint16

const attrHeaderLen = 4

const (
	familyIPv4 = 4
	familyIPv6 = 6
)

// Writer собирает сообщение
type Writer struct {
	*bytes.Buffer
}

// NewWriter создает сообщение заданного типа
func NewWriter(msgType byte) *Writer {
	const defaultBuffer = 256
	w := &Writer{Buffer: bytes.NewBuffer(make([]byte, 0, defaultBuffer))}
	w.WriteByte(msgType)
	return w
}

func (w *Writer) attr(a Attribute, value []byte) {
	var hdr [attrHeaderLen]byte
	be.PutUint16(hdr[0:2], uint16(a))
	be.PutUint16(hdr[2:4], uint16(len(value)))
	w.Write(hdr[:])
	w.Write(value)
}

// Uint8 записывает однобайтовый атрибут
func (w *Writer) Uint8(a Attribute, v uint8) { w.attr(a, []byte{v}) }

// Uint16 записывает 16-битный атрибут
func (w *Writer) Uint16(a Attribute, v uint16) {
	var b [2]byte
	be.PutUint16(b[:], v)
	w.attr(a, b[:])
}

// Uint32 записывает 32-битный атрибут
func (w *Writer) Uint32(a Attribute, v uint32) {
	var b [4]byte
	be.PutUint32(b[:], v)
	w.attr(a, b[:])
}

// Int64 записывает 64-битный атрибут
func (w *Writer) Int64(a Attribute, v int64) {
	var b [8]byte
	be.PutUint64(b[:], uint64(v))
	w.attr(a, b[:])
}

// Bool записывает флаг; false не записывается
func (w *Writer) Bool(a Attribute, v bool) {
	if v {
		w.attr(a, []byte{1})
	}
}

// String записывает строку; пустая строка не записывается
func (w *Writer) String(a Attribute, s string) {
	if s != "" {
		w.attr(a, []byte(s))
	}
}

// Raw записывает произвольные байты
func (w *Writer) Raw(a Attribute, b []byte) { w.attr(a, b) }

// GUID записывает 16-байтовый идентификатор; нулевой не записывается
func (w *Writer) GUID(a Attribute, id [16]byte) {
	if id != ([16]byte{}) {
		w.attr(a, id[:])
	}
}

// AddrPort записывает транспортный адрес; невалидный не записывается
func (w *Writer) AddrPort(a Attribute, ap netip.AddrPort) {
	if !ap.IsValid() {
		return
	}
	addr := ap.Addr().Unmap()
	b := make([]byte, 0, 19)
	if addr.Is4() {
		b = append(b, familyIPv4)
	} else {
		b = append(b, familyIPv6)
	}
	b = be.AppendUint16(b, ap.Port())
	b = append(b, addr.AsSlice()...)
	w.attr(a, b)
}

// Nested записывает вложенную группу атрибутов
func (w *Writer) Nested(a Attribute, fill func(*Writer)) {
	inner := &Writer{Buffer: new(bytes.Buffer)}
	fill(inner)
	w.attr(a, inner.Buffer.Bytes())
}

// RawAttribute разобранный атрибут
type RawAttribute struct {
	Type  Attribute
	Value []byte
}

func decodeErr(format string, args ...any) error {
	return h323errors.Wrap("wire decode", h323errors.KindDecode,
		fmt.Errorf("%w: "+format, append([]any{h323errors.ErrInvalidMessage}, args...)...))
}

// Parse разбирает сообщение на тип и атрибуты
func Parse(b []byte) (byte, []RawAttribute, error) {
	if len(b) < 1 {
		return 0, nil, decodeErr("empty message")
	}
	attrs, err := ParseAttributes(b[1:])
	if err != nil {
		return 0, nil, err
	}
	return b[0], attrs, nil
}

// ParseAttributes разбирает последовательность атрибутов
func ParseAttributes(b []byte) ([]RawAttribute, error) {
	var attrs []RawAttribute
	for len(b) > 0 {
		if len(b) < attrHeaderLen {
			return nil, decodeErr("truncated attribute header")
		}
		t := Attribute(be.Uint16(b[0:2]))
		l := int(be.Uint16(b[2:4]))
		if len(b) < attrHeaderLen+l {
			return nil, decodeErr("attribute 0x%04x length %d exceeds message", uint16(t), l)
		}
		attrs = append(attrs, RawAttribute{Type: t, Value: b[attrHeaderLen : attrHeaderLen+l]})
		b = b[attrHeaderLen+l:]
	}
	return attrs, nil
}

// AsUint8 значение однобайтового атрибута
func (r RawAttribute) AsUint8() (uint8, error) {
	if len(r.Value) != 1 {
		return 0, decodeErr("attribute 0x%04x: want 1 byte", uint16(r.Type))
	}
	return r.Value[0], nil
}

// AsUint16 значение 16-битного атрибута
func (r RawAttribute) AsUint16() (uint16, error) {
	if len(r.Value) != 2 {
		return 0, decodeErr("attribute 0x%04x: want 2 bytes", uint16(r.Type))
	}
	return be.Uint16(r.Value), nil
}

// AsUint32 значение 32-битного атрибута
func (r RawAttribute) AsUint32() (uint32, error) {
	if len(r.Value) != 4 {
		return 0, decodeErr("attribute 0x%04x: want 4 bytes", uint16(r.Type))
	}
	return be.Uint32(r.Value), nil
}

// AsInt64 значение 64-битного атрибута
func (r RawAttribute) AsInt64() (int64, error) {
	if len(r.Value) != 8 {
		return 0, decodeErr("attribute 0x%04x: want 8 bytes", uint16(r.Type))
	}
	return int64(be.Uint64(r.Value)), nil
}

// AsBool значение флага
func (r RawAttribute) AsBool() bool {
	return len(r.Value) > 0 && r.Value[0] != 0
}

// AsString значение строкового атрибута
func (r RawAttribute) AsString() string { return string(r.Value) }

// AsGUID значение 16-байтового идентификатора
func (r RawAttribute) AsGUID() ([16]byte, error) {
	var id [16]byte
	if len(r.Value) != 16 {
		return id, decodeErr("attribute 0x%04x: want 16 bytes", uint16(r.Type))
	}
	copy(id[:], r.Value)
	return id, nil
}

// AsAddrPort значение транспортного адреса
func (r RawAttribute) AsAddrPort() (netip.AddrPort, error) {
	if len(r.Value) < 3 {
		return netip.AddrPort{}, decodeErr("attribute 0x%04x: short address", uint16(r.Type))
	}
	port := be.Uint16(r.Value[1:3])
	ip := r.Value[3:]
	switch {
	case r.Value[0] == familyIPv4 && len(ip) == 4:
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte(ip)), port), nil
	case r.Value[0] == familyIPv6 && len(ip) == 16:
		return netip.AddrPortFrom(netip.AddrFrom16([16]byte(ip)), port), nil
	}
	return netip.AddrPort{}, decodeErr("attribute 0x%04x: bad address family %d", uint16(r.Type), r.Value[0])
}

// AsNested разбирает вложенную группу атрибутов
func (r RawAttribute) AsNested() ([]RawAttribute, error) {
	return ParseAttributes(r.Value)
}
