// Package tpkt реализует разбиение потока TCP на сообщения по RFC 1006
// (заголовок TPKT) и очереди исходящих сообщений канала.
package tpkt

import (
	"encoding/binary"
	"fmt"

	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
)

const (
	// HeaderLen длина заголовка TPKT
	HeaderLen = 4
	// Version версия TPKT в первом байте заголовка
	Version = 3
	// MaxFrameLen максимальная длина кадра, помещающаяся в 16-битное поле
	MaxFrameLen = 0xFFFF
	// DefaultMaxPayload максимальный размер полезной нагрузки по умолчанию
	DefaultMaxPayload = 4096
)

// Header заголовок TPKT
type Header struct {
	Version  byte
	Reserved byte
	Length   uint16 // общая длина вместе с заголовком
}

// PayloadLen длина полезной нагрузки
func (h Header) PayloadLen() int {
	return int(h.Length) - HeaderLen
}

// ParseHeader разбирает 4 байта заголовка. Версия не проверяется.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, h323errors.Wrap("tpkt header", h323errors.KindDecode,
			fmt.Errorf("%w: %d bytes", h323errors.ErrInvalidMessage, len(b)))
	}
	h := Header{
		Version:  b[0],
		Reserved: b[1],
		Length:   binary.BigEndian.Uint16(b[2:4]),
	}
	if int(h.Length) < HeaderLen {
		return Header{}, h323errors.Wrap("tpkt header", h323errors.KindDecode,
			fmt.Errorf("%w: length %d", h323errors.ErrInvalidMessage, h.Length))
	}
	return h, nil
}

// PutHeader записывает заголовок для полезной нагрузки длиной payloadLen
func PutHeader(b []byte, payloadLen int) {
	b[0] = Version
	b[1] = 0
	binary.BigEndian.PutUint16(b[2:4], uint16(payloadLen+HeaderLen))
}

// Encode добавляет заголовок TPKT к полезной нагрузке
func Encode(payload []byte) ([]byte, error) {
	if len(payload)+HeaderLen > MaxFrameLen {
		return nil, h323errors.Wrap("tpkt encode", h323errors.KindDecode,
			fmt.Errorf("%w: %d bytes", h323errors.ErrMessageTooLarge, len(payload)))
	}
	frame := make([]byte, HeaderLen+len(payload))
	PutHeader(frame, len(payload))
	copy(frame[HeaderLen:], payload)
	return frame, nil
}

// Decode разбирает один полный кадр и возвращает полезную нагрузку
func Decode(frame []byte) ([]byte, error) {
	h, err := ParseHeader(frame)
	if err != nil {
		return nil, err
	}
	if int(h.Length) != len(frame) {
		return nil, h323errors.Wrap("tpkt decode", h323errors.KindDecode,
			fmt.Errorf("%w: header says %d, have %d", h323errors.ErrInvalidMessage, h.Length, len(frame)))
	}
	return frame[HeaderLen:], nil
}
