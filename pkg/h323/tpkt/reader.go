package tpkt

import (
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
)

// DefaultPartialWait ожидание между частичными чтениями полезной нагрузки
const DefaultPartialWait = 3 * time.Second

// Reader читает кадры TPKT из соединения
type Reader struct {
	conn        net.Conn
	maxPayload  int
	partialWait time.Duration
	header      [HeaderLen]byte
}

// NewReader создает читатель кадров
func NewReader(conn net.Conn, maxPayload int, partialWait time.Duration) *Reader {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	if partialWait <= 0 {
		partialWait = DefaultPartialWait
	}
	return &Reader{
		conn:        conn,
		maxPayload:  maxPayload,
		partialWait: partialWait,
	}
}

// ReadMessage читает один кадр и возвращает его полезную нагрузку.
// Ожидание заголовка не ограничено; полезная нагрузка дочитывается
// с ограниченным ожиданием между частичными чтениями.
func (r *Reader) ReadMessage() ([]byte, error) {
	n, err := io.ReadFull(r.conn, r.header[:])
	if err != nil {
		if n == 0 && (stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed)) {
			return nil, h323errors.Wrap("tpkt read header", h323errors.KindTransport, h323errors.ErrConnectionClosed)
		}
		if n > 0 {
			return nil, h323errors.Wrap("tpkt read header", h323errors.KindTransport,
				fmt.Errorf("%w: %d of %d header bytes", h323errors.ErrIncompleteMessage, n, HeaderLen))
		}
		return nil, h323errors.Wrap("tpkt read header", h323errors.KindTransport, err)
	}

	h, err := ParseHeader(r.header[:])
	if err != nil {
		return nil, err
	}
	size := h.PayloadLen()
	if size > r.maxPayload {
		return nil, h323errors.Wrap("tpkt read", h323errors.KindDecode,
			fmt.Errorf("%w: %d > %d", h323errors.ErrMessageTooLarge, size, r.maxPayload))
	}

	payload := make([]byte, size)
	if err := r.readPayload(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (r *Reader) readPayload(buf []byte) error {
	defer r.conn.SetReadDeadline(time.Time{})

	read := 0
	for read < len(buf) {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.partialWait)); err != nil {
			return h323errors.Wrap("tpkt read payload", h323errors.KindTransport, err)
		}
		n, err := r.conn.Read(buf[read:])
		read += n
		if err == nil {
			continue
		}
		if read == len(buf) {
			break
		}
		if stderrors.Is(err, os.ErrDeadlineExceeded) {
			return h323errors.Wrap("tpkt read payload", h323errors.KindTransport,
				fmt.Errorf("%w: %d of %d bytes after %s", h323errors.ErrIncompleteMessage, read, len(buf), r.partialWait))
		}
		if stderrors.Is(err, io.EOF) {
			return h323errors.Wrap("tpkt read payload", h323errors.KindTransport,
				fmt.Errorf("%w: %d of %d bytes", h323errors.ErrConnectionClosed, read, len(buf)))
		}
		return h323errors.Wrap("tpkt read payload", h323errors.KindTransport, err)
	}
	return nil
}

// WriteMessage записывает полезную нагрузку одним кадром
func WriteMessage(w io.Writer, payload []byte) error {
	frame, err := Encode(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return h323errors.Wrap("tpkt write", h323errors.KindTransport, err)
	}
	return nil
}
