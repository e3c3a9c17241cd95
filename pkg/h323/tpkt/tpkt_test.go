package tpkt_test

import (
	"bytes"
	stderrors "errors"
	"net"
	"testing"
	"time"

	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
	"github.com/arzzra/h323ep/pkg/h323/tpkt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncodeHeaderBytes проверяет точный формат заголовка
func TestEncodeHeaderBytes(t *testing.T) {
	frame, err := tpkt.Encode([]byte{0xAA, 0xBB, 0xCC})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x00, 0x00, 0x07, 0xAA, 0xBB, 0xCC}, frame)
}

// TestRoundTrip проверяет восстановление полезной нагрузки любой длины
func TestRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 4, 255, 256, 4096, tpkt.MaxFrameLen - tpkt.HeaderLen} {
		payload := bytes.Repeat([]byte{byte(size)}, size)
		frame, err := tpkt.Encode(payload)
		require.NoError(t, err, "size %d", size)

		h, err := tpkt.ParseHeader(frame)
		require.NoError(t, err)
		assert.Equal(t, size, h.PayloadLen())

		got, err := tpkt.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}
}

func TestEncodeTooLarge(t *testing.T) {
	_, err := tpkt.Encode(make([]byte, tpkt.MaxFrameLen))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, h323errors.ErrMessageTooLarge))
}

func TestParseHeaderShortLength(t *testing.T) {
	_, err := tpkt.ParseHeader([]byte{3, 0, 0, 2})
	require.Error(t, err)
	assert.True(t, h323errors.IsDecode(err))
}

// TestReaderAssemblesPartialWrites проверяет сборку сообщения из частей
func TestReaderAssemblesPartialWrites(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte("setup-message-payload")
	frame, err := tpkt.Encode(payload)
	require.NoError(t, err)

	go func() {
		for i := 0; i < len(frame); i += 5 {
			end := min(i+5, len(frame))
			client.Write(frame[i:end])
			time.Sleep(5 * time.Millisecond)
		}
	}()

	r := tpkt.NewReader(server, 0, time.Second)
	got, err := r.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// TestReaderStalledPayload проверяет что зависание после заголовка - транспортная ошибка
func TestReaderStalledPayload(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte{3, 0, 0, 20})
		client.Write([]byte{1, 2, 3})
	}()

	r := tpkt.NewReader(server, 0, 100*time.Millisecond)
	start := time.Now()
	_, err := r.ReadMessage()
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.True(t, h323errors.IsTransport(err), "ожидалась транспортная ошибка: %v", err)
	assert.False(t, h323errors.IsDecode(err))
	assert.True(t, stderrors.Is(err, h323errors.ErrIncompleteMessage))
	assert.Equal(t, 3*time.Second, tpkt.DefaultPartialWait)
}

func TestReaderRejectsOversize(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go client.Write([]byte{3, 0, 0x10, 0x00})

	r := tpkt.NewReader(server, 1024, time.Second)
	_, err := r.ReadMessage()
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, h323errors.ErrMessageTooLarge))
}

func TestReaderPeerClosed(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	client.Close()

	r := tpkt.NewReader(server, 0, time.Second)
	_, err := r.ReadMessage()
	require.Error(t, err)
	assert.True(t, h323errors.IsTransport(err))
}

func TestWriteMessage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tpkt.WriteMessage(&buf, []byte{9, 9}))
	assert.Equal(t, []byte{3, 0, 0, 6, 9, 9}, buf.Bytes())
}
