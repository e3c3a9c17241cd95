package wire

import (
	"net/netip"
	"testing"

	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterParse(t *testing.T) {
	w := NewWriter(7)
	w.Uint16(1, 0xBEEF)
	w.String(2, "EP1")
	w.String(3, "")
	w.Bool(4, true)
	w.Bool(5, false)
	w.AddrPort(6, netip.MustParseAddrPort("10.0.0.5:1719"))
	w.AddrPort(6, netip.MustParseAddrPort("[2001:db8::1]:1720"))
	w.Nested(8, func(n *Writer) { n.Uint8(1, 9) })

	msgType, attrs, err := Parse(w.Bytes())
	require.NoError(t, err)
	assert.Equal(t, byte(7), msgType)
	require.Len(t, attrs, 6)

	v, err := attrs[0].AsUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), v)
	assert.Equal(t, "EP1", attrs[1].AsString())
	assert.True(t, attrs[2].AsBool())

	ap4, err := attrs[3].AsAddrPort()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:1719", ap4.String())
	ap6, err := attrs[4].AsAddrPort()
	require.NoError(t, err)
	assert.Equal(t, "[2001:db8::1]:1720", ap6.String())

	inner, err := attrs[5].AsNested()
	require.NoError(t, err)
	require.Len(t, inner, 1)
	b, err := inner[0].AsUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(9), b)
}

func TestParseTruncated(t *testing.T) {
	w := NewWriter(1)
	w.String(2, "hello")
	data := w.Bytes()

	_, _, err := Parse(data[:len(data)-2])
	require.Error(t, err)
	assert.True(t, h323errors.IsDecode(err))

	_, _, err = Parse(nil)
	assert.True(t, h323errors.IsDecode(err))
}

func TestWrongWidth(t *testing.T) {
	_, err := RawAttribute{Type: 1, Value: []byte{1}}.AsUint16()
	assert.True(t, h323errors.IsDecode(err))
	_, err = RawAttribute{Type: 1, Value: []byte{9, 0, 1, 1}}.AsAddrPort()
	assert.True(t, h323errors.IsDecode(err))
}
