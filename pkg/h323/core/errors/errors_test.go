package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredefinedKinds(t *testing.T) {
	tests := []struct {
		name      string
		err       H323Error
		kind      Kind
		transport bool
		decode    bool
		timeout   bool
		temporary bool
	}{
		{"transport failure", ErrTransportFailure, KindTransport, true, false, false, false},
		{"incomplete message", ErrIncompleteMessage, KindTransport, true, false, false, false},
		{"invalid message", ErrInvalidMessage, KindDecode, false, true, false, false},
		{"too large", ErrMessageTooLarge, KindDecode, false, true, false, false},
		{"timeout", ErrTimeout, KindTimeout, false, false, true, true},
		{"gk reject", ErrGatekeeperReject, KindGatekeeperReject, false, false, false, false},
		{"resource", ErrResourceExhausted, KindResource, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind())
			assert.Equal(t, tt.transport, tt.err.IsTransport())
			assert.Equal(t, tt.decode, tt.err.IsDecode())
			assert.Equal(t, tt.timeout, tt.err.IsTimeout())
			assert.Equal(t, tt.temporary, tt.err.Temporary())
		})
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrap("read h225", KindUnknown, ErrIncompleteMessage)
	assert.True(t, stderrors.Is(err, ErrIncompleteMessage))
	assert.True(t, IsTransport(err))
	assert.False(t, IsDecode(err))
	assert.Equal(t, "read h225: incomplete message", err.Error())

	wrapped := fmt.Errorf("call %s: %w", "c1", err)
	assert.Equal(t, KindTransport, KindOf(wrapped))

	assert.Nil(t, Wrap("noop", KindDecode, nil))
}

func TestKindOfStdlib(t *testing.T) {
	assert.Equal(t, KindTransport, KindOf(io.EOF))
	assert.Equal(t, KindTransport, KindOf(net.ErrClosed))
	assert.Equal(t, KindTimeout, KindOf(os.ErrDeadlineExceeded))
	assert.Equal(t, KindTransport, KindOf(&net.OpError{Op: "dial", Err: stderrors.New("refused")}))
	assert.Equal(t, KindUnknown, KindOf(stderrors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestWrapExplicitKind(t *testing.T) {
	err := Wrap("decode ras", KindDecode, io.ErrUnexpectedEOF)
	assert.True(t, IsDecode(err))
	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	assert.True(t, IsTimeout(Wrap("wait", KindTimeout, stderrors.New("x"))))
}
