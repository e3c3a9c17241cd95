package transport_test

import (
	"context"
	"net/netip"
	"testing"

	"github.com/arzzra/h323ep/pkg/h323/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var loopback = netip.MustParseAddr("127.0.0.1")

func TestPortRangeWraps(t *testing.T) {
	r := transport.MustPortRange(5000, 5002)
	got := []int{r.Next(), r.Next(), r.Next(), r.Next()}
	assert.Equal(t, []int{5000, 5001, 5002, 5000}, got)
	assert.Equal(t, 3, r.Size())
}

func TestPortRangeEvenPairs(t *testing.T) {
	r := transport.MustPortRange(14031, 14036)
	p1, p2 := r.NextEven()
	assert.Equal(t, 14032, p1)
	assert.Equal(t, 14033, p2)
	p1, _ = r.NextEven()
	assert.Equal(t, 14034, p1)
	p1, _ = r.NextEven()
	assert.Equal(t, 14032, p1)
}

func TestInvalidPortRange(t *testing.T) {
	_, err := transport.NewPortRange(2000, 1000)
	assert.Error(t, err)
	_, err = transport.NewPortRange(0, 10)
	assert.Error(t, err)
}

func TestChannelNumbersWrap(t *testing.T) {
	n := transport.NewChannelNumbers()
	first := n.Next()
	assert.Equal(t, uint16(1001), first)
	for i := 0; i < 99; i++ {
		n.Next()
	}
	assert.Equal(t, uint16(1001), n.Next())
}

func TestDialFromRange(t *testing.T) {
	ctx := context.Background()
	ln, err := transport.ListenTCP(ctx, netip.AddrPortFrom(loopback, 0))
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan netip.AddrPort, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- transport.LocalAddrPort(c.RemoteAddr())
		c.Close()
	}()

	r := transport.MustPortRange(42100, 42199)
	conn, err := transport.DialTCP(ctx, loopback, r, transport.LocalAddrPort(ln.Addr()))
	require.NoError(t, err)
	defer conn.Close()

	local := transport.LocalAddrPort(conn.LocalAddr())
	assert.GreaterOrEqual(t, int(local.Port()), 42100)
	assert.LessOrEqual(t, int(local.Port()), 42199)
	assert.Equal(t, local, <-accepted)
}

func TestListenUDPPair(t *testing.T) {
	r := transport.MustPortRange(43100, 43199)
	rtp, rtcp, err := transport.ListenUDPPair(context.Background(), loopback, r)
	require.NoError(t, err)
	defer rtp.Close()
	defer rtcp.Close()

	p := transport.LocalAddrPort(rtp.LocalAddr()).Port()
	assert.Zero(t, p%2)
	assert.Equal(t, p+1, transport.LocalAddrPort(rtcp.LocalAddr()).Port())
	assert.NoError(t, transport.SetTOS(rtp, 0xb8))
}
