package channels_test

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/h323ep/pkg/h323/alias"
	"github.com/arzzra/h323ep/pkg/h323/call"
	"github.com/arzzra/h323ep/pkg/h323/capability"
	"github.com/arzzra/h323ep/pkg/h323/channels"
	"github.com/arzzra/h323ep/pkg/h323/h225"
	"github.com/arzzra/h323ep/pkg/h323/h245"
	"github.com/arzzra/h323ep/pkg/h323/tpkt"
)

// rawPeer удаленная сторона, которой управляет тест
type rawPeer struct {
	t     *testing.T
	conn  net.Conn
	r     *tpkt.Reader
	codec h225.TLVCodec

	h245codec h245.TLVCodec
	tunneled  []*h245.Message // принятые туннелированные сообщения H.245
}

func newRawPeer(t *testing.T, conn net.Conn) *rawPeer {
	t.Cleanup(func() { conn.Close() })
	return &rawPeer{t: t, conn: conn, r: tpkt.NewReader(conn, 0, 0)}
}

func dialRaw(t *testing.T, addr netip.AddrPort) *rawPeer {
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	return newRawPeer(t, conn)
}

// listenRaw ждет одно входящее соединение
func listenRaw(t *testing.T) (netip.AddrPort, <-chan *rawPeer) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	peers := make(chan *rawPeer, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		peers <- newRawPeer(t, conn)
	}()
	return ln.Addr().(*net.TCPAddr).AddrPort(), peers
}

func (p *rawPeer) send(m *h225.Message) {
	payload, err := p.codec.Encode(m)
	require.NoError(p.t, err)
	require.NoError(p.t, tpkt.WriteMessage(p.conn, payload))
}

// expect читает сообщения до первого сообщения типа typ
func (p *rawPeer) expect(typ h225.MsgType) *h225.Message {
	p.t.Helper()
	for {
		if m := p.next(); m.Type == typ {
			return m
		}
	}
}

// next читает одно сообщение H.225 и сохраняет туннелированные H.245
func (p *rawPeer) next() *h225.Message {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(waitFor))
	defer p.conn.SetReadDeadline(time.Time{})
	data, err := p.r.ReadMessage()
	require.NoError(p.t, err)
	m, err := p.codec.Decode(data)
	require.NoError(p.t, err)
	for _, b := range m.H245Control {
		hm, err := p.h245codec.Decode(b)
		require.NoError(p.t, err)
		p.tunneled = append(p.tunneled, hm)
	}
	return m
}

// expectH245 ждет туннелированное сообщение H.245 типа typ
func (p *rawPeer) expectH245(typ h245.MsgType) *h245.Message {
	p.t.Helper()
	for {
		for i, m := range p.tunneled {
			if m.Type == typ {
				p.tunneled = append(p.tunneled[:i], p.tunneled[i+1:]...)
				return m
			}
		}
		p.next()
	}
}

// sendH245 туннелирует сообщения H.245 в Facility
func (p *rawPeer) sendH245(ref uint16, msgs ...*h245.Message) {
	f := &h225.Message{Type: h225.Facility, CallReference: ref, H245Tunneling: true}
	for _, m := range msgs {
		b, err := p.h245codec.Encode(m)
		require.NoError(p.t, err)
		f.H245Control = append(f.H245Control, b)
	}
	p.send(f)
}

func audioTCS(seq uint8) *h245.Message {
	return &h245.Message{
		Type:   h245.TerminalCapabilitySet,
		SeqNum: seq,
		Capabilities: []h245.Capability{
			{Name: "g711ulaw", SessionID: call.SessionAudio, Receive: true, Transmit: true},
		},
	}
}

// closedAddr адрес, на котором никто не слушает
func closedAddr(t *testing.T) netip.AddrPort {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr).AddrPort()
	require.NoError(t, ln.Close())
	return addr
}

func incomingToken(t *testing.T, ev *events) string {
	t.Helper()
	require.Eventually(t, func() bool { return ev.count(&ev.incoming) == 1 }, waitFor, 10*time.Millisecond)
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.incoming[0].Token
}

func TestOutgoingSetupRemoteBusy(t *testing.T) {
	addr, peers := listenRaw(t)
	ev := &events{}
	m := newManager(t, testConfig(call.Flags{FastStart: true, Tunneling: true}),
		capability.NewTable(newMedia().capability("g711ulaw")), channels.WithCallbacks(ev.callbacks()))

	_, err := m.MakeCall("200@"+addr.String(), channels.CallOptions{})
	require.NoError(t, err)
	peer := <-peers

	setup := peer.expect(h225.Setup)
	assert.NotZero(t, setup.CallReference)
	assert.False(t, setup.FromDestination)
	assert.True(t, setup.H245Tunneling)
	assert.Equal(t, "200", setup.CalledNumber)
	assert.Equal(t, "100", setup.CallingNumber)
	assert.Len(t, setup.FastStart, 2)

	peer.send(&h225.Message{
		Type:            h225.ReleaseComplete,
		CallReference:   setup.CallReference,
		FromDestination: true,
		CallID:          setup.CallID,
		Cause:           h225.CauseUserBusy,
	})

	rc := peer.expect(h225.ReleaseComplete)
	assert.Equal(t, setup.CallReference, rc.CallReference)
	assert.Equal(t, call.ReasonRemoteBusy, ev.clearedReason(t))
}

func TestRemoteReleaseDisengages(t *testing.T) {
	addr, peers := listenRaw(t)
	gk := &fakeGatekeeper{registered: true}
	gk.result.Admitted = true
	gk.result.DestAddress = addr
	ev := &events{}
	m := newManager(t, testConfig(call.Flags{Tunneling: true}), capability.NewTable(newMedia().capability("g711ulaw")),
		channels.WithGatekeeper(gk), channels.WithCallbacks(ev.callbacks()))

	token, err := m.MakeCall("200", channels.CallOptions{})
	require.NoError(t, err)
	peer := <-peers
	setup := peer.expect(h225.Setup)

	peer.send(&h225.Message{
		Type:            h225.ReleaseComplete,
		CallReference:   setup.CallReference,
		FromDestination: true,
		CallID:          setup.CallID,
		Cause:           h225.CauseNormalCallClearing,
	})
	peer.expect(h225.ReleaseComplete)
	assert.Equal(t, call.ReasonRemoteCleared, ev.clearedReason(t))

	gk.mu.Lock()
	defer gk.mu.Unlock()
	require.Len(t, gk.admits, 1)
	require.Len(t, gk.disengaged, 1)
	assert.Equal(t, token, gk.disengaged[0].Token)
	assert.Contains(t, gk.cleaned, token)
}

func TestIncomingCallSignalling(t *testing.T) {
	ev := &events{}
	m := newManager(t, testConfig(call.Flags{ManualRingback: true}), capability.NewTable(newMedia().capability("g711ulaw")),
		channels.WithCallbacks(ev.callbacks()))
	peer := dialRaw(t, serve(t, m))

	peer.send(&h225.Message{
		Type:          h225.Setup,
		CallReference: 7,
		CallID:        [16]byte{1, 2, 3},
		SourceAliases: alias.List{{Type: alias.H323ID, Value: "remote"}},
		CalledNumber:  "100",
	})

	proceeding := peer.expect(h225.CallProceeding)
	assert.Equal(t, uint16(7), proceeding.CallReference)
	assert.True(t, proceeding.FromDestination)
	assert.Equal(t, [16]byte{1, 2, 3}, proceeding.CallID)

	token := incomingToken(t, ev)
	ev.mu.Lock()
	assert.Equal(t, "100", ev.incoming[0].Destination)
	assert.Equal(t, "remote", ev.incoming[0].RemoteAliases[0].Value)
	ev.mu.Unlock()

	peer.send(&h225.Message{Type: h225.StatusEnquiry, CallReference: 7})
	peer.expect(h225.Status)

	require.NoError(t, m.ManualRingback(token))
	peer.expect(h225.Alerting)

	peer.send(&h225.Message{Type: h225.ReleaseComplete, CallReference: 7, Cause: h225.CauseNormalCallClearing})
	peer.expect(h225.ReleaseComplete)
	assert.Equal(t, call.ReasonRemoteCleared, ev.clearedReason(t))
}

func TestLocalForward(t *testing.T) {
	ev := &events{}
	m := newManager(t, testConfig(call.Flags{ManualRingback: true}), capability.NewTable(),
		channels.WithCallbacks(ev.callbacks()))
	peer := dialRaw(t, serve(t, m))

	peer.send(&h225.Message{Type: h225.Setup, CallReference: 9})
	peer.expect(h225.CallProceeding)

	require.NoError(t, m.ForwardCall(incomingToken(t, ev), "300@192.0.2.1:1720"))

	facility := peer.expect(h225.Facility)
	assert.Equal(t, h225.FacilityCallForwarded, facility.FacilityReason)
	assert.Equal(t, netip.MustParseAddrPort("192.0.2.1:1720"), facility.AlternativeAddress)
	require.Len(t, facility.AlternativeAliases, 1)
	assert.Equal(t, "300", facility.AlternativeAliases[0].Value)

	rc := peer.expect(h225.ReleaseComplete)
	assert.Equal(t, h225.ReasonFacilityCallDeflection, rc.ReleaseReason)
	assert.Equal(t, call.ReasonLocalForwarded, ev.clearedReason(t))
}

func TestRemoteForwardStartsNewCall(t *testing.T) {
	addr, peers := listenRaw(t)
	target, targetPeers := listenRaw(t)
	ev := &events{}
	m := newManager(t, testConfig(call.Flags{}), capability.NewTable(), channels.WithCallbacks(ev.callbacks()))

	_, err := m.MakeCall(addr.String(), channels.CallOptions{})
	require.NoError(t, err)
	peer := <-peers
	setup := peer.expect(h225.Setup)

	peer.send(&h225.Message{
		Type:               h225.Facility,
		CallReference:      setup.CallReference,
		FromDestination:    true,
		FacilityReason:     h225.FacilityCallForwarded,
		AlternativeAddress: target,
		AlternativeAliases: alias.List{{Type: alias.DialedDigits, Value: "300"}},
	})
	peer.expect(h225.ReleaseComplete)
	assert.Equal(t, call.ReasonRemoteForwarded, ev.clearedReason(t))

	var forwarded *rawPeer
	select {
	case forwarded = <-targetPeers:
	case <-time.After(waitFor):
		t.Fatal("forwarded call was not placed")
	}
	next := forwarded.expect(h225.Setup)
	assert.Equal(t, "300", next.CalledNumber)
}

func TestInvalidMessageClearsCall(t *testing.T) {
	ev := &events{}
	m := newManager(t, testConfig(call.Flags{}), capability.NewTable(), channels.WithCallbacks(ev.callbacks()))
	peer := dialRaw(t, serve(t, m))

	require.NoError(t, tpkt.WriteMessage(peer.conn, []byte{0xEE, 0x00}))

	rc := peer.expect(h225.ReleaseComplete)
	assert.Equal(t, h225.CauseInvalidMessage, rc.Cause)
	assert.Equal(t, call.ReasonInvalidMessage, ev.clearedReason(t))
}

func TestOversizedFrameClosesCall(t *testing.T) {
	ev := &events{}
	m := newManager(t, testConfig(call.Flags{}), capability.NewTable(), channels.WithCallbacks(ev.callbacks()))
	peer := dialRaw(t, serve(t, m))

	_, err := peer.conn.Write([]byte{tpkt.Version, 0, 0x27, 0x10})
	require.NoError(t, err)

	assert.Equal(t, call.ReasonInvalidMessage, ev.clearedReason(t))
	require.Eventually(t, func() bool { return m.ActiveCalls() == 0 }, waitFor, 10*time.Millisecond)
}

func TestPeerDisconnectClearsCall(t *testing.T) {
	ev := &events{}
	m := newManager(t, testConfig(call.Flags{ManualRingback: true}), capability.NewTable(),
		channels.WithCallbacks(ev.callbacks()))
	peer := dialRaw(t, serve(t, m))

	peer.send(&h225.Message{Type: h225.Setup, CallReference: 3})
	peer.expect(h225.CallProceeding)
	peer.conn.Close()

	assert.Equal(t, call.ReasonTransportFailure, ev.clearedReason(t))
}

func TestSessionPauseAndResume(t *testing.T) {
	ev := &events{}
	md := newMedia()
	m := newManager(t, testConfig(call.Flags{Tunneling: true, AutoAnswer: true}),
		capability.NewTable(md.capability("g711ulaw")), channels.WithCallbacks(ev.callbacks()))
	peer := dialRaw(t, serve(t, m))

	peer.send(&h225.Message{Type: h225.Setup, CallReference: 5, H245Tunneling: true})
	peer.expect(h225.Connect)

	tcs := peer.expectH245(h245.TerminalCapabilitySet)
	peer.expectH245(h245.MasterSlaveDetermination)
	peer.sendH245(5,
		&h245.Message{Type: h245.TerminalCapabilitySetAck, SeqNum: tcs.SeqNum},
		&h245.Message{Type: h245.MasterSlaveDeterminationAck, Decision: h245.DecisionMaster},
		audioTCS(1),
	)
	peer.expectH245(h245.TerminalCapabilitySetAck)
	olc := peer.expectH245(h245.OpenLogicalChannel)
	peer.sendH245(5, &h245.Message{
		Type:          h245.OpenLogicalChannelAck,
		ChannelNumber: olc.ChannelNumber,
		SessionID:     olc.SessionID,
		Capability:    olc.Capability,
		MediaChannel:  netip.MustParseAddrPort("127.0.0.1:40000"),
		MediaControl:  netip.MustParseAddrPort("127.0.0.1:40001"),
	})
	require.Eventually(t, func() bool { return md.get(md.started, call.Transmit) == 1 }, waitFor, 10*time.Millisecond)

	// пустой TCS: пауза, передающий канал закрывается
	peer.sendH245(5, &h245.Message{Type: h245.TerminalCapabilitySet, SeqNum: 2})
	ack := peer.expectH245(h245.TerminalCapabilitySetAck)
	assert.Equal(t, uint8(2), ack.SeqNum)
	clc := peer.expectH245(h245.CloseLogicalChannel)
	assert.Equal(t, olc.ChannelNumber, clc.ChannelNumber)
	require.Eventually(t, func() bool { return md.get(md.stopped, call.Transmit) == 1 }, waitFor, 10*time.Millisecond)

	// непустой TCS: возобновление, обмен возможностями и MSD заново
	peer.sendH245(5, audioTCS(3))
	ack = peer.expectH245(h245.TerminalCapabilitySetAck)
	assert.Equal(t, uint8(3), ack.SeqNum)
	resent := peer.expectH245(h245.TerminalCapabilitySet)
	assert.Greater(t, resent.SeqNum, tcs.SeqNum)
	assert.NotEmpty(t, resent.Capabilities)
	peer.expectH245(h245.MasterSlaveDetermination)
	assert.Zero(t, ev.count(&ev.cleared))
}

func TestSecondReceiveChannelReplacesFirst(t *testing.T) {
	md := newMedia()
	m := newManager(t, testConfig(call.Flags{Tunneling: true, AutoAnswer: true}),
		capability.NewTable(md.capability("g711ulaw")))
	peer := dialRaw(t, serve(t, m))

	peer.send(&h225.Message{Type: h225.Setup, CallReference: 6, H245Tunneling: true})
	peer.expect(h225.Connect)

	for _, n := range []uint16{101, 102} {
		peer.sendH245(6, &h245.Message{
			Type:          h245.OpenLogicalChannel,
			ChannelNumber: n,
			SessionID:     call.SessionAudio,
			Capability:    "g711ulaw",
			MediaControl:  netip.MustParseAddrPort("127.0.0.1:40001"),
		})
		ack := peer.expectH245(h245.OpenLogicalChannelAck)
		assert.Equal(t, n, ack.ChannelNumber)
	}

	require.Eventually(t, func() bool {
		return md.get(md.started, call.Receive) == 2 && md.get(md.stopped, call.Receive) == 1
	}, waitFor, 10*time.Millisecond)
}

func TestH245ConnectRetriesExhausted(t *testing.T) {
	addr, peers := listenRaw(t)
	cfg := testConfig(call.Flags{})
	cfg.H245ConnectDelay = 100 * time.Millisecond
	cfg.H245ConnectAttempts = 3
	ev := &events{}
	m := newManager(t, cfg, capability.NewTable(newMedia().capability("g711ulaw")), channels.WithCallbacks(ev.callbacks()))

	_, err := m.MakeCall(addr.String(), channels.CallOptions{})
	require.NoError(t, err)
	peer := <-peers
	setup := peer.expect(h225.Setup)
	assert.False(t, setup.H245Tunneling)

	started := time.Now()
	peer.send(&h225.Message{
		Type:            h225.Connect,
		CallReference:   setup.CallReference,
		FromDestination: true,
		CallID:          setup.CallID,
		H245Address:     closedAddr(t),
	})

	peer.expect(h225.ReleaseComplete)
	assert.Equal(t, call.ReasonTransportFailure, ev.clearedReason(t))
	assert.GreaterOrEqual(t, time.Since(started), 2*cfg.H245ConnectDelay)
}
