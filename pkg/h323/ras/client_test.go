package ras_test

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/arzzra/h323ep/pkg/h323/alias"
	"github.com/arzzra/h323ep/pkg/h323/call"
	"github.com/arzzra/h323ep/pkg/h323/ras"
	"github.com/arzzra/h323ep/pkg/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gkAddr = netip.MustParseAddrPort("10.0.0.5:1719")

type sentDatagram struct {
	msg *ras.Message
	to  netip.AddrPort
}

// fakeConn записывает отправленные датаграммы и блокирует чтение до Close
type fakeConn struct {
	mu     sync.Mutex
	sent   []sentDatagram
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn { return &fakeConn{closed: make(chan struct{})} }

func (f *fakeConn) ReadFrom([]byte) (int, net.Addr, error) {
	<-f.closed
	return 0, nil, net.ErrClosed
}

func (f *fakeConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	m, err := ras.TLVCodec{}.Decode(b)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentDatagram{msg: m, to: addr.(*net.UDPAddr).AddrPort()})
	return len(b), nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) LocalAddr() net.Addr                { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1719} }
func (f *fakeConn) SetDeadline(time.Time) error      { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) all() []sentDatagram {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentDatagram(nil), f.sent...)
}

func (f *fakeConn) last(t *testing.T) sentDatagram {
	t.Helper()
	sent := f.all()
	require.NotEmpty(t, sent)
	return sent[len(sent)-1]
}

func (f *fakeConn) count(mt ras.MsgType) int {
	n := 0
	for _, d := range f.all() {
		if d.msg.Type == mt {
			n++
		}
	}
	return n
}

type fixture struct {
	client *ras.Client
	conn   *fakeConn
	clock  *timer.ManualClock
}

func newFixture(t *testing.T, mutate func(*ras.Config)) *fixture {
	t.Helper()
	cfg := ras.DefaultConfig()
	cfg.Mode = ras.ModeSpecific
	cfg.GatekeeperAddr = gkAddr
	cfg.RASAddress = netip.MustParseAddrPort("192.0.2.10:1719")
	cfg.CallSignalAddress = netip.MustParseAddrPort("192.0.2.10:1720")
	cfg.PollInterval = time.Hour
	cfg.Aliases = alias.List{
		{Type: alias.H323ID, Value: "objsyscall"},
		{Type: alias.DialedDigits, Value: "100"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{conn: newFakeConn(), clock: timer.NewManualClock(time.Unix(1_700_000_000, 0))}
	f.client = ras.New(cfg, f.conn, ras.WithClock(f.clock))
	return f
}

func (f *fixture) deliver(m *ras.Message, from netip.AddrPort) {
	data, err := ras.TLVCodec{}.Encode(m)
	if err != nil {
		panic(err)
	}
	f.client.HandleDatagram(data, from)
}

func (f *fixture) advance(d time.Duration) {
	f.clock.Advance(d)
	f.client.FireTimers()
}

// register проходит обнаружение и регистрацию с TTL 300s
func (f *fixture) register(t *testing.T) {
	t.Helper()
	require.NoError(t, f.client.Start())
	grq := f.conn.last(t)
	require.Equal(t, ras.GatekeeperRequest, grq.msg.Type)

	f.deliver(&ras.Message{Type: ras.GatekeeperConfirm, SeqNum: grq.msg.SeqNum, RASAddress: gkAddr, GatekeeperID: "GK1"}, gkAddr)
	rrq := f.conn.last(t)
	require.Equal(t, ras.RegistrationRequest, rrq.msg.Type)

	f.deliver(&ras.Message{Type: ras.RegistrationConfirm, SeqNum: rrq.msg.SeqNum, EndpointID: "EP1", TTL: 300}, gkAddr)
	require.Equal(t, ras.StateRegistered, f.client.State())
}

func TestKeepAliveDelay(t *testing.T) {
	tests := []struct {
		ttl, want time.Duration
	}{
		{300 * time.Second, 280 * time.Second},
		{21 * time.Second, time.Second},
		{20 * time.Second, 19 * time.Second},
		{10 * time.Second, 9 * time.Second},
		{time.Second, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ras.KeepAliveDelay(tt.ttl, 20*time.Second), "ttl=%s", tt.ttl)
	}
}

// TestRegistrationHappyPath проверяет GRQ -> GCF -> RRQ -> RCF и keep-alive
func TestRegistrationHappyPath(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t)

	sent := f.conn.all()
	require.Len(t, sent, 2)
	assert.Equal(t, gkAddr, sent[0].to)
	assert.Equal(t, gkAddr, sent[1].to)
	assert.False(t, sent[1].msg.KeepAlive)
	assert.Len(t, sent[1].msg.Aliases, 2)

	assert.Equal(t, "EP1", f.client.EndpointID())
	assert.Equal(t, "GK1", f.client.GatekeeperID())
	assert.Equal(t, gkAddr, f.client.GatekeeperAddr())
	assert.Equal(t, 280*time.Second, f.client.NextTimeout())
	assert.Len(t, f.client.Aliases().Registered(), 2)

	f.advance(280 * time.Second)
	rrq := f.conn.last(t)
	assert.Equal(t, ras.RegistrationRequest, rrq.msg.Type)
	assert.True(t, rrq.msg.KeepAlive)
	assert.Empty(t, rrq.msg.Aliases)
	assert.Equal(t, "EP1", rrq.msg.EndpointID)
}

func TestSequenceNumbersUnique(t *testing.T) {
	f := newFixture(t, func(c *ras.Config) { c.MaxRetries = 10 })
	require.NoError(t, f.client.Start())
	for i := 0; i < 10; i++ {
		f.advance(15 * time.Second)
	}
	seen := map[uint16]bool{}
	for _, d := range f.conn.all() {
		require.NotZero(t, d.msg.SeqNum)
		require.False(t, seen[d.msg.SeqNum], "duplicate seq %d", d.msg.SeqNum)
		seen[d.msg.SeqNum] = true
	}
	assert.Len(t, seen, 11)
}

// TestGRQRetryBound проверяет ограничение числа повторов GRQ
func TestGRQRetryBound(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.client.Start())

	for i := 0; i < 3; i++ {
		f.advance(15 * time.Second)
	}
	assert.Equal(t, 4, f.conn.count(ras.GatekeeperRequest))

	f.advance(15 * time.Second)
	assert.Equal(t, 4, f.conn.count(ras.GatekeeperRequest))
	assert.Equal(t, ras.StateUnregistered, f.client.State())

	f.advance(300 * time.Second)
	assert.Equal(t, 5, f.conn.count(ras.GatekeeperRequest))
}

func TestRRQRetryBound(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.client.Start())
	grq := f.conn.last(t)
	f.deliver(&ras.Message{Type: ras.GatekeeperConfirm, SeqNum: grq.msg.SeqNum, RASAddress: gkAddr}, gkAddr)
	assert.Equal(t, ras.StateDiscovered, f.client.State())

	for i := 0; i < 3; i++ {
		f.advance(10 * time.Second)
	}
	assert.Equal(t, 4, f.conn.count(ras.RegistrationRequest))

	f.advance(10 * time.Second)
	assert.Equal(t, 4, f.conn.count(ras.RegistrationRequest))
	assert.Equal(t, ras.StateUnregistered, f.client.State())
	assert.True(t, f.client.RegistrationPending())
}

// TestSourceFiltering проверяет что после обнаружения учитывается только гейткипер
func TestSourceFiltering(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.client.Start())
	grq := f.conn.last(t)
	f.deliver(&ras.Message{Type: ras.GatekeeperConfirm, SeqNum: grq.msg.SeqNum, RASAddress: gkAddr}, gkAddr)
	rrq := f.conn.last(t)

	f.deliver(&ras.Message{Type: ras.RegistrationConfirm, SeqNum: rrq.msg.SeqNum, EndpointID: "EVIL"},
		netip.MustParseAddrPort("10.0.0.66:1719"))
	assert.Equal(t, ras.StateDiscovered, f.client.State())

	f.deliver(&ras.Message{Type: ras.RegistrationConfirm, SeqNum: rrq.msg.SeqNum, EndpointID: "EP1", TTL: 60},
		netip.MustParseAddrPort("[::ffff:10.0.0.5]:1719"))
	assert.Equal(t, ras.StateRegistered, f.client.State())
	assert.Equal(t, "EP1", f.client.EndpointID())
}

func TestUnmatchedRCFIgnored(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.client.Start())
	grq := f.conn.last(t)
	f.deliver(&ras.Message{Type: ras.GatekeeperConfirm, SeqNum: grq.msg.SeqNum, RASAddress: gkAddr}, gkAddr)
	rrq := f.conn.last(t)

	f.deliver(&ras.Message{Type: ras.RegistrationConfirm, SeqNum: rrq.msg.SeqNum + 100, EndpointID: "EP1"}, gkAddr)
	assert.Equal(t, ras.StateDiscovered, f.client.State())
}

func TestRegistrationReject(t *testing.T) {
	tests := []struct {
		name     string
		reason   ras.RejectReason
		wantType ras.MsgType
		want     ras.State
	}{
		{"discovery required", ras.ReasonDiscoveryRequired, ras.GatekeeperRequest, ras.StateIdle},
		{"full registration required", ras.ReasonFullRegistrationRequired, ras.RegistrationRequest, ras.StateDiscovered},
		{"duplicate alias", ras.ReasonDuplicateAlias, ras.RegistrationRequest, ras.StateGkError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			require.NoError(t, f.client.Start())
			grq := f.conn.last(t)
			f.deliver(&ras.Message{Type: ras.GatekeeperConfirm, SeqNum: grq.msg.SeqNum, RASAddress: gkAddr}, gkAddr)
			rrq := f.conn.last(t)

			f.deliver(&ras.Message{Type: ras.RegistrationReject, SeqNum: rrq.msg.SeqNum, RejectReason: tt.reason}, gkAddr)
			assert.Equal(t, tt.want, f.client.State())
			assert.Equal(t, tt.wantType, f.conn.last(t).msg.Type)
		})
	}
}

func TestGkErrorRecovery(t *testing.T) {
	t.Run("specific mode registers again", func(t *testing.T) {
		f := newFixture(t, nil)
		require.NoError(t, f.client.Start())
		grq := f.conn.last(t)
		f.deliver(&ras.Message{Type: ras.GatekeeperReject, SeqNum: grq.msg.SeqNum, RejectReason: ras.ReasonTerminalExcluded}, gkAddr)
		assert.Equal(t, ras.StateGkError, f.client.State())

		f.advance(300 * time.Second)
		assert.Equal(t, ras.StateDiscovered, f.client.State())
		assert.Equal(t, 1, f.conn.count(ras.GatekeeperRequest))
		rrq := f.conn.last(t)
		require.Equal(t, ras.RegistrationRequest, rrq.msg.Type)
		assert.Equal(t, gkAddr, rrq.to)
		assert.False(t, rrq.msg.KeepAlive)
		assert.Len(t, rrq.msg.Aliases, 2)

		f.deliver(&ras.Message{Type: ras.RegistrationConfirm, SeqNum: rrq.msg.SeqNum, EndpointID: "EP2", TTL: 300}, gkAddr)
		assert.Equal(t, ras.StateRegistered, f.client.State())
		assert.Equal(t, "EP2", f.client.EndpointID())
	})

	t.Run("discover mode rediscovers", func(t *testing.T) {
		f := newFixture(t, func(cfg *ras.Config) { cfg.Mode = ras.ModeDiscover })
		require.NoError(t, f.client.Start())
		grq := f.conn.last(t)
		f.deliver(&ras.Message{Type: ras.GatekeeperConfirm, SeqNum: grq.msg.SeqNum, RASAddress: gkAddr}, gkAddr)
		rrq := f.conn.last(t)
		f.deliver(&ras.Message{Type: ras.RegistrationReject, SeqNum: rrq.msg.SeqNum, RejectReason: ras.ReasonDuplicateAlias}, gkAddr)
		assert.Equal(t, ras.StateGkError, f.client.State())

		f.advance(300 * time.Second)
		assert.Equal(t, ras.StateIdle, f.client.State())
		assert.Equal(t, 2, f.conn.count(ras.GatekeeperRequest))
		last := f.conn.last(t)
		assert.Equal(t, ras.GatekeeperRequest, last.msg.Type)
		assert.Equal(t, ras.DefaultMulticastAddr, last.to)
	})
}

// TestUnregistrationByGatekeeper проверяет частичный и полный URQ
func TestUnregistrationByGatekeeper(t *testing.T) {
	t.Run("partial", func(t *testing.T) {
		f := newFixture(t, nil)
		f.register(t)

		f.deliver(&ras.Message{Type: ras.UnregistrationRequest, SeqNum: 777,
			Aliases: alias.List{{Type: alias.DialedDigits, Value: "100"}}}, gkAddr)

		sent := f.conn.all()
		ucf := sent[len(sent)-2]
		assert.Equal(t, ras.UnregistrationConfirm, ucf.msg.Type)
		assert.Equal(t, uint16(777), ucf.msg.SeqNum)

		rrq := sent[len(sent)-1]
		require.Equal(t, ras.RegistrationRequest, rrq.msg.Type)
		require.Len(t, rrq.msg.Aliases, 1)
		assert.Equal(t, "objsyscall", rrq.msg.Aliases[0].Value)
		assert.Equal(t, ras.StateRegistered, f.client.State())
	})

	t.Run("blanket", func(t *testing.T) {
		f := newFixture(t, nil)
		f.register(t)

		f.deliver(&ras.Message{Type: ras.UnregistrationRequest, SeqNum: 778}, gkAddr)
		assert.Equal(t, ras.StateDiscovered, f.client.State())
		rrq := f.conn.last(t)
		require.Equal(t, ras.RegistrationRequest, rrq.msg.Type)
		assert.Len(t, rrq.msg.Aliases, 2)
		assert.Empty(t, f.client.Aliases().Registered())
	})
}

func admitRequest(token string) ras.AdmitRequest {
	return ras.AdmitRequest{
		Token:         token,
		CallReference: 7,
		Direction:     call.Outgoing,
		LocalAliases:  alias.List{{Type: alias.H323ID, Value: "objsyscall"}},
		RemoteAliases: alias.List{{Type: alias.DialedDigits, Value: "200"}},
		LocalSignal:   netip.MustParseAddrPort("192.0.2.10:1720"),
	}
}

// TestAdmissionConfirm проверяет ACF, DRQ и поздний DCF
func TestAdmissionConfirm(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t)

	var results []ras.AdmitResult
	f.client.Admit(admitRequest("h323_o_1"), func(r ras.AdmitResult) { results = append(results, r) })
	assert.Equal(t, 1, f.client.PendingAdmissions())

	arq := f.conn.last(t)
	require.Equal(t, ras.AdmissionRequest, arq.msg.Type)
	assert.False(t, arq.msg.AnswerCall)
	assert.Equal(t, "EP1", arq.msg.EndpointID)
	assert.Equal(t, uint32(1280), arq.msg.Bandwidth)
	require.Len(t, arq.msg.DestAliases, 1)
	assert.Equal(t, "200", arq.msg.DestAliases[0].Value)

	// чужой номер запроса игнорируется
	f.deliver(&ras.Message{Type: ras.AdmissionConfirm, SeqNum: arq.msg.SeqNum + 1}, gkAddr)
	assert.Empty(t, results)

	dest := netip.MustParseAddrPort("203.0.113.9:1720")
	f.deliver(&ras.Message{Type: ras.AdmissionConfirm, SeqNum: arq.msg.SeqNum, DestCallSignal: dest,
		CallModel: ras.CallModelDirect, Bandwidth: 640}, gkAddr)
	require.Len(t, results, 1)
	assert.True(t, results[0].Admitted)
	assert.Equal(t, dest, results[0].DestAddress)
	assert.Equal(t, uint32(640), results[0].Bandwidth)
	assert.True(t, f.client.IsAdmitted("h323_o_1"))
	assert.Zero(t, f.client.PendingAdmissions())

	// повторный ACF не приводит ко второму уведомлению
	f.deliver(&ras.Message{Type: ras.AdmissionConfirm, SeqNum: arq.msg.SeqNum, DestCallSignal: dest}, gkAddr)
	assert.Len(t, results, 1)

	f.client.Disengage(ras.DisengageInfo{Token: "h323_o_1", CallReference: 7, EndTime: f.clock.Now()})
	drq := f.conn.last(t)
	require.Equal(t, ras.DisengageRequest, drq.msg.Type)
	assert.Equal(t, uint16(7), drq.msg.CallReference)
	assert.False(t, f.client.IsAdmitted("h323_o_1"))

	f.deliver(&ras.Message{Type: ras.DisengageConfirm, SeqNum: drq.msg.SeqNum}, gkAddr)
	f.deliver(&ras.Message{Type: ras.DisengageConfirm, SeqNum: drq.msg.SeqNum}, gkAddr)
	assert.Equal(t, ras.StateRegistered, f.client.State())
}

func TestAdmissionReject(t *testing.T) {
	tests := []struct {
		reason ras.RejectReason
		want   call.EndReason
	}{
		{ras.ReasonCalledPartyNotRegistered, call.ReasonGkNoCalledUser},
		{ras.ReasonCallerNotRegistered, call.ReasonGkNoCallerUser},
		{ras.ReasonExceedsCallCapacity, call.ReasonGkNoResources},
		{ras.ReasonResourceUnavailable, call.ReasonGkNoResources},
		{ras.ReasonNoRouteToDestination, call.ReasonGkUnreachable},
		{ras.ReasonRequestDenied, call.ReasonGkCleared},
	}
	for _, tt := range tests {
		t.Run(tt.reason.String(), func(t *testing.T) {
			f := newFixture(t, nil)
			f.register(t)

			var got *ras.AdmitResult
			f.client.Admit(admitRequest("h323_o_2"), func(r ras.AdmitResult) { got = &r })
			arq := f.conn.last(t)
			f.deliver(&ras.Message{Type: ras.AdmissionReject, SeqNum: arq.msg.SeqNum, RejectReason: tt.reason}, gkAddr)

			require.NotNil(t, got)
			assert.False(t, got.Admitted)
			assert.Equal(t, tt.want, got.Reason)
			assert.Equal(t, tt.reason, got.RejectReason)
			assert.False(t, f.client.IsAdmitted("h323_o_2"))
		})
	}
}

// TestAdmissionRetryBound проверяет исчерпание повторов ARQ
func TestAdmissionRetryBound(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t)

	var got *ras.AdmitResult
	f.client.Admit(admitRequest("h323_o_3"), func(r ras.AdmitResult) { got = &r })

	seqs := map[uint16]bool{f.conn.last(t).msg.SeqNum: true}
	for i := 0; i < 3; i++ {
		f.advance(5 * time.Second)
		seqs[f.conn.last(t).msg.SeqNum] = true
	}
	assert.Equal(t, 4, f.conn.count(ras.AdmissionRequest))
	assert.Len(t, seqs, 4)
	assert.Nil(t, got)

	f.advance(5 * time.Second)
	assert.Equal(t, 4, f.conn.count(ras.AdmissionRequest))
	require.NotNil(t, got)
	assert.Equal(t, call.ReasonGkUnreachable, got.Reason)
	assert.Equal(t, ras.StateGkError, f.client.State())
	assert.Zero(t, f.client.PendingAdmissions())
}

func TestAdmitWithoutRegistration(t *testing.T) {
	f := newFixture(t, nil)

	var got *ras.AdmitResult
	f.client.Admit(admitRequest("h323_o_4"), func(r ras.AdmitResult) { got = &r })
	require.NotNil(t, got)
	assert.Equal(t, call.ReasonGkUnreachable, got.Reason)
	assert.Zero(t, f.conn.count(ras.AdmissionRequest))
}

func TestCleanCallDropsPending(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t)

	called := false
	f.client.Admit(admitRequest("h323_o_5"), func(ras.AdmitResult) { called = true })
	arq := f.conn.last(t)
	f.client.CleanCall("h323_o_5")
	assert.Zero(t, f.client.PendingAdmissions())

	f.deliver(&ras.Message{Type: ras.AdmissionConfirm, SeqNum: arq.msg.SeqNum}, gkAddr)
	f.advance(30 * time.Second)
	assert.False(t, called)
	assert.Equal(t, 1, f.conn.count(ras.AdmissionRequest))
}

func TestShutdownUnregisters(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t)

	f.client.Shutdown()
	urq := f.conn.last(t)
	assert.Equal(t, ras.UnregistrationRequest, urq.msg.Type)
	assert.Equal(t, ras.StateUnregistered, f.client.State())
}

func TestShutdownFailsPendingAdmission(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t)

	var got []ras.AdmitResult
	f.client.Admit(admitRequest("h323_o_6"), func(r ras.AdmitResult) { got = append(got, r) })
	require.Equal(t, 1, f.client.PendingAdmissions())

	f.client.Shutdown()
	require.Len(t, got, 1)
	assert.Equal(t, "h323_o_6", got[0].Token)
	assert.Equal(t, call.ReasonGkUnreachable, got[0].Reason)
	assert.Zero(t, f.client.PendingAdmissions())
}

// TestAdmitAfterLoopExit проверяет, что после выхода Run допуск
// завершается сразу, даже если регистрация формально активна
func TestAdmitAfterLoopExit(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- f.client.Run(ctx) }()

	require.Eventually(t, func() bool { return f.conn.count(ras.GatekeeperRequest) == 1 }, time.Second, 5*time.Millisecond)
	grq := f.conn.last(t)
	f.deliver(&ras.Message{Type: ras.GatekeeperConfirm, SeqNum: grq.msg.SeqNum, RASAddress: gkAddr}, gkAddr)
	rrq := f.conn.last(t)
	require.Equal(t, ras.RegistrationRequest, rrq.msg.Type)
	f.deliver(&ras.Message{Type: ras.RegistrationConfirm, SeqNum: rrq.msg.SeqNum, EndpointID: "EP1", TTL: 300}, gkAddr)
	require.Equal(t, ras.StateRegistered, f.client.State())

	f.conn.Close()
	select {
	case err := <-runErr:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after socket close")
	}

	results := make(chan ras.AdmitResult, 2)
	f.client.Admit(admitRequest("h323_o_7"), func(r ras.AdmitResult) { results <- r })
	select {
	case r := <-results:
		assert.Equal(t, call.ReasonGkUnreachable, r.Reason)
	case <-time.After(time.Second):
		t.Fatal("admission callback not called")
	}
	assert.Zero(t, f.conn.count(ras.AdmissionRequest))
	assert.Zero(t, f.client.PendingAdmissions())
}

func TestDecodeErrorIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.client.HandleDatagram([]byte{0xff, 0x00, 0x01}, gkAddr)
	assert.Equal(t, ras.StateIdle, f.client.State())
}
