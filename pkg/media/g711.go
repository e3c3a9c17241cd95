package media

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/h323ep/pkg/h323/call"
	"github.com/arzzra/h323ep/pkg/h323/transport"
	"github.com/arzzra/h323ep/pkg/logging"
	"github.com/pion/rtp"
)

// Law вариант G.711
type Law int

const (
	ULaw Law = iota
	ALaw
)

// Payload types RTP/AVP
const (
	PayloadTypePCMU uint8 = 0
	PayloadTypePCMA uint8 = 8
)

const (
	sampleRate    = 8000
	defaultPtime  = 20 * time.Millisecond
	maxPacketSize = 1500
	defaultTOS    = 0xb8 // EF
	silenceULaw   = 0xFF
	silenceALaw   = 0xD5
)

// G711Config параметры возможности G.711
type G711Config struct {
	Law   Law
	Ptime time.Duration
	TOS   int
	// OnPacket вызывается из горутины приема для каждого RTP пакета
	OnPacket func(token string, p *rtp.Packet)
}

// G711 медиа возможность G.711 поверх RTP. Передает тишину с шагом
// ptime, принятые пакеты разбирает и считает.
type G711 struct {
	cfg G711Config
	log logging.Logger

	mu      sync.Mutex
	streams map[streamKey]*stream
}

type streamKey struct {
	token  string
	number uint16
	dir    call.ChannelDirection
}

type stream struct {
	conn    *net.UDPConn
	cancel  context.CancelFunc
	done    chan struct{}
	packets atomic.Uint64
}

// NewG711 создает возможность
func NewG711(cfg G711Config, log logging.Logger) *G711 {
	if cfg.Ptime <= 0 {
		cfg.Ptime = defaultPtime
	}
	if cfg.TOS == 0 {
		cfg.TOS = defaultTOS
	}
	if log == nil {
		log = logging.Nop()
	}
	g := &G711{cfg: cfg, streams: make(map[streamKey]*stream)}
	g.log = log.WithComponent("media").WithFields(logging.String("capability", g.Name()))
	return g
}

// Name имя возможности в TCS
func (g *G711) Name() string {
	if g.cfg.Law == ALaw {
		return "g711alaw"
	}
	return "g711ulaw"
}

func (g *G711) SessionID() uint8  { return call.SessionAudio }
func (g *G711) CanReceive() bool  { return true }
func (g *G711) CanTransmit() bool { return true }

// PayloadType RTP payload type кодека
func (g *G711) PayloadType() uint8 {
	if g.cfg.Law == ALaw {
		return PayloadTypePCMA
	}
	return PayloadTypePCMU
}

func (g *G711) samplesPerPacket() int {
	return int(g.cfg.Ptime * sampleRate / time.Second)
}

// StartReceive открывает сокет на локальном RTP адресе канала
func (g *G711) StartReceive(token string, lc *call.LogicalChannel) error {
	conn, err := transport.ListenUDP(context.Background(), lc.LocalRTP)
	if err != nil {
		return err
	}
	if err := transport.SetTOS(conn, g.cfg.TOS); err != nil {
		g.log.Debug("failed to set TOS", logging.Err(err))
	}
	s := g.add(streamKey{token, lc.Number, call.Receive}, conn)
	go g.receiveLoop(token, s)
	g.log.Info("receive started", logging.String("call", token), logging.Uint16("channel", lc.Number),
		logging.String("local", lc.LocalRTP.String()))
	return nil
}

// StartTransmit начинает отправку на удаленный RTP адрес канала
func (g *G711) StartTransmit(token string, lc *call.LogicalChannel) error {
	if !lc.RemoteRTP.IsValid() {
		return fmt.Errorf("channel %d has no remote RTP address", lc.Number)
	}
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(lc.RemoteRTP))
	if err != nil {
		return err
	}
	if err := transport.SetTOS(conn, g.cfg.TOS); err != nil {
		g.log.Debug("failed to set TOS", logging.Err(err))
	}
	s := g.add(streamKey{token, lc.Number, call.Transmit}, conn)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go g.transmitLoop(ctx, s)
	g.log.Info("transmit started", logging.String("call", token), logging.Uint16("channel", lc.Number),
		logging.String("remote", lc.RemoteRTP.String()))
	return nil
}

// StopReceive закрывает сокет приема
func (g *G711) StopReceive(token string, lc *call.LogicalChannel) error {
	return g.stop(streamKey{token, lc.Number, call.Receive})
}

// StopTransmit останавливает отправку
func (g *G711) StopTransmit(token string, lc *call.LogicalChannel) error {
	return g.stop(streamKey{token, lc.Number, call.Transmit})
}

// Packets количество отправленных или принятых пакетов потока
func (g *G711) Packets(token string, number uint16, dir call.ChannelDirection) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.streams[streamKey{token, number, dir}]; ok {
		return s.packets.Load()
	}
	return 0
}

// Active количество открытых потоков
func (g *G711) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.streams)
}

func (g *G711) add(key streamKey, conn *net.UDPConn) *stream {
	s := &stream{conn: conn, done: make(chan struct{})}
	g.mu.Lock()
	old := g.streams[key]
	g.streams[key] = s
	g.mu.Unlock()
	if old != nil {
		old.close()
	}
	return s
}

func (g *G711) stop(key streamKey) error {
	g.mu.Lock()
	s, ok := g.streams[key]
	delete(g.streams, key)
	g.mu.Unlock()
	if !ok {
		return nil
	}
	s.close()
	return nil
}

func (s *stream) close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.conn.Close()
	<-s.done
}

func (g *G711) receiveLoop(token string, s *stream) {
	defer close(s.done)
	buf := make([]byte, maxPacketSize)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			return
		}
		p := &rtp.Packet{}
		if err := p.Unmarshal(buf[:n]); err != nil {
			g.log.Debug("dropping malformed RTP packet", logging.Err(err))
			continue
		}
		s.packets.Add(1)
		if g.cfg.OnPacket != nil {
			g.cfg.OnPacket(token, p)
		}
	}
}

func (g *G711) transmitLoop(ctx context.Context, s *stream) {
	defer close(s.done)

	samples := g.samplesPerPacket()
	silence := byte(silenceULaw)
	if g.cfg.Law == ALaw {
		silence = silenceALaw
	}
	payload := make([]byte, samples)
	for i := range payload {
		payload[i] = silence
	}

	p := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    g.PayloadType(),
			SequenceNumber: uint16(rand.Uint32()),
			Timestamp:      rand.Uint32(),
			SSRC:           rand.Uint32(),
		},
		Payload: payload,
	}

	ticker := time.NewTicker(g.cfg.Ptime)
	defer ticker.Stop()
	for {
		data, err := p.Marshal()
		if err != nil {
			g.log.Error("failed to marshal RTP packet", logging.Err(err))
			return
		}
		if _, err := s.conn.Write(data); err != nil {
			return
		}
		s.packets.Add(1)
		p.Marker = false
		p.SequenceNumber++
		p.Timestamp += uint32(samples)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
