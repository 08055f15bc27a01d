package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/odometry.report/internal/monitoring"
)

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Stats       *PacketStats
}

// UDPListener receives sensor packets from the network, parses them and
// feeds the scan assembler.
type UDPListener struct {
	cfg       UDPListenerConfig
	conn      *net.UDPConn
	parser    *Parser
	assembler *ScanAssembler
	stats     *PacketStats
}

// NewUDPListener creates a UDP listener feeding assembler. A nil stats
// tracker is replaced with a fresh one so the logging path never nil-checks.
func NewUDPListener(cfg UDPListenerConfig, parser *Parser, assembler *ScanAssembler) *UDPListener {
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}
	stats := cfg.Stats
	if stats == nil {
		stats = NewPacketStats()
	}
	return &UDPListener{
		cfg:       cfg,
		parser:    parser,
		assembler: assembler,
		stats:     stats,
	}
}

// Stats exposes the listener's packet counters.
func (l *UDPListener) Stats() *PacketStats { return l.stats }

// Listen binds the UDP socket and processes packets until ctx is cancelled.
func (l *UDPListener) Listen(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("resolve UDP address %q: %w", l.cfg.Address, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen UDP %q: %w", l.cfg.Address, err)
	}
	l.conn = conn
	defer conn.Close()

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			monitoring.Logf("ingest: could not set receive buffer to %d: %v", l.cfg.RcvBuf, err)
		}
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	logTicker := time.NewTicker(l.cfg.LogInterval)
	defer logTicker.Stop()

	buf := make([]byte, 2048)
	for {
		select {
		case <-logTicker.C:
			packets, bytes, dropped, points, dur := l.stats.GetAndReset()
			monitoring.Logf("ingest: %d packets (%d bytes, %d dropped) -> %d points in %s; %d scans total",
				packets, bytes, dropped, points, dur.Round(time.Millisecond), l.assembler.ScanCount())
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("read UDP: %w", err)
		}

		l.stats.AddPacket(n)
		l.handlePacket(buf[:n], time.Now())
	}
}

func (l *UDPListener) handlePacket(payload []byte, arrival time.Time) {
	pkt, err := l.parser.ParsePacket(payload)
	if err != nil {
		l.stats.AddDropped()
		return
	}
	l.stats.AddPoints(len(pkt.Points))
	l.assembler.AddPacket(pkt, arrival)
}
