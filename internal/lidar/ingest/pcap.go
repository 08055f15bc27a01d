package ingest

import (
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/odometry.report/internal/monitoring"
)

// PcapReplayConfig configures an offline capture replay.
type PcapReplayConfig struct {
	Path string
	// UDPPort filters the capture to packets addressed to one port.
	// Zero accepts every UDP packet of the right size.
	UDPPort int
	Stats   *PacketStats
}

// ReplayPcap streams the UDP payloads of a packet capture through the
// parser and assembler, using the capture timestamps as scan times. Returns
// the number of packets processed.
func ReplayPcap(cfg PcapReplayConfig, parser *Parser, assembler *ScanAssembler) (int64, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return 0, fmt.Errorf("open pcap %q: %w", cfg.Path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("read pcap header %q: %w", cfg.Path, err)
	}

	stats := cfg.Stats
	if stats == nil {
		stats = NewPacketStats()
	}

	var processed int64
	for {
		data, ci, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return processed, fmt.Errorf("read pcap packet: %w", err)
		}

		packet := gopacket.NewPacket(data, r.LinkType(), gopacket.NoCopy)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if cfg.UDPPort != 0 && int(udp.DstPort) != cfg.UDPPort {
			continue
		}

		payload := udp.Payload
		if len(payload) != PACKET_SIZE {
			continue
		}

		stats.AddPacket(len(payload))
		pkt, err := parser.ParsePacket(payload)
		if err != nil {
			stats.AddDropped()
			continue
		}
		stats.AddPoints(len(pkt.Points))
		assembler.AddPacket(pkt, ci.Timestamp)
		processed++
	}

	assembler.Flush()
	monitoring.Logf("ingest: replayed %d packets from %s (%d scans)", processed, cfg.Path, assembler.ScanCount())
	return processed, nil
}
