// Command odom-replay runs the odometry pipeline over a packet capture and
// writes the pose trace to the database, printing a short summary. Useful
// for regression runs against recorded drives.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/odometry.report/internal/config"
	"github.com/banshee-data/odometry.report/internal/lidar"
	"github.com/banshee-data/odometry.report/internal/lidar/ingest"
	"github.com/banshee-data/odometry.report/internal/lidar/pipeline"
	sqlite "github.com/banshee-data/odometry.report/internal/lidar/storage/sqlite"
)

var (
	pcapFile      = flag.String("pcap", "", "Path to the packet capture to replay (required)")
	udpPort       = flag.Int("udp-port", 2368, "Filter the capture to this UDP destination port (0 = all)")
	dbFile        = flag.String("db", "odometry_trace.db", "Path to the SQLite trace database")
	migrationsDir = flag.String("migrations", "migrations", "Path to the schema migrations directory")
	tuningConfig  = flag.String("tuning-config", "", "Path to a tuning JSON file (defaults applied when empty)")
	runLabel      = flag.String("run-label", "replay", "Label recorded on the trace run")
)

func main() {
	flag.Parse()
	if *pcapFile == "" {
		log.Fatal("missing required -pcap flag")
	}

	params := lidar.VLP16Params()
	if *tuningConfig != "" {
		cfg, err := config.LoadTuningConfig(*tuningConfig)
		if err != nil {
			log.Fatalf("load tuning config: %v", err)
		}
		params = cfg.ScanParams()
	}

	db, err := sqlite.Open(*dbFile)
	if err != nil {
		log.Fatalf("open trace database: %v", err)
	}
	defer db.Close()
	if err := db.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("migrate trace database: %v", err)
	}

	store := sqlite.NewTraceStore(db)
	runID, err := store.CreateRun(*runLabel, "pcap:"+*pcapFile, time.Now())
	if err != nil {
		log.Fatalf("create trace run: %v", err)
	}

	pipe := pipeline.New(params)
	var scanIndex int64
	var degenerateScans int64
	pipe.OnScan = func(out pipeline.ScanOutput) {
		if out.Odometry.Degenerate {
			degenerateScans++
		}
		if err := store.RecordPose(runID, scanIndex, out.Odometry); err != nil {
			log.Printf("record pose: %v", err)
		}
		scanIndex++
	}
	pipe.Start()

	parser := ingest.NewParser()
	assembler := ingest.NewScanAssembler(func(cloud lidar.PointCloud, scanTime time.Time) {
		pipe.SubmitScan(cloud, scanTime)
	})

	stats := ingest.NewPacketStats()
	packets, err := ingest.ReplayPcap(ingest.PcapReplayConfig{
		Path:    *pcapFile,
		UDPPort: *udpPort,
		Stats:   stats,
	}, parser, assembler)
	if err != nil {
		log.Fatalf("replay pcap: %v", err)
	}

	pipe.Stop()

	if err := store.FinishRun(runID, time.Now()); err != nil {
		log.Printf("finish trace run: %v", err)
	}

	last, err := store.LatestPose(runID)
	fmt.Printf("run %s: %d packets, %d scans, %d degenerate\n", runID, packets, scanIndex, degenerateScans)
	if err == nil {
		fmt.Printf("final pose: (%.3f, %.3f, %.3f)\n",
			last.Pose.Position.X, last.Pose.Position.Y, last.Pose.Position.Z)
	}
}
