// Command odometry runs the LiDAR odometry front-end against a live sensor:
// it listens for sensor UDP packets, assembles rotations, runs the
// projection / feature-association pipeline, persists the pose trace and
// serves the HTTP monitor.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/odometry.report/internal/config"
	"github.com/banshee-data/odometry.report/internal/lidar"
	"github.com/banshee-data/odometry.report/internal/lidar/ingest"
	"github.com/banshee-data/odometry.report/internal/lidar/pipeline"
	sqlite "github.com/banshee-data/odometry.report/internal/lidar/storage/sqlite"

	"github.com/banshee-data/odometry.report/internal/lidar/monitor"
)

var (
	listen        = flag.String("listen", ":8082", "HTTP listen address for the monitor")
	udpAddress    = flag.String("udp-addr", ":2368", "UDP bind address for sensor packets")
	rcvBuf        = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	logInterval   = flag.Int("log-interval", 60, "Statistics logging interval in seconds")
	dbFile        = flag.String("db", "odometry_trace.db", "Path to the SQLite trace database")
	migrationsDir = flag.String("migrations", "migrations", "Path to the schema migrations directory")
	tuningConfig  = flag.String("tuning-config", "", "Path to a tuning JSON file (defaults applied when empty)")
	runLabel      = flag.String("run-label", "", "Label recorded on the trace run")
)

func main() {
	flag.Parse()

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
	runID, err := store.CreateRun(*runLabel, "udp:"+*udpAddress, time.Now())
	if err != nil {
		log.Fatalf("create trace run: %v", err)
	}
	log.Printf("odometry run %s started", runID)

	stats := ingest.NewPacketStats()

	ws := monitor.NewWebServer(monitor.WebServerConfig{
		Address: *listen,
		Stats:   stats,
		Store:   store,
		RunID:   runID,
	})

	pipe := pipeline.New(params)
	var scanIndex int64
	pipe.OnScan = func(out pipeline.ScanOutput) {
		ws.RecordPose(out.Odometry)
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

	listener := ingest.NewUDPListener(ingest.UDPListenerConfig{
		Address:     *udpAddress,
		RcvBuf:      *rcvBuf,
		LogInterval: time.Duration(*logInterval) * time.Second,
		Stats:       stats,
	}, parser, assembler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ws.Start()

	if err := listener.Listen(ctx); err != nil {
		log.Printf("udp listener: %v", err)
	}

	// Drain and shut down in dependency order: sensor input stopped above,
	// then the pipeline, then the monitor and the trace run.
	pipe.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Shutdown(shutdownCtx); err != nil {
		log.Printf("monitor shutdown: %v", err)
	}

	if err := store.FinishRun(runID, time.Now()); err != nil {
		log.Printf("finish trace run: %v", err)
	}
	log.Printf("odometry run %s finished after %d scans", runID, scanIndex)
}
