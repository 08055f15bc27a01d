// Package monitor serves the HTTP surface of the odometry pipeline: health
// and throughput stats, the recent trajectory as JSON, an interactive
// trajectory chart, and a PNG track plot.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/odometry.report/internal/lidar/ingest"
	"github.com/banshee-data/odometry.report/internal/lidar/odometry"
	sqlite "github.com/banshee-data/odometry.report/internal/lidar/storage/sqlite"
	"github.com/banshee-data/odometry.report/internal/monitoring"
)

// poseHistorySize bounds the in-memory trajectory served by the live
// endpoints; older poses stay available through the trace store.
const poseHistorySize = 4096

// WebServer handles the HTTP interface for monitoring the odometry
// pipeline. It provides endpoints for health checks, throughput statistics
// and trajectory inspection.
type WebServer struct {
	address string
	stats   *ingest.PacketStats
	store   *sqlite.TraceStore
	runID   string
	server  *http.Server

	mu        sync.Mutex
	poses     []odometry.Pose
	scanCount int64
	lastScan  time.Time
	started   time.Time
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Stats   *ingest.PacketStats
	Store   *sqlite.TraceStore
	RunID   string
}

// NewWebServer creates a web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address: config.Address,
		stats:   config.Stats,
		store:   config.Store,
		runID:   config.RunID,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", ws.handleHealth)
	mux.HandleFunc("/api/odom/stats", ws.handleStats)
	mux.HandleFunc("/api/odom/poses", ws.handlePoses)
	mux.HandleFunc("/api/odom/runs", ws.handleRuns)
	mux.HandleFunc("/charts/trajectory", ws.handleTrajectoryChart)
	mux.HandleFunc("/plots/track.png", ws.handleTrackPlot)

	ws.server = &http.Server{
		Addr:         ws.address,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return ws
}

// RecordPose feeds one scan's pose into the live history. Called from the
// pipeline's per-scan callback.
func (ws *WebServer) RecordPose(p odometry.Pose) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.scanCount++
	ws.lastScan = p.Time
	ws.poses = append(ws.poses, p)
	if len(ws.poses) > poseHistorySize {
		ws.poses = ws.poses[len(ws.poses)-poseHistorySize:]
	}
}

// Start begins serving in a background goroutine.
func (ws *WebServer) Start() {
	go func() {
		monitoring.Logf("monitor: listening on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("monitor: server error: %v", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	return ws.server.Shutdown(ctx)
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime_seconds":%.0f}`, time.Since(ws.started).Seconds())
}

type statsResponse struct {
	ScanCount     int64     `json:"scan_count"`
	LastScanTime  time.Time `json:"last_scan_time"`
	Packets       int64     `json:"packets"`
	Bytes         int64     `json:"bytes"`
	Dropped       int64     `json:"dropped"`
	Points        int64     `json:"points"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	RunID         string    `json:"run_id,omitempty"`
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	ws.mu.Lock()
	resp := statsResponse{
		ScanCount:     ws.scanCount,
		LastScanTime:  ws.lastScan,
		UptimeSeconds: time.Since(ws.started).Seconds(),
		RunID:         ws.runID,
	}
	ws.mu.Unlock()

	if ws.stats != nil {
		resp.Packets, resp.Bytes, resp.Dropped, resp.Points = ws.stats.Snapshot()
	}

	ws.writeJSON(w, resp)
}

type poseJSON struct {
	Time       time.Time `json:"time"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Z          float64   `json:"z"`
	QX         float64   `json:"qx"`
	QY         float64   `json:"qy"`
	QZ         float64   `json:"qz"`
	QW         float64   `json:"qw"`
	Degenerate bool      `json:"degenerate"`
}

func (ws *WebServer) handlePoses(w http.ResponseWriter, r *http.Request) {
	poses := ws.recentPoses()
	out := make([]poseJSON, 0, len(poses))
	for _, p := range poses {
		out = append(out, poseJSON{
			Time: p.Time,
			X:    p.Position.X, Y: p.Position.Y, Z: p.Position.Z,
			QX: p.Orientation.X, QY: p.Orientation.Y, QZ: p.Orientation.Z, QW: p.Orientation.W,
			Degenerate: p.Degenerate,
		})
	}
	ws.writeJSON(w, out)
}

func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no trace store attached")
		return
	}
	runs, err := ws.store.Runs()
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ws.writeJSON(w, runs)
}

func (ws *WebServer) recentPoses() []odometry.Pose {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	out := make([]odometry.Pose, len(ws.poses))
	copy(out, ws.poses)
	return out
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("monitor: encode response: %v", err)
	}
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
