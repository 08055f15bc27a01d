// Package pipeline is the composition root of the odometry front-end: it
// owns the projection and feature-association workers, the bounded channels
// between them, and the IMU ingestion path.
//
// This package imports from the layer packages (rangeimage, imu, features,
// odometry) and none of those packages import pipeline.
package pipeline

import (
	"sync"
	"time"

	"github.com/banshee-data/odometry.report/internal/lidar"
	"github.com/banshee-data/odometry.report/internal/lidar/features"
	"github.com/banshee-data/odometry.report/internal/lidar/imu"
	"github.com/banshee-data/odometry.report/internal/lidar/odometry"
	"github.com/banshee-data/odometry.report/internal/lidar/rangeimage"
)

// Scan is one revolution's worth of raw returns with its acquisition time.
// The zero value is the shutdown sentinel.
type Scan struct {
	Points lidar.PointCloud
	Time   time.Time
}

// empty reports whether the scan is the shutdown sentinel.
func (s Scan) empty() bool { return s.Points == nil && s.Time.IsZero() }

// projectionEmpty reports whether a projection bundle is the forwarded
// shutdown sentinel.
func projectionEmpty(p rangeimage.ProjectionOut) bool {
	return p.SegmentedCloud == nil && p.ScanTime.IsZero()
}

// ScanOutput is the per-scan publication bundle: the odometry pose plus the
// classified feature clouds and the segmented cloud for visualization and
// downstream reuse. All clouds are owned copies.
type ScanOutput struct {
	Odometry odometry.Pose

	CornerSharp     lidar.PointCloud
	CornerLessSharp lidar.PointCloud
	SurfFlat        lidar.PointCloud
	SurfLessFlat    lidar.PointCloud

	SegmentedCloud lidar.PointCloud
	SegInfo        rangeimage.SegInfo

	Bootstrap bool
}

// MappingOut is the reduced-rate bundle forwarded to the mapping sink.
type MappingOut struct {
	CornerLast  lidar.PointCloud
	SurfLast    lidar.PointCloud
	OutlierLast lidar.PointCloud
	Odometry    odometry.Pose
}

// Pipeline wires the two workers together. Each worker owns its private
// stage state; the IMU ring buffer is the only structure shared across
// threads and carries its own lock.
type Pipeline struct {
	params lidar.ScanParams

	imuBuf    *imu.Buffer
	dsk       *imu.Deskewer
	projector *rangeimage.Projector
	extractor *features.Extractor
	estimator *odometry.Estimator

	scanCh chan Scan
	projCh chan rangeimage.ProjectionOut

	// OnScan, if set, is invoked from the association worker after every
	// scan. OnMapping fires every MappingFrequencyDivider scans.
	OnScan    func(ScanOutput)
	OnMapping func(MappingOut)

	cycleCount int

	wg      sync.WaitGroup
	started bool
	stopped bool
	mu      sync.Mutex
}

// New builds a pipeline for the given scan geometry. Callbacks may be set
// before Start.
func New(params lidar.ScanParams) *Pipeline {
	buf := imu.NewBuffer(params.ImuQueLength, params.ScanPeriod)
	dsk := imu.NewDeskewer(buf)
	return &Pipeline{
		params:    params,
		imuBuf:    buf,
		dsk:       dsk,
		projector: rangeimage.NewProjector(params),
		extractor: features.NewExtractor(params),
		estimator: odometry.NewEstimator(params, dsk),
		scanCh:    make(chan Scan, 1),
		projCh:    make(chan rangeimage.ProjectionOut, 1),
	}
}

// Estimator exposes the association stage state for inspection; callers
// must not touch it while the pipeline is running.
func (p *Pipeline) Estimator() *odometry.Estimator { return p.estimator }

// Projector exposes the projection stage for inspection between runs.
func (p *Pipeline) Projector() *rangeimage.Projector { return p.projector }

// Start launches both workers.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.wg.Add(2)
	go p.runProjection()
	go p.runFeatureAssociation()
}

// Stop sends the shutdown sentinel through the pipeline and joins both
// workers. Safe to call more than once.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.scanCh <- Scan{}
	p.wg.Wait()
}

// SubmitScan hands one raw scan to the projection worker, blocking while
// the stage is busy with the previous scan.
func (p *Pipeline) SubmitScan(points lidar.PointCloud, scanTime time.Time) {
	p.scanCh <- Scan{Points: points, Time: scanTime}
}

// AddIMU ingests one IMU measurement. Runs on the caller's thread; the ring
// buffer append and integration step are O(1) under the buffer lock.
func (p *Pipeline) AddIMU(m imu.Measurement) {
	p.imuBuf.Add(m)
}

func (p *Pipeline) runProjection() {
	defer p.wg.Done()

	for scan := range p.scanCh {
		if scan.empty() {
			// Forward the sentinel so the association worker exits too.
			p.projCh <- rangeimage.ProjectionOut{}
			return
		}
		p.projCh <- p.projector.Process(scan.Points, scan.Time)
	}
	// Producer gone: propagate shutdown.
	p.projCh <- rangeimage.ProjectionOut{}
}

func (p *Pipeline) runFeatureAssociation() {
	defer p.wg.Done()

	for proj := range p.projCh {
		if projectionEmpty(proj) {
			return
		}
		p.processScan(proj)
	}
}

// processScan runs deskew, feature extraction and the scan-to-scan solve
// for one projected scan. The IMU buffer is held locked for the whole
// sequence so the sample window is exactly the set delivered before entry.
func (p *Pipeline) processScan(proj rangeimage.ProjectionOut) {
	p.imuBuf.Lock()
	defer p.imuBuf.Unlock()

	segmented := proj.SegmentedCloud
	outlier := proj.OutlierCloud
	seg := proj.SegInfo

	timeScanCur := float64(proj.ScanTime.UnixNano()) / 1e9

	p.dsk.AdjustDistortion(segmented, &seg, timeScanCur)

	p.extractor.Run(segmented, &seg)

	out := ScanOutput{
		CornerSharp:     p.extractor.CornerSharp.Clone(),
		CornerLessSharp: p.extractor.CornerLessSharp.Clone(),
		SurfFlat:        p.extractor.SurfFlat.Clone(),
		SurfLessFlat:    p.extractor.SurfLessFlat.Clone(),
		SegmentedCloud:  segmented.Clone(),
		SegInfo:         seg,
	}

	if !p.estimator.Initialized() {
		p.estimator.CheckSystemInitialization(p.extractor)
		out.Bootstrap = true
		out.Odometry = p.estimator.Odometry(proj.ScanTime)
		if p.OnScan != nil {
			p.OnScan(out)
		}
		return
	}

	p.estimator.UpdateInitialGuess()
	p.estimator.UpdateTransformation(p.extractor)
	p.estimator.IntegrateTransformation()

	out.Odometry = p.estimator.Odometry(proj.ScanTime)

	p.estimator.PublishCloudsLast(p.extractor, outlier)

	if p.OnScan != nil {
		p.OnScan(out)
	}

	p.cycleCount++
	if p.cycleCount == p.params.MappingFrequencyDivider {
		p.cycleCount = 0
		if p.OnMapping != nil {
			p.OnMapping(MappingOut{
				CornerLast:  p.estimator.CornerLast.Clone(),
				SurfLast:    p.estimator.SurfLast.Clone(),
				OutlierLast: outlier.Clone(),
				Odometry:    out.Odometry,
			})
		}
	}
}
