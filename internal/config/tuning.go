// Package config loads the odometry tuning file. The JSON schema uses
// pointer-typed optional fields so partial configs are safe: any field
// omitted from the file keeps its canonical default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/odometry.report/internal/lidar"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for odometry tuning
// parameters. Angular values are expressed in degrees in the file and
// converted to radians when building ScanParams.
type TuningConfig struct {
	// Scan geometry
	NScan          *int     `json:"n_scan,omitempty"`
	HorizontalScan *int     `json:"horizontal_scan,omitempty"`
	AngResXDeg     *float64 `json:"ang_res_x_deg,omitempty"`
	AngResYDeg     *float64 `json:"ang_res_y_deg,omitempty"`
	AngBottomDeg   *float64 `json:"ang_bottom_deg,omitempty"`
	GroundScanInd  *int     `json:"ground_scan_ind,omitempty"`

	ScanPeriod          *float64 `json:"scan_period,omitempty"`
	SensorMountAngleDeg *float64 `json:"sensor_mount_angle_deg,omitempty"`

	// Segmentation params
	SegmentThetaDeg      *float64 `json:"segment_theta_deg,omitempty"`
	SegmentValidPointNum *int     `json:"segment_valid_point_num,omitempty"`
	SegmentValidLineNum  *int     `json:"segment_valid_line_num,omitempty"`

	// Feature params
	EdgeThreshold *float64 `json:"edge_threshold,omitempty"`
	SurfThreshold *float64 `json:"surf_threshold,omitempty"`
	SurfLeafSize  *float64 `json:"surf_leaf_size,omitempty"`

	// Association params
	NearestFeatureSearchSqDist *float64 `json:"nearest_feature_search_sq_dist,omitempty"`
	MappingFrequencyDivider    *int     `json:"mapping_frequency_divider,omitempty"`
	ImuQueLength               *int     `json:"imu_que_length,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from a file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must
// have a .json extension and stay under the max file size. Fields omitted
// from the JSON file retain their default values, so partial configs are
// safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks ranges on the fields that are present.
func (c *TuningConfig) Validate() error {
	if c.NScan != nil && *c.NScan <= 0 {
		return fmt.Errorf("n_scan must be positive, got %d", *c.NScan)
	}
	if c.HorizontalScan != nil && *c.HorizontalScan <= 0 {
		return fmt.Errorf("horizontal_scan must be positive, got %d", *c.HorizontalScan)
	}
	if c.AngResXDeg != nil && *c.AngResXDeg <= 0 {
		return fmt.Errorf("ang_res_x_deg must be positive, got %g", *c.AngResXDeg)
	}
	if c.AngResYDeg != nil && *c.AngResYDeg <= 0 {
		return fmt.Errorf("ang_res_y_deg must be positive, got %g", *c.AngResYDeg)
	}
	if c.GroundScanInd != nil && c.NScan != nil && *c.GroundScanInd >= *c.NScan {
		return fmt.Errorf("ground_scan_ind %d must be below n_scan %d", *c.GroundScanInd, *c.NScan)
	}
	if c.ScanPeriod != nil && *c.ScanPeriod <= 0 {
		return fmt.Errorf("scan_period must be positive, got %g", *c.ScanPeriod)
	}
	if c.SegmentValidPointNum != nil && *c.SegmentValidPointNum < 1 {
		return fmt.Errorf("segment_valid_point_num must be at least 1, got %d", *c.SegmentValidPointNum)
	}
	if c.SegmentValidLineNum != nil && *c.SegmentValidLineNum < 1 {
		return fmt.Errorf("segment_valid_line_num must be at least 1, got %d", *c.SegmentValidLineNum)
	}
	if c.SurfLeafSize != nil && *c.SurfLeafSize <= 0 {
		return fmt.Errorf("surf_leaf_size must be positive, got %g", *c.SurfLeafSize)
	}
	if c.ImuQueLength != nil && *c.ImuQueLength < 200 {
		return fmt.Errorf("imu_que_length must be at least 200, got %d", *c.ImuQueLength)
	}
	if c.MappingFrequencyDivider != nil && *c.MappingFrequencyDivider < 1 {
		return fmt.Errorf("mapping_frequency_divider must be at least 1, got %d", *c.MappingFrequencyDivider)
	}
	return nil
}

// ScanParams materialises the configuration over the canonical defaults.
// The segmentation step angles follow the configured angular resolution.
func (c *TuningConfig) ScanParams() lidar.ScanParams {
	p := lidar.VLP16Params()

	if c.NScan != nil {
		p.NScan = *c.NScan
	}
	if c.HorizontalScan != nil {
		p.HorizontalScan = *c.HorizontalScan
	}
	if c.AngResXDeg != nil {
		p.AngResX = *c.AngResXDeg * lidar.DegToRad
		p.SegmentAlphaX = p.AngResX
	}
	if c.AngResYDeg != nil {
		p.AngResY = *c.AngResYDeg * lidar.DegToRad
		p.SegmentAlphaY = p.AngResY
	}
	if c.AngBottomDeg != nil {
		p.AngBottom = *c.AngBottomDeg * lidar.DegToRad
	}
	if c.GroundScanInd != nil {
		p.GroundScanInd = *c.GroundScanInd
	}
	if c.ScanPeriod != nil {
		p.ScanPeriod = *c.ScanPeriod
	}
	if c.SensorMountAngleDeg != nil {
		p.SensorMountAngle = *c.SensorMountAngleDeg * lidar.DegToRad
	}
	if c.SegmentThetaDeg != nil {
		p.SegmentTheta = *c.SegmentThetaDeg * lidar.DegToRad
	}
	if c.SegmentValidPointNum != nil {
		p.SegmentValidPointNum = *c.SegmentValidPointNum
	}
	if c.SegmentValidLineNum != nil {
		p.SegmentValidLineNum = *c.SegmentValidLineNum
	}
	if c.EdgeThreshold != nil {
		p.EdgeThreshold = *c.EdgeThreshold
	}
	if c.SurfThreshold != nil {
		p.SurfThreshold = *c.SurfThreshold
	}
	if c.SurfLeafSize != nil {
		p.SurfLeafSize = *c.SurfLeafSize
	}
	if c.NearestFeatureSearchSqDist != nil {
		p.NearestFeatureSearchSqDist = *c.NearestFeatureSearchSqDist
	}
	if c.MappingFrequencyDivider != nil {
		p.MappingFrequencyDivider = *c.MappingFrequencyDivider
	}
	if c.ImuQueLength != nil {
		p.ImuQueLength = *c.ImuQueLength
	}
	return p
}
