package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
// This is the single source of truth for all default pipeline values.
const DefaultConfigPath = "config/pipeline.defaults.json"

// PipelineConfig represents the root configuration for the recognition
// pipeline. The schema matches the /api/pipeline/params endpoint so the
// same JSON can be used for both startup configuration and runtime updates.
type PipelineConfig struct {
	// Quality gate params
	MinBlurVariance  *float64 `json:"min_blur_variance,omitempty"`
	MinFaceSize      *int     `json:"min_face_size,omitempty"`
	BlurWeight       *float64 `json:"blur_weight,omitempty"`
	BrightnessWeight *float64 `json:"brightness_weight,omitempty"`
	ContrastWeight   *float64 `json:"contrast_weight,omitempty"`

	// Preprocess params
	OutputSize       *int     `json:"output_size,omitempty"`
	CLAHEClipLimit   *float64 `json:"clahe_clip_limit,omitempty"`
	CLAHETileSize    *int     `json:"clahe_tile_size,omitempty"`
	EnhancedPipeline *bool    `json:"enhanced_pipeline,omitempty"`

	// Recognition params
	BasicThreshold    *float64 `json:"basic_threshold,omitempty"`
	EnhancedThreshold *float64 `json:"enhanced_threshold,omitempty"`
	WindowSize        *int     `json:"window_size,omitempty"`
	ConfirmMode       *string  `json:"confirm_mode,omitempty"` // "strict" or "majority"

	// Tracker params
	LineX          *float64 `json:"line_x,omitempty"`
	SmoothingAlpha *float64 `json:"smoothing_alpha,omitempty"`

	// Reaper params
	DoorTrackTimeout   *string `json:"door_track_timeout,omitempty"`   // duration string like "10s"
	PeriodTrackTimeout *string `json:"period_track_timeout,omitempty"` // duration string like "120s"
	ReapInterval       *string `json:"reap_interval,omitempty"`

	// Schedule params
	GraceMinutes *int `json:"grace_minutes,omitempty"`

	// Ledger params
	EnforceWindow *bool   `json:"enforce_window,omitempty"`
	WindowStart   *string `json:"window_start,omitempty"` // "HH:MM"
	WindowEnd     *string `json:"window_end,omitempty"`   // "HH:MM"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a PipelineConfig with all fields set to nil.
// Use LoadPipelineConfig to load actual values from the defaults file.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON file retain their
// default values, so partial configs are safe.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
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

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical pipeline defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadPipelineConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.MinBlurVariance != nil && *c.MinBlurVariance < 0 {
		return fmt.Errorf("min_blur_variance must be non-negative, got %f", *c.MinBlurVariance)
	}

	if c.MinFaceSize != nil && *c.MinFaceSize < 1 {
		return fmt.Errorf("min_face_size must be positive, got %d", *c.MinFaceSize)
	}

	if c.OutputSize != nil && *c.OutputSize < 1 {
		return fmt.Errorf("output_size must be positive, got %d", *c.OutputSize)
	}

	if c.SmoothingAlpha != nil {
		if *c.SmoothingAlpha <= 0 || *c.SmoothingAlpha > 1 {
			return fmt.Errorf("smoothing_alpha must be in (0, 1], got %f", *c.SmoothingAlpha)
		}
	}

	if c.WindowSize != nil && *c.WindowSize < 1 {
		return fmt.Errorf("window_size must be positive, got %d", *c.WindowSize)
	}

	if c.ConfirmMode != nil {
		switch *c.ConfirmMode {
		case "strict", "majority":
		default:
			return fmt.Errorf("confirm_mode must be 'strict' or 'majority', got %q", *c.ConfirmMode)
		}
	}

	for name, field := range map[string]*string{
		"door_track_timeout":   c.DoorTrackTimeout,
		"period_track_timeout": c.PeriodTrackTimeout,
		"reap_interval":        c.ReapInterval,
	} {
		if field != nil && *field != "" {
			if _, err := time.ParseDuration(*field); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
			}
		}
	}

	if c.GraceMinutes != nil && *c.GraceMinutes < 0 {
		return fmt.Errorf("grace_minutes must be non-negative, got %d", *c.GraceMinutes)
	}

	for name, field := range map[string]*string{
		"window_start": c.WindowStart,
		"window_end":   c.WindowEnd,
	} {
		if field != nil && *field != "" {
			if _, err := time.Parse("15:04", *field); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
			}
		}
	}

	return nil
}

// GetMinBlurVariance returns the min_blur_variance value or the default.
func (c *PipelineConfig) GetMinBlurVariance() float64 {
	if c.MinBlurVariance == nil {
		return 50.0
	}
	return *c.MinBlurVariance
}

// GetMinFaceSize returns the min_face_size value or the default.
func (c *PipelineConfig) GetMinFaceSize() int {
	if c.MinFaceSize == nil {
		return 100
	}
	return *c.MinFaceSize
}

// GetBlurWeight returns the blur_weight value or the default.
func (c *PipelineConfig) GetBlurWeight() float64 {
	if c.BlurWeight == nil {
		return 0.4
	}
	return *c.BlurWeight
}

// GetBrightnessWeight returns the brightness_weight value or the default.
func (c *PipelineConfig) GetBrightnessWeight() float64 {
	if c.BrightnessWeight == nil {
		return 0.3
	}
	return *c.BrightnessWeight
}

// GetContrastWeight returns the contrast_weight value or the default.
func (c *PipelineConfig) GetContrastWeight() float64 {
	if c.ContrastWeight == nil {
		return 0.3
	}
	return *c.ContrastWeight
}

// GetOutputSize returns the output_size value or the default.
func (c *PipelineConfig) GetOutputSize() int {
	if c.OutputSize == nil {
		return 200
	}
	return *c.OutputSize
}

// GetCLAHEClipLimit returns the clahe_clip_limit value or the default.
func (c *PipelineConfig) GetCLAHEClipLimit() float64 {
	if c.CLAHEClipLimit == nil {
		return 2.0
	}
	return *c.CLAHEClipLimit
}

// GetCLAHETileSize returns the clahe_tile_size value or the default.
func (c *PipelineConfig) GetCLAHETileSize() int {
	if c.CLAHETileSize == nil {
		return 8
	}
	return *c.CLAHETileSize
}

// GetEnhancedPipeline returns the enhanced_pipeline value or the default.
func (c *PipelineConfig) GetEnhancedPipeline() bool {
	if c.EnhancedPipeline == nil {
		return false
	}
	return *c.EnhancedPipeline
}

// GetBasicThreshold returns the basic_threshold value or the default.
func (c *PipelineConfig) GetBasicThreshold() float64 {
	if c.BasicThreshold == nil {
		return 60.0
	}
	return *c.BasicThreshold
}

// GetEnhancedThreshold returns the enhanced_threshold value or the default.
func (c *PipelineConfig) GetEnhancedThreshold() float64 {
	if c.EnhancedThreshold == nil {
		return 52.0
	}
	return *c.EnhancedThreshold
}

// GetWindowSize returns the window_size value or the default.
func (c *PipelineConfig) GetWindowSize() int {
	if c.WindowSize == nil {
		return 5
	}
	return *c.WindowSize
}

// GetConfirmMode returns the confirm_mode value or the default.
func (c *PipelineConfig) GetConfirmMode() string {
	if c.ConfirmMode == nil {
		return "strict"
	}
	return *c.ConfirmMode
}

// GetLineX returns the line_x value or the default.
func (c *PipelineConfig) GetLineX() float64 {
	if c.LineX == nil {
		return 320.0
	}
	return *c.LineX
}

// GetSmoothingAlpha returns the smoothing_alpha value or the default.
func (c *PipelineConfig) GetSmoothingAlpha() float64 {
	if c.SmoothingAlpha == nil {
		return 0.45
	}
	return *c.SmoothingAlpha
}

// GetDoorTrackTimeout parses and returns the DoorTrackTimeout as a time.Duration.
func (c *PipelineConfig) GetDoorTrackTimeout() time.Duration {
	if c.DoorTrackTimeout == nil || *c.DoorTrackTimeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(*c.DoorTrackTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetPeriodTrackTimeout parses and returns the PeriodTrackTimeout as a time.Duration.
func (c *PipelineConfig) GetPeriodTrackTimeout() time.Duration {
	if c.PeriodTrackTimeout == nil || *c.PeriodTrackTimeout == "" {
		return 120 * time.Second
	}
	d, err := time.ParseDuration(*c.PeriodTrackTimeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetReapInterval parses and returns the ReapInterval as a time.Duration.
func (c *PipelineConfig) GetReapInterval() time.Duration {
	if c.ReapInterval == nil || *c.ReapInterval == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(*c.ReapInterval)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetGraceMinutes returns the grace_minutes value or the default.
func (c *PipelineConfig) GetGraceMinutes() int {
	if c.GraceMinutes == nil {
		return 5
	}
	return *c.GraceMinutes
}

// GetEnforceWindow returns the enforce_window value or the default.
func (c *PipelineConfig) GetEnforceWindow() bool {
	if c.EnforceWindow == nil {
		return false
	}
	return *c.EnforceWindow
}

// GetWindowStart returns the window_start value or the default.
func (c *PipelineConfig) GetWindowStart() string {
	if c.WindowStart == nil || *c.WindowStart == "" {
		return "08:00"
	}
	return *c.WindowStart
}

// GetWindowEnd returns the window_end value or the default.
func (c *PipelineConfig) GetWindowEnd() string {
	if c.WindowEnd == nil || *c.WindowEnd == "" {
		return "17:00"
	}
	return *c.WindowEnd
}
