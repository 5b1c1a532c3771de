package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/junction/internal/traffic"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Timing policy names accepted by timing_policy.
const (
	PolicyTiered       = "tiered"
	PolicyProportional = "proportional"
)

// Source types accepted in the sources section.
const (
	SourceVideo  = "video"
	SourceCamera = "camera"
	SourceImages = "images"
)

// Config is the root configuration for the junction controller. The same
// schema is served by /api/config, with every field resolved to its
// effective value. Unset fields fall back to the defaults returned by the
// Get* methods, so partial files are safe.
type Config struct {
	// Pipeline geometry
	FrameWidth  *int `json:"frame_width,omitempty"`
	FrameHeight *int `json:"frame_height,omitempty"`

	// Phase timing (duration strings like "20s")
	GreenLow      *string `json:"green_low,omitempty"`
	GreenMedium   *string `json:"green_medium,omitempty"`
	GreenHigh     *string `json:"green_high,omitempty"`
	LowTraffic    *int    `json:"low_traffic,omitempty"`
	MediumTraffic *int    `json:"medium_traffic,omitempty"`
	Yellow        *string `json:"yellow,omitempty"`
	RedHold       *string `json:"red_hold,omitempty"`
	TimingPolicy  *string `json:"timing_policy,omitempty"`
	MinGreen      *string `json:"min_green,omitempty"`
	MaxGreen      *string `json:"max_green,omitempty"`
	PerVehicle    *string `json:"per_vehicle,omitempty"`

	// Emergency preemption
	EmergencyMax     *string `json:"emergency_max,omitempty"`
	EmergencyConfirm *int    `json:"emergency_confirm,omitempty"`

	// Worker cadence
	ControlInterval   *string `json:"control_interval,omitempty"`
	DetectionInterval *string `json:"detection_interval,omitempty"`
	HardwareInterval  *string `json:"hardware_interval,omitempty"`
	ViolationWindow   *string `json:"violation_window,omitempty"`
	ReconnectDelay    *string `json:"reconnect_delay,omitempty"`
	TickErrorPause    *string `json:"tick_error_pause,omitempty"`

	// Perception
	NightThreshold   *float64          `json:"night_threshold,omitempty"`
	StalledThreshold *int              `json:"stalled_threshold,omitempty"`
	StalledLimit     *int              `json:"stalled_limit,omitempty"`
	VehicleClasses   map[string]string `json:"vehicle_classes,omitempty"`
	EmergencyClasses []int             `json:"emergency_classes,omitempty"`
	RainClass        *int              `json:"rain_class,omitempty"`

	// Telemetry
	JPEGQuality      *int `json:"jpeg_quality,omitempty"`
	CommandQueueSize *int `json:"command_queue_size,omitempty"`

	Sources  map[string]SourceConfig `json:"sources,omitempty"`
	ROI      map[string][4]int       `json:"roi,omitempty"`
	Serial   *SerialConfig           `json:"serial,omitempty"`
	Detector *DetectorConfig         `json:"detector,omitempty"`
	MQTT     *MQTTConfig             `json:"mqtt,omitempty"`
}

// SourceConfig describes where one approach's frames come from.
type SourceConfig struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// SerialConfig describes the signal controller's serial link. An empty Port
// runs without hardware.
type SerialConfig struct {
	Port        string `json:"port,omitempty"`
	BaudRate    int    `json:"baud_rate,omitempty"`
	DataBits    int    `json:"data_bits,omitempty"`
	StopBits    int    `json:"stop_bits,omitempty"`
	Parity      string `json:"parity,omitempty"`
	SettleDelay string `json:"settle_delay,omitempty"`
}

// DetectorConfig points at a remote detection service. An empty URL selects
// the in-process background-subtraction counter.
type DetectorConfig struct {
	URL     string `json:"url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// MQTTConfig enables the outbound event sink when Broker is set.
type MQTTConfig struct {
	Broker   string `json:"broker,omitempty"`
	Topic    string `json:"topic,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json
// extension and be under 1MB. The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	durations := map[string]*string{
		"green_low":          c.GreenLow,
		"green_medium":       c.GreenMedium,
		"green_high":         c.GreenHigh,
		"yellow":             c.Yellow,
		"red_hold":           c.RedHold,
		"min_green":          c.MinGreen,
		"max_green":          c.MaxGreen,
		"per_vehicle":        c.PerVehicle,
		"emergency_max":      c.EmergencyMax,
		"control_interval":   c.ControlInterval,
		"detection_interval": c.DetectionInterval,
		"hardware_interval":  c.HardwareInterval,
		"violation_window":   c.ViolationWindow,
		"reconnect_delay":    c.ReconnectDelay,
		"tick_error_pause":   c.TickErrorPause,
	}
	names := make([]string, 0, len(durations))
	for name := range durations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := durations[name]
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.GetGreenLow() > c.GetGreenMedium() || c.GetGreenMedium() > c.GetGreenHigh() {
		return fmt.Errorf("green tiers must be ordered low <= medium <= high")
	}
	if c.GetLowTraffic() < 0 || c.GetLowTraffic() > c.GetMediumTraffic() {
		return fmt.Errorf("traffic breakpoints must satisfy 0 <= low_traffic <= medium_traffic")
	}
	if c.GetMinGreen() > c.GetMaxGreen() {
		return fmt.Errorf("min_green must not exceed max_green")
	}
	if c.GetGreenLow() < c.GetMinGreen() || c.GetGreenHigh() > c.GetMaxGreen() {
		return fmt.Errorf("green tiers must lie within min_green %s and max_green %s", c.GetMinGreen(), c.GetMaxGreen())
	}

	switch c.GetTimingPolicy() {
	case PolicyTiered, PolicyProportional:
	default:
		return fmt.Errorf("timing_policy must be %q or %q, got %q", PolicyTiered, PolicyProportional, *c.TimingPolicy)
	}

	if c.FrameWidth != nil && *c.FrameWidth <= 0 {
		return fmt.Errorf("frame_width must be positive, got %d", *c.FrameWidth)
	}
	if c.FrameHeight != nil && *c.FrameHeight <= 0 {
		return fmt.Errorf("frame_height must be positive, got %d", *c.FrameHeight)
	}
	if c.EmergencyConfirm != nil && *c.EmergencyConfirm < 1 {
		return fmt.Errorf("emergency_confirm must be at least 1, got %d", *c.EmergencyConfirm)
	}
	if c.StalledThreshold != nil && *c.StalledThreshold < 1 {
		return fmt.Errorf("stalled_threshold must be at least 1, got %d", *c.StalledThreshold)
	}
	if c.StalledLimit != nil && *c.StalledLimit < 1 {
		return fmt.Errorf("stalled_limit must be at least 1, got %d", *c.StalledLimit)
	}
	if c.NightThreshold != nil && (*c.NightThreshold < 0 || *c.NightThreshold > 255) {
		return fmt.Errorf("night_threshold must be between 0 and 255, got %f", *c.NightThreshold)
	}
	if c.JPEGQuality != nil && (*c.JPEGQuality < 1 || *c.JPEGQuality > 100) {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", *c.JPEGQuality)
	}
	if c.CommandQueueSize != nil && *c.CommandQueueSize < 1 {
		return fmt.Errorf("command_queue_size must be at least 1, got %d", *c.CommandQueueSize)
	}

	for id := range c.VehicleClasses {
		if _, err := strconv.Atoi(id); err != nil {
			return fmt.Errorf("vehicle_classes key %q is not a class id", id)
		}
	}

	for name, src := range c.Sources {
		if _, err := traffic.ParseDirection(name); err != nil {
			return fmt.Errorf("sources: %w", err)
		}
		switch src.Type {
		case SourceVideo, SourceCamera, SourceImages:
		default:
			return fmt.Errorf("sources.%s: unsupported type %q", name, src.Type)
		}
		if strings.TrimSpace(src.Value) == "" {
			return fmt.Errorf("sources.%s: value is required", name)
		}
	}

	for name, r := range c.ROI {
		if _, err := traffic.ParseDirection(name); err != nil {
			return fmt.Errorf("roi: %w", err)
		}
		if r[0] >= r[2] || r[1] >= r[3] {
			return fmt.Errorf("roi.%s: rectangle %v is empty", name, r)
		}
	}

	if c.Serial != nil && c.Serial.SettleDelay != "" {
		if _, err := time.ParseDuration(c.Serial.SettleDelay); err != nil {
			return fmt.Errorf("invalid serial.settle_delay '%s': %w", c.Serial.SettleDelay, err)
		}
	}
	if c.Detector != nil && c.Detector.Timeout != "" {
		if _, err := time.ParseDuration(c.Detector.Timeout); err != nil {
			return fmt.Errorf("invalid detector.timeout '%s': %w", c.Detector.Timeout, err)
		}
	}

	return nil
}

// durationOr parses v, falling back to def when unset or unparsable.
func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
