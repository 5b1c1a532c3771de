package config

import (
	"image"
	"sort"
	"strconv"
	"time"

	"github.com/banshee-data/junction/internal/traffic"
)

// defaultROI holds the stop-line rectangles of the reference deployment,
// in pipeline pixel coordinates.
var defaultROI = map[traffic.Direction]image.Rectangle{
	traffic.North: image.Rect(220, 140, 420, 260),
	traffic.East:  image.Rect(360, 220, 620, 340),
	traffic.South: image.Rect(220, 260, 420, 380),
	traffic.West:  image.Rect(0, 220, 280, 340),
}

// COCO class ids for the vehicle whitelist.
var defaultVehicleClasses = map[int]string{2: "car", 3: "bike", 5: "bus", 7: "truck"}

// GetFrameSize returns the fixed pipeline resolution.
func (c *Config) GetFrameSize() image.Point {
	return image.Pt(intOr(c.FrameWidth, 640), intOr(c.FrameHeight, 360))
}

func (c *Config) GetGreenLow() time.Duration    { return durationOr(c.GreenLow, 10*time.Second) }
func (c *Config) GetGreenMedium() time.Duration { return durationOr(c.GreenMedium, 20*time.Second) }
func (c *Config) GetGreenHigh() time.Duration   { return durationOr(c.GreenHigh, 30*time.Second) }
func (c *Config) GetLowTraffic() int            { return intOr(c.LowTraffic, 5) }
func (c *Config) GetMediumTraffic() int         { return intOr(c.MediumTraffic, 15) }
func (c *Config) GetYellow() time.Duration      { return durationOr(c.Yellow, 4*time.Second) }
func (c *Config) GetRedHold() time.Duration     { return durationOr(c.RedHold, 2*time.Second) }
func (c *Config) GetMinGreen() time.Duration    { return durationOr(c.MinGreen, 5*time.Second) }
func (c *Config) GetMaxGreen() time.Duration    { return durationOr(c.MaxGreen, 60*time.Second) }
func (c *Config) GetPerVehicle() time.Duration  { return durationOr(c.PerVehicle, 2*time.Second) }

// GetTimingPolicy returns the configured green-time policy name.
func (c *Config) GetTimingPolicy() string {
	if c.TimingPolicy == nil || *c.TimingPolicy == "" {
		return PolicyTiered
	}
	return *c.TimingPolicy
}

// GetEmergencyMax returns the hard cap on an emergency preemption.
func (c *Config) GetEmergencyMax() time.Duration { return durationOr(c.EmergencyMax, 40*time.Second) }

// GetEmergencyConfirm returns how many consecutive perception results must
// flag the same approach before preemption starts.
func (c *Config) GetEmergencyConfirm() int { return intOr(c.EmergencyConfirm, 1) }

func (c *Config) GetControlInterval() time.Duration {
	return durationOr(c.ControlInterval, 50*time.Millisecond)
}

func (c *Config) GetDetectionInterval() time.Duration {
	return durationOr(c.DetectionInterval, 150*time.Millisecond)
}

func (c *Config) GetHardwareInterval() time.Duration {
	return durationOr(c.HardwareInterval, time.Second)
}

func (c *Config) GetViolationWindow() time.Duration {
	return durationOr(c.ViolationWindow, time.Second)
}

func (c *Config) GetReconnectDelay() time.Duration {
	return durationOr(c.ReconnectDelay, time.Second)
}

func (c *Config) GetTickErrorPause() time.Duration {
	return durationOr(c.TickErrorPause, time.Second)
}

// GetNightThreshold returns the mean-brightness level (0-255) below which a
// tick is treated as night.
func (c *Config) GetNightThreshold() float64 {
	if c.NightThreshold == nil {
		return 50
	}
	return *c.NightThreshold
}

func (c *Config) GetStalledThreshold() int { return intOr(c.StalledThreshold, 8) }
func (c *Config) GetStalledLimit() int     { return intOr(c.StalledLimit, 30) }
func (c *Config) GetRainClass() int        { return intOr(c.RainClass, 25) }
func (c *Config) GetJPEGQuality() int      { return intOr(c.JPEGQuality, 60) }
func (c *Config) GetCommandQueueSize() int { return intOr(c.CommandQueueSize, 32) }

// GetVehicleClasses returns the class whitelist keyed by detector class id.
func (c *Config) GetVehicleClasses() map[int]string {
	out := make(map[int]string)
	if len(c.VehicleClasses) == 0 {
		for id, name := range defaultVehicleClasses {
			out[id] = name
		}
		return out
	}
	for key, name := range c.VehicleClasses {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		out[id] = name
	}
	return out
}

// GetEmergencyClasses returns the detector class ids that mark an emergency
// vehicle. The default is class 80, the first id past the COCO set, which is
// where fine-tuned models place their emergency-vehicle class.
func (c *Config) GetEmergencyClasses() []int {
	if c.EmergencyClasses == nil {
		return []int{80}
	}
	out := append([]int(nil), c.EmergencyClasses...)
	sort.Ints(out)
	return out
}

// GetSources returns the frame source for each approach. Approaches without
// an entry loop videos/<direction>.mp4.
func (c *Config) GetSources() map[traffic.Direction]SourceConfig {
	out := make(map[traffic.Direction]SourceConfig, traffic.NumDirections)
	for _, d := range traffic.Directions {
		out[d] = SourceConfig{Type: SourceVideo, Value: "videos/" + d.String() + ".mp4"}
	}
	for name, src := range c.Sources {
		d, err := traffic.ParseDirection(name)
		if err != nil {
			continue
		}
		out[d] = src
	}
	return out
}

// GetROI returns the stop-line rectangle for each approach.
func (c *Config) GetROI() map[traffic.Direction]image.Rectangle {
	out := make(map[traffic.Direction]image.Rectangle, traffic.NumDirections)
	for d, r := range defaultROI {
		out[d] = r
	}
	for name, r := range c.ROI {
		d, err := traffic.ParseDirection(name)
		if err != nil {
			continue
		}
		out[d] = image.Rect(r[0], r[1], r[2], r[3])
	}
	return out
}

// GetSerial returns the serial link settings with defaults applied.
func (c *Config) GetSerial() SerialConfig {
	s := SerialConfig{BaudRate: 115200, SettleDelay: "2s"}
	if c.Serial == nil {
		return s
	}
	s.Port = c.Serial.Port
	if c.Serial.BaudRate > 0 {
		s.BaudRate = c.Serial.BaudRate
	}
	s.DataBits = c.Serial.DataBits
	s.StopBits = c.Serial.StopBits
	s.Parity = c.Serial.Parity
	if c.Serial.SettleDelay != "" {
		s.SettleDelay = c.Serial.SettleDelay
	}
	return s
}

// GetSettleDelay returns how long to wait after opening the serial port
// before the first write; microcontroller boards reset on open.
func (c *Config) GetSettleDelay() time.Duration {
	s := c.GetSerial()
	return durationOr(&s.SettleDelay, 2*time.Second)
}

// GetDetector returns the remote detector settings.
func (c *Config) GetDetector() DetectorConfig {
	d := DetectorConfig{Timeout: "2s"}
	if c.Detector == nil {
		return d
	}
	d.URL = c.Detector.URL
	if c.Detector.Timeout != "" {
		d.Timeout = c.Detector.Timeout
	}
	return d
}

// GetDetectorTimeout returns the per-request deadline for the remote detector.
func (c *Config) GetDetectorTimeout() time.Duration {
	d := c.GetDetector()
	return durationOr(&d.Timeout, 2*time.Second)
}

// GetMQTT returns the event sink settings.
func (c *Config) GetMQTT() MQTTConfig {
	m := MQTTConfig{Topic: "junction/events", ClientID: "junction"}
	if c.MQTT == nil {
		return m
	}
	m.Broker = c.MQTT.Broker
	if c.MQTT.Topic != "" {
		m.Topic = c.MQTT.Topic
	}
	if c.MQTT.ClientID != "" {
		m.ClientID = c.MQTT.ClientID
	}
	return m
}

// Resolved returns a copy of the configuration with every field set to its
// effective value.
func (c *Config) Resolved() *Config {
	size := c.GetFrameSize()
	classes := make(map[string]string)
	for id, name := range c.GetVehicleClasses() {
		classes[strconv.Itoa(id)] = name
	}
	sources := make(map[string]SourceConfig)
	for d, src := range c.GetSources() {
		sources[d.String()] = src
	}
	roi := make(map[string][4]int)
	for d, r := range c.GetROI() {
		roi[d.String()] = [4]int{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y}
	}
	serial := c.GetSerial()
	detector := c.GetDetector()
	mqtt := c.GetMQTT()
	policy := c.GetTimingPolicy()

	return &Config{
		FrameWidth:        ptrInt(size.X),
		FrameHeight:       ptrInt(size.Y),
		GreenLow:          ptrString(c.GetGreenLow().String()),
		GreenMedium:       ptrString(c.GetGreenMedium().String()),
		GreenHigh:         ptrString(c.GetGreenHigh().String()),
		LowTraffic:        ptrInt(c.GetLowTraffic()),
		MediumTraffic:     ptrInt(c.GetMediumTraffic()),
		Yellow:            ptrString(c.GetYellow().String()),
		RedHold:           ptrString(c.GetRedHold().String()),
		TimingPolicy:      &policy,
		MinGreen:          ptrString(c.GetMinGreen().String()),
		MaxGreen:          ptrString(c.GetMaxGreen().String()),
		PerVehicle:        ptrString(c.GetPerVehicle().String()),
		EmergencyMax:      ptrString(c.GetEmergencyMax().String()),
		EmergencyConfirm:  ptrInt(c.GetEmergencyConfirm()),
		ControlInterval:   ptrString(c.GetControlInterval().String()),
		DetectionInterval: ptrString(c.GetDetectionInterval().String()),
		HardwareInterval:  ptrString(c.GetHardwareInterval().String()),
		ViolationWindow:   ptrString(c.GetViolationWindow().String()),
		ReconnectDelay:    ptrString(c.GetReconnectDelay().String()),
		TickErrorPause:    ptrString(c.GetTickErrorPause().String()),
		NightThreshold:    ptrFloat64(c.GetNightThreshold()),
		StalledThreshold:  ptrInt(c.GetStalledThreshold()),
		StalledLimit:      ptrInt(c.GetStalledLimit()),
		VehicleClasses:    classes,
		EmergencyClasses:  c.GetEmergencyClasses(),
		RainClass:         ptrInt(c.GetRainClass()),
		JPEGQuality:       ptrInt(c.GetJPEGQuality()),
		CommandQueueSize:  ptrInt(c.GetCommandQueueSize()),
		Sources:           sources,
		ROI:               roi,
		Serial:            &serial,
		Detector:          &detector,
		MQTT:              &mqtt,
	}
}
