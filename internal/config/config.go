package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/sos-guard/internal/adapter/sensor"
	"github.com/oshokin/sos-guard/internal/detect"
	"github.com/oshokin/sos-guard/internal/logger"
)

// Config holds the settings shared by sos-guard and sos-ctl.
type Config struct {
	// ServerAddress is the gRPC control API address.
	ServerAddress string `yaml:"server_addr"`
	// Timeout is the duration for RPC calls made by the client.
	Timeout time.Duration `yaml:"timeout"`
	// LogLevel is the zap level name used by the daemon.
	LogLevel string `yaml:"log_level"`
	// LogFormat is "console" (default) or "json".
	LogFormat string `yaml:"log_format"`
	// MetricsAddress serves Prometheus metrics when set, e.g. ":9464".
	MetricsAddress string `yaml:"metrics_addr"`
	// StateFile is the path to the JSON file storing detector flags.
	StateFile string `yaml:"state_file"`
	// ContactsFile is the YAML list of emergency contacts.
	ContactsFile string `yaml:"contacts_file"`
	// EvidenceDir receives recordings and photos.
	EvidenceDir string `yaml:"evidence_dir"`
	// EvidenceDB is the SQLite ledger of captured photos.
	EvidenceDB string `yaml:"evidence_db"`

	Alarm     Alarm                   `yaml:"alarm"`
	Scream    Scream                  `yaml:"scream"`
	Gesture   Gesture                 `yaml:"gesture"`
	Shake     detect.ShakeConfig      `yaml:"shake"`
	Keys      detect.KeyPatternConfig `yaml:"keys"`
	Walk      Walk                    `yaml:"walk"`
	Sensors   Sensors                 `yaml:"sensors"`
	Messenger Messenger               `yaml:"messenger"`
	Siren     Siren                   `yaml:"siren"`
	Location  Location                `yaml:"location"`
}

// Alarm holds the alarm session tunables.
type Alarm struct {
	Duration         time.Duration `yaml:"duration"`
	CaptureInterval  time.Duration `yaml:"capture_interval"`
	MaxPhotos        int           `yaml:"max_photos"`
	LocationTimeout  time.Duration `yaml:"location_timeout"`
	ResumeGrace      time.Duration `yaml:"resume_grace"`
	ArmingDuration   time.Duration `yaml:"arming_duration"`
	RecordRetryDelay time.Duration `yaml:"record_retry_delay"`
	AlertConcurrency int           `yaml:"alert_concurrency"`
}

// Scream holds the loud-sound detector settings.
type Scream struct {
	SampleRate int                    `yaml:"sample_rate"`
	Window     time.Duration          `yaml:"window"`
	Threshold  detect.ThresholdConfig `yaml:"threshold"`
}

// Gesture holds the camera hold-gesture settings.
type Gesture struct {
	Presence      detect.PresenceDetector `yaml:"presence"`
	Zone          detect.Zone             `yaml:"zone"`
	ConfirmFrames int                     `yaml:"confirm_frames"`
	Hold          time.Duration           `yaml:"hold"`
	FrameWidth    int                     `yaml:"frame_width"`
	FrameHeight   int                     `yaml:"frame_height"`
}

// Walk holds the safe walk settings.
type Walk struct {
	MinDuration   time.Duration `yaml:"min_duration"`
	MaxDuration   time.Duration `yaml:"max_duration"`
	ShareInterval time.Duration `yaml:"share_interval"`
	WarningBefore time.Duration `yaml:"warning_before"`
}

// Sensors locates the raw hardware streams.
type Sensors struct {
	Microphone    sensor.Source `yaml:"microphone"`
	Camera        sensor.Source `yaml:"camera"`
	Accelerometer sensor.Source `yaml:"accelerometer"`
}

// Messenger selects the text transport. An empty command logs messages.
type Messenger struct {
	Command []string `yaml:"command"`
}

// Siren selects the tone command. An empty command uses the OS default.
type Siren struct {
	Command []string `yaml:"command"`
}

// Location selects where position fixes come from: a file kept up to date
// by a GPS daemon, or fixed coordinates.
type Location struct {
	File string   `yaml:"file"`
	Lat  *float64 `yaml:"lat"`
	Lng  *float64 `yaml:"lng"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "sos-guard.yaml"
	// DefaultServerAddress is the default control API address.
	DefaultServerAddress = "127.0.0.1:50061"
	// DefaultStateFilename is the default filename for the detector flags.
	DefaultStateFilename = "sos-guard-state.json"
	// DefaultContactsFilename is the default contacts file.
	DefaultContactsFilename = "sos-contacts.yaml"
	// DefaultEvidenceDir is the default evidence directory.
	DefaultEvidenceDir = "evidence"
	// DefaultEvidenceDBFilename is the default ledger database.
	DefaultEvidenceDBFilename = "evidence.db"
	// DefaultTimeout is the default duration for RPC calls.
	DefaultTimeout = 5 * time.Second
	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidRange is returned for settings that contradict each other.
	errInvalidRange = errors.New("invalid range")
	// errInvalidLocation is returned when only one coordinate is set.
	errInvalidLocation = errors.New("location needs both lat and lng")
	// errUnknownLogLevel is returned for a log level zap does not know.
	errUnknownLogLevel = errors.New("unknown log level")
	// errUnknownLogFormat is returned for an encoder name the logger does not know.
	errUnknownLogFormat = errors.New("unknown log format")
)

// Default returns a configuration with every default filled in.
func Default() *Config {
	cfg := new(Config)
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the default
// settings file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}

	if path == "" && errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return nil, err
}

// Save writes Settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings and fills in defaults.
//
//nolint:cyclop,funlen // One default per setting.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ServerAddress == "" {
		settings.ServerAddress = DefaultServerAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	if settings.MetricsAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", settings.MetricsAddress); err != nil {
			return fmt.Errorf("invalid metrics socket: %w", err)
		}
	}

	if settings.LogLevel == "" {
		settings.LogLevel = "info"
	}

	if _, ok := logger.ParseLogLevel(settings.LogLevel); !ok {
		return fmt.Errorf("%q: %w", settings.LogLevel, errUnknownLogLevel)
	}

	format, ok := logger.ParseFormat(settings.LogFormat)
	if !ok {
		return fmt.Errorf("%q: %w", settings.LogFormat, errUnknownLogFormat)
	}

	settings.LogFormat = string(format)

	// Set default timeout if not specified
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	// Set default files if not specified
	if settings.StateFile == "" {
		settings.StateFile = DefaultStateFilename
	}

	if settings.ContactsFile == "" {
		settings.ContactsFile = DefaultContactsFilename
	}

	if settings.EvidenceDir == "" {
		settings.EvidenceDir = DefaultEvidenceDir
	}

	if settings.EvidenceDB == "" {
		settings.EvidenceDB = filepath.Join(settings.EvidenceDir, DefaultEvidenceDBFilename)
	}

	settings.Alarm.fillDefaults()
	settings.Scream.fillDefaults()
	settings.Gesture.fillDefaults()
	settings.Walk.fillDefaults()

	fillShake(&settings.Shake)
	fillKeys(&settings.Keys)

	if settings.Walk.MinDuration > settings.Walk.MaxDuration {
		return fmt.Errorf("walk min_duration %s exceeds max_duration %s: %w",
			settings.Walk.MinDuration, settings.Walk.MaxDuration, errInvalidRange)
	}

	if z := settings.Gesture.Zone; z.Left >= z.Right || z.Top >= z.Bottom {
		return fmt.Errorf("gesture zone %+v: %w", z, errInvalidRange)
	}

	if (settings.Location.Lat == nil) != (settings.Location.Lng == nil) {
		return errInvalidLocation
	}

	return nil
}

func (a *Alarm) fillDefaults() {
	if a.Duration <= 0 {
		a.Duration = 5 * time.Minute
	}

	if a.CaptureInterval <= 0 {
		a.CaptureInterval = 5 * time.Second
	}

	if a.MaxPhotos <= 0 {
		a.MaxPhotos = 60
	}

	if a.LocationTimeout <= 0 {
		a.LocationTimeout = 10 * time.Second
	}

	if a.ResumeGrace <= 0 {
		a.ResumeGrace = 2 * time.Second
	}

	if a.ArmingDuration <= 0 {
		a.ArmingDuration = 5 * time.Second
	}

	if a.RecordRetryDelay <= 0 {
		a.RecordRetryDelay = time.Second
	}

	if a.AlertConcurrency <= 0 {
		a.AlertConcurrency = 4
	}
}

func (s *Scream) fillDefaults() {
	if s.SampleRate <= 0 {
		s.SampleRate = 44100
	}

	if s.Window <= 0 {
		s.Window = 100 * time.Millisecond
	}

	var (
		t   = &s.Threshold
		def = detect.DefaultThresholdConfig()
	)

	orDefault(&t.InitialFloor, def.InitialFloor)
	orDefault(&t.AbsoluteThreshold, def.AbsoluteThreshold)
	orDefault(&t.Multiplier, def.Multiplier)
	orDefault(&t.ConfirmCount, def.ConfirmCount)
	orDefault(&t.Lockout, def.Lockout)
	orDefault(&t.FallRate, def.FallRate)
	orDefault(&t.RiseRate, def.RiseRate)
}

func (g *Gesture) fillDefaults() {
	def := detect.DefaultPresenceDetector()
	orDefault(&g.Presence.Ratio, def.Ratio)
	orDefault(&g.Presence.MinZoneLuma, def.MinZoneLuma)

	if g.Zone == (detect.Zone{}) {
		g.Zone = detect.DefaultLumaZoneSampler().Zone
	}

	if g.ConfirmFrames <= 0 {
		g.ConfirmFrames = 5
	}

	if g.Hold <= 0 {
		g.Hold = 4 * time.Second
	}

	if g.FrameWidth <= 0 {
		g.FrameWidth = 320
	}

	if g.FrameHeight <= 0 {
		g.FrameHeight = 240
	}
}

func (w *Walk) fillDefaults() {
	if w.MinDuration <= 0 {
		w.MinDuration = 5 * time.Minute
	}

	if w.MaxDuration <= 0 {
		w.MaxDuration = 60 * time.Minute
	}

	if w.ShareInterval <= 0 {
		w.ShareInterval = 2 * time.Minute
	}

	if w.WarningBefore <= 0 {
		w.WarningBefore = time.Minute
	}
}

func fillShake(c *detect.ShakeConfig) {
	def := detect.DefaultShakeConfig()

	orDefault(&c.DeltaThreshold, def.DeltaThreshold)
	orDefault(&c.MinGap, def.MinGap)
	orDefault(&c.Count, def.Count)
	orDefault(&c.ResetAfter, def.ResetAfter)
}

func fillKeys(c *detect.KeyPatternConfig) {
	def := detect.DefaultKeyPatternConfig()

	orDefault(&c.Presses, def.Presses)
	orDefault(&c.MaxGap, def.MaxGap)
	orDefault(&c.Suppress, def.Suppress)
}

// orDefault replaces a non-positive setting with def.
func orDefault[T ~int | ~int64 | ~float64](v *T, def T) {
	if *v <= 0 {
		*v = def
	}
}
