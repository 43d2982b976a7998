package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oshokin/sos-guard/internal/adapter/contacts"
	"github.com/oshokin/sos-guard/internal/adapter/location"
	"github.com/oshokin/sos-guard/internal/adapter/media"
	"github.com/oshokin/sos-guard/internal/adapter/messenger"
	"github.com/oshokin/sos-guard/internal/adapter/notify"
	"github.com/oshokin/sos-guard/internal/adapter/sensor"
	"github.com/oshokin/sos-guard/internal/adapter/siren"
	"github.com/oshokin/sos-guard/internal/config"
	"github.com/oshokin/sos-guard/internal/detect"
	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/logger"
	"github.com/oshokin/sos-guard/internal/observe"
	"github.com/oshokin/sos-guard/internal/repository/evidence"
	"github.com/oshokin/sos-guard/internal/repository/state"
	"github.com/oshokin/sos-guard/internal/resource"
	"github.com/oshokin/sos-guard/internal/service/alarm"
	"github.com/oshokin/sos-guard/internal/service/alert"
	capture "github.com/oshokin/sos-guard/internal/service/evidence"
	"github.com/oshokin/sos-guard/internal/service/gesture"
	"github.com/oshokin/sos-guard/internal/service/input"
	"github.com/oshokin/sos-guard/internal/service/recorder"
	"github.com/oshokin/sos-guard/internal/service/scream"
	"github.com/oshokin/sos-guard/internal/service/sensing"
	"github.com/oshokin/sos-guard/internal/service/walk"
)

const evidenceDirPermissions = 0o700

// engine wires every component together and serves the control API.
// It is unexported to keep the transport decoupled from the implementation.
type engine struct {
	// cfg is the validated daemon configuration.
	cfg *config.Config
	// hub fans announcements out to log and watchers.
	hub *notify.Hub
	// ledger stores evidence photo records.
	ledger *evidence.SQLiteRepository
	// contacts is the emergency contact list.
	contacts *contacts.FileStore

	controller *alarm.Controller
	arming     *alarm.Arming
	input      *input.Service
	supervisor *sensing.Supervisor
	walk       *walk.Service
	recorder   *recorder.Service
}

// newEngine builds the engine from settings. Nothing runs until start.
//
//nolint:funlen // Straight-line wiring.
func newEngine(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) (*engine, error) {
	if err := os.MkdirAll(cfg.EvidenceDir, evidenceDirPermissions); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}

	ledger, err := evidence.Open(cfg.EvidenceDB)
	if err != nil {
		return nil, err
	}

	tone, err := siren.NewCommand(cfg.Siren.Command)
	if err != nil {
		_ = ledger.Close()
		return nil, fmt.Errorf("siren: %w", err)
	}

	sender, err := newMessenger(cfg.Messenger)
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}

	e := &engine{
		cfg:      cfg,
		hub:      notify.NewHub(ctx),
		ledger:   ledger,
		contacts: contacts.NewFileStore(cfg.ContactsFile),
	}

	leases := resource.NewManager()

	broadcaster := alert.NewBroadcaster(alert.Options{
		Contacts:        e.contacts,
		Messenger:       sender,
		Location:        newLocation(cfg.Location),
		Metrics:         metrics,
		Concurrency:     cfg.Alarm.AlertConcurrency,
		LocationTimeout: cfg.Alarm.LocationTimeout,
	})

	microphone := openMicrophone(cfg.Sensors.Microphone)
	camera := openCamera(cfg.Sensors.Camera, cfg.Gesture.FrameWidth, cfg.Gesture.FrameHeight)

	wav := media.NewWAVSink(func(ctx context.Context) (media.PCMSource, error) {
		pcm, err := microphone(ctx)
		if err != nil {
			return nil, err
		}

		return pcm, nil
	}, cfg.Scream.SampleRate)

	e.controller = alarm.NewController(alarm.Options{
		Config: alarm.Config{
			Duration:         cfg.Alarm.Duration,
			RecordRetryDelay: cfg.Alarm.RecordRetryDelay,
			EvidenceDir:      cfg.EvidenceDir,
			ArmingDuration:   cfg.Alarm.ArmingDuration,
		},
		Leases:  leases,
		Siren:   tone,
		Haptics: siren.NewLogHaptics(ctx),
		Audio:   wav,
		Evidence: capture.NewScheduler(capture.Options{
			Dir:       cfg.EvidenceDir,
			Interval:  cfg.Alarm.CaptureInterval,
			MaxPhotos: cfg.Alarm.MaxPhotos,
			Sink: media.NewJPEGSink(func(ctx context.Context) (media.FrameSource, error) {
				frames, err := camera(ctx)
				if err != nil {
					return nil, err
				}

				return frames, nil
			}),
			Ledger:   ledger,
			Notifier: e.hub,
			Metrics:  metrics,
		}),
		Alerter:  broadcaster,
		Notifier: e.hub,
		Metrics:  metrics,
	})

	e.arming = alarm.NewArming(e.controller, broadcaster)
	e.input = input.NewService(cfg.Keys, cfg.Shake, e.controller, e.arming, e.hub)

	e.supervisor = sensing.NewSupervisor(sensing.Options{
		Detectors: []sensing.Detector{
			scream.New(scream.Config{
				SampleRate: cfg.Scream.SampleRate,
				Window:     cfg.Scream.Window,
				Threshold:  cfg.Scream.Threshold,
			}, func(ctx context.Context) (scream.AudioInput, error) {
				pcm, err := microphone(ctx)
				if err != nil {
					return nil, err
				}

				return pcm, nil
			}),
			gesture.New(gesture.Config{
				Sampler: detect.LumaZoneSampler{
					Zone:      cfg.Gesture.Zone,
					Step:      detect.DefaultLumaZoneSampler().Step,
					FrameStep: detect.DefaultLumaZoneSampler().FrameStep,
				},
				Presence:     cfg.Gesture.Presence,
				ConfirmCount: cfg.Gesture.ConfirmFrames,
				Hold:         cfg.Gesture.Hold,
			}, func(ctx context.Context) (gesture.FrameInput, error) {
				frames, err := camera(ctx)
				if err != nil {
					return nil, err
				}

				return frames, nil
			}, e.hub),
		},
		Leases:      leases,
		Flags:       state.NewFileRepository(cfg.StateFile),
		Alarm:       e.controller,
		Notifier:    e.hub,
		Metrics:     metrics,
		ResumeGrace: cfg.Alarm.ResumeGrace,
	})

	e.walk = walk.NewService(walk.Config{
		MinDuration:   cfg.Walk.MinDuration,
		MaxDuration:   cfg.Walk.MaxDuration,
		ShareInterval: cfg.Walk.ShareInterval,
		WarningBefore: cfg.Walk.WarningBefore,
	}, broadcaster, e.controller, e.hub)

	e.recorder = recorder.NewService(recorder.Options{
		Dir:       cfg.EvidenceDir,
		Audio:     wav,
		Ledger:    ledger,
		Leases:    leases,
		Notifier:  e.hub,
		OnRelease: e.supervisor.ResumeLater,
	})

	return e, nil
}

// start launches the background workers and restores enabled detectors.
// The workers stop when ctx is done; call shutdown afterwards.
func (e *engine) start(ctx context.Context) {
	go e.controller.RunDispatcher(ctx)

	if src := e.cfg.Sensors.Accelerometer; src.Configured() {
		go e.runAccelerometer(ctx, src)
	}

	e.supervisor.Restore(ctx)
}

// shutdown silences the alarm, stops the detectors and waits for outgoing
// messages.
func (e *engine) shutdown(ctx context.Context) {
	e.arming.Disarm()

	if _, err := e.recorder.Stop(ctx); err != nil && !errors.Is(err, recorder.ErrNotRecording) {
		logger.WarnKV(ctx, "Failed to stop recording", "error", err)
	}

	e.controller.Stop(ctx)
	e.supervisor.Shutdown()
	e.controller.Wait()
	e.walk.Wait()

	if err := e.ledger.Close(); err != nil {
		logger.WarnKV(ctx, "Failed to close evidence ledger", "error", err)
	}
}

func (e *engine) runAccelerometer(ctx context.Context, src sensor.Source) {
	ctx = logger.WithName(ctx, "accelerometer")

	stream, err := sensor.Open(ctx, src)
	if err != nil {
		logger.WarnKV(ctx, "Accelerometer unavailable, shake trigger disabled", "error", err)
		return
	}

	if err = e.input.RunAccelerometer(ctx, sensor.NewAccel(stream)); err != nil {
		logger.WarnKV(ctx, "Accelerometer stream failed", "error", err)
	}
}

// Trigger implements api.Engine.
func (e *engine) Trigger(ctx context.Context, actor *sos.Actor) (*sos.Session, error) {
	return e.controller.RequestTrigger(ctx, sos.TriggerRequest{
		Source:    sos.SourceManual,
		Timestamp: time.Now(),
		Actor:     actor,
	})
}

// Stop implements api.Engine.
func (e *engine) Stop(ctx context.Context) bool {
	return e.controller.Stop(ctx)
}

// Status implements api.Engine.
func (e *engine) Status(context.Context) *sos.Status {
	states := e.supervisor.States()

	detectors := make(map[string]string, len(states))
	for name, st := range states {
		detectors[name] = string(st)
	}

	return &sos.Status{
		Alarm:     e.controller.Session(),
		Armed:     e.arming.Armed(),
		Detectors: detectors,
		Walk:      e.walk.Status(),
		Recording: e.recorder.Active(),
	}
}

// Arm implements api.Engine.
func (e *engine) Arm(ctx context.Context, actor *sos.Actor) error {
	return e.arming.Arm(ctx, sos.SourceManual, actor)
}

// Disarm implements api.Engine.
func (e *engine) Disarm(context.Context) bool {
	return e.arming.Disarm()
}

// PressKey implements api.Engine.
func (e *engine) PressKey(ctx context.Context) bool {
	return e.input.PressKey(ctx, time.Now())
}

// EnableDetector implements api.Engine.
func (e *engine) EnableDetector(ctx context.Context, name string) error {
	return e.supervisor.Enable(ctx, name)
}

// DisableDetector implements api.Engine.
func (e *engine) DisableDetector(ctx context.Context, name string) error {
	return e.supervisor.Disable(ctx, name)
}

// StartWalk implements api.Engine.
func (e *engine) StartWalk(ctx context.Context, d time.Duration) (*sos.WalkSession, error) {
	return e.walk.Start(ctx, d)
}

// CheckIn implements api.Engine.
func (e *engine) CheckIn(ctx context.Context) (*sos.WalkSession, error) {
	return e.walk.CheckIn(ctx)
}

// StopWalk implements api.Engine.
func (e *engine) StopWalk(ctx context.Context) error {
	return e.walk.Stop(ctx)
}

// Evidence implements api.Engine.
func (e *engine) Evidence(ctx context.Context, sessionID string) ([]sos.EvidenceArtifact, error) {
	return e.ledger.ListBySession(ctx, sessionID)
}

// Sessions implements api.Engine.
func (e *engine) Sessions(ctx context.Context) ([]evidence.SessionSummary, error) {
	return e.ledger.Sessions(ctx)
}

// StartRecording implements api.Engine.
func (e *engine) StartRecording(ctx context.Context) (*sos.Recording, error) {
	return e.recorder.Start(ctx)
}

// StopRecording implements api.Engine.
func (e *engine) StopRecording(ctx context.Context) (*sos.Recording, error) {
	return e.recorder.Stop(ctx)
}

// Recordings implements api.Engine.
func (e *engine) Recordings(ctx context.Context) ([]sos.Recording, error) {
	return e.recorder.List(ctx)
}

// Subscribe implements api.Engine.
func (e *engine) Subscribe() (<-chan sos.Event, func()) {
	return e.hub.Subscribe(0)
}

func newMessenger(cfg config.Messenger) (alert.Messenger, error) {
	if len(cfg.Command) == 0 {
		return messenger.Log{}, nil
	}

	cmd, err := messenger.NewCommand(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("messenger: %w", err)
	}

	return cmd, nil
}

func newLocation(cfg config.Location) alert.LocationProvider {
	switch {
	case cfg.File != "":
		return location.NewFile(cfg.File)
	case cfg.Lat != nil && cfg.Lng != nil:
		return location.Static{Location: &sos.Location{Lat: *cfg.Lat, Lng: *cfg.Lng}}
	default:
		return location.Static{}
	}
}

func openMicrophone(src sensor.Source) func(ctx context.Context) (*sensor.PCM, error) {
	return func(ctx context.Context) (*sensor.PCM, error) {
		stream, err := sensor.Open(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("microphone: %w", err)
		}

		return sensor.NewPCM(stream), nil
	}
}

func openCamera(src sensor.Source, width, height int) func(ctx context.Context) (*sensor.Frames, error) {
	return func(ctx context.Context) (*sensor.Frames, error) {
		stream, err := sensor.Open(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("camera: %w", err)
		}

		return sensor.NewFrames(stream, width, height), nil
	}
}
