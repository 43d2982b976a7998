package client

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	api "github.com/oshokin/sos-guard/internal/api/grpc/sos"
	"github.com/oshokin/sos-guard/internal/config"
	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/logger"
	"github.com/oshokin/sos-guard/internal/repository/evidence"
	"github.com/oshokin/sos-guard/internal/service/common"
)

// Options configures how sos-ctl reaches the daemon.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string

	// ServerAddress overrides server address from config when specified.
	ServerAddress string
}

// defaultRetryInterval is the delay between trigger attempts while the
// daemon is unreachable.
const defaultRetryInterval = time.Second

// Runner executes sos-ctl commands and prints their results.
type Runner struct {
	client *common.Client
	out    io.Writer
	actor  *sos.Actor
}

// Open loads settings, identifies the caller and connects to the daemon.
func Open(ctx context.Context, opts *Options, out io.Writer) (*Runner, error) {
	cfg, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	// Use server address from options if provided, otherwise use config.
	serverAddress := cfg.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	// Identify current user and hostname for the session audit trail.
	actor, err := common.DetectActor()
	if err != nil {
		return nil, err
	}

	client, err := common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Timeout))
	if err != nil {
		return nil, err
	}

	return &Runner{client: client, out: out, actor: actor}, nil
}

// Close releases the connection.
func (r *Runner) Close() error {
	return r.client.Close()
}

// Trigger raises the alarm, retrying while the daemon is unreachable.
func (r *Runner) Trigger(ctx context.Context) error {
	ctx = logger.WithName(ctx, "sos-ctl")

	// attempt tries once to raise the alarm, returns (completed, error).
	attempt := func() (bool, error) {
		session, err := r.client.Trigger(ctx, r.actor)
		if err != nil {
			if retryable(err) {
				logger.ErrorKV(ctx, "Trigger failed, retrying", "error", err)
				return false, nil
			}

			return false, err
		}

		r.printf("Alarm raised: %s\n", formatSession(session))

		return true, nil
	}

	if done, err := attempt(); err != nil || done {
		return err
	}

	ticker := time.NewTicker(defaultRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			done, err := attempt()
			if err != nil || done {
				return err
			}
		}
	}
}

// Stop silences the alarm.
func (r *Runner) Stop(ctx context.Context) error {
	stopped, err := r.client.Stop(ctx)
	if err != nil {
		return err
	}

	if stopped {
		r.printf("Alarm stopped\n")
	} else {
		r.printf("No alarm was running\n")
	}

	return nil
}

// Status prints the alarm, arming, detector and walk state.
func (r *Runner) Status(ctx context.Context) error {
	st, err := r.client.Status(ctx)
	if err != nil {
		return err
	}

	r.printf("%s", formatStatus(st, time.Now()))

	return nil
}

// Arm starts the countdown.
func (r *Runner) Arm(ctx context.Context) error {
	if err := r.client.Arm(ctx, r.actor); err != nil {
		return err
	}

	r.printf("Armed, run `sos-ctl disarm` to cancel\n")

	return nil
}

// Disarm cancels the countdown.
func (r *Runner) Disarm(ctx context.Context) error {
	disarmed, err := r.client.Disarm(ctx)
	if err != nil {
		return err
	}

	if disarmed {
		r.printf("Disarmed\n")
	} else {
		r.printf("Not armed\n")
	}

	return nil
}

// PressKey sends one volume-key press.
func (r *Runner) PressKey(ctx context.Context) error {
	fired, err := r.client.PressKey(ctx)
	if err != nil {
		return err
	}

	if fired {
		r.printf("Key pattern completed, alarm requested\n")
	}

	return nil
}

// SetDetector enables or disables a detector.
func (r *Runner) SetDetector(ctx context.Context, name string, enabled bool) error {
	if enabled {
		if err := r.client.EnableDetector(ctx, name); err != nil {
			return err
		}

		r.printf("Detector %s enabled\n", name)

		return nil
	}

	if err := r.client.DisableDetector(ctx, name); err != nil {
		return err
	}

	r.printf("Detector %s disabled\n", name)

	return nil
}

// StartWalk begins a safe walk.
func (r *Runner) StartWalk(ctx context.Context, d time.Duration) error {
	w, err := r.client.StartWalk(ctx, d)
	if err != nil {
		return err
	}

	r.printf("Safe walk started: %s\n", formatWalk(w, time.Now()))

	return nil
}

// CheckIn resets the safe walk deadline.
func (r *Runner) CheckIn(ctx context.Context) error {
	w, err := r.client.CheckIn(ctx)
	if err != nil {
		return err
	}

	r.printf("Checked in: %s\n", formatWalk(w, time.Now()))

	return nil
}

// StopWalk ends the safe walk.
func (r *Runner) StopWalk(ctx context.Context) error {
	if err := r.client.StopWalk(ctx); err != nil {
		return err
	}

	r.printf("Safe walk ended\n")

	return nil
}

// Evidence lists the photos of one session, or every session when id is empty.
func (r *Runner) Evidence(ctx context.Context, sessionID string) error {
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)

	if sessionID == "" {
		sessions, err := r.client.Sessions(ctx)
		if err != nil {
			return err
		}

		writeSessions(tw, sessions)

		return tw.Flush()
	}

	artifacts, err := r.client.Evidence(ctx, sessionID)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(tw, "#\tCAPTURED\tPATH")

	for _, a := range artifacts {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", a.Sequence, a.CapturedAt.Local().Format(time.DateTime), a.Path)
	}

	return tw.Flush()
}

// StartRecording begins a voice recording.
func (r *Runner) StartRecording(ctx context.Context) error {
	rec, err := r.client.StartRecording(ctx)
	if err != nil {
		return err
	}

	r.printf("Recording to %s, run `sos-ctl record stop` to finish\n", rec.Path)

	return nil
}

// StopRecording finishes the voice recording.
func (r *Runner) StopRecording(ctx context.Context) error {
	rec, err := r.client.StopRecording(ctx)
	if err != nil {
		return err
	}

	r.printf("Recording saved: %s\n", formatRecording(rec))

	return nil
}

// Recordings prints the saved recordings, newest first.
func (r *Runner) Recordings(ctx context.Context) error {
	recs, err := r.client.Recordings(ctx)
	if err != nil {
		return err
	}

	if len(recs) == 0 {
		r.printf("No recordings yet.\n")
		return nil
	}

	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	writeRecordings(tw, recs)

	return tw.Flush()
}

// Watch prints engine announcements until ctx is done.
func (r *Runner) Watch(ctx context.Context) error {
	return r.client.Watch(ctx, func(e sos.Event) {
		r.printf("%s %-18s %s\n", e.At.Local().Format(time.TimeOnly), e.Kind, api.FormatPayload(e.Payload))
	})
}

func (r *Runner) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func writeSessions(w io.Writer, sessions []evidence.SessionSummary) {
	_, _ = fmt.Fprintln(w, "SESSION\tPHOTOS\tFIRST\tLAST")

	for _, s := range sessions {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.SessionID, s.Photos,
			s.FirstPhoto.Local().Format(time.DateTime), s.LastPhoto.Local().Format(time.DateTime))
	}
}

func writeRecordings(w io.Writer, recs []sos.Recording) {
	_, _ = fmt.Fprintln(w, "FILE\tSTARTED\tLENGTH\tSIZE")

	for _, rec := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d KB\n", filepath.Base(rec.Path),
			rec.StartedAt.Local().Format(time.DateTime), rec.EndedAt.Sub(rec.StartedAt).Round(time.Second), rec.Bytes/1024)
	}
}

// formatRecording converts a recording to a readable line.
func formatRecording(rec *sos.Recording) string {
	if rec == nil {
		return "<none>"
	}

	if rec.Active() {
		return fmt.Sprintf("%s (since %s)", rec.Path, rec.StartedAt.Local().Format(time.TimeOnly))
	}

	return fmt.Sprintf("%s (%s, %d KB)", rec.Path, rec.EndedAt.Sub(rec.StartedAt).Round(time.Second), rec.Bytes/1024)
}

// retryable reports whether the daemon could not be reached at all.
func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

// formatSession converts an alarm session to a readable line.
func formatSession(s *sos.Session) string {
	if s == nil {
		return "<none>"
	}

	actor := "<unknown>"
	if s.Actor != nil {
		actor = fmt.Sprintf("%s@%s", s.Actor.Username, s.Actor.Hostname)
	}

	return fmt.Sprintf("%s %s via %s by %s (started %s, ends %s, photos %d)",
		s.ID, s.State, s.Source, actor,
		s.StartedAt.Local().Format(time.DateTime), s.ExpiresAt.Local().Format(time.TimeOnly), s.PhotoCount)
}

// formatWalk converts a safe walk to a readable line.
func formatWalk(w *sos.WalkSession, now time.Time) string {
	if w == nil {
		return "<none>"
	}

	if !w.Active {
		return fmt.Sprintf("%s ended (check-ins %d)", w.ID, w.CheckIns)
	}

	return fmt.Sprintf("%s active, check in by %s (%s left, check-ins %d)",
		w.ID, w.Deadline.Local().Format(time.TimeOnly), w.Remaining(now).Round(time.Second), w.CheckIns)
}

// formatStatus renders the status as aligned lines.
func formatStatus(st *sos.Status, now time.Time) string {
	var b strings.Builder

	alarm := "idle"
	if st.Alarm != nil && st.Alarm.State == sos.StateActive {
		alarm = formatSession(st.Alarm)
	}

	fmt.Fprintf(&b, "alarm:     %s\n", alarm)
	fmt.Fprintf(&b, "armed:     %t\n", st.Armed)

	names := make([]string, 0, len(st.Detectors))
	for name := range st.Detectors {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(&b, "detector:  %s %s\n", name, st.Detectors[name])
	}

	walk := "none"
	if st.Walk != nil && st.Walk.Active {
		walk = formatWalk(st.Walk, now)
	}

	fmt.Fprintf(&b, "walk:      %s\n", walk)

	if st.Recording.Active() {
		fmt.Fprintf(&b, "recording: %s\n", formatRecording(st.Recording))
	}

	return b.String()
}
