package sos

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/repository/evidence"
)

// The API carries domain values as structpb documents. Times are RFC 3339
// strings and durations are milliseconds.

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t.UTC().Format(time.RFC3339Nano)
}

// toValue converts a payload value into something structpb accepts.
func toValue(v any) any {
	switch value := v.(type) {
	case time.Time:
		return formatTime(value)
	case time.Duration:
		return value.Milliseconds()
	case fmt.Stringer:
		return value.String()
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = toValue(item)
		}

		return out
	default:
		return v
	}
}

func actorMap(a *domain.Actor) any {
	if a == nil {
		return nil
	}

	return map[string]any{"hostname": a.Hostname, "username": a.Username}
}

// SessionToStruct encodes an alarm session.
func SessionToStruct(s *domain.Session) (*structpb.Struct, error) {
	if s == nil {
		return structpb.NewStruct(nil)
	}

	resources := make([]any, len(s.Resources))
	for i, r := range s.Resources {
		resources[i] = string(r)
	}

	return structpb.NewStruct(map[string]any{
		"id":             s.ID,
		"state":          s.State.String(),
		"source":         string(s.Source),
		"actor":          actorMap(s.Actor),
		"started_at":     formatTime(s.StartedAt),
		"expires_at":     formatTime(s.ExpiresAt),
		"resources":      resources,
		"recording_path": s.RecordingPath,
		"photo_count":    s.PhotoCount,
	})
}

// SessionFromStruct decodes an alarm session; an empty document is nil.
func SessionFromStruct(st *structpb.Struct) *domain.Session {
	f := fields(st)
	if f.getString("id") == "" {
		return nil
	}

	s := &domain.Session{
		ID:            f.getString("id"),
		Source:        domain.Source(f.getString("source")),
		Actor:         f.getActor("actor"),
		StartedAt:     f.getTime("started_at"),
		ExpiresAt:     f.getTime("expires_at"),
		RecordingPath: f.getString("recording_path"),
		PhotoCount:    f.getInt("photo_count"),
	}

	if f.getString("state") == domain.StateActive.String() {
		s.State = domain.StateActive
	}

	for _, v := range f["resources"].GetListValue().GetValues() {
		s.Resources = append(s.Resources, domain.Resource(v.GetStringValue()))
	}

	return s
}

// WalkToStruct encodes a safe walk.
func WalkToStruct(w *domain.WalkSession) (*structpb.Struct, error) {
	if w == nil {
		return structpb.NewStruct(nil)
	}

	return structpb.NewStruct(map[string]any{
		"id":           w.ID,
		"started_at":   formatTime(w.StartedAt),
		"deadline":     formatTime(w.Deadline),
		"duration_ms":  w.Duration.Milliseconds(),
		"active":       w.Active,
		"check_ins":    w.CheckIns,
		"remaining_ms": w.Remaining(time.Now()).Milliseconds(),
	})
}

// WalkFromStruct decodes a safe walk; an empty document is nil.
func WalkFromStruct(st *structpb.Struct) *domain.WalkSession {
	f := fields(st)
	if f.getString("id") == "" {
		return nil
	}

	return &domain.WalkSession{
		ID:        f.getString("id"),
		StartedAt: f.getTime("started_at"),
		Deadline:  f.getTime("deadline"),
		Duration:  time.Duration(f.getInt("duration_ms")) * time.Millisecond,
		Active:    f.getBool("active"),
		CheckIns:  f.getInt("check_ins"),
	}
}

// StatusToStruct encodes the engine status.
func StatusToStruct(s *domain.Status) (*structpb.Struct, error) {
	alarm, err := SessionToStruct(s.Alarm)
	if err != nil {
		return nil, err
	}

	walk, err := WalkToStruct(s.Walk)
	if err != nil {
		return nil, err
	}

	recording, err := RecordingToStruct(s.Recording)
	if err != nil {
		return nil, err
	}

	detectors := make(map[string]any, len(s.Detectors))
	for name, state := range s.Detectors {
		detectors[name] = state
	}

	out, err := structpb.NewStruct(map[string]any{
		"armed":     s.Armed,
		"detectors": detectors,
	})
	if err != nil {
		return nil, err
	}

	out.Fields["alarm"] = structpb.NewStructValue(alarm)
	out.Fields["walk"] = structpb.NewStructValue(walk)
	out.Fields["recording"] = structpb.NewStructValue(recording)

	return out, nil
}

// StatusFromStruct decodes the engine status.
func StatusFromStruct(st *structpb.Struct) *domain.Status {
	f := fields(st)

	status := &domain.Status{
		Alarm:     SessionFromStruct(f["alarm"].GetStructValue()),
		Armed:     f.getBool("armed"),
		Detectors: make(map[string]string),
		Walk:      WalkFromStruct(f["walk"].GetStructValue()),
		Recording: RecordingFromStruct(f["recording"].GetStructValue()),
	}

	for name, v := range f["detectors"].GetStructValue().GetFields() {
		status.Detectors[name] = v.GetStringValue()
	}

	return status
}

// EvidenceToStruct encodes the photos of one session.
func EvidenceToStruct(artifacts []domain.EvidenceArtifact) (*structpb.Struct, error) {
	items := make([]any, len(artifacts))
	for i, a := range artifacts {
		items[i] = map[string]any{
			"session_id":  a.SessionID,
			"sequence":    a.Sequence,
			"path":        a.Path,
			"captured_at": formatTime(a.CapturedAt),
		}
	}

	return structpb.NewStruct(map[string]any{"artifacts": items})
}

// EvidenceFromStruct decodes the photos of one session.
func EvidenceFromStruct(st *structpb.Struct) []domain.EvidenceArtifact {
	values := fields(st)["artifacts"].GetListValue().GetValues()

	out := make([]domain.EvidenceArtifact, 0, len(values))
	for _, v := range values {
		f := fields(v.GetStructValue())
		out = append(out, domain.EvidenceArtifact{
			SessionID:  f.getString("session_id"),
			Sequence:   f.getInt("sequence"),
			Path:       f.getString("path"),
			CapturedAt: f.getTime("captured_at"),
		})
	}

	return out
}

// SessionsToStruct encodes the evidence summary of every session.
func SessionsToStruct(summaries []evidence.SessionSummary) (*structpb.Struct, error) {
	items := make([]any, len(summaries))
	for i, s := range summaries {
		items[i] = map[string]any{
			"session_id":  s.SessionID,
			"photos":      s.Photos,
			"first_photo": formatTime(s.FirstPhoto),
			"last_photo":  formatTime(s.LastPhoto),
		}
	}

	return structpb.NewStruct(map[string]any{"sessions": items})
}

// SessionsFromStruct decodes the evidence summary of every session.
func SessionsFromStruct(st *structpb.Struct) []evidence.SessionSummary {
	values := fields(st)["sessions"].GetListValue().GetValues()

	out := make([]evidence.SessionSummary, 0, len(values))
	for _, v := range values {
		f := fields(v.GetStructValue())
		out = append(out, evidence.SessionSummary{
			SessionID:  f.getString("session_id"),
			Photos:     f.getInt("photos"),
			FirstPhoto: f.getTime("first_photo"),
			LastPhoto:  f.getTime("last_photo"),
		})
	}

	return out
}

// RecordingToStruct encodes a manual recording.
func RecordingToStruct(r *domain.Recording) (*structpb.Struct, error) {
	if r == nil {
		return structpb.NewStruct(nil)
	}

	return structpb.NewStruct(recordingMap(*r))
}

// RecordingFromStruct decodes a manual recording; an empty document is nil.
func RecordingFromStruct(st *structpb.Struct) *domain.Recording {
	f := fields(st)
	if f.getString("path") == "" {
		return nil
	}

	return &domain.Recording{
		Path:      f.getString("path"),
		StartedAt: f.getTime("started_at"),
		EndedAt:   f.getTime("ended_at"),
		Bytes:     int64(f["bytes"].GetNumberValue()),
	}
}

// RecordingsToStruct encodes the finished recordings.
func RecordingsToStruct(recs []domain.Recording) (*structpb.Struct, error) {
	items := make([]any, len(recs))
	for i, r := range recs {
		items[i] = recordingMap(r)
	}

	return structpb.NewStruct(map[string]any{"recordings": items})
}

// RecordingsFromStruct decodes the finished recordings.
func RecordingsFromStruct(st *structpb.Struct) []domain.Recording {
	values := fields(st)["recordings"].GetListValue().GetValues()

	out := make([]domain.Recording, 0, len(values))
	for _, v := range values {
		if r := RecordingFromStruct(v.GetStructValue()); r != nil {
			out = append(out, *r)
		}
	}

	return out
}

func recordingMap(r domain.Recording) map[string]any {
	return map[string]any{
		"path":       r.Path,
		"started_at": formatTime(r.StartedAt),
		"ended_at":   formatTime(r.EndedAt),
		"bytes":      r.Bytes,
	}
}

// EventToStruct encodes one engine announcement.
func EventToStruct(e domain.Event) (*structpb.Struct, error) {
	payload, ok := toValue(e.Payload).(map[string]any)
	if !ok || payload == nil {
		payload = map[string]any{}
	}

	return structpb.NewStruct(map[string]any{
		"kind":    string(e.Kind),
		"at":      formatTime(e.At),
		"payload": payload,
	})
}

// EventFromStruct decodes one engine announcement.
func EventFromStruct(st *structpb.Struct) domain.Event {
	f := fields(st)

	return domain.Event{
		Kind:    domain.EventKind(f.getString("kind")),
		At:      f.getTime("at"),
		Payload: f["payload"].GetStructValue().AsMap(),
	}
}

// FormatPayload renders a payload as sorted key=value pairs.
func FormatPayload(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b strings.Builder

	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}

		fmt.Fprintf(&b, "%s=%v", k, payload[k])
	}

	return b.String()
}

type fieldMap map[string]*structpb.Value

func fields(st *structpb.Struct) fieldMap {
	return st.GetFields()
}

func (f fieldMap) getString(key string) string { return f[key].GetStringValue() }

func (f fieldMap) getBool(key string) bool { return f[key].GetBoolValue() }

func (f fieldMap) getInt(key string) int { return int(f[key].GetNumberValue()) }

func (f fieldMap) getTime(key string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, f.getString(key))
	if err != nil {
		return time.Time{}
	}

	return t
}

func (f fieldMap) getActor(key string) *domain.Actor {
	af := fields(f[key].GetStructValue())
	if len(af) == 0 {
		return nil
	}

	return &domain.Actor{Hostname: af.getString("hostname"), Username: af.getString("username")}
}
