package sos

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	domain "github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/logger"
	"github.com/oshokin/sos-guard/internal/repository/evidence"
	"github.com/oshokin/sos-guard/internal/resource"
	"github.com/oshokin/sos-guard/internal/service/alarm"
	"github.com/oshokin/sos-guard/internal/service/alert"
	"github.com/oshokin/sos-guard/internal/service/recorder"
	"github.com/oshokin/sos-guard/internal/service/sensing"
	"github.com/oshokin/sos-guard/internal/service/walk"
)

// Engine abstracts the business operations the transport layer depends on.
type Engine interface {
	Trigger(ctx context.Context, actor *domain.Actor) (*domain.Session, error)
	Stop(ctx context.Context) bool
	Status(ctx context.Context) *domain.Status
	Arm(ctx context.Context, actor *domain.Actor) error
	Disarm(ctx context.Context) bool
	PressKey(ctx context.Context) bool
	EnableDetector(ctx context.Context, name string) error
	DisableDetector(ctx context.Context, name string) error
	StartWalk(ctx context.Context, d time.Duration) (*domain.WalkSession, error)
	CheckIn(ctx context.Context) (*domain.WalkSession, error)
	StopWalk(ctx context.Context) error
	Evidence(ctx context.Context, sessionID string) ([]domain.EvidenceArtifact, error)
	Sessions(ctx context.Context) ([]evidence.SessionSummary, error)
	StartRecording(ctx context.Context) (*domain.Recording, error)
	StopRecording(ctx context.Context) (*domain.Recording, error)
	Recordings(ctx context.Context) ([]domain.Recording, error)
	Subscribe() (<-chan domain.Event, func())
}

// Server implements the SOS service gRPC API.
type Server struct {
	// engine provides the business logic behind every RPC.
	engine Engine
}

// NewServer wires the provided engine into a gRPC handler.
func NewServer(engine Engine) *Server {
	return &Server{
		engine: engine,
	}
}

// Trigger starts an alarm on behalf of the requesting actor.
func (s *Server) Trigger(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := requireActor(req)
	if err != nil {
		return nil, err
	}

	session, err := s.engine.Trigger(ctx, actor)
	if err != nil {
		return nil, toStatus(err)
	}

	return encode(SessionToStruct(session))
}

// Stop silences the running alarm.
func (s *Server) Stop(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	return wrapperspb.Bool(s.engine.Stop(ctx)), nil
}

// Status returns the alarm, arming, detector and walk state.
func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return encode(StatusToStruct(s.engine.Status(ctx)))
}

// Arm starts the countdown that ends in an alarm unless disarmed.
func (s *Server) Arm(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	actor, err := requireActor(req)
	if err != nil {
		return nil, err
	}

	if err = s.engine.Arm(ctx, actor); err != nil {
		return nil, toStatus(err)
	}

	return new(emptypb.Empty), nil
}

// Disarm cancels a running countdown.
func (s *Server) Disarm(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	return wrapperspb.Bool(s.engine.Disarm(ctx)), nil
}

// PressKey records one volume-key press.
func (s *Server) PressKey(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	return wrapperspb.Bool(s.engine.PressKey(ctx)), nil
}

// EnableDetector starts a hardware detector and persists its flag.
func (s *Server) EnableDetector(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "detector name is required")
	}

	if err := s.engine.EnableDetector(ctx, req.GetValue()); err != nil {
		return nil, toStatus(err)
	}

	return new(emptypb.Empty), nil
}

// DisableDetector stops a hardware detector and clears its flag.
func (s *Server) DisableDetector(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "detector name is required")
	}

	if err := s.engine.DisableDetector(ctx, req.GetValue()); err != nil {
		return nil, toStatus(err)
	}

	return new(emptypb.Empty), nil
}

// StartWalk begins a safe walk with the requested check-in window.
func (s *Server) StartWalk(ctx context.Context, req *durationpb.Duration) (*structpb.Struct, error) {
	if err := req.CheckValid(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	w, err := s.engine.StartWalk(ctx, req.AsDuration())
	if err != nil {
		return nil, toStatus(err)
	}

	return encode(WalkToStruct(w))
}

// CheckIn resets the safe walk deadline.
func (s *Server) CheckIn(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	w, err := s.engine.CheckIn(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	return encode(WalkToStruct(w))
}

// StopWalk ends the safe walk as checked in.
func (s *Server) StopWalk(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.engine.StopWalk(ctx); err != nil {
		return nil, toStatus(err)
	}

	return new(emptypb.Empty), nil
}

// ListEvidence returns the photos of one session, or a summary of every
// session when no id is given.
func (s *Server) ListEvidence(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		summaries, err := s.engine.Sessions(ctx)
		if err != nil {
			return nil, toStatus(err)
		}

		return encode(SessionsToStruct(summaries))
	}

	artifacts, err := s.engine.Evidence(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}

	return encode(EvidenceToStruct(artifacts))
}

// StartRecording begins a manual voice recording.
func (s *Server) StartRecording(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	rec, err := s.engine.StartRecording(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	return encode(RecordingToStruct(rec))
}

// StopRecording finishes the manual voice recording.
func (s *Server) StopRecording(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	rec, err := s.engine.StopRecording(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	return encode(RecordingToStruct(rec))
}

// ListRecordings returns the finished recordings, newest first.
func (s *Server) ListRecordings(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	recs, err := s.engine.Recordings(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	return encode(RecordingsToStruct(recs))
}

// Watch streams engine announcements until the client goes away.
func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := logger.WithName(stream.Context(), "watch")

	events, cancel := s.engine.Subscribe()
	defer cancel()

	logger.Debug(ctx, "Watcher connected")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}

			msg, err := EventToStruct(event)
			if err != nil {
				logger.WarnKV(ctx, "Skipping unencodable event", "kind", event.Kind, "error", err)
				continue
			}

			if err = stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// ActorToStruct encodes the actor of a manual request.
func ActorToStruct(actor *domain.Actor) (*structpb.Struct, error) {
	if actor == nil {
		return structpb.NewStruct(nil)
	}

	return structpb.NewStruct(map[string]any{"actor": actorMap(actor)})
}

// requireActor extracts the mandatory actor of a manual request.
func requireActor(req *structpb.Struct) (*domain.Actor, error) {
	actor := fields(req).getActor("actor")
	if actor == nil {
		return nil, status.Error(codes.InvalidArgument, "actor is required")
	}

	return actor, nil
}

func encode(msg *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, status.Error(codes.Internal, "unable to encode response")
	}

	return msg, nil
}

// toStatus maps engine errors onto gRPC status codes.
func toStatus(err error) error {
	var code codes.Code

	switch {
	case errors.Is(err, alarm.ErrAlreadyActive),
		errors.Is(err, alarm.ErrArmed),
		errors.Is(err, alert.ErrNoContacts),
		errors.Is(err, walk.ErrWalkActive),
		errors.Is(err, walk.ErrWalkInactive),
		errors.Is(err, recorder.ErrRecordingActive),
		errors.Is(err, recorder.ErrNotRecording),
		errors.Is(err, resource.ErrResourceBusy):
		code = codes.FailedPrecondition
	case errors.Is(err, walk.ErrInvalidDuration):
		code = codes.InvalidArgument
	case errors.Is(err, sensing.ErrUnknownDetector):
		code = codes.NotFound
	case errors.Is(err, sensing.ErrResourceUnavailable),
		errors.Is(err, recorder.ErrMicrophoneUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}

	return status.Error(code, err.Error())
}
