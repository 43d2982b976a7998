//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	api "github.com/oshokin/sos-guard/internal/api/grpc/sos"
	"github.com/oshokin/sos-guard/internal/config"
	"github.com/oshokin/sos-guard/internal/domain/sos"
	"github.com/oshokin/sos-guard/internal/repository/evidence"
)

// Client wraps a connection to the SOS service with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the daemon.
	conn *grpc.ClientConn

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errActorRequired is returned when an actor is not provided but is required for the operation.
	errActorRequired = errors.New("actor must be provided")
)

// Dial establishes a gRPC connection to the daemon.
// Note: this uses insecure transport credentials; the daemon listens on
// loopback by default.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial sos daemon: %w", err)
	}

	client := &Client{
		conn:        conn,
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Trigger starts an alarm on behalf of actor.
func (c *Client) Trigger(ctx context.Context, actor *sos.Actor) (*sos.Session, error) {
	if actor == nil {
		return nil, errActorRequired
	}

	req, err := api.ActorToStruct(actor)
	if err != nil {
		return nil, fmt.Errorf("encode actor: %w", err)
	}

	resp := new(structpb.Struct)
	if err = c.invoke(ctx, api.MethodTrigger, req, resp); err != nil {
		return nil, err
	}

	return api.SessionFromStruct(resp), nil
}

// Stop silences the running alarm and reports whether one was running.
func (c *Client) Stop(ctx context.Context) (bool, error) {
	return c.invokeBool(ctx, api.MethodStop)
}

// Status retrieves the engine status.
func (c *Client) Status(ctx context.Context) (*sos.Status, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, api.MethodStatus, new(emptypb.Empty), resp); err != nil {
		return nil, err
	}

	return api.StatusFromStruct(resp), nil
}

// Arm starts the countdown that ends in an alarm unless disarmed.
func (c *Client) Arm(ctx context.Context, actor *sos.Actor) error {
	if actor == nil {
		return errActorRequired
	}

	req, err := api.ActorToStruct(actor)
	if err != nil {
		return fmt.Errorf("encode actor: %w", err)
	}

	return c.invoke(ctx, api.MethodArm, req, new(emptypb.Empty))
}

// Disarm cancels the countdown and reports whether one was running.
func (c *Client) Disarm(ctx context.Context) (bool, error) {
	return c.invokeBool(ctx, api.MethodDisarm)
}

// PressKey sends one volume-key press and reports whether it fired the alarm.
func (c *Client) PressKey(ctx context.Context) (bool, error) {
	return c.invokeBool(ctx, api.MethodPressKey)
}

// EnableDetector starts the named detector.
func (c *Client) EnableDetector(ctx context.Context, name string) error {
	return c.invoke(ctx, api.MethodEnableDetector, wrapperspb.String(name), new(emptypb.Empty))
}

// DisableDetector stops the named detector.
func (c *Client) DisableDetector(ctx context.Context, name string) error {
	return c.invoke(ctx, api.MethodDisableDetector, wrapperspb.String(name), new(emptypb.Empty))
}

// StartWalk begins a safe walk.
func (c *Client) StartWalk(ctx context.Context, d time.Duration) (*sos.WalkSession, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, api.MethodStartWalk, durationpb.New(d), resp); err != nil {
		return nil, err
	}

	return api.WalkFromStruct(resp), nil
}

// CheckIn resets the safe walk deadline.
func (c *Client) CheckIn(ctx context.Context) (*sos.WalkSession, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, api.MethodCheckIn, new(emptypb.Empty), resp); err != nil {
		return nil, err
	}

	return api.WalkFromStruct(resp), nil
}

// StopWalk ends the safe walk.
func (c *Client) StopWalk(ctx context.Context) error {
	return c.invoke(ctx, api.MethodStopWalk, new(emptypb.Empty), new(emptypb.Empty))
}

// Evidence lists the photos captured during one session.
func (c *Client) Evidence(ctx context.Context, sessionID string) ([]sos.EvidenceArtifact, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, api.MethodListEvidence, wrapperspb.String(sessionID), resp); err != nil {
		return nil, err
	}

	return api.EvidenceFromStruct(resp), nil
}

// Sessions lists every session that has evidence.
func (c *Client) Sessions(ctx context.Context) ([]evidence.SessionSummary, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, api.MethodListEvidence, wrapperspb.String(""), resp); err != nil {
		return nil, err
	}

	return api.SessionsFromStruct(resp), nil
}

// StartRecording begins a manual voice recording.
func (c *Client) StartRecording(ctx context.Context) (*sos.Recording, error) {
	return c.invokeRecording(ctx, api.MethodStartRecording)
}

// StopRecording finishes the manual voice recording.
func (c *Client) StopRecording(ctx context.Context) (*sos.Recording, error) {
	return c.invokeRecording(ctx, api.MethodStopRecording)
}

// Recordings lists the finished recordings, newest first.
func (c *Client) Recordings(ctx context.Context) ([]sos.Recording, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, api.MethodListRecordings, new(emptypb.Empty), resp); err != nil {
		return nil, err
	}

	return api.RecordingsFromStruct(resp), nil
}

func (c *Client) invokeRecording(ctx context.Context, method string) (*sos.Recording, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, method, new(emptypb.Empty), resp); err != nil {
		return nil, err
	}

	return api.RecordingFromStruct(resp), nil
}

// Watch streams engine announcements into handle until ctx is done or the
// daemon closes the stream. The call timeout does not apply.
func (c *Client) Watch(ctx context.Context, handle func(sos.Event)) error {
	stream, err := c.conn.NewStream(ctx, &api.ServiceDesc.Streams[0], api.FullMethod(api.MethodWatch))
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	if err = stream.SendMsg(new(emptypb.Empty)); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	if err = stream.CloseSend(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	for {
		msg := new(structpb.Struct)
		if err = stream.RecvMsg(msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("watch: %w", err)
		}

		handle(api.EventFromStruct(msg))
	}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp proto.Message) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if err := c.conn.Invoke(callCtx, api.FullMethod(method), req, resp); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	return nil
}

func (c *Client) invokeBool(ctx context.Context, method string) (bool, error) {
	resp := new(wrapperspb.BoolValue)
	if err := c.invoke(ctx, method, new(emptypb.Empty), resp); err != nil {
		return false, err
	}

	return resp.GetValue(), nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
