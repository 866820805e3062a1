// Package remotearch implements the distributed deployment mode: instead
// of running the orchestrator loop in this process, one streamed turn is
// forwarded to a remote architect service over gRPC and the same typed
// event vocabulary (pkg/events) is replayed back to the local caller.
// Messages are carried as google.protobuf.Struct documents rather than a
// hand-generated service stub, since the wire shape mirrors the existing
// JSON event vocabulary closely enough that a dedicated .proto schema
// would just re-describe it.
package remotearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aethercore/aether/internal/orchestrator"
	"github.com/aethercore/aether/pkg/events"
)

// streamTurnMethod is the full gRPC method path the remote architect
// service exposes: a single server-streaming RPC taking one request
// Struct and returning a Struct per orchestrator event.
const streamTurnMethod = "/aether.architect.v1.Architect/StreamTurn"

// Client delegates streamed turns to a remote architect service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens a connection to a remote architect service at addr.
// Insecure transport credentials are used; production deployments are
// expected to sit behind a service-mesh mTLS sidecar rather than
// terminate TLS here, matching how the reference deployment treats
// intra-cluster gRPC traffic.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("remotearch: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Stream satisfies the same streaming contract orchestrator.Orchestrator
// does, so cmd/orchestratord can select either implementation behind one
// interface at startup.
func (c *Client) Stream(ctx context.Context, req orchestrator.Request) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		payload, err := requestToStruct(req)
		if err != nil {
			yield(events.Event{}, err)
			return
		}

		stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "StreamTurn", ServerStreams: true}, streamTurnMethod)
		if err != nil {
			yield(events.Event{}, fmt.Errorf("remotearch: open stream: %w", err))
			return
		}
		if err := stream.SendMsg(payload); err != nil {
			yield(events.Event{}, fmt.Errorf("remotearch: send request: %w", err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(events.Event{}, fmt.Errorf("remotearch: close send: %w", err))
			return
		}

		for {
			msg := &structpb.Struct{}
			if err := stream.RecvMsg(msg); err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield(events.Event{}, fmt.Errorf("remotearch: receive event: %w", err))
				return
			}
			ev, err := structToEvent(msg)
			if err != nil {
				yield(events.Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func requestToStruct(req orchestrator.Request) (*structpb.Struct, error) {
	fields := map[string]any{
		"conversation_id": req.ConversationID,
		"user_message":    req.UserMessage,
		"system_message":  req.SystemMessage,
		"agent":           string(req.ExplicitAgent),
		"preset":          string(req.Preset),
	}
	return structpb.NewStruct(fields)
}

func structToEvent(s *structpb.Struct) (events.Event, error) {
	fields := s.AsMap()
	ev := events.Event{
		Type:           events.Type(stringField(fields, "type")),
		Delta:          stringField(fields, "delta"),
		Agent:          stringField(fields, "agent"),
		ToolCallID:     stringField(fields, "tool_call_id"),
		ToolName:       stringField(fields, "tool_name"),
		ToolError:      stringField(fields, "tool_error"),
		FromAgent:      stringField(fields, "from_agent"),
		ToAgent:        stringField(fields, "to_agent"),
		Content:        stringField(fields, "content"),
		Status:         stringField(fields, "status"),
		RoutedAgent:    stringField(fields, "routed_agent"),
		ProposalID:     stringField(fields, "proposal_id"),
		ConversationID: stringField(fields, "conversation_id"),
		TraceID:        stringField(fields, "trace_id"),
		Error:          stringField(fields, "error"),
	}
	return ev, nil
}

func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
