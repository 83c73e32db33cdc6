package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/gezibash/routectl/internal/observability"
)

// sendMethod is the full method name of the administration RPC. The
// service exposes a single request/reply method, so the client invokes it
// directly on the connection instead of carrying generated stubs.
const sendMethod = "/routing.v1.Administration/Send"

// Client is a gRPC administration transport.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

var _ Transport = (*Client)(nil)

// Dial connects to the administration endpoint. The timeout bounds each
// Send exchange.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("admin: addr must not be empty")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("admin: timeout must be > 0")
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("admin: dial %s: %w", addr, err)
	}

	return &Client{conn: conn, timeout: timeout}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send implements Transport. The request is correlated by a fresh id and
// the exchange is bounded by the configured timeout.
func (c *Client) Send(ctx context.Context, req *CommandRequest) (*CommandResponse, error) {
	requestID := uuid.NewString()

	ctx, span := observability.StartSpan(ctx, "admin.send",
		attribute.String("request_id", requestID),
		attribute.String("command", req.Kind.String()),
		attribute.String("target_router", req.TargetRouter),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	in, err := encodeRequest(req, requestID)
	if err != nil {
		observability.EndSpan(span, err)
		return nil, fmt.Errorf("admin: encode request: %w", err)
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, sendMethod, in, out); err != nil {
		observability.EndSpan(span, err)
		return nil, fmt.Errorf("admin: send: %w", err)
	}

	resp := decodeResponse(out)
	observability.EndSpan(span, nil)

	slog.Debug("admin exchange complete",
		"component", "admin",
		"request_id", requestID,
		"command", req.Kind,
		"response", resp.Kind,
	)
	return resp, nil
}

// encodeRequest converts a CommandRequest to its wire form.
func encodeRequest(req *CommandRequest, requestID string) (*structpb.Struct, error) {
	command := map[string]any{
		"kind": req.Kind.String(),
	}
	switch req.Kind {
	case CommandCreate:
		command["entity_desc"] = map[string]any{
			"name": req.EntityDesc.Name,
			"xml_url": map[string]any{
				"is_final": req.EntityDesc.XMLURL.IsFinal,
				"content":  req.EntityDesc.XMLURL.Content,
			},
		}
	case CommandDelete:
		command["entity_name"] = req.EntityName
	}

	return structpb.NewStruct(map[string]any{
		"request_id":    requestID,
		"target_router": req.TargetRouter,
		"command":       command,
	})
}

// decodeResponse converts the wire form back into a CommandResponse. A
// reply without a kind is an error response, and any kind other than OK
// is kept as received and is not OK: treating either as success could
// strand the retry loop before the target converged.
func decodeResponse(s *structpb.Struct) *CommandResponse {
	resp := &CommandResponse{Kind: ResponseError}
	if s == nil {
		return resp
	}
	fields := s.GetFields()
	if v, ok := fields["kind"]; ok {
		resp.Kind = ResponseKind(v.GetStringValue())
	}
	if v, ok := fields["message"]; ok {
		resp.Message = v.GetStringValue()
	}
	return resp
}
