package bus

import (
	"context"
	"encoding/json"

	"github.com/amoskys/amoskys/pkg/envelope"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
)

// serviceName is the gRPC full service name agents and the bus both address.
const serviceName = "amoskys.bus.v1.EventBus"

// codecName is registered with google.golang.org/grpc/encoding so client and
// server agree on wire framing without a protoc-generated stub: the corpus
// this bus is built from has no protobuf schemas, so the envelope's own JSON
// tags double as the wire format, carried over a real gRPC/HTTP2 transport.
const codecName = "amoskys-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements encoding.Codec by delegating to encoding/json. It
// lets hand-written services register under grpc.ServiceDesc without
// generated protobuf message types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
func (jsonCodec) Name() string { return codecName }

// PublishRequest is the wire message for the Publish RPC: a fully-signed
// envelope produced by an agent's pkg/envelope.Sign.
type PublishRequest struct {
	Envelope envelope.Envelope `json:"envelope"`
}

// PublishAck is the wire response: the pipeline's terminal status plus an
// optional detail string.
type PublishAck struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// PublishService is implemented by the bus server and invoked by the
// hand-written ServiceDesc below.
type PublishService interface {
	Publish(ctx context.Context, req *PublishRequest) (*PublishAck, error)
}

func publishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(PublishRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	svc := srv.(PublishService)
	if interceptor == nil {
		return svc.Publish(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Publish"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return svc.Publish(ctx, req.(*PublishRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is the hand-written grpc.ServiceDesc for the EventBus's single
// RPC, registered against codecName instead of a protoc-generated one.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PublishService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler:    publishHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "amoskys/bus.go",
}

// statusToOutcome maps a wire status string back to an Outcome, used by the
// publishing client (see client.go). Unknown strings map to Retry so a
// protocol skew or partial response never silently looks like success.
func statusToOutcome(s string) Outcome {
	switch s {
	case "ok":
		return OK
	case "retry":
		return Retry
	case "invalid":
		return Invalid
	case "overload":
		return Overload
	default:
		return Retry
	}
}

// grpcCodeForOutcome maps an Outcome to the status code a transport error
// should carry when the pipeline result itself doesn't warrant OK.
func grpcCodeForOutcome(o Outcome) codes.Code {
	switch o {
	case Invalid:
		return codes.InvalidArgument
	case Overload:
		return codes.ResourceExhausted
	case Retry:
		return codes.Unavailable
	default:
		return codes.OK
	}
}

