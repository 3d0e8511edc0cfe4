package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// StructMethod builds a unary grpc.MethodHandler whose wire messages are
// structpb.Struct and whose Go-side request/response are JSON-tagged types.
// call receives the registered service implementation.
func StructMethod[Req, Resp any](fullMethod string, call func(srv any, ctx context.Context, req *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, raw any) (any, error) {
			var req Req
			if err := FromStruct(raw.(*structpb.Struct), &req); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
			}
			resp, err := call(srv, ctx, &req)
			if err != nil {
				return nil, StatusFromError(err)
			}
			return ToStruct(resp)
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, handler)
	}
}

// InvokeStruct calls a StructMethod endpoint and decodes the reply into resp.
// Status errors are mapped back to application errors.
func InvokeStruct(ctx context.Context, cc grpc.ClientConnInterface, fullMethod string, req, resp any) error {
	in, err := ToStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, fullMethod, in, out); err != nil {
		return ErrorFromStatus(err)
	}
	return FromStruct(out, resp)
}
