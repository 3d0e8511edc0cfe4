package grpcx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hoaht-8203/courtops/libs/apperr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct converts a JSON-tagged Go value into a protobuf Struct so that
// services can exchange plain Go types without generated message code.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into dst through its JSON form.
func FromStruct(s *structpb.Struct, dst any) error {
	if s == nil {
		return errors.New("nil struct message")
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// StatusFromError maps application errors onto gRPC status codes.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	e, ok := apperr.As(err)
	if !ok {
		return status.Error(codes.Internal, "internal error")
	}
	var code codes.Code
	switch e.Status {
	case http.StatusBadRequest:
		code = codes.InvalidArgument
	case http.StatusNotFound:
		code = codes.NotFound
	case http.StatusConflict:
		code = codes.FailedPrecondition
	case http.StatusForbidden:
		code = codes.PermissionDenied
	case http.StatusServiceUnavailable:
		code = codes.Unavailable
	default:
		code = codes.Unknown
	}
	return status.Error(code, e.Message)
}

// ErrorFromStatus is the client-side inverse of StatusFromError.
func ErrorFromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return apperr.Invalid("%s", st.Message())
	case codes.NotFound:
		return apperr.NotFound("%s", st.Message())
	case codes.FailedPrecondition:
		return apperr.Conflict("%s", st.Message())
	case codes.PermissionDenied:
		return apperr.Forbidden("%s", st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return apperr.Unavailable("upstream unavailable: %s", st.Message())
	default:
		return err
	}
}
