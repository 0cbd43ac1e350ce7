package api

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Master errors travel as gRPC status codes. The mapping is part of the wire
// contract (see proto/master.proto).

func statusCode(c ErrorCode) codes.Code {
	switch c {
	case ErrorVersionConflict:
		return codes.Aborted
	case ErrorNotFound:
		return codes.NotFound
	case ErrorInputError:
		return codes.InvalidArgument
	default:
		return codes.Unknown
	}
}

// StatusFromError converts a master error into the gRPC status returned to
// the client.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	var merr *MasterError
	if errors.As(err, &merr) {
		return status.Error(statusCode(merr.Code), merr.Message)
	}
	return status.Error(codes.Unknown, err.Error())
}

// ErrorFromStatus reconstructs the typed master error from a gRPC status.
// Transport-level failures come back as UNKNOWN: the operation may or may
// not have applied.
func ErrorFromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return &MasterError{Code: ErrorUnknown, Message: err.Error()}
	}
	switch st.Code() {
	case codes.Aborted:
		return &MasterError{Code: ErrorVersionConflict, Message: st.Message()}
	case codes.NotFound:
		return &MasterError{Code: ErrorNotFound, Message: st.Message()}
	case codes.InvalidArgument:
		return &MasterError{Code: ErrorInputError, Message: st.Message()}
	default:
		return &MasterError{Code: ErrorUnknown, Message: st.Message()}
	}
}
