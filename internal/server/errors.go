package server

import (
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// httpStatus maps an error kind to its HTTP status.
func httpStatus(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation, model.KindInvalidID:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConnectivity:
		return http.StatusServiceUnavailable
	case model.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// grpcCode maps an error kind to its gRPC status code.
func grpcCode(kind model.ErrorKind) codes.Code {
	switch kind {
	case model.KindValidation, model.KindInvalidID:
		return codes.InvalidArgument
	case model.KindNotFound:
		return codes.NotFound
	case model.KindConnectivity:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// publicMessage hides internal error detail from callers.
func publicMessage(kind model.ErrorKind, err error) string {
	if kind == model.KindInternal {
		return "internal server error"
	}
	return err.Error()
}
