package server

import (
	"errors"
	"net/http"

	"PMMEngine/internal/core"
	"PMMEngine/internal/state"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errBadRequest = errors.New("bad request")

func httpStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrPoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, core.ErrUnknownCommand):
		return http.StatusBadRequest
	case state.Code(err) != state.CodeUnknown:
		// Curve rejections: the request is well formed but the pool cannot serve it.
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(err error) codes.Code {
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	switch httpStatus(err) {
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnprocessableEntity:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(grpcCode(err), err.Error())
}
