package errutil

import (
	"context"
	"errors"
	"net/http"
)

// ToHTTP normalises a domain error into a (status, body) pair so handlers
// can safely return it to the transport layer.
func ToHTTP(err error) (int, interface{}) {
	if err == nil {
		return http.StatusOK, nil
	}

	if errors.Is(err, context.Canceled) {
		return 499, map[string]interface{}{"error": map[string]interface{}{
			"code": "CLIENT_CLOSED_REQUEST", "message": err.Error(),
		}}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, map[string]interface{}{"error": map[string]interface{}{
			"code": StatusTimeout, "message": err.Error(),
		}}
	}

	var base BaseError
	if errors.As(err, &base) {
		return base.Code.HTTPStatus(), base.JSON()
	}

	return http.StatusInternalServerError, map[string]interface{}{"error": map[string]interface{}{
		"code": StatusInternal, "message": err.Error(),
	}}
}
