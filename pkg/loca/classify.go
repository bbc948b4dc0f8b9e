package loca

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
)

// classify maps a raw transport failure from a request to endpoint into the
// closed error taxonomy. Already-classified errors pass through unchanged.
func classify(endpoint string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(ErrKindTimeout, endpoint, 0, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newAPIError(ErrKindTimeout, endpoint, 0, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return newAPIError(ErrKindConnectivity, endpoint, 0, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return newAPIError(ErrKindConnectivity, endpoint, 0, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return newAPIError(ErrKindConnectivity, endpoint, 0, err)
	}

	// Anything else at this boundary is a payload or framing problem.
	return newAPIError(ErrKindProtocol, endpoint, 0, err)
}

// classifyStatus maps a non-2xx HTTP status into the taxonomy.
func classifyStatus(endpoint string, status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return newAPIError(ErrKindAuthentication, endpoint, status, nil)
	case http.StatusNotFound:
		return newAPIError(ErrKindNotFound, endpoint, status, nil)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return newAPIError(ErrKindThrottled, endpoint, status, nil)
	default:
		return newAPIError(ErrKindProtocol, endpoint, status, nil)
	}
}
