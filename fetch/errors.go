package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoData is returned when an upstream responds without usable data.
	ErrNoData = errors.New("no data")
	// ErrRateLimited is returned when an upstream rejects a request for exceeding its quota.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnsupported is returned when an upstream will never serve the requested symbol, typically
	// because of a plan restriction.
	ErrUnsupported = errors.New("unsupported symbol")
	// ErrMalformed is returned when an upstream response cannot be interpreted.
	ErrMalformed = errors.New("malformed response")
)

// classifyStatus maps an upstream http status code to the error taxonomy.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusForbidden || code == http.StatusPaymentRequired ||
		code == http.StatusUnauthorized:
		return ErrUnsupported
	case code == http.StatusNotFound:
		return ErrNoData
	default:
		return fmt.Errorf("unexpected status code %d", code)
	}
}

// IsPermanent returns whether the provided error should exclude a symbol from future requests.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// IsTransient returns whether the provided error should abort the remaining work of a batch.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
