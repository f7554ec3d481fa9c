package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/vrsandeep/citefetch/internal/models"
)

// FailureType says whether retrying can help.
type FailureType int

const (
	Permanent FailureType = iota
	Transient
)

func (t FailureType) String() string {
	if t == Transient {
		return "transient"
	}
	return "permanent"
}

// Classification is the verdict on one failed attempt.
type Classification struct {
	Type       FailureType
	ErrorType  models.ErrorType
	RetryAfter time.Duration
}

// PermanentError marks an error as not worth retrying and tags it with the
// error type recorded in history.
type PermanentError struct {
	ErrorType models.ErrorType
	Err       error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: %v", e.ErrorType, e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// MarkPermanent wraps err in a PermanentError.
func MarkPermanent(errType models.ErrorType, err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{ErrorType: errType, Err: err}
}

// statusCoder is implemented by HTTP status errors.
type statusCoder interface {
	HTTPStatus() int
}

// retryAfterer is implemented by errors that carry a server Retry-After hint.
type retryAfterer interface {
	RetryAfterDelay() time.Duration
}

// Classify sorts err into a permanent or transient failure.
//
// Permanent: invalid URL, local I/O, HTTP 4xx other than 408 and 429,
// anything wrapped by MarkPermanent, malformed responses, cancellation.
// Transient: timeouts, connection resets and refusals, temporary DNS
// failures, truncated bodies, HTTP 5xx, 408 and 429.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Type: Permanent}
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		return Classification{Type: Permanent, ErrorType: perm.ErrorType}
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return classifyStatus(err, sc.HTTPStatus())
	}

	if errors.Is(err, context.Canceled) {
		return Classification{Type: Permanent, ErrorType: models.ErrorNetwork}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return Classification{Type: Permanent, ErrorType: models.ErrorParse}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTemporary || dnsErr.IsTimeout {
			return transient()
		}
		return Classification{Type: Permanent, ErrorType: models.ErrorNetwork}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transient()
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return transient()
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return Classification{Type: Permanent, ErrorType: models.ErrorIO}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return transient()
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "malformed"):
		return Classification{Type: Permanent, ErrorType: models.ErrorParse}
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporary failure"):
		return transient()
	}
	return Classification{Type: Permanent, ErrorType: models.ErrorNetwork}
}

func transient() Classification {
	return Classification{Type: Transient, ErrorType: models.ErrorNetwork}
}

func classifyStatus(err error, status int) Classification {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		c := transient()
		var ra retryAfterer
		if errors.As(err, &ra) {
			c.RetryAfter = ra.RetryAfterDelay()
		}
		return c
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusProxyAuthRequired:
		return Classification{Type: Permanent, ErrorType: models.ErrorAuth}
	case status == http.StatusNotFound, status == http.StatusGone:
		return Classification{Type: Permanent, ErrorType: models.ErrorNotFound}
	default:
		return Classification{Type: Permanent, ErrorType: models.ErrorNetwork}
	}
}
