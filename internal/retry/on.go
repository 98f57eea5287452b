package retry

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/xerrors"
)

type condition uint8

const (
	serverError condition = 1 << iota
	gatewayError
	connectFailure
	retriable4xx
)

var conditionNames = []struct {
	name      string
	condition condition
}{
	{"5xx", serverError},
	{"gateway-error", gatewayError},
	{"connect-failure", connectFailure},
	{"retriable-4xx", retriable4xx},
}

// On decides which upstream outcomes are worth another attempt. The
// condition names follow Envoy's retry_on vocabulary.
type On struct {
	conditions  condition
	statusCodes map[int]struct{}
}

// DefaultOn retries reference fetches on gateway errors, dropped
// connections and 409 conflicts.
func DefaultOn() *On {
	return &On{
		conditions:  gatewayError | connectFailure | retriable4xx,
		statusCodes: map[int]struct{}{},
	}
}

// ParseOn reads a comma separated list of condition names and literal
// status codes, e.g. "gateway-error,connect-failure,429".
func ParseOn(s string) (*On, error) {
	o := &On{
		statusCodes: map[int]struct{}{},
	}
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if c, ok := lookupCondition(field); ok {
			o.conditions |= c
			continue
		}
		statusCode, err := strconv.Atoi(field)
		if err != nil || statusCode < 100 || statusCode > 599 {
			return nil, xerrors.Errorf("invalid retry condition: %q", field)
		}
		o.statusCodes[statusCode] = struct{}{}
	}
	return o, nil
}

func lookupCondition(name string) (condition, bool) {
	for _, c := range conditionNames {
		if c.name == name {
			return c.condition, true
		}
	}
	return 0, false
}

func (o *On) has(c condition) bool {
	return o.conditions&c != 0
}

// Response reports whether a response with the given status should be retried.
func (o *On) Response(response *http.Response) bool {
	code := response.StatusCode
	switch {
	case o.has(serverError) && code >= 500 && code < 600:
		return true
	case o.has(gatewayError) && code >= http.StatusBadGateway && code <= http.StatusGatewayTimeout:
		return true
	case o.has(retriable4xx) && code == http.StatusConflict:
		return true
	}

	_, ok := o.statusCodes[code]
	return ok
}

// Error reports whether a transport error should be retried. Only
// connection-level failures qualify.
func (o *On) Error(err error) bool {
	if !o.has(connectFailure) && !o.has(serverError) {
		return false
	}

	type temporary interface{ Temporary() bool }
	var terr temporary
	if errors.As(err, &terr) && terr.Temporary() {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET)
}

func (o *On) String() string {
	var fields []string
	for _, c := range conditionNames {
		if o.has(c.condition) {
			fields = append(fields, c.name)
		}
	}
	codes := make([]int, 0, len(o.statusCodes))
	for code := range o.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fields = append(fields, strconv.Itoa(code))
	}
	return strings.Join(fields, ",")
}
