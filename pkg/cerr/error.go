package cerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"

	"buf.build/gen/go/bufbuild/protovalidate/protocolbuffers/go/buf/validate"
	"connectrpc.com/connect"
	"google.golang.org/protobuf/proto"

	"github.com/kazz187/triguild/pkg/clog"
)

type Error struct {
	Code    Code
	Msg     string          // message returned to the caller together with Code
	Err     error           // underlying error, logged but never returned
	Stack   string          // captured for codes logged at error level
	Details []proto.Message // structured details returned to the caller
}

func NewError(code Code, msg string, underlying error) *Error {
	err := &Error{
		Code: code,
		Msg:  msg,
		Err:  underlying,
	}
	if clog.ConnectCodeToLevel(code.ConnectCode()) == clog.LevelError {
		buf := make([]byte, 2048)
		n := runtime.Stack(buf, false)
		err.Stack = string(buf[:n])
	}
	return err
}

// Errorf is NewError without an underlying error and with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...), nil)
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Msg, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithViolation attaches a field violation detail and returns e.
func (e *Error) WithViolation(field, msg string) *Error {
	e.Details = append(e.Details, &validate.Violation{
		Message: proto.String(msg),
		RuleId:  proto.String(field),
	})
	return e
}

func (e *Error) ConnectError() *connect.Error {
	ce := connect.NewError(e.Code.ConnectCode(), errors.New(e.Msg))
	for _, d := range e.Details {
		detail, err := connect.NewErrorDetail(d)
		if err != nil {
			continue
		}
		ce.AddDetail(detail)
	}
	return ce
}

// Violations returns the violation messages carried by err, whether it is a
// local *Error or a *connect.Error received from the daemon.
func Violations(err error) []string {
	var out []string
	var ce *Error
	if errors.As(err, &ce) {
		for _, d := range ce.Details {
			if v, ok := d.(*validate.Violation); ok {
				out = append(out, v.GetRuleId()+": "+v.GetMessage())
			}
		}
		return out
	}
	var connErr *connect.Error
	if errors.As(err, &connErr) {
		for _, d := range connErr.Details() {
			msg, err := d.Value()
			if err != nil {
				continue
			}
			if v, ok := msg.(*validate.Violation); ok {
				out = append(out, v.GetRuleId()+": "+v.GetMessage())
			}
		}
	}
	return out
}

func IsCode(err error, code Code) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	var connErr *connect.Error
	if errors.As(err, &connErr) {
		return connErr.Code() == code.ConnectCode()
	}
	return false
}

// normalize converts any error to *Error, treating caller cancellation as
// Canceled and anything uncoded as Unknown.
func normalize(ctx context.Context, err error) *Error {
	if errors.Is(err, context.Canceled) {
		return NewError(Canceled, "connection closed", err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.Err == "operation was canceled" {
		return NewError(Canceled, "connection closed", err)
	}
	clog.AddError(ctx, err)
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Stack != "" {
			clog.AddStack(ctx, ce.Stack)
		}
		return ce
	}
	return NewError(Unknown, "unknown error", err)
}

func ExtractConnectError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var connErr *connect.Error
	if errors.As(err, &connErr) {
		clog.AddError(ctx, err)
		return connErr
	}
	return normalize(ctx, err).ConnectError()
}
