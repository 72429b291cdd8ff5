package relay

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap/zapcore"
)

// Kind enumerates the stable, testable error categories relay reports
// internally and on the wire. For the codec kinds the string value is
// reported verbatim as errorType on the invocation-error endpoint.
type Kind string

const (
	KindConfiguration    Kind = "configurationError"
	KindBootstrap        Kind = "bootstrapError"
	KindRequestDecoding  Kind = "requestDecoding"
	KindResponseEncoding Kind = "responseEncoding"
	KindHandler          Kind = "handlerError"
	KindBadStatusCode    Kind = "badStatusCode"
	KindNoBody           Kind = "noBody"
	KindNoContext        Kind = "noContext"
	KindConnectionReset  Kind = "connectionResetByPeer"
	KindTimeout          Kind = "timeout"
	KindJSONEncoding     Kind = "jsonEncoding"
)

// Error is relay's internal error type. It carries a stable Kind plus the
// underlying cause, wrapped with cockroachdb/errors so a captured stack
// trace travels with it for diagnostics without leaking into the wire
// representation reported to the control plane.
type Error struct {
	Kind   Kind
	Status int // populated only for KindBadStatusCode
	cause  error
}

func (e *Error) Error() string {
	if e.Kind == KindBadStatusCode {
		return fmt.Sprintf("%s: %d", e.Kind, e.Status)
	}
	if e.cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.cause.Error())
}

func (e *Error) Unwrap() error { return e.cause }

// Terminal reports whether this error kind must propagate up to the
// lifecycle (terminating the process) rather than being reported
// per-invocation with the loop continuing.
func (e *Error) Terminal() bool {
	switch e.Kind {
	case KindRequestDecoding, KindResponseEncoding, KindHandler:
		return false
	default:
		return true
	}
}

func newKindError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, cause: errors.WithStack(cause)}
}

func newConfigurationError(cause error) *Error   { return newKindError(KindConfiguration, cause) }
func newBootstrapError(cause error) *Error       { return newKindError(KindBootstrap, cause) }
func newRequestDecodingError(cause error) *Error { return newKindError(KindRequestDecoding, cause) }
func newResponseEncodingError(cause error) *Error {
	return newKindError(KindResponseEncoding, cause)
}
func newHandlerError(cause error) *Error { return newKindError(KindHandler, cause) }

func newNoBodyError() *Error {
	return &Error{Kind: KindNoBody, cause: errors.New("no body in /next response")}
}

func newNoContextError() *Error {
	return &Error{Kind: KindNoContext, cause: errors.New("missing Lambda-Runtime-Aws-Request-Id header")}
}

func newConnectionResetError(cause error) *Error { return newKindError(KindConnectionReset, cause) }
func newTimeoutError(cause error) *Error         { return newKindError(KindTimeout, cause) }
func newJSONEncodingError(cause error) *Error    { return newKindError(KindJSONEncoding, cause) }

func newBadStatusCodeError(status int) *Error {
	return &Error{Kind: KindBadStatusCode, Status: status, cause: errors.Newf("unexpected status code %d", status)}
}

// ErrorReport is the wire body of POST .../error and POST /init/error.
type ErrorReport struct {
	Type       string       `json:"errorType"`
	Message    string       `json:"errorMessage"`
	StackTrace []StackFrame `json:"stackTrace,omitempty"`
}

func (e *ErrorReport) Error() string { return e.Message }

// MarshalLogObject implements zapcore.ObjectMarshaler so an ErrorReport can
// be attached to a log entry with zap.Object("error", report).
func (e *ErrorReport) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("errorType", e.Type)
	enc.AddString("errorMessage", e.Message)
	if len(e.StackTrace) > 0 {
		return enc.AddArray("stackTrace", stackTraceArray(e.StackTrace))
	}
	return nil
}

type stackTraceArray []StackFrame

func (s stackTraceArray) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, frame := range s {
		f := frame
		if err := enc.AppendObject(stackFrameObject{f}); err != nil {
			return err
		}
	}
	return nil
}

type stackFrameObject struct{ StackFrame }

func (f stackFrameObject) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("path", f.Path)
	enc.AddInt("line", f.Line)
	enc.AddString("label", f.Label)
	return nil
}

// jsonEncodingFallback is the literal body reported when an ErrorReport
// itself cannot be marshaled to JSON.
const jsonEncodingFallback = `{"errorType":"jsonEncoding","errorMessage":"unknown error"}`

// newInvocationErrorReport builds the ErrorReport for a per-invocation
// failure. Codec failures (request decoding, response encoding) report
// their stable Kind as errorType; handler failures derive errorType from
// the cause's runtime type.
func newInvocationErrorReport(err error) *ErrorReport {
	var panicErr *panicError
	if errors.As(err, &panicErr) {
		return panicErr.report
	}

	var relayErr *Error
	if errors.As(err, &relayErr) {
		switch relayErr.Kind {
		case KindRequestDecoding, KindResponseEncoding:
			return &ErrorReport{Type: string(relayErr.Kind), Message: relayErr.Error()}
		case KindHandler:
			cause := relayErr.cause
			if cause == nil {
				cause = relayErr
			}
			return &ErrorReport{Type: errorTypeName(unwrapToRoot(cause)), Message: cause.Error()}
		}
	}

	return &ErrorReport{Type: errorTypeName(err), Message: err.Error()}
}

// unwrapToRoot peels cockroachdb/errors' stack-trace wrapper (and any other
// Unwrap-able layers) off err so errorTypeName reflects on the original
// cause's type rather than an internal wrapper type.
func unwrapToRoot(err error) error {
	for {
		next := errors.UnwrapOnce(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// errorTypeName returns the error type in AWS's recommended Category.Reason
// shape, derived from the error's concrete runtime type.
func errorTypeName(err error) string {
	if err == nil {
		return "Runtime.Unknown"
	}

	t := reflect.TypeOf(err)
	if t == nil {
		return "Runtime.Unknown"
	}

	typeName := t.Name()
	if t.Kind() == reflect.Pointer {
		typeName = t.Elem().Name()
	}

	if typeName == "" {
		return "Runtime.HandlerError"
	}
	if typeName == "errorString" || typeName == "errors" || typeName == "leafError" || typeName == "withStack" || strings.Contains(strings.ToLower(typeName), "wrap") {
		return "Runtime.HandlerError"
	}
	return "Runtime." + typeName
}

// StackFrame is a single frame in a captured panic stack trace.
type StackFrame struct {
	Path  string `json:"path"`
	Line  int    `json:"line"`
	Label string `json:"label"`
}

// newPanicReport converts a recovered panic value into an ErrorReport
// carrying a formatted stack trace, so the control plane sees a
// Runtime.Panic.* errorType rather than a bare handlerError.
func newPanicReport(panicValue any) *ErrorReport {
	return &ErrorReport{
		Message:    fmt.Sprintf("%v", panicValue),
		Type:       panicTypeName(panicValue),
		StackTrace: captureStackTrace(),
	}
}

func panicTypeName(panicValue any) string {
	if panicValue == nil {
		return "Runtime.Panic"
	}

	t := reflect.TypeOf(panicValue)
	typeName := t.Name()
	if t.Kind() == reflect.Pointer && t.Elem().Name() != "" {
		typeName = t.Elem().Name()
	}
	if typeName != "" {
		return "Runtime.Panic." + typeName
	}

	typeStr := fmt.Sprintf("%T", panicValue)
	if idx := strings.LastIndex(typeStr, "."); idx >= 0 {
		typeStr = typeStr[idx+1:]
	}
	if typeStr != "" {
		return "Runtime.Panic." + typeStr
	}
	return "Runtime.Panic"
}

const (
	maxStackFrames    = 32
	stackFramesToSkip = 4 // runtime.Callers -> captureStackTrace -> newPanicReport -> deferred recover func
)

func captureStackTrace() []StackFrame {
	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(stackFramesToSkip, pcs)
	if n == 0 {
		return []StackFrame{}
	}

	frames := runtime.CallersFrames(pcs[:n])
	var stackFrames []StackFrame
	for {
		frame, more := frames.Next()
		stackFrames = append(stackFrames, formatFrame(frame))
		if !more {
			break
		}
	}
	return stackFrames
}

func formatFrame(frame runtime.Frame) StackFrame {
	path := frame.File
	label := frame.Function

	slashCount := strings.Count(label, "/")
	if slashCount > 0 {
		parts := strings.Split(path, "/")
		if len(parts) > slashCount+1 {
			path = strings.Join(parts[len(parts)-slashCount-1:], "/")
		}
	}

	if idx := strings.LastIndex(label, "/"); idx >= 0 {
		label = label[idx+1:]
	}
	if idx := strings.Index(label, "."); idx >= 0 {
		label = label[idx+1:]
	}

	return StackFrame{Path: path, Line: frame.Line, Label: label}
}
