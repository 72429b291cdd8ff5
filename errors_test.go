package relay

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestError_Terminal(t *testing.T) {
	terminal := []*Error{
		newConfigurationError(errors.New("x")),
		newBootstrapError(errors.New("x")),
		newBadStatusCodeError(500),
		newNoBodyError(),
		newNoContextError(),
		newConnectionResetError(errors.New("x")),
		newTimeoutError(errors.New("x")),
		newJSONEncodingError(errors.New("x")),
	}
	for _, err := range terminal {
		assert.True(t, err.Terminal(), "%s should be terminal", err.Kind)
	}

	notTerminal := []*Error{
		newRequestDecodingError(errors.New("x")),
		newResponseEncodingError(errors.New("x")),
		newHandlerError(errors.New("x")),
	}
	for _, err := range notTerminal {
		assert.False(t, err.Terminal(), "%s should not be terminal", err.Kind)
	}
}

func TestError_Error(t *testing.T) {
	err := newBadStatusCodeError(503)
	assert.Equal(t, "badStatusCode: 503", err.Error())

	err = newRequestDecodingError(errors.New("not json"))
	assert.Equal(t, "requestDecoding: not json", err.Error())
}

func TestNewInvocationErrorReport_CodecError(t *testing.T) {
	report := newInvocationErrorReport(newRequestDecodingError(errors.New("bad payload")))
	assert.Equal(t, string(KindRequestDecoding), report.Type)
	assert.Contains(t, report.Message, "bad payload")
}

func TestNewInvocationErrorReport_HandlerError(t *testing.T) {
	type customErr struct{ error }
	cause := customErr{errors.New("boom")}

	report := newInvocationErrorReport(newHandlerError(cause))
	assert.Equal(t, "Runtime.customErr", report.Type)
	assert.Equal(t, "boom", report.Message)
}

func TestNewInvocationErrorReport_PlainError(t *testing.T) {
	report := newInvocationErrorReport(errors.New("plain"))
	assert.Equal(t, "Runtime.HandlerError", report.Type)
	assert.Equal(t, "plain", report.Message)
}

func TestNewPanicReport(t *testing.T) {
	report := newPanicReport("index out of range")
	assert.Equal(t, "Runtime.Panic.string", report.Type)
	assert.Equal(t, "index out of range", report.Message)
	assert.NotEmpty(t, report.StackTrace)
}

func TestNewInvocationErrorReport_Panic(t *testing.T) {
	panicErr := &panicError{report: newPanicReport("boom")}
	report := newInvocationErrorReport(panicErr)
	assert.Equal(t, "Runtime.Panic.string", report.Type)
	assert.Equal(t, "boom", report.Message)
}
