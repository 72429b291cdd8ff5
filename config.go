package relay

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
)

// defaultRuntimeEndpoint is used when AWS_LAMBDA_RUNTIME_API is unset, e.g.
// while exercising the module outside a real Lambda sandbox.
const defaultRuntimeEndpoint = "127.0.0.1:7000"

// envConfig mirrors the recognized environment variables as a
// caarlos0/env-tagged struct rather than hand-rolled os.Getenv parsing.
type envConfig struct {
	RuntimeAPI       string `env:"AWS_LAMBDA_RUNTIME_API"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	MaxRequests      int    `env:"MAX_REQUESTS" envDefault:"0"`
	StopSignal       int    `env:"STOP_SIGNAL" envDefault:"15"`
	KeepAlive        bool   `env:"KEEP_ALIVE" envDefault:"true"`
	RequestTimeoutMS int64  `env:"REQUEST_TIMEOUT" envDefault:"0"`
}

// Configuration is relay's immutable, process-wide configuration. It is
// constructed once at startup via NewConfig and threaded explicitly into
// the components that need it, rather than read a second time from the
// environment, so tests can construct distinct configurations for
// independent mock endpoints.
type Configuration struct {
	RuntimeEndpoint string
	LogLevel        string
	MaxInvocations  int
	StopSignal      int
	KeepAlive       bool
	RequestTimeout  time.Duration // zero means "no timeout"
	LifecycleID     string
}

// NewConfig parses and validates relay's configuration from the process
// environment. A parse or validation failure is a configurationError,
// fatal at startup; there is no control-plane endpoint yet to report it
// to.
func NewConfig() (*Configuration, error) {
	var parsed envConfig
	if err := env.Parse(&parsed); err != nil {
		return nil, newConfigurationError(errors.Wrap(err, "parsing environment"))
	}
	return newConfigFromEnv(parsed)
}

func newConfigFromEnv(parsed envConfig) (*Configuration, error) {
	endpoint := parsed.RuntimeAPI
	if endpoint == "" {
		endpoint = defaultRuntimeEndpoint
	}
	if _, _, err := net.SplitHostPort(endpoint); err != nil {
		return nil, newConfigurationError(errors.Wrapf(err, "invalid AWS_LAMBDA_RUNTIME_API %q", endpoint))
	}

	if parsed.MaxRequests < 0 {
		return nil, newConfigurationError(errors.Newf("MAX_REQUESTS must be >= 0, got %d", parsed.MaxRequests))
	}

	if parsed.StopSignal <= 0 {
		return nil, newConfigurationError(errors.Newf("STOP_SIGNAL must be a positive signal number, got %d", parsed.StopSignal))
	}

	lifecycleID, err := newLifecycleID()
	if err != nil {
		return nil, newConfigurationError(errors.Wrap(err, "generating lifecycleId"))
	}

	return &Configuration{
		RuntimeEndpoint: endpoint,
		LogLevel:        parsed.LogLevel,
		MaxInvocations:  parsed.MaxRequests,
		StopSignal:      parsed.StopSignal,
		KeepAlive:       parsed.KeepAlive,
		RequestTimeout:  time.Duration(parsed.RequestTimeoutMS) * time.Millisecond,
		LifecycleID:     lifecycleID,
	}, nil
}

// newLifecycleID produces a short random hex identifier attached to every
// log line this process emits, so multiple container instances' logs can
// be told apart in aggregate views. No UUID library appears anywhere in
// the reference corpus for this purpose, so this stays on crypto/rand.
func newLifecycleID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
