package poller

// FailureKind classifies why a poll did not produce a signal.
type FailureKind string

const (
	NetworkFailure FailureKind = "network"
	HTTPFailure    FailureKind = "http"
	ParseFailure   FailureKind = "parse"
)

// Failure is returned by Poll for every unsuccessful tick. All kinds are non-fatal.
type Failure struct {
	Kind       FailureKind
	Message    string
	StatusCode int
	Err        error
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Err }
