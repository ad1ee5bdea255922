// Package proverr defines the provisioning error taxonomy. Every failure that
// escapes a pipeline step is wrapped in a StepError carrying the tool, the
// step and the error kind, so build output can name all three without callers
// re-deriving them from log text.
package proverr

import (
	"errors"
	"fmt"
)

// Kind classifies what went wrong, independent of which tool or step hit it.
type Kind string

const (
	KindFetch           Kind = "fetch"             // network/transfer failure acquiring a key or metadata
	KindKeyFormat       Kind = "key-format"        // signing key could not be converted to trusted form
	KindPackageNotFound Kind = "package-not-found" // repository does not list the requested package
	KindDownload        Kind = "download"          // archive transfer failure
	KindExtract         Kind = "extract"           // corrupt or partial archive
	KindInstall         Kind = "install"           // generic installation failure
	KindVerification    Kind = "verification"      // installed binary absent or not usable
)

// Step names the pipeline stage a failure belongs to.
type Step string

const (
	StepResolve  Step = "resolve"
	StepRegister Step = "register"
	StepAcquire  Step = "acquire"
	StepInstall  Step = "install"
	StepLink     Step = "link"
	StepVerify   Step = "verify"
)

// StepError is the provisioning failure unit: tool + step + kind + cause.
type StepError struct {
	Tool string
	Step Step
	Kind Kind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("tool %s: step %s: %s: %v", e.Tool, e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// New wraps err into a StepError for the given tool, step and kind.
func New(tool string, step Step, kind Kind, err error) *StepError {
	return &StepError{Tool: tool, Step: step, Kind: kind, Err: err}
}

// Newf is New with a formatted cause.
func Newf(tool string, step Step, kind Kind, format string, args ...interface{}) *StepError {
	return &StepError{Tool: tool, Step: step, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the error kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) is a StepError of kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
