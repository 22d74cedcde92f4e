package agenterr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfWrappedError(t *testing.T) {
	err := Wrap(ExitPhaseCFailure, errors.New("compose up failed"))
	if CodeOf(err) != ExitPhaseCFailure {
		t.Errorf("CodeOf = %d, want %d", CodeOf(err), ExitPhaseCFailure)
	}
}

func TestCodeOfWrappedErrorThroughFmtErrorf(t *testing.T) {
	err := fmt.Errorf("phase D: %w", Wrap(ExitPhaseDTimeout, errors.New("timeout")))
	if CodeOf(err) != ExitPhaseDTimeout {
		t.Errorf("CodeOf = %d, want %d", CodeOf(err), ExitPhaseDTimeout)
	}
}

func TestCodeOfPlainErrorDefaultsToUnexpectedFatal(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != ExitUnexpectedFatal {
		t.Errorf("CodeOf = %d, want %d", got, ExitUnexpectedFatal)
	}
}

func TestCodeOfNilIsOK(t *testing.T) {
	if got := CodeOf(nil); got != ExitOK {
		t.Errorf("CodeOf(nil) = %d, want %d", got, ExitOK)
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(ExitConfigError, nil) != nil {
		t.Error("Wrap(code, nil) should return nil")
	}
}
