package monitoring

import (
	"fmt"
	"testing"
)

func TestTagfPrefixesTag(t *testing.T) {
	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	defer SetLogger(nil)

	Tagf("stack", "merged %d datasets", 3)
	if want := "[stack] merged 3 datasets"; got != want {
		t.Errorf("logged %q, want %q", got, want)
	}
}

func TestSetLoggerNilMutes(t *testing.T) {
	SetLogger(nil)
	// Must not panic.
	Tagf("fit", "converged after %d evaluations", 100)
	Logf("plain message")
}
