package monitoring

import (
	"fmt"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	Logf("hello %d", 1)
	if len(lines) != 1 || lines[0] != "hello 1" {
		t.Fatalf("lines = %v", lines)
	}

	// nil installs a no-op logger rather than panicking
	SetLogger(nil)
	Logf("dropped")
	if len(lines) != 1 {
		t.Fatalf("no-op logger still recorded: %v", lines)
	}
}

func TestScoped(t *testing.T) {
	defer SetLogger(nil)

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})

	logf := Scoped("udp")
	logf("batch of %d records", 3)
	if !strings.HasPrefix(got, "[udp] ") {
		t.Errorf("missing scope prefix: %q", got)
	}
	if !strings.Contains(got, "batch of 3 records") {
		t.Errorf("message mangled: %q", got)
	}
}
