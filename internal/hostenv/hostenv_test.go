package hostenv

import (
	"os"
	"runtime"
	"testing"

	"github.com/faultline-io/faultline/internal/logging"
)

func TestCollect(t *testing.T) {
	info := Collect(logging.NewNop())

	if info.OS != runtime.GOOS {
		t.Errorf("expected OS %s, got %s", runtime.GOOS, info.OS)
	}
	if info.Arch != runtime.GOARCH {
		t.Errorf("expected arch %s, got %s", runtime.GOARCH, info.Arch)
	}
	if info.GoVersion == "" {
		t.Errorf("expected go version to be set")
	}
	if info.PID != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), info.PID)
	}
	if info.CollectedAt.IsZero() {
		t.Errorf("expected collection timestamp")
	}
}

func TestBlocks(t *testing.T) {
	info := Collect(logging.NewNop())
	blocks := info.Blocks()

	for _, name := range []string{"os", "runtime", "device", "process"} {
		if _, ok := blocks[name]; !ok {
			t.Errorf("expected %s block", name)
		}
	}
	if blocks["runtime"]["name"] != "go" {
		t.Errorf("unexpected runtime block: %v", blocks["runtime"])
	}
	if blocks["process"]["pid"] != os.Getpid() {
		t.Errorf("unexpected pid in process block: %v", blocks["process"])
	}
}

func TestCleanDMI(t *testing.T) {
	cases := map[string]string{
		"To Be Filled By O.E.M.": "",
		"Default string":         "",
		"unknown":                "",
		"  LENOVO  ":             "LENOVO",
		"ThinkPad X1":            "ThinkPad X1",
	}
	for in, want := range cases {
		if got := cleanDMI(in); got != want {
			t.Errorf("cleanDMI(%q) = %q, want %q", in, got, want)
		}
	}
}
