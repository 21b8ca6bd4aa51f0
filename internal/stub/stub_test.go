package stub

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/xyproto/cosloader/internal/registry"
)

// fakeStubGen writes a tiny shell script that echoes its first argument
// back prefixed, standing in for the real stub-generation tool.
func fakeStubGen(t *testing.T, dir string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(dir, "fake_stubgen.sh")
	script := "#!/bin/sh\necho \"# stubs for: $1\"\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRunStubGenJoinsSymbolList(t *testing.T) {
	dir := t.TempDir()
	prog := fakeStubGen(t, dir)
	s := New(prog, dir, DefaultToolchain(), nil)

	out, err := s.runStubGen("call,helper")
	if err != nil {
		t.Fatalf("runStubGen() error = %v", err)
	}
	want := "# stubs for: call,helper\n"
	if string(out) != want {
		t.Errorf("runStubGen() = %q, want %q", out, want)
	}
}

func TestRunStubGenFailurePropagates(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "failing_stubgen.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s := New(path, dir, DefaultToolchain(), nil)

	if _, err := s.runStubGen("call"); err == nil {
		t.Error("runStubGen() with failing tool: want error, got nil")
	}
}

func TestSynthesizeSkipsComponentsWithoutUndefined(t *testing.T) {
	reg := registry.New()
	c := &registry.Component{Name: "noop.o", ObjPath: "noop.o"}
	_ = reg.Create("noop.o", c)

	// Any Synthesizer works here: synthesizeOne is never reached since
	// c.Undef is empty.
	s := New("/nonexistent/stubgen", t.TempDir(), DefaultToolchain(), nil)
	if err := s.Synthesize(reg); err != nil {
		t.Fatalf("Synthesize() error = %v, want nil (no components need stubs)", err)
	}
	if c.ObjPath != "noop.o" {
		t.Errorf("ObjPath = %q, want unchanged", c.ObjPath)
	}
}

// End-to-end assemble+link behavior requires a real `as`/`ld` toolchain and
// is not exercised by this module's tests.
