// Package stub implements C5, the stub synthesizer: it invokes an external
// stub-generation tool to produce client-call trampolines for a component's
// undefined symbols, then assembles and partial-links the result into the
// component's object. The subprocess plumbing follows the teacher's cffi.go
// (tryPkgConfig, parseHeaderForFunctions): build an exec.Command, feed or
// capture pipes, and treat a non-zero exit as fatal rather than a soft
// fallback, since the tool is the sole source of these trampolines.
package stub

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/xyproto/cosloader/internal/diag"
	"github.com/xyproto/cosloader/internal/registry"
)

// Toolchain names the external programs C5 shells out to. Fields are
// exported so cmd/cosloader can override them (e.g. for cross-assembling),
// but the defaults match a standard Linux/gcc host per SPEC_FULL §3.
type Toolchain struct {
	Assembler string // defaults to "as"
	Linker    string // defaults to "ld", invoked with -r for a partial link
}

// DefaultToolchain returns the conventional as/ld pair.
func DefaultToolchain() Toolchain {
	return Toolchain{Assembler: "as", Linker: "ld"}
}

// Synthesizer drives C5 for a set of components sharing one stub-generator
// program and one scratch directory.
type Synthesizer struct {
	StubGenProg string
	TmpDir      string
	Toolchain   Toolchain
	log         *diag.Logger
}

// New returns a Synthesizer. log may be nil.
func New(stubGenProg, tmpDir string, tc Toolchain, log *diag.Logger) *Synthesizer {
	return &Synthesizer{StubGenProg: stubGenProg, TmpDir: tmpDir, Toolchain: tc, log: log}
}

// Synthesize runs C5 for every component in reg that has at least one
// undefined symbol, replacing ObjPath with the combined, partially-linked
// object (spec §4.5).
func (s *Synthesizer) Synthesize(reg *registry.Registry) error {
	for _, c := range reg.All() {
		if len(c.Undef) == 0 {
			continue
		}
		if err := s.synthesizeOne(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synthesizer) synthesizeOne(c *registry.Component) error {
	names := make([]string, len(c.Undef))
	for i, u := range c.Undef {
		names[i] = u.Name
	}

	asmSrc, err := s.runStubGen(strings.Join(names, ","))
	if err != nil {
		return diag.Wrap(diag.KindExternalTool, c.ObjPath, "", err)
	}

	base := filepath.Base(c.ObjPath)
	asmPath := filepath.Join(s.TmpDir, base+".stub.s")
	stubObjPath := filepath.Join(s.TmpDir, base+".stub.o")
	combinedPath := filepath.Join(s.TmpDir, base+".combined.o")

	if err := os.WriteFile(asmPath, asmSrc, 0o644); err != nil {
		return diag.Wrap(diag.KindIo, asmPath, "", err)
	}

	if err := s.assemble(asmPath, stubObjPath); err != nil {
		return diag.Wrap(diag.KindExternalTool, asmPath, "", err)
	}

	if err := s.partialLink(combinedPath, c.ObjPath, stubObjPath); err != nil {
		return diag.Wrap(diag.KindExternalTool, combinedPath, "", err)
	}

	if s.log != nil {
		s.log.Debug("%s: synthesized stubs for %v -> %s", c.Name, names, combinedPath)
	}

	c.ObjPath = combinedPath
	return nil
}

// runStubGen invokes the stub-generation tool with a comma-separated symbol
// list and returns its assembly output (spec §4.5's external-collaborator
// contract).
func (s *Synthesizer) runStubGen(symbolList string) ([]byte, error) {
	cmd := exec.Command(s.StubGenProg, symbolList)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("stub generator failed: %w (stderr: %s)", err, stderr.String())
	}
	return out, nil
}

func (s *Synthesizer) assemble(srcPath, objPath string) error {
	cmd := exec.Command(s.Toolchain.Assembler, "-o", objPath, srcPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w (stderr: %s)", s.Toolchain.Assembler, err, stderr.String())
	}
	return nil
}

// partialLink combines the component's original object and the stub object
// into one relocatable via -r ("ld -r"), leaving further symbol resolution
// to C6's two-pass link.
func (s *Synthesizer) partialLink(outPath string, inputs ...string) error {
	args := append([]string{"-r", "-o", outPath}, inputs...)
	cmd := exec.Command(s.Toolchain.Linker, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w (stderr: %s)", s.Toolchain.Linker, err, stderr.String())
	}
	return nil
}
