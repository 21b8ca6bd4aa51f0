// Command cosloader links and installs a set of component object files
// described by a dependency specification string, per spec §6.1:
//
//	cosloader "<components>:<deps>" <stub-gen-prog-path>
//
// Flags follow the short-before-positional convention the teacher's CLI
// uses (main.go): flags must precede the two positional arguments.
package main

import (
	"flag"
	"fmt"
	"os"

	env "github.com/xyproto/env/v2"

	"github.com/xyproto/cosloader/internal/capability"
	"github.com/xyproto/cosloader/internal/cobj"
	"github.com/xyproto/cosloader/internal/depspec"
	"github.com/xyproto/cosloader/internal/diag"
	"github.com/xyproto/cosloader/internal/kernel"
	"github.com/xyproto/cosloader/internal/layout"
	"github.com/xyproto/cosloader/internal/objectfile"
	"github.com/xyproto/cosloader/internal/resolve"
	"github.com/xyproto/cosloader/internal/stub"
)

const versionString = "cosloader 0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("cosloader", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "verbose (debug) output")
	quiet := fs.Bool("q", false, "suppress normal progress output")
	tmpDirFlag := fs.String("tmp", "", "scratch directory for intermediate objects (default: $COSLOADER_TMPDIR or os.TempDir())")
	hostInstall := fs.Bool("host", false, "install host-resident components against the live kernel control device")
	controlDevice := fs.String("control-device", kernel.ControlDevice, "path to the kernel control device")
	version := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *version {
		fmt.Println(versionString)
		return 0
	}

	rest := fs.Args()
	if len(rest) != 2 {
		fmt.Fprintln(os.Stderr, `usage: cosloader "<components>:<deps>" <stub-gen-prog-path>`)
		return 2
	}
	specText, stubGenProg := rest[0], rest[1]

	level := diag.LevelNormal
	if *quiet {
		level = diag.LevelSilent
	}
	if *verbose {
		level = diag.LevelDebug
	}
	log := diag.NewLogger(os.Stderr, level)

	tmpDir := *tmpDirFlag
	if tmpDir == "" {
		tmpDir = env.Str("COSLOADER_TMPDIR", os.TempDir())
	}

	if err := mainImpl(specText, stubGenProg, tmpDir, *hostInstall, *controlDevice, log); err != nil {
		if de, ok := err.(*diag.Error); ok {
			fmt.Fprintln(os.Stderr, de.Error())
			return de.Kind.ExitCode()
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func mainImpl(specText, stubGenProg, tmpDir string, hostInstall bool, controlDevice string, log *diag.Logger) error {
	reader := objectfile.New(log)

	parsed, err := depspec.Parse(specText, reader, log)
	if err != nil {
		return err
	}
	reg := parsed.Registry
	log.Normal("parsed %d components", reg.Len())

	if err := resolve.Resolve(reg, log); err != nil {
		return err
	}

	synth := stub.New(stubGenProg, tmpDir, stub.DefaultToolchain(), log)
	if err := synth.Synthesize(reg); err != nil {
		return err
	}

	linker := layout.New(layout.DefaultToolchain(), tmpDir, reader, log)
	if err := linker.LinkAll(reg); err != nil {
		return err
	}

	caps, err := capability.Build(reg)
	if err != nil {
		return err
	}
	log.Normal("built %d invocation capabilities", len(caps))

	bootObjs, err := serializeBootPackaged(parsed, reader, caps)
	if err != nil {
		return err
	}
	log.Normal("serialized %d boot-packaged cobjs", len(bootObjs))

	if hostInstall {
		in, err := kernel.Open(controlDevice, log)
		if err != nil {
			return err
		}
		defer in.Close()

		img, err := newMappedImage(reg, reader)
		if err != nil {
			return err
		}
		if err := kernel.InstallAll(reg, reader, in, img, caps, log); err != nil {
			return err
		}
		if err := img.Finalize(); err != nil {
			return err
		}
	}

	return nil
}

// serializeBootPackaged builds a cobj.Object for every boot-packaged
// component, per spec §4.8/§6.2.
func serializeBootPackaged(reg *depspec.Result, reader *objectfile.Reader, caps []capability.Capability) ([]*cobj.Object, error) {
	var objs []*cobj.Object
	for _, c := range reg.Registry.All() {
		if !c.IsBootPackaged {
			continue
		}
		o, err := cobj.BuildForComponent(c, reader, caps)
		if err != nil {
			return nil, err
		}
		c.Cobj = o
		objs = append(objs, o)
	}
	return objs, nil
}
