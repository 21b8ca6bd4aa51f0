// Package depspec implements C3, the dependency-text parser: it parses the
// mini-language of spec §4.3 into a fully wired registry.Registry, also
// driving C1 (the object reader) to populate each component's symbol
// tables as soon as it is created, mirroring the original loader's
// prepare_service_symbs.
//
// Grammar (spec §4.3):
//
//	<components> ::= decl (";" decl)*
//	decl         ::= name "," init-str
//	name         ::= marker* ( "(" name "=" name ")" | bare-name )
//	marker       ::= "*" | "!"
//	<deps>       ::= edge (";" edge)*
//	edge         ::= name "-" target ("|" target)*
//	target       ::= ("[" modifier "]")? name
//
// This is a straightforward recursive-descent parser over a handful of
// fixed separator characters; per the DESIGN NOTES it shares no tokenizer
// state with any other phase.
package depspec

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xyproto/cosloader/internal/diag"
	"github.com/xyproto/cosloader/internal/objectfile"
	"github.com/xyproto/cosloader/internal/registry"
)

// Special-component path substrings, per §4.8/§4.9 and DESIGN NOTES (lifted
// to an explicit enum at parse time rather than scattered strstr calls).
const (
	initComp    = "c0.o"
	mpdMgr      = "cg.o"
	configComp  = "schedconf.o"
	bootComp    = "boot.o"
	bootComp2   = "bootr.o"
	initFile    = "init.o"
	compInfoSym = "cos_comp_info"
)

// Result is the output of parsing a full "<components>:<deps>" spec string.
type Result struct {
	Registry      *registry.Registry
	RootScheduler *registry.Component
}

// Parse parses spec and returns a fully populated registry: every
// component's exported/undefined symbol tables are read, traits and
// dependency edges are attached, and special components are tagged.
func Parse(spec string, reader *objectfile.Reader, log *diag.Logger) (*Result, error) {
	compText, depText, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, diag.New(diag.KindSyntax, "", "", "missing ':' separating component list from dependencies")
	}

	reg := registry.New()
	var rootSched *registry.Component

	for _, decl := range splitNonEmpty(compText, ';') {
		name, initStr, ok := strings.Cut(decl, ",")
		if !ok {
			return nil, diag.New(diag.KindSyntax, decl, "", "component declaration missing ',' before init string")
		}

		parsed, err := parseDeclName(name)
		if err != nil {
			return nil, err
		}

		if parsed.copyFrom != "" {
			if err := copyFile(parsed.copyFrom, parsed.objPath); err != nil {
				return nil, diag.Wrap(diag.KindIo, parsed.objPath, "", err)
			}
		}

		c := &registry.Component{
			Name:           parsed.objPath,
			ObjPath:        parsed.objPath,
			InitStr:        initStr,
			IsScheduler:    parsed.isScheduler,
			IsBootPackaged: parsed.isBootPackaged,
		}
		if parsed.isScheduler && rootSched == nil {
			rootSched = c
			c.IsRootScheduler = true
		}

		exported, undef, err := reader.ReadSymbols(c.ObjPath)
		if err != nil {
			return nil, err
		}
		exported = append(exported, registry.Symbol{Name: compInfoSym})
		c.Exported = exported
		c.Undef = undef
		c.Special = classifySpecial(c.ObjPath)

		if err := reg.Create(c.Name, c); err != nil {
			return nil, diag.Wrap(diag.KindSyntax, c.Name, "", err)
		}
	}

	if depText != "" {
		if err := parseEdges(depText, reg); err != nil {
			return nil, err
		}
	} else if log != nil {
		log.Warn("no dependencies given")
	}

	return &Result{Registry: reg, RootScheduler: rootSched}, nil
}

func classifySpecial(objPath string) registry.Special {
	switch {
	case strings.Contains(objPath, initComp):
		return registry.SpecialInit
	case strings.Contains(objPath, mpdMgr):
		return registry.SpecialMPDManager
	case strings.Contains(objPath, configComp):
		return registry.SpecialConfig
	case strings.Contains(objPath, bootComp), strings.Contains(objPath, bootComp2):
		return registry.SpecialBoot
	case strings.Contains(objPath, initFile):
		return registry.SpecialInitFile
	default:
		return registry.SpecialNone
	}
}

type declName struct {
	objPath        string
	isScheduler    bool
	isBootPackaged bool
	copyFrom       string // non-empty if this declaration is a (new=old) copy
}

// parseDeclName parses the marker-prefixed, optionally-copy-form component
// name, matching parse_component_traits's recursive marker consumption
// (spec §4.3; SPEC_FULL §4 notes the markers are combinable in any order
// and may appear both before and inside the "(new=old)" form).
func parseDeclName(name string) (declName, error) {
	var d declName
	off := 0

	consumeMarkers := func() {
		for off < len(name) {
			switch name[off] {
			case '*':
				d.isScheduler = true
			case '!':
				d.isBootPackaged = true
			default:
				return
			}
			off++
		}
	}
	consumeMarkers()

	if off < len(name) && name[off] == '(' {
		off++
		consumeMarkers()
		rest := name[off:]
		newName, oldName, ok := strings.Cut(rest, "=")
		if !ok {
			return declName{}, diag.New(diag.KindSyntax, name, "", "malformed (new=old) component copy form")
		}
		oldName, ok = strings.CutSuffix(oldName, ")")
		if !ok {
			return declName{}, diag.New(diag.KindSyntax, name, "", "missing closing ')' in component copy form")
		}
		d.objPath = newName
		d.copyFrom = oldName
		return d, nil
	}

	d.objPath = name[off:]
	if d.objPath == "" {
		return declName{}, diag.New(diag.KindSyntax, name, "", "empty component name")
	}
	return d, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// parseEdges parses "A-B1|B2|...;C-D1|...;..." and attaches dependencies to
// the components already registered in reg.
func parseEdges(depText string, reg *registry.Registry) error {
	for _, chunk := range splitNonEmpty(depText, ';') {
		callerName, targetList, ok := strings.Cut(chunk, "-")
		if !ok {
			return diag.New(diag.KindSyntax, chunk, "", "dependency edge missing '-'")
		}
		caller, ok := reg.Lookup(callerName)
		if !ok {
			return diag.New(diag.KindSyntax, callerName, "", "dependency references undeclared component")
		}

		for _, target := range strings.Split(targetList, "|") {
			modifier, targetName, err := parseTarget(target)
			if err != nil {
				return err
			}

			callee, ok := reg.Lookup(targetName)
			if !ok {
				return diag.New(diag.KindSyntax, targetName, "", "dependency references undeclared component")
			}
			if callee == caller {
				return diag.New(diag.KindSyntax, caller.Name, "", "self-edge not allowed")
			}
			if !caller.IsBootPackaged && callee.IsBootPackaged {
				return diag.New(diag.KindSyntax, caller.Name, callee.Name,
					"non-boot-packaged component cannot depend on a boot-packaged component")
			}
			if len(caller.Dependencies) >= registry.MaxDependencies {
				return diag.New(diag.KindOverflow, caller.Name, "", "exceeds maximum declared dependencies")
			}
			for _, existing := range caller.Dependencies {
				if existing.Target == callee {
					return diag.New(diag.KindSyntax, caller.Name, callee.Name, "duplicate dependency edge")
				}
			}

			caller.Dependencies = append(caller.Dependencies, registry.Dependency{
				Target:   callee,
				Modifier: modifier,
			})

			if callee.IsScheduler {
				if caller.Scheduler == nil {
					caller.Scheduler = callee
				} else if caller.Scheduler != callee {
					return diag.New(diag.KindSyntax, caller.Name, callee.Name,
						fmt.Sprintf("component depends on more than one scheduler (already %s)", caller.Scheduler.Name))
				}
			}
		}
	}
	return nil
}

// parseTarget splits an optional "[modifier]" prefix off a dependency
// target name.
func parseTarget(target string) (modifier, name string, err error) {
	if !strings.HasPrefix(target, "[") {
		return "", target, nil
	}
	rest := target[1:]
	modifier, name, ok := strings.Cut(rest, "]")
	if !ok {
		return "", "", diag.New(diag.KindSyntax, target, "", "missing closing ']' in modifier")
	}
	return modifier, name, nil
}

func splitNonEmpty(s string, sep byte) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, string(sep))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
