// Package resolve implements C4, the resolver and graph validator: it binds
// every undefined symbol to its unique exporter among declared dependencies,
// handles transparent capabilities, flags dead dependencies, and walks the
// dependency graph for cycles. The cycle walk is a depth-first traversal in
// the style of the teacher's DependencyGraph.GetReachable, adapted to
// operate over registry.Component edges and to fail on a cycle rather than
// silently compute reachability.
package resolve

import (
	"sort"
	"strings"

	"github.com/xyproto/cosloader/internal/diag"
	"github.com/xyproto/cosloader/internal/registry"
)

// FaultHandlerKind identifies a canonical fault handler recognized during
// transparent-capability resolution (spec §4.4).
type FaultHandlerKind int

const (
	FaultHandlerNone FaultHandlerKind = iota
	FaultHandlerPageFault
)

// faultHandlers maps canonical fault-handler symbol names to their kind.
// Treated as data, not code, per the DESIGN NOTES: the table currently has
// one entry but reserves room for more (COS_NUM_FAULTS in the original).
var faultHandlers = map[string]FaultHandlerKind{
	"fault_page_fault_handler": FaultHandlerPageFault,
}

// threadCreateHelper is the other transparent-capability symbol: a thread
// bootstrapping helper every scheduler-dependent component may reference
// without declaring it (sched_create_thread in the original loader).
const threadCreateHelper = "sched_create_thread"

// FaultHandlerKindOf reports the fault-handler kind of name, or
// FaultHandlerNone if name is not a recognized fault handler.
func FaultHandlerKindOf(name string) FaultHandlerKind {
	if k, ok := faultHandlers[name]; ok {
		return k
	}
	return FaultHandlerNone
}

func isTransparentCapability(name string) bool {
	if name == threadCreateHelper {
		return true
	}
	_, ok := faultHandlers[name]
	return ok
}

// Resolve binds every undefined symbol in every component of reg, in
// declaration order, then runs the cycle check. Logger may be nil.
func Resolve(reg *registry.Registry, log *diag.Logger) error {
	for _, c := range reg.All() {
		if err := resolveComponent(c); err != nil {
			return err
		}
	}
	warnDeadDependencies(reg, log)
	return checkCycles(reg)
}

// resolveComponent binds each of c's undefined symbols per spec §4.4.
// synthesizeTransparentCapabilities runs first so that fault handlers and
// the thread-creation helper a dependency exports, but c's own object never
// referenced, still get an implicit capability (create_transparent_capabilities
// in the original loader). The slice may grow from that synthesis before the
// bind loop starts, so the loop re-reads len(c.Undef) each iteration rather
// than caching it.
func resolveComponent(c *registry.Component) error {
	synthesizeTransparentCapabilities(c)

	for i := 0; i < len(c.Undef); i++ {
		s := &c.Undef[i]
		if bindAgainstDependencies(c, s) {
			continue
		}
		return diag.New(diag.KindResolution, c.Name, s.Name, "undefined symbol has no exporter among declared dependencies"+suggestionSuffix(c, s.Name))
	}
	return nil
}

// synthesizeTransparentCapabilities scans every declared dependency's
// exported symbols for a transparent-capability name (a recognized fault
// handler or the thread-creation helper) and, for each one c doesn't already
// have an undefined-symbol entry for, appends a synthetic one — even though
// c's own object file never referenced it. This mirrors
// create_transparent_capabilities in the original loader, which grants these
// implicit capabilities to every component regardless of whether it actually
// calls them.
func synthesizeTransparentCapabilities(c *registry.Component) {
	for i := range c.Dependencies {
		target := c.Dependencies[i].Target
		for _, exp := range target.Exported {
			if !isTransparentCapability(exp.Name) {
				continue
			}
			if hasUndef(c, exp.Name) {
				continue
			}
			c.Undef = append(c.Undef, registry.Symbol{Name: exp.Name})
		}
	}
}

func hasUndef(c *registry.Component, name string) bool {
	for _, s := range c.Undef {
		if s.Name == name {
			return true
		}
	}
	return false
}

// bindAgainstDependencies attempts to resolve s against c's declared
// dependencies, in order, per spec §4.4 step 1.
func bindAgainstDependencies(c *registry.Component, s *registry.Symbol) bool {
	for i := range c.Dependencies {
		d := &c.Dependencies[i]
		target := d.Target

		if exp := target.ExportedByName(s.Name); exp != nil {
			bind(s, target, exp, d)
			return true
		}

		if d.Modifier != "" && strings.HasPrefix(s.Name, d.Modifier) {
			suffix := strings.TrimPrefix(s.Name, d.Modifier)
			if exp := target.ExportedByName(suffix); exp != nil {
				bind(s, target, exp, d)
				return true
			}
		}
	}
	return false
}

func bind(s *registry.Symbol, exporter *registry.Component, exported *registry.Symbol, d *registry.Dependency) {
	s.Exporter = exporter
	s.ExportedRef = exported
	d.Resolved = true
}

// warnDeadDependencies logs a warning for every declared dependency that no
// undefined symbol ever bound against (spec §4.4: "emit a warning ...
// indicating a dead import").
func warnDeadDependencies(reg *registry.Registry, log *diag.Logger) {
	if log == nil {
		return
	}
	for _, c := range reg.All() {
		for _, d := range c.Dependencies {
			if !d.Resolved {
				log.Warn("%s: dependency on %s is never used", c.Name, d.Target.Name)
			}
		}
	}
}

// checkCycles walks the dependency graph depth-first from every component,
// failing with CycleError if the walk depth exceeds the component count
// (spec §4.4, §8's O(N^2) bound). The maximum observed depth is recorded on
// each visited node.
func checkCycles(reg *registry.Registry) error {
	limit := reg.Len()
	visiting := make(map[*registry.Component]bool)

	var dfs func(c *registry.Component, depth int) error
	dfs = func(c *registry.Component, depth int) error {
		if depth > limit {
			return diag.New(diag.KindCycle, c.Name, "", "dependency graph contains a cycle")
		}
		if depth > c.Depth {
			c.Depth = depth
		}
		if visiting[c] {
			return diag.New(diag.KindCycle, c.Name, "", "dependency graph contains a cycle")
		}
		visiting[c] = true
		defer delete(visiting, c)

		for _, d := range c.Dependencies {
			if err := dfs(d.Target, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	for _, c := range reg.All() {
		if err := dfs(c, 0); err != nil {
			return err
		}
	}
	return nil
}

// suggestionSuffix appends a "did you mean" hint to an unresolved-symbol
// error when one of c's declared dependencies exports a name that is a
// close edit-distance match for want, the way the teacher's import resolver
// suggests a near-miss identifier instead of reporting a bare "not found".
func suggestionSuffix(c *registry.Component, want string) string {
	best := closestExportedName(c, want, 3)
	if best == "" {
		return ""
	}
	return " (did you mean \"" + best + "\"?)"
}

// closestExportedName returns the name exported by one of c's dependencies
// with the smallest Levenshtein distance to want, provided that distance is
// within threshold and nonzero; ties break alphabetically.
func closestExportedName(c *registry.Component, want string, threshold int) string {
	type candidate struct {
		name     string
		distance int
	}
	var candidates []candidate
	for _, d := range c.Dependencies {
		for _, exp := range d.Target.Exported {
			dist := levenshteinDistance(want, exp.Name)
			if dist > 0 && dist <= threshold {
				candidates = append(candidates, candidate{exp.Name, dist})
			}
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance == candidates[j].distance {
			return candidates[i].name < candidates[j].name
		}
		return candidates[i].distance < candidates[j].distance
	})
	return candidates[0].name
}

// levenshteinDistance computes the classic edit distance between two
// strings via dynamic programming.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = minInt(del, minInt(ins, sub))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
