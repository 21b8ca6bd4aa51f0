package depspec

import (
	"testing"

	"github.com/xyproto/cosloader/internal/registry"
)

func TestParseDeclNamePlain(t *testing.T) {
	d, err := parseDeclName("ping.o")
	if err != nil {
		t.Fatalf("parseDeclName() error = %v", err)
	}
	if d.objPath != "ping.o" || d.isScheduler || d.isBootPackaged || d.copyFrom != "" {
		t.Errorf("parseDeclName(ping.o) = %+v, want plain ping.o", d)
	}
}

func TestParseDeclNameMarkers(t *testing.T) {
	tests := []struct {
		input          string
		wantName       string
		wantScheduler  bool
		wantBootPacked bool
	}{
		{"*sched.o", "sched.o", true, false},
		{"!boot.o", "boot.o", false, true},
		{"*!both.o", "both.o", true, true},
		{"!*both.o", "both.o", true, true},
	}

	for _, tt := range tests {
		d, err := parseDeclName(tt.input)
		if err != nil {
			t.Errorf("parseDeclName(%q) error = %v", tt.input, err)
			continue
		}
		if d.objPath != tt.wantName || d.isScheduler != tt.wantScheduler || d.isBootPackaged != tt.wantBootPacked {
			t.Errorf("parseDeclName(%q) = %+v, want name=%q sched=%v boot=%v",
				tt.input, d, tt.wantName, tt.wantScheduler, tt.wantBootPacked)
		}
	}
}

func TestParseDeclNameCopyForm(t *testing.T) {
	d, err := parseDeclName("(ping2.o=ping.o)")
	if err != nil {
		t.Fatalf("parseDeclName() error = %v", err)
	}
	if d.objPath != "ping2.o" || d.copyFrom != "ping.o" {
		t.Errorf("parseDeclName(copy) = %+v, want objPath=ping2.o copyFrom=ping.o", d)
	}
}

func TestParseDeclNameCopyFormWithMarkers(t *testing.T) {
	d, err := parseDeclName("*(ping2.o=ping.o)")
	if err != nil {
		t.Fatalf("parseDeclName() error = %v", err)
	}
	if !d.isScheduler || d.objPath != "ping2.o" || d.copyFrom != "ping.o" {
		t.Errorf("parseDeclName(marker+copy) = %+v", d)
	}
}

func TestParseDeclNameMalformed(t *testing.T) {
	cases := []string{"", "(noequals)", "(a=b"}
	for _, in := range cases {
		if _, err := parseDeclName(in); err == nil {
			t.Errorf("parseDeclName(%q): want error, got nil", in)
		}
	}
}

func TestParseTargetModifier(t *testing.T) {
	mod, name, err := parseTarget("[rename]callee.o")
	if err != nil {
		t.Fatalf("parseTarget() error = %v", err)
	}
	if mod != "rename" || name != "callee.o" {
		t.Errorf("parseTarget([rename]callee.o) = (%q, %q), want (rename, callee.o)", mod, name)
	}
}

func TestParseTargetNoModifier(t *testing.T) {
	mod, name, err := parseTarget("callee.o")
	if err != nil {
		t.Fatalf("parseTarget() error = %v", err)
	}
	if mod != "" || name != "callee.o" {
		t.Errorf("parseTarget(callee.o) = (%q, %q), want (\"\", callee.o)", mod, name)
	}
}

func TestParseTargetUnterminatedModifier(t *testing.T) {
	if _, _, err := parseTarget("[rename callee.o"); err == nil {
		t.Error("parseTarget(unterminated modifier): want error, got nil")
	}
}

func TestClassifySpecial(t *testing.T) {
	tests := []struct {
		path string
		want registry.Special
	}{
		{"c0.o", registry.SpecialInit},
		{"cg.o", registry.SpecialMPDManager},
		{"schedconf.o", registry.SpecialConfig},
		{"boot.o", registry.SpecialBoot},
		{"bootr.o", registry.SpecialBoot},
		{"init.o", registry.SpecialInitFile},
		{"ping.o", registry.SpecialNone},
	}
	for _, tt := range tests {
		if got := classifySpecial(tt.path); got != tt.want {
			t.Errorf("classifySpecial(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func newComp(name string) *registry.Component {
	return &registry.Component{Name: name, ObjPath: name}
}

func TestParseEdgesSelfEdgeRejected(t *testing.T) {
	reg := registry.New()
	_ = reg.Create("a.o", newComp("a.o"))

	if err := parseEdges("a.o-a.o", reg); err == nil {
		t.Error("parseEdges(self-edge): want error, got nil")
	}
}

func TestParseEdgesUndeclaredTargetRejected(t *testing.T) {
	reg := registry.New()
	_ = reg.Create("a.o", newComp("a.o"))

	if err := parseEdges("a.o-ghost.o", reg); err == nil {
		t.Error("parseEdges(undeclared target): want error, got nil")
	}
}

func TestParseEdgesBootDirectionRejected(t *testing.T) {
	reg := registry.New()
	nonBoot := newComp("a.o")
	boot := newComp("b.o")
	boot.IsBootPackaged = true
	_ = reg.Create("a.o", nonBoot)
	_ = reg.Create("b.o", boot)

	if err := parseEdges("a.o-b.o", reg); err == nil {
		t.Error("parseEdges(non-boot depends on boot-packaged): want error, got nil")
	}

	// The reverse direction is legal: reset and try boot -> non-boot.
	reg2 := registry.New()
	boot2 := newComp("b.o")
	boot2.IsBootPackaged = true
	nonBoot2 := newComp("a.o")
	_ = reg2.Create("b.o", boot2)
	_ = reg2.Create("a.o", nonBoot2)
	if err := parseEdges("b.o-a.o", reg2); err != nil {
		t.Errorf("parseEdges(boot depends on non-boot): want nil, got %v", err)
	}
}

func TestParseEdgesMultipleTargetsAndModifiers(t *testing.T) {
	reg := registry.New()
	_ = reg.Create("a.o", newComp("a.o"))
	_ = reg.Create("b.o", newComp("b.o"))
	_ = reg.Create("c.o", newComp("c.o"))

	if err := parseEdges("a.o-b.o|[rn]c.o", reg); err != nil {
		t.Fatalf("parseEdges() error = %v", err)
	}

	a, _ := reg.Lookup("a.o")
	if len(a.Dependencies) != 2 {
		t.Fatalf("a.Dependencies = %v, want 2 entries", a.Dependencies)
	}
	if a.Dependencies[0].Modifier != "" {
		t.Errorf("first dependency modifier = %q, want empty", a.Dependencies[0].Modifier)
	}
	if a.Dependencies[1].Modifier != "rn" {
		t.Errorf("second dependency modifier = %q, want rn", a.Dependencies[1].Modifier)
	}
}

func TestParseEdgesDuplicateRejected(t *testing.T) {
	reg := registry.New()
	_ = reg.Create("a.o", newComp("a.o"))
	_ = reg.Create("b.o", newComp("b.o"))

	if err := parseEdges("a.o-b.o;a.o-b.o", reg); err == nil {
		t.Error("parseEdges(duplicate edge, separate chunks): want error, got nil")
	}
}

func TestParseEdgesSchedulerAssignment(t *testing.T) {
	reg := registry.New()
	sched := newComp("sched.o")
	sched.IsScheduler = true
	client := newComp("client.o")
	_ = reg.Create("sched.o", sched)
	_ = reg.Create("client.o", client)

	if err := parseEdges("client.o-sched.o", reg); err != nil {
		t.Fatalf("parseEdges() error = %v", err)
	}
	if client.Scheduler != sched {
		t.Errorf("client.Scheduler = %v, want %v", client.Scheduler, sched)
	}
}

func TestSplitNonEmpty(t *testing.T) {
	got := splitNonEmpty("a;;b;", ';')
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("splitNonEmpty() = %v, want [a b]", got)
	}
	if got := splitNonEmpty("", ';'); got != nil {
		t.Errorf("splitNonEmpty(\"\") = %v, want nil", got)
	}
}
