package capability

import (
	"testing"

	"github.com/xyproto/cosloader/internal/registry"
)

func TestBuildDerivesDefaultClientStub(t *testing.T) {
	callee := &registry.Component{
		Name:     "pong.o",
		Exported: []registry.Symbol{{Name: "call", Addr: 0x2000}, {Name: "call_inv"}},
	}
	caller := &registry.Component{
		Name: "ping.o",
		Undef: []registry.Symbol{
			{Name: "call", Exporter: callee, ExportedRef: &callee.Exported[0]},
		},
	}
	reg := registry.New()
	_ = reg.Create("ping.o", caller)
	_ = reg.Create("pong.o", callee)

	caps, err := Build(reg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(caps) != 1 {
		t.Fatalf("Build() = %d caps, want 1", len(caps))
	}
	c := caps[0]
	if c.ClientStub != defaultClientStub {
		t.Errorf("ClientStub = %q, want default %q (no call_call exported)", c.ClientStub, defaultClientStub)
	}
	if c.ServerStub != "call_inv" {
		t.Errorf("ServerStub = %q, want call_inv", c.ServerStub)
	}
	if c.ServerEntry != 0x2000 {
		t.Errorf("ServerEntry = 0x%x, want 0x2000", c.ServerEntry)
	}
	if c.RelOffset != 0 {
		t.Errorf("RelOffset = %d, want 0", c.RelOffset)
	}
}

func TestBuildPrefersDeclaredClientStub(t *testing.T) {
	callee := &registry.Component{
		Name:     "pong.o",
		Exported: []registry.Symbol{{Name: "call"}, {Name: "call_inv"}},
	}
	caller := &registry.Component{
		Name:     "ping.o",
		Exported: []registry.Symbol{{Name: "call_call"}},
		Undef:    []registry.Symbol{{Name: "call", Exporter: callee, ExportedRef: &callee.Exported[0]}},
	}
	reg := registry.New()
	_ = reg.Create("ping.o", caller)
	_ = reg.Create("pong.o", callee)

	caps, err := Build(reg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if caps[0].ClientStub != "call_call" {
		t.Errorf("ClientStub = %q, want call_call", caps[0].ClientStub)
	}
}

func TestBuildMissingServerStubFails(t *testing.T) {
	callee := &registry.Component{Name: "pong.o", Exported: []registry.Symbol{{Name: "call"}}}
	caller := &registry.Component{
		Name:  "ping.o",
		Undef: []registry.Symbol{{Name: "call", Exporter: callee, ExportedRef: &callee.Exported[0]}},
	}
	reg := registry.New()
	_ = reg.Create("ping.o", caller)
	_ = reg.Create("pong.o", callee)

	if _, err := Build(reg); err == nil {
		t.Error("Build() with missing server stub: want error, got nil")
	}
}

func TestBuildTagsFaultHandler(t *testing.T) {
	callee := &registry.Component{
		Name:     "faults.o",
		Exported: []registry.Symbol{{Name: "fault_page_fault_handler"}, {Name: "fault_page_fault_handler_inv"}},
	}
	caller := &registry.Component{
		Name: "client.o",
		Undef: []registry.Symbol{
			{Name: "fault_page_fault_handler", Exporter: callee, ExportedRef: &callee.Exported[0]},
		},
	}
	reg := registry.New()
	_ = reg.Create("client.o", caller)
	_ = reg.Create("faults.o", callee)

	caps, err := Build(reg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if caps[0].FaultHandlerKind == 0 {
		t.Error("FaultHandlerKind = None, want a tagged fault handler kind")
	}
}

func TestBuildSkipsUnresolvedSymbols(t *testing.T) {
	caller := &registry.Component{Name: "a.o", Undef: []registry.Symbol{{Name: "never_bound"}}}
	reg := registry.New()
	_ = reg.Create("a.o", caller)

	caps, err := Build(reg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(caps) != 0 {
		t.Errorf("Build() = %d caps, want 0 for unresolved symbol", len(caps))
	}
}
