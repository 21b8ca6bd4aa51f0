// Package capability implements C7, the capability builder: for every
// resolved undefined symbol it materializes an invocation capability
// referencing the exporter's entry and the paired client/server stub
// symbols, tagging fault-handler capabilities with their kind along the
// way. Transparent capabilities carry no separate mark: the resolver adds
// them as ordinary undefined symbols. It is grounded on create_invocation_cap/cap_get_info in the
// original loader and shares diag's error vocabulary with the rest of the
// pipeline.
package capability

import (
	"github.com/xyproto/cosloader/internal/diag"
	"github.com/xyproto/cosloader/internal/registry"
	"github.com/xyproto/cosloader/internal/resolve"
)

// defaultClientStub is the fallback client trampoline used when a component
// does not export its own "<sym>_call" (SS_ipc_client_marshal_args in the
// original loader).
const defaultClientStub = "SS_ipc_client_marshal_args"

const (
	clientStubSuffix = "_call"
	serverStubSuffix = "_inv"
)

// Capability is an invocation capability record, spec §3/§4.7.
type Capability struct {
	Caller   *registry.Component
	Callee   *registry.Component
	RelOffset int

	ClientFn    string
	ClientStub  string
	ServerStub  string
	ServerEntry uint32

	FaultHandlerKind resolve.FaultHandlerKind
}

// Build constructs the capability records for every resolved undefined
// symbol in every component of reg, in component then symbol declaration
// order.
func Build(reg *registry.Registry) ([]Capability, error) {
	var caps []Capability
	for _, c := range reg.All() {
		for i := range c.Undef {
			s := &c.Undef[i]
			if s.Exporter == nil {
				continue // left unresolved is a bug in C4, not C7's concern to recheck
			}
			cap, err := buildOne(c, i, s)
			if err != nil {
				return nil, err
			}
			caps = append(caps, cap)
		}
	}
	return caps, nil
}

// buildOne builds the capability record for the undefined symbol at index
// relOffset in c.Undef, per spec §4.7.
func buildOne(c *registry.Component, relOffset int, s *registry.Symbol) (Capability, error) {
	exporter := s.Exporter
	exported := s.ExportedRef

	clientStub := s.Name + clientStubSuffix
	if c.ExportedByName(clientStub) == nil {
		clientStub = defaultClientStub
	}

	serverStub := exported.Name + serverStubSuffix
	if exporter.ExportedByName(serverStub) == nil {
		return Capability{}, diag.New(diag.KindResolution, exporter.Name, serverStub,
			"exporter is missing the server stub for an invocation capability")
	}

	return Capability{
		Caller:           c,
		Callee:           exporter,
		RelOffset:        relOffset,
		ClientFn:         s.Name,
		ClientStub:       clientStub,
		ServerStub:       serverStub,
		ServerEntry:      exported.Addr,
		FaultHandlerKind: resolve.FaultHandlerKindOf(s.Name),
	}, nil
}
