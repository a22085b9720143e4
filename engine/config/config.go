// Package config provides the in-memory, already-validated configuration
// tree the core consumes (§6). Parsing JSON/YAML into this tree is an
// out-of-scope external collaborator; this package only models the tree
// and enforces the integrity rules in Validate.
package config

import (
	"github.com/ibsim/ibus/engine/model"
)

// SyncPolicy selects one of the four time-synchronization policies (§4.4).
type SyncPolicy string

const (
	SyncUnsynchronized     SyncPolicy = "Unsynchronized"
	SyncLooseQuantum       SyncPolicy = "LooseQuantumGrant"
	SyncStrictTick         SyncPolicy = "StrictTick"
	SyncDistributedQuantum SyncPolicy = "DistributedQuantum"
)

// TimeSync configures the simulation-wide time-sync policy.
type TimeSync struct {
	SyncPolicy  SyncPolicy `json:"syncPolicy"`
	TickPeriodNs int64     `json:"tickPeriodNs,omitempty"`
}

// Validate enforces "Strict sync requires nonzero tickPeriod" (§6, §9).
func (t *TimeSync) Validate() error {
	if t.SyncPolicy == SyncStrictTick && t.TickPeriodNs <= 0 {
		return model.NewMisconfigurationError("StrictTick sync policy requires a nonzero tickPeriodNs")
	}
	return nil
}

// LoggerConfig configures a participant's log sinks (internals out of
// scope; only the contract — sink list, flush level, remote opt-in — is
// modeled here, per §1).
type LoggerConfig struct {
	Sinks          []string `json:"sinks,omitempty"`
	FlushLevel     string   `json:"flushLevel,omitempty"`
	LogFromRemotes bool     `json:"logFromRemotes,omitempty"`
}

// ParticipantControllerConfig configures the lifecycle/time-sync role of a
// participant's own participant-controller (§4.3, §4.4).
type ParticipantControllerConfig struct {
	SyncType         SyncPolicy `json:"syncType,omitempty"`
	ExecTimeLimitSoftMs int     `json:"execTimeLimitSoftMs,omitempty"`
	ExecTimeLimitHardMs int     `json:"execTimeLimitHardMs,omitempty"`
	RunAsync         bool       `json:"runAsync,omitempty"`
}

// ControllerConfig configures one controller instance of any service kind
// (§6). Service-kind-specific fields the distillation does not need for
// validation (baud rate, VLAN id, etc.) live in the owning bus package's
// own config extension, keyed by Name.
type ControllerConfig struct {
	Name         string            `json:"name"`
	Network      string            `json:"network,omitempty"`
	Kind         model.ServiceKind `json:"kind"`
	UseTraceSinks []string         `json:"useTraceSinks,omitempty"`
	Replay       *ReplayConfig     `json:"replay,omitempty"`
}

// ReplayConfig configures MDF4/PCAP replay (hooks only — sources
// themselves are out of scope, §1).
type ReplayConfig struct {
	UseTraceSource string `json:"useTraceSource"`
	Direction      string `json:"direction"` // "Send" | "Receive" | "Both"
}

// TraceSinkConfig and TraceSourceConfig name an out-of-scope trace
// sink/source collaborator that controllers may reference (§6 integrity
// rule: referenced names must exist).
type TraceSinkConfig struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type TraceSourceConfig struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// NetworkSimulatorConfig names a detailed-simulator attachment for one or
// more links (§9 — the handoff seam; the simulator itself is out of
// scope).
type NetworkSimulatorConfig struct {
	Name  string   `json:"name"`
	Links []string `json:"links,omitempty"`
}

// Participant is one participant's full configuration (§6).
type Participant struct {
	Name                 string                       `json:"name"`
	Description          string                       `json:"description,omitempty"`
	Logger               LoggerConfig                 `json:"logger,omitempty"`
	ParticipantController ParticipantControllerConfig `json:"participantController,omitempty"`
	IsSyncMaster         bool                         `json:"isSyncMaster,omitempty"`

	CAN        []ControllerConfig `json:"canControllers,omitempty"`
	LIN        []ControllerConfig `json:"linControllers,omitempty"`
	FlexRay    []ControllerConfig `json:"flexrayControllers,omitempty"`
	Ethernet   []ControllerConfig `json:"ethernetControllers,omitempty"`
	GenericPub []ControllerConfig `json:"genericPublishers,omitempty"`
	GenericSub []ControllerConfig `json:"genericSubscribers,omitempty"`
	DataPub    []ControllerConfig `json:"dataPublishers,omitempty"`
	DataSub    []ControllerConfig `json:"dataSubscribers,omitempty"`
	RpcClient  []ControllerConfig `json:"rpcClients,omitempty"`
	RpcServer  []ControllerConfig `json:"rpcServers,omitempty"`

	TraceSinks        []TraceSinkConfig        `json:"traceSinks,omitempty"`
	TraceSources      []TraceSourceConfig      `json:"traceSources,omitempty"`
	NetworkSimulators []NetworkSimulatorConfig `json:"networkSimulators,omitempty"`
}

// AllControllers returns every controller configured for this participant
// across all service kinds, in a stable order.
func (p *Participant) AllControllers() []ControllerConfig {
	groups := [][]ControllerConfig{
		p.CAN, p.LIN, p.FlexRay, p.Ethernet,
		p.GenericPub, p.GenericSub, p.DataPub, p.DataSub,
		p.RpcClient, p.RpcServer,
	}
	var out []ControllerConfig
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// Validate checks per-participant integrity rules (§6).
func (p *Participant) Validate() error {
	if p.Name == "" {
		return model.NewMisconfigurationError("participant name must not be empty")
	}

	sinkNames := make(map[string]struct{}, len(p.TraceSinks))
	for _, s := range p.TraceSinks {
		sinkNames[s.Name] = struct{}{}
	}
	sourceNames := make(map[string]struct{}, len(p.TraceSources))
	for _, s := range p.TraceSources {
		sourceNames[s.Name] = struct{}{}
	}

	seen := make(map[string]struct{})
	for _, c := range p.AllControllers() {
		if c.Name == "" {
			return model.NewMisconfigurationError("participant %q: controller with empty name", p.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return model.NewMisconfigurationError("participant %q: duplicate controller name %q", p.Name, c.Name)
		}
		seen[c.Name] = struct{}{}

		for _, sinkName := range c.UseTraceSinks {
			if _, ok := sinkNames[sinkName]; !ok {
				return model.NewMisconfigurationError(
					"participant %q: controller %q references unknown trace sink %q", p.Name, c.Name, sinkName)
			}
		}
		if c.Replay != nil {
			if _, ok := sourceNames[c.Replay.UseTraceSource]; !ok {
				return model.NewMisconfigurationError(
					"participant %q: controller %q references unknown trace source %q",
					p.Name, c.Name, c.Replay.UseTraceSource)
			}
		}
	}

	if p.ParticipantController.SyncType == SyncStrictTick && p.ParticipantController.RunAsync {
		return model.NewMisconfigurationError(
			"participant %q: StrictTick sync policy must not be combined with asynchronous run (§9)", p.Name)
	}

	return nil
}

// Switch models an Ethernet switch with VLAN-tagged ports (§4.5).
type Switch struct {
	Name  string       `json:"name"`
	Ports []SwitchPort `json:"ports,omitempty"`
}

// SwitchPort configures one switch port's VLAN membership.
type SwitchPort struct {
	Name       string `json:"name"`
	VlanIDs    []int  `json:"vlanIds,omitempty"`
	NativeVlan int    `json:"nativeVlan,omitempty"`
}

// LinkConfig names a link and is used only for the integrity cross-check
// against controller/network references (§6); the routing core derives
// the authoritative model.Link set from controller registrations at
// runtime.
type LinkConfig struct {
	Name string            `json:"name"`
	Kind model.ServiceKind `json:"kind,omitempty"`
}

// SimulationSetup is the top-level simulation topology (§6).
type SimulationSetup struct {
	Participants []Participant `json:"participants"`
	Switches     []Switch      `json:"switches,omitempty"`
	Links        []LinkConfig  `json:"links,omitempty"`
	TimeSync     TimeSync      `json:"timeSync"`
}

// RegistryConfig configures the VAsio-style registry endpoint (§6).
type RegistryConfig struct {
	Hostname        string       `json:"hostname"`
	Port            int          `json:"port"`
	ConnectAttempts int          `json:"connectAttempts,omitempty"`
	Logger          LoggerConfig `json:"logger,omitempty"`
}

// MiddlewareConfig configures the VAsio transport (§4.1, §6).
type MiddlewareConfig struct {
	Registry              RegistryConfig `json:"registry"`
	TcpNoDelay            bool           `json:"tcpNoDelay,omitempty"`
	TcpQuickAck           bool           `json:"tcpQuickAck,omitempty"`
	TcpSendBufferSize     int            `json:"tcpSendBufferSize,omitempty"`
	TcpReceiveBufferSize  int            `json:"tcpReceiveBufferSize,omitempty"`
	EnableDomainSockets   bool           `json:"enableDomainSockets,omitempty"`
}

// DefaultMiddlewareConfig returns the "localhost:8500 class" default from §4.1.
func DefaultMiddlewareConfig() MiddlewareConfig {
	return MiddlewareConfig{
		Registry: RegistryConfig{
			Hostname:        "localhost",
			Port:            8500,
			ConnectAttempts: 1,
		},
	}
}

// Config is the root configuration tree (§6).
type Config struct {
	ConfigVersion   string          `json:"configVersion"`
	ConfigName      string          `json:"configName"`
	Description     string          `json:"description,omitempty"`
	SimulationSetup SimulationSetup `json:"simulationSetup"`
	Middleware      MiddlewareConfig `json:"middleware"`
}
