package lifecycle

import (
	"encoding/json"

	"github.com/ibsim/ibus/bus"
	"github.com/ibsim/ibus/engine/model"
)

// SystemCommandKind is the closed set of commands a system controller
// issues to drive the shared participant lifecycle (§4.3).
type SystemCommandKind string

const (
	CommandInitialize      SystemCommandKind = "Initialize"
	CommandRun             SystemCommandKind = "Run"
	CommandPause           SystemCommandKind = "Pause"
	CommandContinue        SystemCommandKind = "Continue"
	CommandStop            SystemCommandKind = "Stop"
	CommandShutdown        SystemCommandKind = "Shutdown"
	CommandPrepareColdswap SystemCommandKind = "PrepareColdswap"
)

// SystemCommand is the IfidSystemCommand payload, broadcast to every
// required participant by the system controller.
type SystemCommand struct {
	Kind SystemCommandKind `json:"kind"`
}

func (SystemCommand) Category() string { return string(bus.CategoryCommand) }
func (SystemCommand) TypeName() string { return "lifecycle.SystemCommand" }

// ParticipantStatus is the IfidParticipantStatus payload a participant
// broadcasts on every lifecycle state change, and the system controller
// (or any RegisterSystemStateHandler caller) consumes to aggregate
// SystemState.
type ParticipantStatus struct {
	Participant string               `json:"participant"`
	State       model.LifecycleState `json:"state"`
	Reason      string               `json:"reason,omitempty"`
}

func (ParticipantStatus) Category() string { return string(bus.CategoryEvent) }
func (ParticipantStatus) TypeName() string { return "lifecycle.ParticipantStatus" }

// EncodeParticipantStatus marshals a ParticipantStatus for the
// IfidParticipantStatus wire payload.
func EncodeParticipantStatus(status ParticipantStatus) ([]byte, error) {
	return json.Marshal(status)
}

// DecodeParticipantStatus unmarshals an IfidParticipantStatus payload.
func DecodeParticipantStatus(payload []byte) (ParticipantStatus, error) {
	var status ParticipantStatus
	err := json.Unmarshal(payload, &status)
	return status, err
}

// EncodeSystemCommand marshals a SystemCommand for the IfidSystemCommand
// wire payload.
func EncodeSystemCommand(cmd SystemCommand) ([]byte, error) {
	return json.Marshal(cmd)
}

// DecodeSystemCommand unmarshals an IfidSystemCommand payload.
func DecodeSystemCommand(payload []byte) (SystemCommand, error) {
	var cmd SystemCommand
	err := json.Unmarshal(payload, &cmd)
	return cmd, err
}
