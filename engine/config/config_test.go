package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ibsim/ibus/engine/model"
)

func baseConfig() *Config {
	return &Config{
		ConfigVersion: "1.0",
		ConfigName:    "test",
		SimulationSetup: SimulationSetup{
			TimeSync: TimeSync{SyncPolicy: SyncUnsynchronized},
			Participants: []Participant{
				{
					Name: "P1",
					CAN: []ControllerConfig{
						{Name: "CAN1", Network: "CAN1", Kind: model.ServiceCAN},
					},
				},
				{
					Name: "P2",
					CAN: []ControllerConfig{
						{Name: "CAN1", Network: "CAN1", Kind: model.ServiceCAN},
					},
				},
			},
		},
		Middleware: DefaultMiddlewareConfig(),
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := baseConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsDuplicateQualifiedName(t *testing.T) {
	cfg := baseConfig()
	cfg.SimulationSetup.Participants[1].Name = "P1"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMixedLinkKinds(t *testing.T) {
	cfg := baseConfig()
	cfg.SimulationSetup.Participants[1].CAN = nil
	cfg.SimulationSetup.Participants[1].LIN = []ControllerConfig{
		{Name: "LIN1", Network: "CAN1", Kind: model.ServiceLIN},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsStrictSyncWithoutTickPeriod(t *testing.T) {
	cfg := baseConfig()
	cfg.SimulationSetup.TimeSync = TimeSync{SyncPolicy: SyncStrictTick}
	require.Error(t, cfg.Validate())

	cfg.SimulationSetup.TimeSync.TickPeriodNs = 1_000_000
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsStrictWithRunAsync(t *testing.T) {
	cfg := baseConfig()
	cfg.SimulationSetup.TimeSync = TimeSync{SyncPolicy: SyncStrictTick, TickPeriodNs: 1_000_000}
	cfg.SimulationSetup.Participants[0].ParticipantController = ParticipantControllerConfig{
		SyncType: SyncStrictTick,
		RunAsync: true,
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownTraceSinkReference(t *testing.T) {
	cfg := baseConfig()
	cfg.SimulationSetup.Participants[0].CAN[0].UseTraceSinks = []string{"missing"}
	require.Error(t, cfg.Validate())
}
