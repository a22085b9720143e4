package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinSendFrameHeaderOkWithExactlyOneProducer(t *testing.T) {
	core := NewCore(newRecordingSender(), noopLogger{})
	bus := NewLinBus(core, "LIN1")

	master := NewLinController(bus, "master/lin0")
	slave := NewLinController(bus, "slave/lin0")
	slave.ConfigureFrame(LinFrameConfig{FrameID: 0x10, Mode: LinTxUnconditional, ChecksumModel: LinChecksumEnhanced, DataLength: 4, Data: []byte{1, 2, 3, 4}})

	status := master.SendFrameHeader(0x10)
	assert.Equal(t, LinRxOk, status)
}

func TestLinSendFrameHeaderNoResponseWithoutProducer(t *testing.T) {
	core := NewCore(newRecordingSender(), noopLogger{})
	bus := NewLinBus(core, "LIN1")
	master := NewLinController(bus, "master/lin0")

	status := master.SendFrameHeader(0x20)
	assert.Equal(t, LinRxNoResponse, status)
}

func TestLinSendFrameHeaderErrorWithMultipleProducers(t *testing.T) {
	core := NewCore(newRecordingSender(), noopLogger{})
	bus := NewLinBus(core, "LIN1")
	master := NewLinController(bus, "master/lin0")
	s1 := NewLinController(bus, "s1/lin0")
	s2 := NewLinController(bus, "s2/lin0")
	s1.ConfigureFrame(LinFrameConfig{FrameID: 0x30, Mode: LinTxUnconditional})
	s2.ConfigureFrame(LinFrameConfig{FrameID: 0x30, Mode: LinTxUnconditional})

	status := master.SendFrameHeader(0x30)
	assert.Equal(t, LinRxError, status)
}

func TestLinSendFrameOkWithMatchingRxSlave(t *testing.T) {
	core := NewCore(newRecordingSender(), noopLogger{})
	bus := NewLinBus(core, "LIN1")
	master := NewLinController(bus, "master/lin0")
	slave := NewLinController(bus, "slave/lin0")
	slave.ConfigureFrame(LinFrameConfig{FrameID: 0x40, Mode: LinRx, ChecksumModel: LinChecksumEnhanced, DataLength: 2})

	status := master.SendFrame(LinFrameConfig{FrameID: 0x40, ChecksumModel: LinChecksumEnhanced, DataLength: 2}, []byte{0, 0})
	assert.Equal(t, LinRxOk, status)
}

func TestLinSendFrameNoDeliveryWhenSlaveUnused(t *testing.T) {
	core := NewCore(newRecordingSender(), noopLogger{})
	bus := NewLinBus(core, "LIN1")
	master := NewLinController(bus, "master/lin0")
	slave := NewLinController(bus, "slave/lin0")
	slave.ConfigureFrame(LinFrameConfig{FrameID: 0x41, Mode: LinUnused, ChecksumModel: LinChecksumClassic, DataLength: 6})

	var delivered bool
	master.SetFrameHandler(func(uint8, []byte, LinFrameStatus) { delivered = true })

	status := master.SendFrame(LinFrameConfig{FrameID: 0x41, ChecksumModel: LinChecksumClassic, DataLength: 6}, []byte{1, 7, 1, 7, 1, 7})
	assert.Equal(t, LinRxNoResponse, status)
	assert.False(t, delivered, "an Unused slave must not produce a frame status callback")
}

func TestLinSendFrameErrorOnChecksumMismatch(t *testing.T) {
	core := NewCore(newRecordingSender(), noopLogger{})
	bus := NewLinBus(core, "LIN1")
	master := NewLinController(bus, "master/lin0")
	slave := NewLinController(bus, "slave/lin0")
	slave.ConfigureFrame(LinFrameConfig{FrameID: 0x42, Mode: LinRx, ChecksumModel: LinChecksumClassic, DataLength: 8})

	status := master.SendFrame(LinFrameConfig{FrameID: 0x42, ChecksumModel: LinChecksumEnhanced, DataLength: 8}, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	assert.Equal(t, LinRxError, status)
}

func TestLinSendFrameErrorOnDataLengthMismatch(t *testing.T) {
	core := NewCore(newRecordingSender(), noopLogger{})
	bus := NewLinBus(core, "LIN1")
	master := NewLinController(bus, "master/lin0")
	slave := NewLinController(bus, "slave/lin0")
	slave.ConfigureFrame(LinFrameConfig{FrameID: 0x43, Mode: LinRx, ChecksumModel: LinChecksumClassic, DataLength: 1})

	status := master.SendFrame(LinFrameConfig{FrameID: 0x43, ChecksumModel: LinChecksumClassic, DataLength: 8}, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	assert.Equal(t, LinRxError, status)
}

// TestLinScenarioS2MasterSlave reproduces spec.md §8 S2 verbatim: the
// slave is configured Rx(16), Unused(17), Rx(18,classic,dl=8),
// Rx(19,enhanced,dl=1), TxUnconditional(34); the master transmits
// master-supplied data for 16/17/18/19 and a header-only request for 34.
func TestLinScenarioS2MasterSlave(t *testing.T) {
	core := NewCore(newRecordingSender(), noopLogger{})
	bus := NewLinBus(core, "LIN1")
	master := NewLinController(bus, "master/lin0")
	slave := NewLinController(bus, "slave/lin0")

	slave.ConfigureFrame(LinFrameConfig{FrameID: 16, Mode: LinRx, ChecksumModel: LinChecksumClassic, DataLength: 6})
	slave.ConfigureFrame(LinFrameConfig{FrameID: 17, Mode: LinUnused, ChecksumModel: LinChecksumClassic, DataLength: 6})
	slave.ConfigureFrame(LinFrameConfig{FrameID: 18, Mode: LinRx, ChecksumModel: LinChecksumClassic, DataLength: 8})
	slave.ConfigureFrame(LinFrameConfig{FrameID: 19, Mode: LinRx, ChecksumModel: LinChecksumEnhanced, DataLength: 1})
	slave.ConfigureFrame(LinFrameConfig{FrameID: 34, Mode: LinTxUnconditional, ChecksumModel: LinChecksumEnhanced, DataLength: 6, Data: []byte{3, 4, 3, 4, 3, 4}})

	var delivered17 bool
	master.SetFrameHandler(func(frameID uint8, _ []byte, _ LinFrameStatus) {
		if frameID == 17 {
			delivered17 = true
		}
	})

	status16 := master.SendFrame(LinFrameConfig{FrameID: 16, ChecksumModel: LinChecksumClassic, DataLength: 6}, []byte{1, 6, 1, 6, 1, 6})
	status17 := master.SendFrame(LinFrameConfig{FrameID: 17, ChecksumModel: LinChecksumClassic, DataLength: 6}, []byte{1, 7, 1, 7, 1, 7})
	status18 := master.SendFrame(LinFrameConfig{FrameID: 18, ChecksumModel: LinChecksumEnhanced, DataLength: 8}, make([]byte, 8))
	status19 := master.SendFrame(LinFrameConfig{FrameID: 19, ChecksumModel: LinChecksumClassic, DataLength: 8}, make([]byte, 8))
	status34 := master.SendFrameHeader(34)

	assert.Equal(t, LinRxOk, status16)
	assert.Equal(t, LinRxNoResponse, status17)
	assert.False(t, delivered17, "an Unused slave yields no delivery at all, not a status")
	assert.Equal(t, LinRxError, status18, "checksum model mismatch")
	assert.Equal(t, LinRxError, status19, "data length mismatch")
	require.Equal(t, LinRxOk, status34)
}

func TestLinGoToSleepPutsAllSlavesToSleep(t *testing.T) {
	core := NewCore(newRecordingSender(), noopLogger{})
	bus := NewLinBus(core, "LIN1")
	master := NewLinController(bus, "master/lin0")
	slave := NewLinController(bus, "slave/lin0")
	slave.state = LinOperational

	status := master.SendFrame(LinFrameConfig{FrameID: goToSleepFrameID}, []byte{0x00, 0xFF})
	assert.Equal(t, LinRxOk, status)
	assert.Equal(t, LinSleep, slave.State())
}

func TestLinWakeupReturnsToOperational(t *testing.T) {
	core := NewCore(newRecordingSender(), noopLogger{})
	bus := NewLinBus(core, "LIN1")
	slave := NewLinController(bus, "slave/lin0")
	slave.EnterSleep()

	err := slave.Wakeup()
	assert.NoError(t, err)
	assert.Equal(t, LinOperational, slave.State())
}
