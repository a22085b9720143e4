package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibsim/ibus/engine/model"
)

func TestCanControllerSendFrameRequiresStarted(t *testing.T) {
	core := NewCore(newRecordingSender(), noopLogger{})
	c := NewCanController(core, "p1/can0", "CAN1", 500000)

	_, err := c.SendFrame(CanMessage{CanID: 0x100}, 0)
	require.Error(t, err)
	var stateErr *model.StateError
	require.ErrorAs(t, err, &stateErr)
}

func TestCanControllerSendFrameDeliversToPeerAndSynthesizesAck(t *testing.T) {
	sender := newRecordingSender()
	core := NewCore(sender, noopLogger{})

	c1 := NewCanController(core, "p1/can0", "CAN1", 500000)
	require.NoError(t, c1.Start())

	core.Subscribe(model.Subscription{Subscriber: "p2/can0", Link: "CAN1"}, false)

	var txFired bool
	c1.AddFrameHandler(CanTx, func(msg CanMessage) { txFired = true })

	ack, err := c1.SendFrame(CanMessage{CanID: 0x200, Data: []byte{1, 2, 3}, TxID: 7}, 1000)
	require.NoError(t, err)
	assert.Equal(t, CanTransmitted, ack.Status)
	assert.Equal(t, uint32(7), ack.UserContext)
	assert.True(t, txFired)

	assert.Len(t, sender.For("p2/can0"), 1)
}

func TestCanControllerStateMachineTransitions(t *testing.T) {
	core := NewCore(newRecordingSender(), noopLogger{})
	c := NewCanController(core, "p1/can0", "CAN1", 0)

	require.NoError(t, c.Start())
	assert.Equal(t, CanStarted, c.State())

	require.NoError(t, c.Sleep())
	assert.Equal(t, CanSleep, c.State())

	require.NoError(t, c.Stop())
	assert.Equal(t, CanStopped, c.State())

	c.Reset()
	assert.Equal(t, CanUninit, c.State())
}

func TestCanControllerDeliverFansOutToRxAndBothHandlers(t *testing.T) {
	core := NewCore(newRecordingSender(), noopLogger{})
	c := NewCanController(core, "p2/can0", "CAN1", 0)

	var rxCount, bothCount int
	c.AddFrameHandler(CanRx, func(CanMessage) { rxCount++ })
	c.AddFrameHandler(CanBoth, func(CanMessage) { bothCount++ })

	c.Deliver(CanMessage{CanID: 1})
	assert.Equal(t, 1, rxCount)
	assert.Equal(t, 1, bothCount)
}
