package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallTableResolveUnblocksWaiter(t *testing.T) {
	table := NewCallTable()
	handle := table.New()
	require.Equal(t, 1, table.Pending())

	go func() {
		time.Sleep(5 * time.Millisecond)
		ok := table.Resolve(handle.CorrelationID, "result", nil)
		require.True(t, ok)
	}()

	result, err := handle.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.Equal(t, 0, table.Pending())
}

func TestCallTableResolveUnknownCorrelationIDIsNoop(t *testing.T) {
	table := NewCallTable()
	assert.False(t, table.Resolve("missing", nil, nil))
}

func TestCallHandleWaitTimesOutWithoutResolve(t *testing.T) {
	handle := NewCallHandle()
	_, err := handle.Wait(context.Background(), 5*time.Millisecond)
	require.Error(t, err)
	var timeoutErr *QueryTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestCallHandleCompleteIsIdempotent(t *testing.T) {
	handle := NewCallHandle()
	handle.Complete("first", nil)
	handle.Complete("second", errors.New("ignored"))

	result, err := handle.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", result)
}

func TestCallTableForgetRemovesPendingEntry(t *testing.T) {
	table := NewCallTable()
	handle := table.New()
	table.Forget(handle.CorrelationID)
	assert.Equal(t, 0, table.Pending())
	assert.False(t, table.Resolve(handle.CorrelationID, nil, nil))
}
