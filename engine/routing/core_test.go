package routing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibsim/ibus/engine/model"
)

type recordingSender struct {
	mu        sync.Mutex
	delivered map[string][]Delivery
}

func newRecordingSender() *recordingSender {
	return &recordingSender{delivered: make(map[string][]Delivery)}
}

func (s *recordingSender) SendTo(endpoint string, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[endpoint] = append(s.delivered[endpoint], d)
	return nil
}

func (s *recordingSender) For(endpoint string) []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.delivered[endpoint]))
	copy(out, s.delivered[endpoint])
	return out
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func TestPublishDeliversToMatchingSubscriberOnly(t *testing.T) {
	sender := newRecordingSender()
	core := NewCore(sender, noopLogger{})

	core.Subscribe(model.Subscription{Subscriber: "p2/rx", Link: "CAN1", Labels: model.LabelSet{{Key: "vehicle", Value: "A"}}}, false)
	core.Subscribe(model.Subscription{Subscriber: "p3/rx", Link: "CAN1", Labels: model.LabelSet{{Key: "vehicle", Value: "B"}}}, false)

	err := core.Publish("p1/tx", "CAN1", model.IfidCanMessage, model.LabelSet{{Key: "vehicle", Value: "A"}}, []byte("frame"), 100, 0)
	require.NoError(t, err)

	assert.Len(t, sender.For("p2/rx"), 1)
	assert.Empty(t, sender.For("p3/rx"))
}

func TestPublishPreservesPerPublisherFIFOSequence(t *testing.T) {
	sender := newRecordingSender()
	core := NewCore(sender, noopLogger{})
	core.Subscribe(model.Subscription{Subscriber: "sub", Link: "L"}, false)

	for i := 0; i < 3; i++ {
		require.NoError(t, core.Publish("pub", "L", model.IfidGenericData, nil, []byte{byte(i)}, int64(i), 0))
	}

	got := sender.For("sub")
	require.Len(t, got, 3)
	for i, d := range got {
		assert.Equal(t, uint64(i), d.Sequence)
	}
}

func TestHistoryReplayDeliversLastPayloadToLateSubscriber(t *testing.T) {
	sender := newRecordingSender()
	core := NewCore(sender, noopLogger{})

	require.NoError(t, core.Publish("pub", "L", model.IfidGenericData, nil, []byte("cached"), 42, 1))

	core.Subscribe(model.Subscription{Subscriber: "late", Link: "L"}, true)

	got := sender.For("late")
	require.Len(t, got, 1)
	assert.Equal(t, []byte("cached"), got[0].Payload)
}

func TestHistoryNotReplayedWithoutHistoryDepth(t *testing.T) {
	sender := newRecordingSender()
	core := NewCore(sender, noopLogger{})

	require.NoError(t, core.Publish("pub", "L", model.IfidGenericData, nil, []byte("not cached"), 42, 0))
	core.Subscribe(model.Subscription{Subscriber: "late", Link: "L"}, true)

	assert.Empty(t, sender.For("late"))
}

func TestSpecificSubscriptionNarrowsGeneralSubscription(t *testing.T) {
	sender := newRecordingSender()
	core := NewCore(sender, noopLogger{})

	core.Subscribe(model.Subscription{Subscriber: "sub", Link: "L"}, false)
	core.Subscribe(model.Subscription{Subscriber: "sub", Link: "L", Labels: model.LabelSet{{Key: "topic", Value: "x"}}, Specific: true}, false)

	require.NoError(t, core.Publish("pub", "L", model.IfidGenericData, model.LabelSet{{Key: "topic", Value: "x"}}, []byte("payload"), 0, 0))

	// Exactly one delivery: the specific registration claims it, the
	// general registration for the same subscriber does not double-fire.
	assert.Len(t, sender.For("sub"), 1)
}

func TestNewDataSourceFiresOnceForFirstPublication(t *testing.T) {
	sender := newRecordingSender()
	core := NewCore(sender, noopLogger{})

	var notified []string
	core.OnNewDataSource(func(subscriber, link, publisher string) {
		notified = append(notified, subscriber+"|"+link+"|"+publisher)
	})
	core.Subscribe(model.Subscription{Subscriber: "sub", Link: "L"}, false)

	require.NoError(t, core.Publish("pub", "L", model.IfidGenericData, nil, []byte("a"), 0, 0))
	require.NoError(t, core.Publish("pub", "L", model.IfidGenericData, nil, []byte("b"), 1, 0))

	assert.Equal(t, []string{"sub|L|pub"}, notified)
}

func TestSubscribersReturnsBothGeneralAndSpecific(t *testing.T) {
	sender := newRecordingSender()
	core := NewCore(sender, noopLogger{})
	core.Subscribe(model.Subscription{Subscriber: "a", Link: "L"}, false)
	core.Subscribe(model.Subscription{Subscriber: "b", Link: "L", Specific: true}, false)

	got := core.Subscribers("L")
	assert.ElementsMatch(t, []string{"a", "b"}, got)
}
