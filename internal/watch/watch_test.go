// internal/watch/watch_test.go
package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFanOut(t *testing.T) {
	queue := NewQueue(8)
	defer queue.Close()

	a, cancelA := queue.Subscribe()
	defer cancelA()
	b, cancelB := queue.Subscribe()
	defer cancelB()

	queue.Publish(SubnetCreated{Domain: "default", CIDR: "10.0.0.0/24"})
	queue.Publish(AddressAllocated{Domain: "default", IP: "10.0.0.5", FQDN: "www.example.com"})

	for _, ch := range []<-chan Event{a, b} {
		event := <-ch
		created, ok := event.(SubnetCreated)
		require.True(t, ok)
		assert.Equal(t, "10.0.0.0/24", created.CIDR)

		event = <-ch
		allocated, ok := event.(AddressAllocated)
		require.True(t, ok)
		assert.Equal(t, "10.0.0.5", allocated.IP)
	}
}

func TestQueueCancel(t *testing.T) {
	queue := NewQueue(8)
	defer queue.Close()

	ch, cancel := queue.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic or block
	queue.Publish(ZoneCreated{Zone: "example.com"})
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	queue := NewQueue(2)
	defer queue.Close()

	ch, cancel := queue.Subscribe()
	defer cancel()

	// Nothing reads, so the first publish falls out of the buffer
	queue.Publish(RecordsChanged{Zone: "a.example.com", Serial: 1})
	queue.Publish(RecordsChanged{Zone: "b.example.com", Serial: 2})
	queue.Publish(RecordsChanged{Zone: "c.example.com", Serial: 3})

	first := (<-ch).(RecordsChanged)
	second := (<-ch).(RecordsChanged)
	assert.Equal(t, "b.example.com", first.Zone)
	assert.Equal(t, "c.example.com", second.Zone)

	select {
	case event := <-ch:
		t.Fatalf("unexpected extra event: %v", event)
	default:
	}
}

func TestQueueClose(t *testing.T) {
	queue := NewQueue(8)
	ch, _ := queue.Subscribe()

	queue.Close()
	_, open := <-ch
	assert.False(t, open)

	// Subscribing after close yields a closed channel
	late, cancel := queue.Subscribe()
	defer cancel()
	_, open = <-late
	assert.False(t, open)

	// Closing twice is fine
	queue.Close()
}
