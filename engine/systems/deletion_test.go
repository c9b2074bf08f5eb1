package systems

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimeline struct {
	signaled  uint64
	completed uint64
}

func (f *fakeTimeline) SignaledValue() uint64  { return f.signaled }
func (f *fakeTimeline) CompletedValue() uint64 { return f.completed }

func TestDeletionQueueRetiresInOrder(t *testing.T) {
	tl := &fakeTimeline{signaled: 4}
	dq := NewDeletionQueue(tl)

	var destroyed []string
	destroy := func(name string) func() error {
		return func() error {
			destroyed = append(destroyed, name)
			return nil
		}
	}
	dq.Defer("a", destroy("a"))
	tl.signaled = 5
	dq.Defer("b", destroy("b"))
	dq.Defer("c", destroy("c"))
	require.Equal(t, 3, dq.Len())

	// a was deferred while recording frame 5
	assert.Equal(t, 0, dq.Collect(4))
	assert.Equal(t, 1, dq.Collect(5))
	assert.Equal(t, []string{"a"}, destroyed)

	assert.Equal(t, 2, dq.Collect(9))
	assert.Equal(t, []string{"a", "b", "c"}, destroyed)
	assert.Equal(t, 0, dq.Len())
}

func TestDeletionQueueFlushJoinsErrors(t *testing.T) {
	dq := NewDeletionQueue(&fakeTimeline{})
	boom := errors.New("boom")
	calls := 0
	dq.Defer("ok", func() error { calls++; return nil })
	dq.Defer("bad", func() error { calls++; return boom })

	err := dq.Flush()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, dq.Len())
}

func TestDeletionQueueCollectKeepsGoingOnError(t *testing.T) {
	dq := NewDeletionQueue(&fakeTimeline{})
	calls := 0
	dq.Defer("bad", func() error { calls++; return errors.New("gone") })
	dq.Defer("ok", func() error { calls++; return nil })
	assert.Equal(t, 2, dq.Collect(1))
	assert.Equal(t, 2, calls)
}
