package framebuf

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/camera-agents/internal/model"
)

func frame(seq uint64) *model.Frame {
	return &model.Frame{Seq: seq, Data: []byte{byte(seq)}}
}

func drain(c *Channel) []uint64 {
	var seqs []uint64
	for {
		f, ok := c.Read()
		if !ok {
			return seqs
		}
		seqs = append(seqs, f.Seq)
	}
}

func TestNew(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, ErrZeroCapacity)

	_, err = New(-3)
	assert.ErrorIs(t, err, ErrZeroCapacity)

	c, err := New(1)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Capacity())
	assert.True(t, c.IsEmpty())
	assert.False(t, c.IsFull())
}

func TestOverwriteOldest(t *testing.T) {
	c, err := New(3)
	require.NoError(t, err)

	var overwrites []bool
	for i := uint64(1); i <= 5; i++ {
		overwrites = append(overwrites, c.Write(frame(i)))
	}

	assert.Equal(t, []bool{false, false, false, true, true}, overwrites)
	assert.True(t, c.IsFull())
	assert.Equal(t, 3, c.Size())
	assert.Equal(t, []uint64{3, 4, 5}, drain(c))
	assert.True(t, c.IsEmpty())

	stats := c.Stats()
	assert.Equal(t, uint64(5), stats.Written)
	assert.Equal(t, uint64(3), stats.Read)
	assert.Equal(t, uint64(2), stats.Overwritten)
}

func TestBoundAndFIFO(t *testing.T) {
	const capacity = 4
	c, err := New(capacity)
	require.NoError(t, err)

	// Interleave writes and reads; a model queue tracks what must be readable.
	var expected []uint64
	seq := uint64(0)
	for round := 0; round < 50; round++ {
		writes := round%7 + 1
		for i := 0; i < writes; i++ {
			seq++
			c.Write(frame(seq))
			expected = append(expected, seq)
			if len(expected) > capacity {
				expected = expected[1:]
			}
			require.LessOrEqual(t, c.Size(), capacity)
		}
		reads := round % 3
		for i := 0; i < reads && len(expected) > 0; i++ {
			f, ok := c.Read()
			require.True(t, ok)
			require.Equal(t, expected[0], f.Seq)
			expected = expected[1:]
		}
		require.Equal(t, len(expected), c.Size())
	}
	assert.Equal(t, expected, drain(c))
}

func TestCopySemantics(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	src := &model.Frame{Seq: 1, Data: []byte{1, 2, 3}}
	c.Write(src)
	src.Data[0] = 42

	got, ok := c.Read()
	require.True(t, ok)
	assert.Equal(t, byte(1), got.Data[0])

	got.Data[1] = 99
	c.Write(got)
	again, ok := c.Read()
	require.True(t, ok)
	assert.Equal(t, byte(99), again.Data[1])
	assert.NotSame(t, got, again)
}

func TestNilWriteIgnored(t *testing.T) {
	c, err := New(1)
	require.NoError(t, err)
	assert.False(t, c.Write(nil))
	assert.True(t, c.IsEmpty())
}

func TestCapacityOne(t *testing.T) {
	c, err := New(1)
	require.NoError(t, err)

	assert.False(t, c.Write(frame(1)))
	assert.True(t, c.IsFull())
	assert.True(t, c.Write(frame(2)))
	assert.Equal(t, []uint64{2}, drain(c))
}

func TestReadySignal(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	select {
	case <-c.Ready():
		t.Fatal("ready before any write")
	default:
	}

	c.Write(frame(1))
	c.Write(frame(2))

	select {
	case <-c.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready not signalled")
	}
}

func TestProducerConsumer(t *testing.T) {
	c, err := New(8)
	require.NoError(t, err)

	const total = 2000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= total; i++ {
			c.Write(frame(i))
		}
	}()

	var last uint64
	deadline := time.After(5 * time.Second)
	for last < total {
		f, ok := c.Read()
		if !ok {
			select {
			case <-c.Ready():
			case <-deadline:
				t.Fatalf("consumer stalled at %d", last)
			}
			continue
		}
		require.Greater(t, f.Seq, last, "frames must arrive in order")
		last = f.Seq
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, uint64(total), stats.Written)
	assert.Equal(t, stats.Written, stats.Read+stats.Overwritten+uint64(stats.Size))
}
