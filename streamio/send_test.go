package streamio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendStreamFragmentsAndFins(t *testing.T) {
	s := NewSendStream(1)
	s.Enqueue([]byte("hello"), nil)
	s.Done()

	off, payload, fin, ok := s.NextFragment(3)
	require.True(t, ok)
	require.Equal(t, uint64(0), off)
	require.Equal(t, []byte("hel"), payload)
	require.False(t, fin)

	off, payload, fin, ok = s.NextFragment(3)
	require.True(t, ok)
	require.Equal(t, uint64(3), off)
	require.Equal(t, []byte("lo"), payload)
	require.True(t, fin)
	require.Equal(t, SendSent, s.State)

	_, _, _, ok = s.NextFragment(3)
	require.False(t, ok)
}

func TestSendStreamAckReleasesCompletion(t *testing.T) {
	s := NewSendStream(1)
	completed := false
	s.Enqueue([]byte("hello"), func() { completed = true })
	s.Done()
	s.NextFragment(100)

	s.OnAck(0, 5)
	require.True(t, completed)
	require.True(t, s.Acked())
}

func TestSendStreamOutOfOrderAck(t *testing.T) {
	s := NewSendStream(1)
	var order []int
	s.Enqueue([]byte("aaaaa"), func() { order = append(order, 1) }) // offset 0..5
	s.Enqueue([]byte("bbbbb"), func() { order = append(order, 2) }) // offset 5..10
	s.Done()
	s.NextFragment(100)
	s.NextFragment(100)

	// Ack the second item first: it becomes outstanding, not yet released.
	s.OnAck(5, 5)
	require.Empty(t, order)
	require.Equal(t, uint64(0), s.AckedOffset)

	// Now ack the first item: drains the outstanding entry too.
	s.OnAck(0, 5)
	require.Equal(t, []int{1, 2}, order)
	require.Equal(t, uint64(10), s.AckedOffset)
	require.True(t, s.Acked())
}

func TestSendStreamUnsentAndUnacked(t *testing.T) {
	s := NewSendStream(1)
	s.Enqueue([]byte("0123456789"), nil)
	require.Equal(t, uint64(10), s.UnsentAndUnacked())
	s.NextFragment(4)
	require.Equal(t, uint64(10), s.UnsentAndUnacked()) // still unacked even though sent
	s.OnAck(0, 4)
	require.Equal(t, uint64(6), s.UnsentAndUnacked())
}
