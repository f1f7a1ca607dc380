package callmgr

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerSetStartAndFire(t *testing.T) {
	ts := newTimerSet()
	var fired int32
	ts.Start("a", 10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTimerSetStopPreventsFire(t *testing.T) {
	ts := newTimerSet()
	var fired int32
	ts.Start("a", 30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	ts.Stop("a")

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&fired))
}

func TestTimerSetStartReplaces(t *testing.T) {
	ts := newTimerSet()
	var first, second int32
	ts.Start("a", 30*time.Millisecond, func() { atomic.AddInt32(&first, 1) })
	ts.Start("a", 10*time.Millisecond, func() { atomic.AddInt32(&second, 1) })

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&first))
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))
}

func TestTimerSetStopAll(t *testing.T) {
	ts := newTimerSet()
	var fired int32
	for _, key := range []string{"a", "b", "c"} {
		ts.Start(key, 30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	}
	ts.StopAll()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&fired))
}

func TestWaiterSetResolveAndReject(t *testing.T) {
	ws := newWaiterSet()

	ch := ws.Create("call-1")
	assert.True(t, ws.Resolve("call-1", "hello"))
	res := <-ch
	assert.NoError(t, res.err)
	assert.Equal(t, "hello", res.text)

	// Completed waiters are gone.
	assert.False(t, ws.Resolve("call-1", "again"))

	ch2 := ws.Create("call-1")
	assert.True(t, ws.Reject("call-1", ErrCallEnded))
	assert.ErrorIs(t, (<-ch2).err, ErrCallEnded)
}

func TestWaiterSetCreateSupersedes(t *testing.T) {
	ws := newWaiterSet()

	old := ws.Create("call-1")
	fresh := ws.Create("call-1")

	assert.ErrorIs(t, (<-old).err, ErrWaitSuperseded)

	ws.Resolve("call-1", "for the new one")
	assert.Equal(t, "for the new one", (<-fresh).text)
}

func TestWaiterSetClearOnlyIfCurrent(t *testing.T) {
	ws := newWaiterSet()

	old := ws.Create("call-1")
	fresh := ws.Create("call-1")
	<-old

	// Clearing with the stale channel must not drop the successor.
	ws.Clear("call-1", old)
	assert.True(t, ws.Resolve("call-1", "still here"))
	assert.Equal(t, "still here", (<-fresh).text)

	ws.Clear("call-1", fresh)
	assert.False(t, ws.Resolve("call-1", "gone"))
}
