package channels

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arzzra/h323ep/pkg/h323/call"
)

func TestEmptyLoopGuard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmptyLoopLimit = 20 * time.Millisecond
	m := NewManager(cfg, nil)
	defer m.cancel()

	c := call.New("ooh323c_o_1", call.Outgoing, call.Flags{}, nil)
	l := newLoop(m, c)
	idle := func() {
		l.checkIdle()
		time.Sleep(2 * cfg.EmptyLoopLimit)
		l.checkIdle()
	}

	l.dialing = true
	idle()
	assert.Equal(t, call.StateCreated, c.State, "dialing in progress")

	l.dialing = false
	c.State = call.StateWaitingAdmission
	idle()
	assert.Equal(t, call.StateWaitingAdmission, c.State, "admission pending")

	c.State = call.StateCreated
	l.checkIdle()
	assert.Equal(t, call.StateCreated, c.State, "limit not reached")
	time.Sleep(2 * cfg.EmptyLoopLimit)
	l.checkIdle()
	assert.Equal(t, call.StateCleared, c.State)
	assert.Equal(t, call.ReasonTransportFailure, c.EndReason)
}
