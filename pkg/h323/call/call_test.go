package call

import (
	"sync"
	"testing"
	"time"

	"github.com/arzzra/h323ep/pkg/h323/h225"
	"github.com/arzzra/h323ep/pkg/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCall(dir Direction) *Call {
	return New("h323_o_1", dir, Flags{}, timer.NewManualClock(time.Unix(0, 0)))
}

func TestStateOrdering(t *testing.T) {
	assert.False(t, StateConnected.Clearing())
	assert.False(t, StatePaused.Clearing())
	assert.True(t, StateClear.Clearing())
	assert.True(t, StateClearReleaseSent.Clearing())
	assert.True(t, StateRemoved.Clearing())
	assert.Equal(t, "CLEAR_RELEASERECVD", StateClearReleaseRecvd.String())
}

func TestClearKeepsFirstReason(t *testing.T) {
	c := newCall(Outgoing)
	c.State = StateConnected

	c.Clear(ReasonRemoteBusy)
	c.Clear(ReasonLocalCleared)
	assert.Equal(t, StateClear, c.State)
	assert.Equal(t, ReasonRemoteBusy, c.EndReason)

	c.State = StateClearReleaseSent
	c.Clear(ReasonLocalCleared)
	assert.Equal(t, StateClearReleaseSent, c.State, "Clear не откатывает более позднее состояние")
}

func TestNewCallIdentifiers(t *testing.T) {
	a := newCall(Outgoing)
	b := newCall(Outgoing)
	assert.NotEqual(t, a.CallID, b.CallID)
	assert.NotEqual(t, a.CallID, a.ConferenceID)
	assert.Equal(t, uint8(4), a.NextSessionID())
	assert.Equal(t, uint8(5), a.NextSessionID())
}

func TestChannelBookkeeping(t *testing.T) {
	c := newCall(Outgoing)
	tx1 := &LogicalChannel{Number: 1001, SessionID: SessionAudio, Direction: Transmit, State: ChannelEstablished}
	tx2 := &LogicalChannel{Number: 1002, SessionID: SessionAudio, Direction: Transmit, State: ChannelProposed}
	rx := &LogicalChannel{Number: 1001, SessionID: SessionAudio, Direction: Receive, State: ChannelEstablished}
	c.AddChannel(tx1)
	c.AddChannel(tx2)
	c.AddChannel(rx)

	assert.Same(t, tx1, c.FindChannel(1001, Transmit))
	assert.Same(t, rx, c.FindChannel(1001, Receive))
	assert.Equal(t, []*LogicalChannel{tx2}, c.Siblings(tx1))
	assert.Len(t, c.ChannelsFor(SessionAudio, Transmit, ChannelEstablished), 1)
	assert.Equal(t, 2, c.EstablishedCount())

	require.True(t, c.RemoveChannel(tx2))
	assert.False(t, c.RemoveChannel(tx2))
	assert.Empty(t, c.Siblings(tx1))
}

func TestReasonFromRelease(t *testing.T) {
	tests := []struct {
		msg  h225.Message
		want EndReason
	}{
		{h225.Message{Cause: h225.CauseUserBusy}, ReasonRemoteBusy},
		{h225.Message{Cause: h225.CauseNoAnswer}, ReasonRemoteNoAnswer},
		{h225.Message{Cause: h225.CauseCallRejected}, ReasonRemoteRejected},
		{h225.Message{Cause: h225.CauseNormalCallClearing}, ReasonRemoteCleared},
		{h225.Message{Cause: h225.CauseNormalCallClearing, HasReason: true, ReleaseReason: h225.ReasonCalledPartyNotRegistered}, ReasonGkNoCalledUser},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReasonFromRelease(&tt.msg))
	}

	cause, reason := Q931Cause(ReasonLocalBusy)
	assert.Equal(t, h225.CauseUserBusy, cause)
	assert.Equal(t, h225.ReasonAdaptiveBusy, reason)
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := New(r.NewToken(Incoming), Incoming, Flags{}, nil)
			assert.NoError(t, r.Add(c))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())

	tokens := r.Tokens()
	require.Len(t, tokens, 50)
	c, ok := r.Find(tokens[0])
	require.True(t, ok)
	assert.Error(t, r.Add(c), "повторная регистрация")
	assert.True(t, r.Remove(c.Token))
	assert.False(t, r.Remove(c.Token))
}

func TestCallReferenceSkipsZero(t *testing.T) {
	r := NewRegistry()
	r.callRef.Store(0x7FFF)
	assert.Equal(t, uint16(1), r.NextCallReference())
}
