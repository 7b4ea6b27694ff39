package election

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
)

type announcer struct {
	sent []models.ClientID
}

func (a *announcer) notify(leader models.ClientID) error {
	a.sent = append(a.sent, leader)
	return nil
}

func newElector(t *testing.T, cfg Config) (*Elector, *announcer) {
	t.Helper()
	a := &announcer{}
	return New(cfg, a.notify, log.NewNop()), a
}

func settle(e *Elector, ticks int) {
	for range ticks {
		e.Update()
	}
}

func TestLowestMemberWinsAfterSettle(t *testing.T) {
	e, a := newElector(t, DefaultConfig())
	e.Start(1, []models.ClientID{1, 2, 3})

	assert.Equal(t, StateElecting, e.State())
	assert.False(t, e.AllowsGlobalLogic())

	e.Update()
	assert.Equal(t, StateElecting, e.State())

	e.Update()
	assert.Equal(t, StateLeader, e.State())
	assert.True(t, e.IsLeader())
	assert.True(t, e.AllowsGlobalLogic())
	assert.Equal(t, []models.ClientID{1}, a.sent)

	leader, ok := e.Leader()
	assert.True(t, ok)
	assert.Equal(t, models.ClientID(1), leader)
}

func TestFollowerDoesNotAnnounce(t *testing.T) {
	e, a := newElector(t, DefaultConfig())
	e.Start(3, []models.ClientID{1, 2})
	settle(e, 2)

	assert.Equal(t, StateFollower, e.State())
	assert.False(t, e.IsLeader())
	assert.False(t, e.AllowsGlobalLogic())
	assert.Empty(t, a.sent)
}

func TestLeaderLossTriggersReelection(t *testing.T) {
	e, _ := newElector(t, DefaultConfig())
	e.Start(2, []models.ClientID{1, 3})
	settle(e, 2)
	require.Equal(t, StateFollower, e.State())

	var changes [][2]models.ClientID
	e.OnChange(func(prev, cur models.ClientID) { changes = append(changes, [2]models.ClientID{prev, cur}) })

	e.MemberLeft(3)
	assert.Equal(t, StateFollower, e.State(), "non-leader departure keeps the leader")

	e.MemberLeft(1)
	assert.Equal(t, StateElecting, e.State())
	assert.False(t, e.AllowsGlobalLogic(), "global logic is suspended while electing")

	settle(e, 2)
	assert.True(t, e.IsLeader())
	assert.Equal(t, [][2]models.ClientID{{1, 0}, {0, 2}}, changes)
}

func TestLeaderReannouncesToNewcomer(t *testing.T) {
	e, a := newElector(t, DefaultConfig())
	e.Start(1, nil)
	settle(e, 2)
	require.True(t, e.IsLeader())

	e.MemberJoined(5)
	assert.True(t, e.IsLeader())
	assert.Equal(t, []models.ClientID{1, 1}, a.sent)
	assert.Equal(t, []models.ClientID{1, 5}, e.Members())
}

func TestConflictingNotificationRenegotiates(t *testing.T) {
	e, _ := newElector(t, DefaultConfig())
	e.Start(4, []models.ClientID{2})
	settle(e, 2)
	require.Equal(t, StateFollower, e.State())

	// agreement is a no-op
	e.HandleNotification(2, 2)
	assert.Equal(t, StateFollower, e.State())

	// client 1 was not yet known locally
	e.HandleNotification(1, 1)
	assert.Equal(t, StateElecting, e.State())
	settle(e, 2)

	leader, _ := e.Leader()
	assert.Equal(t, models.ClientID(1), leader)
}

func TestDisabledElectionRunsGlobalLogicEverywhere(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	e, a := newElector(t, cfg)
	e.Start(1, []models.ClientID{2})
	settle(e, 3)

	assert.Equal(t, StateNoLeader, e.State())
	assert.False(t, e.IsLeader())
	assert.True(t, e.AllowsGlobalLogic())
	assert.Empty(t, a.sent)

	e.SetEnabled(true)
	settle(e, 2)
	assert.True(t, e.IsLeader())

	e.SetEnabled(false)
	assert.False(t, e.IsLeader())
	assert.True(t, e.AllowsGlobalLogic())
}

func TestOfflineRunsGlobalLogicLocally(t *testing.T) {
	e, _ := newElector(t, DefaultConfig())
	assert.True(t, e.AllowsGlobalLogic())

	e.Start(1, nil)
	assert.False(t, e.AllowsGlobalLogic())

	e.Stop()
	assert.True(t, e.AllowsGlobalLogic())
	assert.Equal(t, StateNoLeader, e.State())
}

// Several electors wired through a shared announcement channel converge on
// exactly one leader, and again after that leader drops out.
func TestSimulatedSpaceConvergesOnOneLeader(t *testing.T) {
	ids := []models.ClientID{7, 3, 9, 5}
	electors := make(map[models.ClientID]*Elector)
	var pending []models.ClientID

	for _, id := range ids {
		electors[id] = New(DefaultConfig(), func(leader models.ClientID) error {
			pending = append(pending, leader)
			return nil
		}, log.NewNop())
	}
	for _, id := range ids {
		electors[id].Start(id, ids)
	}

	tick := func() {
		for _, id := range ids {
			if e, ok := electors[id]; ok {
				e.Update()
			}
		}
		deliveries := pending
		pending = nil
		for _, leader := range deliveries {
			for id, e := range electors {
				if id != leader {
					e.HandleNotification(leader, leader)
				}
			}
		}
	}
	leaders := func() []models.ClientID {
		var out []models.ClientID
		for id, e := range electors {
			if e.IsLeader() {
				out = append(out, id)
			}
		}
		return out
	}

	for range 4 {
		tick()
	}
	assert.Equal(t, []models.ClientID{3}, leaders())

	delete(electors, 3)
	ids = []models.ClientID{7, 9, 5}
	for _, e := range electors {
		e.MemberLeft(3)
	}
	assert.Empty(t, leaders())

	for range 4 {
		tick()
	}
	assert.Equal(t, []models.ClientID{5}, leaders())
}

func TestLostLinkSuspendsGlobalLogicUntilRejoin(t *testing.T) {
	e, _ := newElector(t, DefaultConfig())
	e.Start(1, []models.ClientID{1, 2})
	settle(e, 2)
	require.True(t, e.IsLeader())

	e.Lose()
	assert.Equal(t, StateLost, e.State())
	assert.False(t, e.IsLeader())
	assert.False(t, e.AllowsGlobalLogic())

	e.SetEnabled(false)
	assert.False(t, e.AllowsGlobalLogic())
	e.SetEnabled(true)

	e.Start(3, []models.ClientID{2, 3})
	assert.False(t, e.AllowsGlobalLogic())
	settle(e, 2)
	assert.Equal(t, StateFollower, e.State())

	e.Lose()
	e.Stop()
	assert.True(t, e.AllowsGlobalLogic())
}
