// Package election keeps exactly one leader per space. The lowest connected
// client id wins once the member set has been stable for SettleTicks ticks.
package election

import (
	"slices"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
)

type State uint8

const (
	StateNoLeader State = iota
	StateElecting
	StateLeader
	StateFollower
	// StateLost: the link dropped without a goodbye. Global logic stays
	// suspended until Start runs again.
	StateLost
)

func (s State) String() string {
	switch s {
	case StateNoLeader:
		return "no_leader"
	case StateElecting:
		return "electing"
	case StateLeader:
		return "leader"
	case StateFollower:
		return "follower"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

type Config struct {
	Enabled     bool `yaml:"enabled" env:"ENABLED"`
	SettleTicks int  `yaml:"settle_ticks" env:"SETTLE_TICKS"`
}

func DefaultConfig() Config {
	return Config{Enabled: true, SettleTicks: 2}
}

// Notifier announces the local client as leader to the rest of the space.
type Notifier func(leader models.ClientID) error

// ChangeFunc observes leader changes. Zero means no leader.
type ChangeFunc func(previous, current models.ClientID)

// Elector is driven from the tick goroutine only.
type Elector struct {
	config   Config
	notify   Notifier
	logger   log.Log
	onChange []ChangeFunc

	running bool
	self    models.ClientID
	members map[models.ClientID]struct{}
	state   State
	leader  models.ClientID
	settle  int
}

func New(config Config, notify Notifier, logger log.Log) *Elector {
	if config.SettleTicks < 1 {
		config.SettleTicks = 1
	}
	return &Elector{
		config:  config,
		notify:  notify,
		logger:  logger.With(log.String("component", "election")),
		members: make(map[models.ClientID]struct{}),
	}
}

// OnChange registers fn to run whenever the elected leader changes.
func (e *Elector) OnChange(fn ChangeFunc) {
	e.onChange = append(e.onChange, fn)
}

// Start begins participating with the given member set, self included.
func (e *Elector) Start(self models.ClientID, members []models.ClientID) {
	e.running = true
	e.self = self
	clear(e.members)
	e.members[self] = struct{}{}
	for _, m := range members {
		e.members[m] = struct{}{}
	}
	e.setLeader(0)
	e.state = StateNoLeader
	if e.config.Enabled {
		e.beginElection("start")
	}
}

// Stop leaves the space. Global logic runs locally afterwards.
func (e *Elector) Stop() {
	e.running = false
	clear(e.members)
	e.state = StateNoLeader
	e.setLeader(0)
}

// Lose records an involuntary disconnect. The rest of the space may still
// have a leader, so global logic is not run locally until the next Start.
func (e *Elector) Lose() {
	e.Stop()
	e.state = StateLost
}

func (e *Elector) MemberJoined(id models.ClientID) {
	if !e.running {
		return
	}
	if _, ok := e.members[id]; ok {
		return
	}
	e.members[id] = struct{}{}
	if !e.config.Enabled {
		return
	}

	switch e.state {
	case StateLeader, StateFollower:
		if e.lowest() != e.leader {
			e.beginElection("lower member joined")
			return
		}
		// the newcomer learns the settled leader from us
		if e.state == StateLeader {
			e.announce()
		}
	case StateNoLeader:
		e.beginElection("member joined")
	}
}

func (e *Elector) MemberLeft(id models.ClientID) {
	if !e.running {
		return
	}
	if _, ok := e.members[id]; !ok {
		return
	}
	delete(e.members, id)
	if !e.config.Enabled {
		return
	}
	if id == e.leader {
		e.setLeader(0)
		e.beginElection("leader left")
	}
}

// HandleNotification processes a ClientElectionMessage sent by from naming
// leader. A notification disagreeing with the local view restarts the
// election.
func (e *Elector) HandleNotification(from, leader models.ClientID) {
	if !e.running || !e.config.Enabled {
		return
	}
	if _, ok := e.members[from]; !ok {
		e.members[from] = struct{}{}
	}
	if _, ok := e.members[leader]; !ok {
		e.members[leader] = struct{}{}
	}
	if e.state == StateElecting {
		return
	}
	if expected := e.lowest(); expected != leader || e.leader != leader {
		e.logger.Debug("Conflicting election notification",
			log.Uint64("from", uint64(from)),
			log.Uint64("claimed", uint64(leader)),
			log.Uint64("expected", uint64(expected)),
		)
		e.beginElection("renegotiate")
	}
}

// Update advances the election by one tick.
func (e *Elector) Update() {
	if !e.running || !e.config.Enabled || e.state != StateElecting {
		return
	}
	e.settle--
	if e.settle > 0 {
		return
	}

	leader := e.lowest()
	e.setLeader(leader)
	if leader == e.self {
		e.state = StateLeader
		e.announce()
	} else {
		e.state = StateFollower
	}
	e.logger.Info("Leader elected",
		log.Uint64("leader", uint64(leader)),
		log.Bool("self", leader == e.self),
		log.Int("members", len(e.members)),
	)
}

// SetEnabled toggles enforcement. Disabled, every client runs global logic.
func (e *Elector) SetEnabled(enabled bool) {
	if e.config.Enabled == enabled {
		return
	}
	e.config.Enabled = enabled
	if e.state == StateLost {
		return
	}
	if !enabled {
		e.state = StateNoLeader
		e.setLeader(0)
		return
	}
	if e.running {
		e.beginElection("enabled")
	}
}

func (e *Elector) State() State  { return e.state }
func (e *Elector) Enabled() bool { return e.config.Enabled }

func (e *Elector) Leader() (models.ClientID, bool) {
	return e.leader, e.leader != 0
}

func (e *Elector) IsLeader() bool {
	return e.config.Enabled && e.state == StateLeader
}

// AllowsGlobalLogic reports whether session-global per-tick logic may run on
// this client now. It is suspended while an election is in progress.
func (e *Elector) AllowsGlobalLogic() bool {
	if e.state == StateLost {
		return false
	}
	if !e.config.Enabled || !e.running {
		return true
	}
	return e.state == StateLeader
}

// Members returns the known member ids in ascending order.
func (e *Elector) Members() []models.ClientID {
	out := make([]models.ClientID, 0, len(e.members))
	for id := range e.members {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (e *Elector) beginElection(reason string) {
	e.state = StateElecting
	e.settle = e.config.SettleTicks
	e.logger.Debug("Election started", log.String("reason", reason), log.Int("members", len(e.members)))
}

func (e *Elector) announce() {
	if e.notify == nil {
		return
	}
	if err := e.notify(e.self); err != nil {
		e.logger.Warn("Failed to announce leadership", log.Error(err))
	}
}

func (e *Elector) lowest() models.ClientID {
	var low models.ClientID
	for id := range e.members {
		if low == 0 || id < low {
			low = id
		}
	}
	return low
}

func (e *Elector) setLeader(id models.ClientID) {
	if e.leader == id {
		return
	}
	prev := e.leader
	e.leader = id
	for _, fn := range e.onChange {
		fn(prev, id)
	}
}
