// Package game runs self-contained prediction-game simulations: a handful of
// agents receive clues about a question whose outcome is fixed up front, bet
// on it over a number of simulated days, and post about it. Every step is
// appended to an ordered event log and dispatched to subscribers.
//
// The simulator keeps its own simplified odds model and does not use the
// amm package.
package game

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
)

// Event types, in the order they first appear in a run.
const (
	EventGameStarted     = "game:started"
	EventDayChanged      = "day:changed"
	EventClueDistributed = "clue:distributed"
	EventAgentBet        = "agent:bet"
	EventMarketUpdated   = "market:updated"
	EventAgentPost       = "agent:post"
	EventOutcomeRevealed = "outcome:revealed"
	EventGameEnded       = "game:ended"
)

// Defaults for Config fields left at zero.
const (
	DefaultNumAgents         = 5
	DefaultDuration          = 30
	DefaultInsiderPercentage = 0.3
)

const (
	numClues          = 12
	maxCluesPerAgent  = 5
	leakProbability   = 0.3
	betProbability    = 0.5
	minBet            = 50.0
	betRange          = 100.0
	postEveryNDays    = 3
	postingAgents     = 2
	winnerReputation  = 10
	loserReputation   = -5
	lateBettingDay    = 20
	periodicBetEveryN = 5
)

// Config controls a simulation run.
type Config struct {
	Outcome           bool          `json:"outcome"`
	NumAgents         int           `json:"num_agents"`
	Duration          int           `json:"duration"` // days
	InsiderPercentage float64       `json:"insider_percentage"`
	DayDelay          time.Duration `json:"day_delay"` // wall-clock pause between days
	Seed              int64         `json:"seed"`      // 0 picks a time-based seed
}

func (c Config) withDefaults() Config {
	if c.NumAgents <= 0 {
		c.NumAgents = DefaultNumAgents
	}
	if c.Duration <= 0 {
		c.Duration = DefaultDuration
	}
	if c.InsiderPercentage <= 0 || c.InsiderPercentage > 1 {
		c.InsiderPercentage = DefaultInsiderPercentage
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// Clue tiers.
const (
	TierEarly = "early"
	TierMid   = "mid"
	TierLate  = "late"
)

// Clue is a hint about the outcome released on a given day.
type Clue struct {
	ID           string  `json:"id"`
	Day          int     `json:"day"`
	Tier         string  `json:"tier"`
	Content      string  `json:"content"`
	PointsToward bool    `json:"points_toward"`
	Reliability  float64 `json:"reliability"`
}

// Agent is a simulated participant and its end-of-game state.
type Agent struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	IsInsider       bool     `json:"is_insider"`
	Clues           []string `json:"clues"`
	YesShares       float64  `json:"yes_shares"`
	NoShares        float64  `json:"no_shares"`
	ReputationDelta int      `json:"reputation_delta"`

	received []Clue
}

// Market is the simulator's running YES/NO book. Odds are integer percents.
type Market struct {
	YesShares float64 `json:"yes_shares"`
	NoShares  float64 `json:"no_shares"`
	YesOdds   int     `json:"yes_odds"`
	NoOdds    int     `json:"no_odds"`
}

// Event is one entry in the run's log. Only the fields relevant to Type are
// set.
type Event struct {
	Type      string    `json:"type"`
	Day       int       `json:"day"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id,omitempty"`
	ClueID    string    `json:"clue_id,omitempty"`
	Side      string    `json:"side,omitempty"`
	Amount    float64   `json:"amount,omitempty"`
	Shares    float64   `json:"shares,omitempty"`
	Content   string    `json:"content,omitempty"`
	Market    *Market   `json:"market,omitempty"`
	Outcome   *bool     `json:"outcome,omitempty"`
	Winners   []string  `json:"winners,omitempty"`
}

// GameResult is the complete record of one run.
type GameResult struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Outcome   bool      `json:"outcome"`
	Seed      int64     `json:"seed"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Events    []Event   `json:"events"`
	Agents    []Agent   `json:"agents"`
	Clues     []Clue    `json:"clues"`
	Market    Market    `json:"market"`
	Winners   []string  `json:"winners"`
}

// Simulator runs one game. It is not safe for concurrent use; create one per
// run.
type Simulator struct {
	cfg       Config
	rng       *rand.Rand
	now       func() time.Time
	listeners []func(Event)

	day      int
	question string
	agents   []*Agent
	clues    []Clue
	market   Market
	events   []Event
}

// NewSimulator creates a simulator for cfg, filling in defaults.
func NewSimulator(cfg Config) *Simulator {
	cfg = cfg.withDefaults()
	return &Simulator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		now: time.Now,
	}
}

// Config returns the effective configuration, defaults applied.
func (s *Simulator) Config() Config {
	return s.cfg
}

// Subscribe registers fn to receive every event synchronously, in order, as
// it is emitted.
func (s *Simulator) Subscribe(fn func(Event)) {
	s.listeners = append(s.listeners, fn)
}

// Run plays the game to the end. It stops early only if ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) (*GameResult, error) {
	start := s.now()
	s.setup()

	s.emit(Event{Type: EventGameStarted, Content: s.question, Market: s.snapshot()})

	for s.day = 1; s.day <= s.cfg.Duration; s.day++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.emit(Event{Type: EventDayChanged})
		s.distributeClues()
		s.placeBets()
		s.post()

		if s.cfg.DayDelay > 0 && s.day < s.cfg.Duration {
			t := time.NewTimer(s.cfg.DayDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
	s.day = s.cfg.Duration

	outcome := s.cfg.Outcome
	s.emit(Event{Type: EventOutcomeRevealed, Outcome: &outcome})
	winners := s.settle()
	s.emit(Event{Type: EventGameEnded, Winners: winners, Market: s.snapshot()})

	agents := make([]Agent, len(s.agents))
	for i, a := range s.agents {
		agents[i] = *a
	}
	return &GameResult{
		ID:        uuid.New().String(),
		Question:  s.question,
		Outcome:   outcome,
		Seed:      s.cfg.Seed,
		StartTime: start,
		EndTime:   s.now(),
		Events:    s.events,
		Agents:    agents,
		Clues:     s.clues,
		Market:    s.market,
		Winners:   winners,
	}, nil
}

func (s *Simulator) emit(e Event) {
	e.Day = s.day
	e.Timestamp = s.now()
	s.events = append(s.events, e)
	for _, fn := range s.listeners {
		fn(e)
	}
}

func (s *Simulator) snapshot() *Market {
	m := s.market
	return &m
}

var questions = []string{
	"Will the central bank cut rates before the end of the quarter?",
	"Will the flagship product launch ship on schedule?",
	"Will the merger between the two largest studios be approved?",
	"Will the championship final go to overtime?",
	"Will the new transit line open to the public this month?",
	"Will the quarterly earnings beat analyst expectations?",
}

var agentNames = []string{
	"Atlas", "Beacon", "Cipher", "Drift", "Echo", "Flux", "Glint", "Halo",
	"Ion", "Jolt", "Kite", "Lumen", "Mica", "Nova", "Onyx", "Pulse",
}

var clueTemplates = map[string][]string{
	TierEarly: {
		"Rumors suggest the answer is %s.",
		"An early source hints at %s.",
		"Chatter in private channels leans %s.",
		"A preliminary report points to %s.",
	},
	TierMid: {
		"A credible insider indicates %s.",
		"Leaked documents support %s.",
		"Multiple sources now agree on %s.",
		"Internal memos suggest %s.",
	},
	TierLate: {
		"Near-final data strongly indicates %s.",
		"An official close to the matter confirms %s.",
		"The last checkpoint all but guarantees %s.",
		"Public filings now point clearly to %s.",
	},
}

func (s *Simulator) setup() {
	s.question = questions[s.rng.Intn(len(questions))]
	s.market = Market{YesOdds: 50, NoOdds: 50}

	insiders := int(math.Floor(float64(s.cfg.NumAgents) * s.cfg.InsiderPercentage))
	s.agents = make([]*Agent, s.cfg.NumAgents)
	for i := range s.agents {
		name := agentNames[i%len(agentNames)]
		if i >= len(agentNames) {
			name = fmt.Sprintf("%s-%d", name, i/len(agentNames)+1)
		}
		s.agents[i] = &Agent{
			ID:        fmt.Sprintf("agent-%d", i+1),
			Name:      name,
			IsInsider: i < insiders,
			Clues:     []string{},
		}
	}

	s.clues = s.generateClues()
}

// generateClues spreads numClues evenly over the early, mid and late thirds
// of the game. Every clue points toward the true outcome.
func (s *Simulator) generateClues() []Clue {
	tiers := []string{TierEarly, TierMid, TierLate}
	perTier := numClues / len(tiers)
	span := s.cfg.Duration / len(tiers)
	if span < 1 {
		span = 1
	}

	label := "NO"
	if s.cfg.Outcome {
		label = "YES"
	}

	clues := make([]Clue, 0, numClues)
	for t, tier := range tiers {
		first := t*span + 1
		for i := 0; i < perTier; i++ {
			day := first + s.rng.Intn(span)
			if day > s.cfg.Duration {
				day = s.cfg.Duration
			}
			tmpl := clueTemplates[tier][i%len(clueTemplates[tier])]
			clues = append(clues, Clue{
				ID:           fmt.Sprintf("clue-%d", len(clues)+1),
				Day:          day,
				Tier:         tier,
				Content:      fmt.Sprintf(tmpl, label),
				PointsToward: s.cfg.Outcome,
				Reliability:  0.7 + s.rng.Float64()*0.3,
			})
		}
	}
	return clues
}

// distributeClues hands today's clues to every insider with room, and with
// some probability leaks each clue to one random outsider.
func (s *Simulator) distributeClues() {
	var outsiders []*Agent
	for _, a := range s.agents {
		if !a.IsInsider {
			outsiders = append(outsiders, a)
		}
	}

	for _, c := range s.clues {
		if c.Day != s.day {
			continue
		}
		for _, a := range s.agents {
			if a.IsInsider {
				s.give(a, c)
			}
		}
		if len(outsiders) > 0 && s.rng.Float64() < leakProbability {
			s.give(outsiders[s.rng.Intn(len(outsiders))], c)
		}
	}
}

func (s *Simulator) give(a *Agent, c Clue) {
	if len(a.received) >= maxCluesPerAgent {
		return
	}
	a.received = append(a.received, c)
	a.Clues = append(a.Clues, c.ID)
	s.emit(Event{Type: EventClueDistributed, AgentID: a.ID, ClueID: c.ID, Content: c.Content})
}

// belief is the side an agent's clues favor; ties go to YES.
func (a *Agent) belief() bool {
	yes := 0
	for _, c := range a.received {
		if c.PointsToward {
			yes++
		}
	}
	return yes*2 >= len(a.received)
}

func (s *Simulator) placeBets() {
	window := s.day%periodicBetEveryN == 0 || s.day > lateBettingDay
	for _, a := range s.agents {
		if len(a.received) == 0 || !window || s.rng.Float64() >= betProbability {
			continue
		}

		side := a.belief()
		amount := minBet + s.rng.Float64()*betRange
		odds := s.market.NoOdds
		if side {
			odds = s.market.YesOdds
		}
		odds = min(max(odds, 1), 99)
		shares := amount / float64(odds) * 100

		label := "NO"
		if side {
			label = "YES"
			a.YesShares += shares
			s.market.YesShares += shares
		} else {
			a.NoShares += shares
			s.market.NoShares += shares
		}
		s.reprice()

		s.emit(Event{Type: EventAgentBet, AgentID: a.ID, Side: label, Amount: amount, Shares: shares})
		s.emit(Event{Type: EventMarketUpdated, Market: s.snapshot()})
	}
}

func (s *Simulator) reprice() {
	total := s.market.YesShares + s.market.NoShares
	if total <= 0 {
		s.market.YesOdds, s.market.NoOdds = 50, 50
		return
	}
	s.market.YesOdds = int(math.Round(s.market.YesShares / total * 100))
	s.market.NoOdds = 100 - s.market.YesOdds
}

func (s *Simulator) post() {
	if s.day%postEveryNDays != 0 {
		return
	}
	for i := 0; i < postingAgents && i < len(s.agents); i++ {
		a := s.agents[i]
		var content string
		switch {
		case len(a.received) == 0:
			content = fmt.Sprintf("Day %d: still gathering information. Market says %d%% YES.", s.day, s.market.YesOdds)
		case a.belief():
			content = fmt.Sprintf("Day %d: my sources point to YES. %d clues so far.", s.day, len(a.received))
		default:
			content = fmt.Sprintf("Day %d: I'm leaning NO. %d clues so far.", s.day, len(a.received))
		}
		s.emit(Event{Type: EventAgentPost, AgentID: a.ID, Content: content})
	}
}

// settle picks the winners (agents holding strictly more of the winning
// side) and assigns flat reputation deltas.
func (s *Simulator) settle() []string {
	winners := []string{}
	for _, a := range s.agents {
		won := a.NoShares > a.YesShares
		if s.cfg.Outcome {
			won = a.YesShares > a.NoShares
		}
		if won {
			a.ReputationDelta = winnerReputation
			winners = append(winners, a.ID)
		} else {
			a.ReputationDelta = loserReputation
		}
	}
	return winners
}

// SaveResult writes result to path as indented JSON.
func SaveResult(path string, result *GameResult) error {
	return writeJSON(path, result)
}

// SaveResults writes several results to path as one JSON array.
func SaveResults(path string, results []*GameResult) error {
	return writeJSON(path, results)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode game result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
