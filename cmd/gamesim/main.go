// Command gamesim runs one or more prediction-game simulations and prints,
// saves or archives the results.
//
//	gamesim --outcome=YES --count=10 --fast --save=games.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/babylon/engine/internal/game"
	"github.com/babylon/engine/internal/gamestore"
)

const defaultDayDelay = 100 * time.Millisecond

type options struct {
	outcome string
	count   int
	save    string
	fast    bool
	verbose bool
	json    bool
	agents  int
	days    int
	seed    int64
	db      string
	delay   time.Duration
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("gamesim failed", "err", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("gamesim", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.outcome, "outcome", "", "predetermined outcome YES or NO (random when empty)")
	fs.IntVar(&o.count, "count", 1, "number of games to run")
	fs.StringVar(&o.save, "save", "", "write results as JSON to this file")
	fs.BoolVar(&o.fast, "fast", false, "skip the pause between simulated days")
	fs.BoolVar(&o.verbose, "verbose", false, "print every event")
	fs.BoolVar(&o.json, "json", false, "print results as JSON instead of a summary")
	fs.IntVar(&o.agents, "agents", game.DefaultNumAgents, "agents per game")
	fs.IntVar(&o.days, "days", game.DefaultDuration, "simulated days per game")
	fs.Int64Var(&o.seed, "seed", 0, "random seed (0 for time-based); game i uses seed+i")
	fs.StringVar(&o.db, "db", os.Getenv("GAMESIM_DB"), "archive results in this SQLite database")
	fs.DurationVar(&o.delay, "delay", defaultDayDelay, "pause between simulated days")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.count < 1 {
		return nil, fmt.Errorf("--count must be at least 1, got %d", o.count)
	}
	switch strings.ToUpper(o.outcome) {
	case "", "YES", "NO":
	default:
		return nil, fmt.Errorf("--outcome must be YES or NO, got %q", o.outcome)
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	var archive *gamestore.SQLiteStore
	if o.db != "" {
		archive, err = gamestore.Open(o.db)
		if err != nil {
			return err
		}
		defer archive.Close()
	}

	pickSeed := time.Now().UnixNano()
	if o.seed != 0 {
		pickSeed = o.seed
	}
	pick := rand.New(rand.NewSource(pickSeed))
	results := make([]*game.GameResult, 0, o.count)
	for i := 0; i < o.count; i++ {
		cfg := game.Config{
			Outcome:   outcomeFor(o.outcome, pick),
			NumAgents: o.agents,
			Duration:  o.days,
		}
		if o.seed != 0 {
			cfg.Seed = o.seed + int64(i)
		}
		if !o.fast {
			cfg.DayDelay = o.delay
		}

		sim := game.NewSimulator(cfg)
		if o.verbose {
			sim.Subscribe(func(e game.Event) { printEvent(stdout, e) })
		}
		res, err := sim.Run(ctx)
		if err != nil {
			return fmt.Errorf("game %d: %w", i+1, err)
		}
		results = append(results, res)

		if archive != nil {
			if err := archive.Save(ctx, res); err != nil {
				return err
			}
		}
		if !o.json {
			printSummary(stdout, i+1, res)
		}
	}

	if o.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		var v any = results
		if len(results) == 1 {
			v = results[0]
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
	}

	if o.save != "" {
		if len(results) == 1 {
			err = game.SaveResult(o.save, results[0])
		} else {
			err = game.SaveResults(o.save, results)
		}
		if err != nil {
			return err
		}
		slog.Info("results saved", "path", o.save, "games", len(results))
	}
	return nil
}

func outcomeFor(flagValue string, pick *rand.Rand) bool {
	switch strings.ToUpper(flagValue) {
	case "YES":
		return true
	case "NO":
		return false
	}
	return pick.Intn(2) == 1
}

func label(outcome bool) string {
	if outcome {
		return "YES"
	}
	return "NO"
}

func printSummary(w io.Writer, n int, r *game.GameResult) {
	bets := 0
	for _, e := range r.Events {
		if e.Type == game.EventAgentBet {
			bets++
		}
	}
	fmt.Fprintf(w, "game %d  %s  outcome=%s  bets=%d  odds=%d/%d  winners=%d/%d  %q\n",
		n, r.ID[:8], label(r.Outcome), bets, r.Market.YesOdds, r.Market.NoOdds,
		len(r.Winners), len(r.Agents), r.Question)
}

func printEvent(w io.Writer, e game.Event) {
	switch e.Type {
	case game.EventGameStarted:
		fmt.Fprintf(w, "[day %2d] started: %s\n", e.Day, e.Content)
	case game.EventDayChanged:
		fmt.Fprintf(w, "[day %2d] ---\n", e.Day)
	case game.EventClueDistributed:
		fmt.Fprintf(w, "[day %2d] %s received %s: %s\n", e.Day, e.AgentID, e.ClueID, e.Content)
	case game.EventAgentBet:
		fmt.Fprintf(w, "[day %2d] %s bet %.2f on %s for %.2f shares\n", e.Day, e.AgentID, e.Amount, e.Side, e.Shares)
	case game.EventMarketUpdated:
		fmt.Fprintf(w, "[day %2d] market YES %d%% / NO %d%%\n", e.Day, e.Market.YesOdds, e.Market.NoOdds)
	case game.EventAgentPost:
		fmt.Fprintf(w, "[day %2d] %s posted: %s\n", e.Day, e.AgentID, e.Content)
	case game.EventOutcomeRevealed:
		fmt.Fprintf(w, "[day %2d] outcome: %s\n", e.Day, label(*e.Outcome))
	case game.EventGameEnded:
		fmt.Fprintf(w, "[day %2d] ended, winners: %s\n", e.Day, strings.Join(e.Winners, ", "))
	}
}
