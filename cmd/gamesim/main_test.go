package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/babylon/engine/internal/game"
	"github.com/babylon/engine/internal/gamestore"
)

func TestRun_SummaryPerGame(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), []string{"--fast", "--count=3", "--outcome=yes", "--seed=1"}, &out, &errOut); err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 summary lines, got %d:\n%s", len(lines), out.String())
	}
	for _, l := range lines {
		if !strings.Contains(l, "outcome=YES") {
			t.Errorf("summary line missing outcome: %s", l)
		}
	}
}

func TestRun_SeedReproducesRandomOutcomes(t *testing.T) {
	runGames := func() []game.GameResult {
		t.Helper()
		var out, errOut bytes.Buffer
		if err := run(context.Background(), []string{"--fast", "--json", "--count=6", "--seed=42"}, &out, &errOut); err != nil {
			t.Fatalf("run: %v", err)
		}
		var results []game.GameResult
		if err := json.Unmarshal(out.Bytes(), &results); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return results
	}

	first, second := runGames(), runGames()
	if len(first) != 6 || len(second) != 6 {
		t.Fatalf("games = %d/%d, want 6", len(first), len(second))
	}
	for i := range first {
		if first[i].Outcome != second[i].Outcome || first[i].Question != second[i].Question {
			t.Errorf("game %d differs: %v %q vs %v %q", i+1,
				first[i].Outcome, first[i].Question, second[i].Outcome, second[i].Question)
		}
	}
}

func TestRun_SaveManyWritesArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.json")
	var out, errOut bytes.Buffer
	if err := run(context.Background(), []string{"--fast", "--count=2", "--outcome=NO", "--save=" + path}, &out, &errOut); err != nil {
		t.Fatalf("run: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var results []game.GameResult
	if err := json.Unmarshal(data, &results); err != nil {
		t.Fatalf("decode array: %v", err)
	}
	if len(results) != 2 || results[0].Outcome {
		t.Errorf("saved results = %d, first outcome %v", len(results), results[0].Outcome)
	}
}

func TestRun_JSONSingleGame(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), []string{"--fast", "--json", "--agents=3", "--days=10"}, &out, &errOut); err != nil {
		t.Fatalf("run: %v", err)
	}
	var res game.GameResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if len(res.Agents) != 3 {
		t.Errorf("agents = %d, want 3", len(res.Agents))
	}
}

func TestRun_ArchivesToSQLite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "games.db")
	var out, errOut bytes.Buffer
	if err := run(context.Background(), []string{"--fast", "--count=2", "--db=" + db}, &out, &errOut); err != nil {
		t.Fatalf("run: %v", err)
	}

	s, err := gamestore.Open(db)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	games, _ := s.List(context.Background(), 0)
	if len(games) != 2 {
		t.Errorf("archived %d games, want 2", len(games))
	}
}

func TestRun_BadFlags(t *testing.T) {
	for _, args := range [][]string{
		{"--outcome=MAYBE"},
		{"--count=0"},
		{"--nope"},
	} {
		var out, errOut bytes.Buffer
		if err := run(context.Background(), args, &out, &errOut); err == nil {
			t.Errorf("args %v: expected an error", args)
		}
	}
}

func TestRun_VerbosePrintsEvents(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), []string{"--fast", "--verbose", "--days=6", "--seed=2"}, &out, &errOut); err != nil {
		t.Fatalf("run: %v", err)
	}
	s := out.String()
	for _, want := range []string{"started:", "[day  6] ---", "outcome:", "ended, winners:"} {
		if !strings.Contains(s, want) {
			t.Errorf("verbose output missing %q", want)
		}
	}
}
