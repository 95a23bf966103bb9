// Command history reads the stored reading history, prints the projected
// trend series with its bounds and tiers, and checks the projection's
// invariants. It exits non-zero when a check fails.
//
// Usage:
//
//	HISTORY_BACKEND=sqlite SQLITE_PATH=data/flood_history.db go run ./cmd/history
//	go run ./cmd/history -json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	redisadapter "github.com/couchcryptid/flood-monitor-service/internal/adapter/redis"
	"github.com/couchcryptid/flood-monitor-service/internal/adapter/sqlite"
	"github.com/couchcryptid/flood-monitor-service/internal/config"
	"github.com/couchcryptid/flood-monitor-service/internal/domain"
)

type lister interface {
	List(ctx context.Context) ([]domain.HistoryRecord, error)
}

type report struct {
	Records    int                   `json:"records"`
	Series     domain.Series         `json:"series"`
	Bounds     domain.Bounds         `json:"bounds"`
	Latest     *domain.SeriesPoint   `json:"latest,omitempty"`
	Status     domain.Status         `json:"status,omitempty"`
	Tiers      map[domain.Status]int `json:"tiers"`
	Thresholds domain.Thresholds     `json:"thresholds"`
}

func main() {
	asJSON := flag.Bool("json", false, "print the report as JSON")
	limit := flag.Int("tail", 20, "series points to print in text mode (0 = all)")
	flag.Parse()

	os.Exit(run(*asJSON, *limit))
}

func run(asJSON bool, limit int) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		return 1
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, closeFn, err := openStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open history: %v\n", err)
		return 1
	}
	defer closeFn()

	records, err := store.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: list history: %v\n", err)
		return 1
	}

	series := domain.Project(records)
	bounds := domain.MinMax(series)

	classification, tiers := checkClassification(series)
	phases := []*phase{
		checkRecords(records),
		checkProjection(records, series),
		checkBounds(series, bounds),
		classification,
	}

	rep := report{
		Records:    len(records),
		Series:     series,
		Bounds:     bounds,
		Tiers:      tiers,
		Thresholds: domain.DefaultThresholds(),
	}
	if n := len(series); n > 0 {
		latest := series[n-1]
		rep.Latest = &latest
		rep.Status = domain.Classify(latest.Level)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: encode report: %v\n", err)
			return 1
		}
	} else {
		printReport(cfg, rep, limit)
	}

	return printPhases(phases, !asJSON)
}

func openStore(cfg *config.Config, logger *slog.Logger) (lister, func(), error) {
	switch cfg.HistoryBackend {
	case config.BackendSQLite:
		store, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.BackendRedis:
		client, err := redisadapter.NewClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		return redisadapter.NewHistoryStream(client, cfg.RedisHistoryStream, logger), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported history backend %q", cfg.HistoryBackend)
	}
}

func printReport(cfg *config.Config, rep report, limit int) {
	fmt.Println("=== Flood History ===")
	fmt.Printf("Backend: %s\n", cfg.HistoryBackend)
	fmt.Printf("Records: %d stored, %d in series\n", rep.Records, len(rep.Series))

	lo, hi := rep.Bounds.Format()
	fmt.Printf("Min: %s cm  Max: %s cm\n", lo, hi)
	if rep.Latest != nil {
		fmt.Printf("Latest: %v cm (%s)\n", rep.Latest.Level, rep.Status)
	} else {
		fmt.Println("Latest: -")
	}
	fmt.Printf("Tiers: SAFE %d, WARNING %d, DANGER %d\n",
		rep.Tiers[domain.StatusSafe], rep.Tiers[domain.StatusWarning], rep.Tiers[domain.StatusDanger])

	points := rep.Series
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
		fmt.Printf("\nLast %d points:\n", limit)
	} else if len(points) > 0 {
		fmt.Println("\nSeries:")
	}
	for _, p := range points {
		fmt.Printf("  %5d  %7.1f  %s\n", p.Index, p.Level, domain.Classify(p.Level))
	}
	fmt.Println()
}

// printPhases writes the check results to stderr and returns the exit code.
func printPhases(phases []*phase, color bool) int {
	code := 0
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			code = 1
		}
		if color {
			if p.passed() {
				status = "\033[32m" + status + "\033[0m"
			} else {
				status = "\033[31m" + status + "\033[0m"
			}
		}
		fmt.Fprintf(os.Stderr, "  %-24s %s\n", p.name, status)
		for _, n := range p.notes {
			fmt.Fprintf(os.Stderr, "    note: %s\n", n)
		}
		for _, e := range p.errors {
			fmt.Fprintf(os.Stderr, "    - %s\n", e)
		}
	}
	return code
}
