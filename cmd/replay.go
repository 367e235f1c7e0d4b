package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voidmaw/regrip/api/schemas"
	"github.com/voidmaw/regrip/internal/observability"
)

var replayJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// journalEvent is one line of a replay journal: a single attempt outcome as
// recorded by the executing agent.
type journalEvent struct {
	Target      string `json:"target"`
	CandidateID string `json:"candidate_id"`
	Outcome     string `json:"outcome"`
}

// newReplayCmd creates the `replay` command, which folds a JSONL outcome
// journal into the configured stats backend. Useful for rebuilding learned
// state after a reset, or for seeding a fresh fleet member from a recorded
// session.
func newReplayCmd() *cobra.Command {
	replayCmd := &cobra.Command{
		Use:   "replay <journal.jsonl>",
		Short: "Replays a recorded outcome journal into the stats backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			replayID := uuid.New().String()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer f.Close()

			byTarget, events, err := loadJournal(f)
			if err != nil {
				return err
			}

			st, err := openStore(ctx, appConfig, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			logger.Info("Replaying outcome journal",
				zap.String("replayID", replayID),
				zap.String("journal", args[0]),
				zap.Int("events", events),
				zap.Int("targets", len(byTarget)),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(runtime.NumCPU())
			for target, events := range byTarget {
				g.Go(func() error {
					for _, ev := range events {
						outcome, _ := schemas.ParseOutcome(ev.Outcome)
						if _, err := st.RecordOutcome(gctx, target, ev.CandidateID, outcome); err != nil {
							return fmt.Errorf("replay %s/%s: %w", target, ev.CandidateID, err)
						}
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			fmt.Printf("Replayed %d events across %d targets.\n", events, len(byTarget))
			return nil
		},
	}
	return replayCmd
}

// loadJournal parses and validates a JSONL journal, grouping events by
// target. Events for one target must land in journal order or the EMA
// trajectory diverges; distinct targets are independent and can be folded in
// parallel. Blank lines are skipped and not counted; the returned count is
// accepted events only.
func loadJournal(r io.Reader) (map[schemas.TargetKey][]journalEvent, int, error) {
	byTarget := make(map[schemas.TargetKey][]journalEvent)
	scanner := bufio.NewScanner(r)
	line, events := 0, 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev journalEvent
		if err := replayJSON.Unmarshal(raw, &ev); err != nil {
			return nil, 0, fmt.Errorf("journal line %d: %w", line, err)
		}
		target, err := schemas.ParseTargetKey(ev.Target)
		if err != nil {
			return nil, 0, fmt.Errorf("journal line %d: %w", line, err)
		}
		if _, err := schemas.ParseOutcome(ev.Outcome); err != nil {
			return nil, 0, fmt.Errorf("journal line %d: %w", line, err)
		}
		byTarget[target] = append(byTarget[target], ev)
		events++
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read journal: %w", err)
	}
	return byTarget, events, nil
}
