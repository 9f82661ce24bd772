package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
)

const maxLineSize = 1 << 20

type replayFlags struct {
	input         string
	acceptConsent bool
	strict        bool
}

// replayStats summarizes one replay run.
type replayStats struct {
	Read      int `json:"read"`
	Delivered int `json:"delivered"`
	Blocked   int `json:"blocked"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func newReplayCmd(global *globalFlags) *cobra.Command {
	flags := &replayFlags{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay captured events through the pipeline",
		Long: `Read newline-delimited JSON events and dispatch each through the configured
pipeline. Message ids and timestamps in the input are preserved.

Each line is one event; the "type" field accepts the same spellings as the
HTTP bridge (page, track, identify, component-view, component-seen).

Examples:
  experience replay -c experience.yaml -i events.jsonl
  cat events.jsonl | experience replay --accept-consent`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, global, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.input, "input", "i", "-", "Input file ('-' for stdin)")
	cmd.Flags().BoolVar(&flags.acceptConsent, "accept-consent", false, "Accept consent before replaying")
	cmd.Flags().BoolVar(&flags.strict, "strict", false, "Stop at the first malformed or failed event")
	return cmd
}

func runReplay(cmd *cobra.Command, global *globalFlags, flags *replayFlags) error {
	s, err := loadSettings(global)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if flags.input != "-" {
		f, err := os.Open(flags.input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, s, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if flags.acceptConsent {
		if err := a.pipeline.Consent(ctx, true); err != nil {
			a.close(ctx)
			return err
		}
	}

	stats, err := replay(ctx, a.pipeline, in, flags.strict)
	if cerr := a.close(ctx); cerr != nil && err == nil {
		err = cerr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events: %d delivered, %d blocked, %d failed, %d skipped\n",
		stats.Read, stats.Delivered, stats.Blocked, stats.Failed, stats.Skipped)
	return err
}

func replay(ctx context.Context, p *experience.Pipeline, in io.Reader, strict bool) (replayStats, error) {
	var stats replayStats
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if !gjson.ValidBytes(raw) {
			stats.Skipped++
			if strict {
				return stats, fmt.Errorf("line %d: invalid json", line)
			}
			continue
		}
		stats.Read++

		e, err := decodeEvent(raw)
		if err == nil {
			err = dispatch(ctx, p, e, &stats)
		}
		if err != nil {
			stats.Failed++
			if strict {
				return stats, fmt.Errorf("line %d: %w", line, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read input: %w", err)
	}
	return stats, nil
}

// decodeEvent parses one line, normalizing the type spelling first.
func decodeEvent(raw []byte) (*event.Event, error) {
	t, err := event.ParseType(gjson.GetBytes(raw, "type").String())
	if err != nil {
		return nil, err
	}
	var e event.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	e.Type = t
	return &e, nil
}

func dispatch(ctx context.Context, p *experience.Pipeline, e *event.Event, stats *replayStats) error {
	var (
		res experience.Result
		err error
	)
	if e.Type == event.TypeIdentify {
		opts := []event.Option{event.WithContext(e.Context), event.WithMessageID(e.MessageID)}
		if e.Timestamp != 0 {
			opts = append(opts, event.WithTimestamp(e.Time()))
		}
		res, err = p.Identify(ctx, e.UserID, e.Traits, opts...)
	} else {
		res, err = p.Dispatch(ctx, e)
	}
	if err != nil {
		return err
	}
	if res.Blocked {
		stats.Blocked++
		return nil
	}
	stats.Delivered++
	if len(res.PluginErrors) > 0 {
		return fmt.Errorf("%d plugin errors, first: %w", len(res.PluginErrors), res.PluginErrors[0])
	}
	return nil
}
