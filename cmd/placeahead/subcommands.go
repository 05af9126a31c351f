package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shaneisley/placeahead/pkg/config"
	"github.com/shaneisley/placeahead/pkg/executor"
	"github.com/shaneisley/placeahead/pkg/ipc"
	"github.com/shaneisley/placeahead/pkg/provider"
	"github.com/shaneisley/placeahead/pkg/scheduler"
	"github.com/shaneisley/placeahead/pkg/selection"
	"github.com/shaneisley/placeahead/pkg/timer"
	"github.com/spf13/cobra"
)

// defaultConfigPath is where "config init" writes when no path is given
const defaultConfigPath = ".placeahead.toml"

// newSearchCommand runs a single request with no scheduling
func newSearchCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Look up suggestions for text once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			exec := executor.NewExecutorWithTimeout(rt.provider, rt.cfg.Timeout)
			exec.MinLength = rt.cfg.MinLength
			exec.Logger = rt.logger.WithComponent("executor")
			exec.Recorder = rt.recorder()

			result, err := exec.Do(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if result.Failed() {
				return fmt.Errorf("search failed: %w", result.Err)
			}

			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result.Suggestions)
			}
			rt.reporter.Suggestions(result.Suggestions)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print suggestions as JSON")

	return cmd
}

func newTypeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "type",
		Short: "Type interactively; each line replaces the input text",
		Long: `Each line read from stdin becomes the full text of the input, as if the
user had typed it. Requests are scheduled exactly as they would be in a
search box.

Commands:
  /pick N    accept suggestion N of the last list
  /commit    settle the current text without picking
  /quit      stop (end of input works too)

Start a line with // to type text that begins with a slash.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			sched := scheduler.New(rt.schedulerOptions(timer.RealClock(), rt.reporter))
			handler := selection.NewHandler(sched, rt.reporter, rt.cfg.MapsURL)
			defer a.finish(rt, sched)

			scanner := bufio.NewScanner(a.stdin)
			for scanner.Scan() {
				act, err := parseAction(strings.TrimRight(scanner.Text(), "\r"))
				if err != nil {
					rt.reporter.Error(err)
					continue
				}
				if act.Kind == actionQuit {
					break
				}
				if err := apply(sched, handler, act); err != nil {
					rt.reporter.Error(err)
				}
			}
			return scanner.Err()
		},
	}
}

func newReplayCommand(a *app) *cobra.Command {
	var (
		offline bool
		tail    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay <script>",
		Short: "Replay a timed keystroke script on a virtual clock",
		Long: `Replays a script of timed input events and prints every request the
scheduler fires, stamped with its virtual time. Time only advances as the
script says; each request is given real time to answer before the clock
moves on.

Each line is "+<delay> <event>", the delay counted from the previous line:

  # typing "Lisb" quickly, then picking the first suggestion
  +0s Li
  +120ms Lis
  +120ms Lisb
  +2s /pick 1

Events are the same as in "placeahead type". Use "-" to read stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := a.readScript(args[0])
			if err != nil {
				return err
			}

			rt, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer rt.close()
			if offline {
				rt.provider = provider.Empty
			}

			clock := timer.NewVirtualClock(time.Now())
			start := clock.Now()
			rt.reporter.SetElapsed(func() time.Duration { return clock.Now().Sub(start) })

			sched := scheduler.New(rt.schedulerOptions(clock, rt.reporter))
			handler := selection.NewHandler(sched, rt.reporter, rt.cfg.MapsURL)
			defer a.finish(rt, sched)

			r := &replayer{
				clock:         clock,
				sched:         sched,
				handler:       handler,
				report:        rt.reporter.Error,
				settleTimeout: rt.cfg.Timeout + time.Second,
				pollInterval:  2 * time.Millisecond,
			}
			return r.run(cmd.Context(), steps, tail)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Answer every request with an empty list instead of calling the provider")
	cmd.Flags().DurationVar(&tail, "tail", 3*time.Second, "Virtual time to keep running after the last event")

	return cmd
}

func (a *app) readScript(path string) ([]step, error) {
	if path == "-" {
		return parseScript(a.stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %w", err)
	}
	defer f.Close()
	return parseScript(f)
}

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Drive one input session over msgpack on stdin/stdout",
		Long: `Runs one input session for a host process such as an editor plugin.
The host writes msgpack requests to stdin and reads events from stdout;
logs go to stderr. See package ipc for the message shapes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			srv := ipc.NewServer(a.stdin, a.stdout, rt.logger.WithComponent("ipc"))
			sched := scheduler.New(rt.schedulerOptions(timer.RealClock(), srv))
			handler := selection.NewHandler(sched, srv, rt.cfg.MapsURL)
			srv.Bind(sched, handler)

			return srv.Serve()
		},
	}
}

func newStatsCommand(a *app) *cobra.Command {
	var (
		since  time.Duration
		prune  time.Duration
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the provider request log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			if rt.db == nil {
				return errors.New("no request log configured (set db_path or --db-path)")
			}

			if prune > 0 {
				removed, err := rt.db.Prune(prune)
				if err != nil {
					return err
				}
				rt.logger.Info("pruned request log", "removed", removed, "older_than", prune)
			}

			stats, err := rt.db.Stats(time.Now().Add(-since))
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			rt.reporter.Stats(stats)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "How far back to aggregate")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete requests older than this first (0 keeps everything)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print statistics as JSON")

	return cmd
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration as TOML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration and where each value came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, debugInfo, err := a.resolve(cmd, true)
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, debugInfo.String())
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

// apply feeds one user event to a session
func apply(sched *scheduler.Scheduler, handler *selection.Handler, act action) error {
	switch act.Kind {
	case actionText:
		return sched.OnTextChanged(act.Text)
	case actionPick:
		_, err := handler.AcceptIndex(act.Index)
		return err
	case actionCommit:
		_, err := handler.Commit(sched.Snapshot().RawText)
		return err
	}
	return nil
}

// finish closes the session and prints its counters
func (a *app) finish(rt *deps, sched *scheduler.Scheduler) {
	sched.Close()
	if !a.quiet {
		rt.reporter.FinalSummary(rt.metrics.Summary())
	}
}
