package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/robalyx/profilegov/internal/governor/resolver"
	"github.com/robalyx/profilegov/internal/governor/types"
	"github.com/robalyx/profilegov/internal/profile"
	"github.com/robalyx/profilegov/internal/setup"
	"github.com/robalyx/profilegov/internal/setup/telemetry"
	"github.com/robalyx/profilegov/pkg/utils"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// record is one line of command output.
type record struct {
	Input           string         `json:"input"`
	Identity        string         `json:"identity,omitempty"`
	ServedFromCache bool           `json:"servedFromCache"`
	Profile         *types.Profile `json:"profile,omitempty"`
	Error           string         `json:"error,omitempty"`
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Resolve one or more profiles",
		ArgsUsage: "IDENTITY...",
		Description: `Resolve profiles by handle or profile URL.
A snapshot younger than the staleness threshold is reused and only the
volatile fields are fetched. Otherwise the full profile is fetched and cached.

Examples:
  governor resolve natgeo                              # Resolve a handle
  governor resolve https://instagram.com/natgeo/      # Resolve a profile URL
  governor resolve --force natgeo nasa                 # Bypass the snapshot cache
  governor resolve --retries 0 natgeo                  # Fail on the first fetch error`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Run a full fetch even when a fresh snapshot exists",
			},
			&cli.IntFlag{
				Name:  "retries",
				Usage: "Retry attempts of a failed full fetch (-1 uses the config value)",
				Value: -1,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			inputs := c.Args().Slice()
			if len(inputs) == 0 {
				return ErrIdentityRequired
			}

			app, err := setup.InitializeApp(ctx, telemetry.ServiceResolve, GovernorLogDir)
			if err != nil {
				return err
			}
			defer app.Cleanup(context.Background())

			retries := app.Config.Retry.MaxRetries
			if n := c.Int("retries"); n >= 0 {
				retries = uint64(n)
			}

			failed := 0

			for _, input := range inputs {
				result, err := resolveWithRetry(ctx, app, input, c.Bool("force"), retries)
				if app.Reporter != nil {
					app.Reporter.RecordResult(err)
				}

				if err != nil {
					failed++
				}

				if err := writeRecord(os.Stdout, newRecord(input, result, err)); err != nil {
					return err
				}
			}

			logQueueState(app)

			if failed > 0 {
				return fmt.Errorf("%w: %d of %d", ErrResolveFailed, failed, len(inputs))
			}

			return nil
		},
	}
}

func warmCommand() *cli.Command {
	return &cli.Command{
		Name:      "warm",
		Usage:     "Resolve a list of profiles concurrently to fill the snapshot cache",
		ArgsUsage: "[IDENTITY...]",
		Description: `Resolve every identity listed in a file and on the command line.
Empty lines and lines starting with # are ignored. Duplicate identities are
resolved once. All network calls still go through the paced request queue.

Examples:
  governor warm --file handles.txt            # Warm the cache from a file
  governor warm --file handles.txt --force    # Refetch every profile`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "File with one identity per line",
			},
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Run a full fetch even when a fresh snapshot exists",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			inputs, err := collectInputs(c.String("file"), c.Args().Slice())
			if err != nil {
				return err
			}

			if len(inputs) == 0 {
				return ErrIdentityRequired
			}

			app, err := setup.InitializeApp(ctx, telemetry.ServiceWarm, GovernorLogDir)
			if err != nil {
				return err
			}
			defer app.Cleanup(context.Background())

			app.Logger.Info("Warming snapshot cache", zap.Int("inputs", len(inputs)))

			failed := 0

			for _, entry := range app.Resolver.ResolveMany(ctx, inputs, c.Bool("force")) {
				if app.Reporter != nil {
					app.Reporter.RecordResult(entry.Err)
				}

				if entry.Err != nil {
					failed++
				}

				rec := newRecord(entry.Input, entry.Result, entry.Err)
				rec.Identity = entry.Identity

				if err := writeRecord(os.Stdout, rec); err != nil {
					return err
				}
			}

			logQueueState(app)

			if failed > 0 {
				return fmt.Errorf("%w: %d failed", ErrResolveFailed, failed)
			}

			return nil
		},
	}
}

// resolveWithRetry retries full fetches that failed for transient reasons.
func resolveWithRetry(
	ctx context.Context, app *setup.App, input string, force bool, retries uint64,
) (*resolver.Result, error) {
	return utils.WithRetryIf(ctx, func() (*resolver.Result, error) {
		result, err := app.Resolver.Resolve(ctx, input, force)
		if err != nil {
			app.Logger.Warn("Resolution failed",
				zap.String("input", input),
				zap.Error(err))
		}

		return result, err
	}, utils.GetFetchRetryOptions(retries), isRetryableResolve)
}

// isRetryableResolve accepts only failed full fetches with a transient cause.
func isRetryableResolve(err error) bool {
	var fetchErr *resolver.FetchError
	if !errors.As(err, &fetchErr) {
		return false
	}

	return profile.IsRetryable(fetchErr.Err)
}

// collectInputs merges the lines of an optional file with command line arguments.
func collectInputs(path string, args []string) ([]string, error) {
	var content []string

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read identity file: %w", err)
		}

		content = append(content, string(data))
	}

	content = append(content, args...)

	return utils.SplitLines(content), nil
}

func newRecord(input string, result *resolver.Result, err error) *record {
	rec := &record{Input: strings.TrimSpace(input)}

	if err != nil {
		rec.Error = err.Error()
		return rec
	}

	rec.Identity = result.Profile.Identity
	rec.ServedFromCache = result.ServedFromCache
	rec.Profile = result.Profile

	return rec
}

// writeRecord writes a record as one JSON line.
func writeRecord(w io.Writer, rec *record) error {
	data, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	_, err = fmt.Fprintln(w, string(data))

	return err
}

func logQueueState(app *setup.App) {
	state := app.Queue.State()
	app.Logger.Info("Queue state",
		zap.Int("pending", state.Pending),
		zap.Bool("draining", state.Draining),
		zap.Time("lastDispatchAt", state.LastDispatchAt),
		zap.Int("dispatchesInWindow", state.DispatchesInWindow))
}
