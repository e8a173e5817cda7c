package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/scanrig"
	"github.com/httprunner/scanrig/internal/devrecorder"
	"github.com/httprunner/scanrig/internal/device"
	"github.com/httprunner/scanrig/internal/storage"
)

const keyHelp = `keys:
  b / Enter  capture both pages       l  left page only (primary)
  r          right page only          s  toggle synchronized / sequential
  q          toggle serial checks     n  jump to image number (or type digits)
  x          quit
`

func newScanCmd() *cobra.Command {
	var (
		flagIdentifier string
		flagTitle      string
		flagOperator   string
		flagPrimary    string
		flagMode       string
		flagStart      int
		flagNoTrigger  bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run an interactive scanning session",
		Long: `scan detects both cameras, asks which one shoots the left page, creates
captures/<timestamp>-<identifier> and then captures page pairs on key press.
Sending SIGUSR1 to the process triggers a pair capture as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(flagIdentifier) == "" {
				return errors.New("--identifier is required")
			}
			ctx := cmd.Context()
			r, err := loadRig(ctx, flagMode)
			if err != nil {
				return err
			}
			mode, err := scanrig.ParseMode(r.cfg.Mode)
			if err != nil {
				return err
			}
			stdin := bufio.NewReader(os.Stdin)

			snap, err := detectPair(ctx, r.registry, stdin, os.Stdout)
			if err != nil {
				return err
			}
			devices := snap.Devices()
			serials := []string{devices[0].Serial, devices[1].Serial}
			answer := ""
			if flagPrimary == "" {
				for i, d := range devices {
					fmt.Fprintf(os.Stdout, "  [%d] %s at %s\n", i+1, d.Label(), d.Address)
				}
				fmt.Fprint(os.Stdout, "Which camera shoots the LEFT page (primary)? [1/2]: ")
				answer, _ = stdin.ReadString('\n')
			}
			primaryIndex, err := pickPrimary(serials, flagPrimary, answer)
			if err != nil {
				return err
			}
			binding, err := scanrig.BindFromSnapshot(snap, primaryIndex)
			if err != nil {
				return err
			}

			startedAt := time.Now()
			primary, secondary := devices[primaryIndex], devices[1-primaryIndex]
			ws, err := storage.Create(r.cfg.CapturesDir, flagIdentifier, storage.Metadata{
				Title:           flagTitle,
				Operator:        flagOperator,
				HostID:          scanrig.HostID(),
				Mode:            string(mode),
				FilenamePattern: r.cfg.FilenamePattern,
				Primary:         cameraMeta(ctx, r, primary),
				Secondary:       cameraMeta(ctx, r, secondary),
			}, startedAt)
			if err != nil {
				return err
			}
			journal, err := devrecorder.Open(ws.Dir, ws.Metadata().SessionName, r.cfg.Journal)
			if err != nil {
				return err
			}
			defer func() {
				if err := journal.Close(); err != nil {
					log.Warn().Err(err).Msg("close journal failed")
				}
			}()

			session, err := scanrig.NewSession(r.registry, r.agent, binding, scanrig.SessionOptions{
				Name:            ws.Metadata().SessionName,
				FilenamePattern: r.cfg.FilenamePattern,
				Start:           flagStart,
				Coordinator: scanrig.CoordinatorOptions{
					OutputDir:        ws.Dir,
					CaptureTimeout:   r.cfg.CaptureTimeout,
					SettleInterval:   r.cfg.SettleInterval,
					Mode:             mode,
					VerifyIdentities: r.cfg.VerifyIdentities,
					Observer:         scanrig.MultiObserver{scanrig.LogObserver{}, journal},
				},
			})
			if err != nil {
				return err
			}
			log.Info().
				Str("dir", ws.Dir).
				Str("primary", primary.Serial).
				Str("secondary", secondary.Serial).
				Str("mode", string(mode)).
				Msg("session started")

			if err := runInteractive(ctx, session, !flagNoTrigger); err != nil {
				return err
			}

			status := session.Status()
			notes := ""
			fmt.Fprint(os.Stdout, "Session notes (optional): ")
			if line, err := stdin.ReadString('\n'); err == nil || errors.Is(err, io.EOF) {
				notes = line
			}
			summary, err := ws.Finish(status.Captured, notes, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, summary.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&flagIdentifier, "identifier", "", "short name of the item being scanned (required)")
	cmd.Flags().StringVar(&flagTitle, "title", "", "title recorded in the session metadata")
	cmd.Flags().StringVar(&flagOperator, "operator", "", "person running the scan")
	cmd.Flags().StringVar(&flagPrimary, "primary", "", "serial of the left page camera, skips the prompt")
	cmd.Flags().StringVar(&flagMode, "mode", "", "synchronized or sequential, overrides the config")
	cmd.Flags().IntVar(&flagStart, "start", 0, "first image number (rounded down to even)")
	cmd.Flags().BoolVar(&flagNoTrigger, "no-trigger", false, "ignore SIGUSR1 shutter triggers")
	return cmd
}

// detectPair repeats detection until exactly two cameras are identified.
func detectPair(ctx context.Context, registry *device.Registry, in *bufio.Reader, out io.Writer) (device.Snapshot, error) {
	for {
		snap := registry.Snapshot(ctx)
		if snap.Len() == 2 {
			return snap, nil
		}
		fmt.Fprintf(out, "Found %d identified camera(s) on %d port(s), need exactly 2.\n", snap.Len(), len(snap.Discovered()))
		fmt.Fprint(out, "Press Enter to retry or type x to abort: ")
		line, err := in.ReadString('\n')
		if err != nil {
			return device.Snapshot{}, errors.Wrap(err, "camera detection aborted")
		}
		if strings.EqualFold(strings.TrimSpace(line), "x") {
			return device.Snapshot{}, errors.New("camera detection aborted")
		}
		if ctx.Err() != nil {
			return device.Snapshot{}, ctx.Err()
		}
	}
}

// pickPrimary returns the index of the primary camera, chosen either by
// serial flag or by the operator's 1/2 answer.
func pickPrimary(serials []string, flagSerial, answer string) (int, error) {
	if s := strings.TrimSpace(flagSerial); s != "" {
		for i, serial := range serials {
			if serial == s {
				return i, nil
			}
		}
		return 0, errors.Errorf("camera %s is not attached (found %s)", s, strings.Join(serials, ", "))
	}
	n, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil || n < 1 || n > len(serials) {
		return 0, errors.Errorf("answer 1 or 2, got %q", strings.TrimSpace(answer))
	}
	return n - 1, nil
}

func cameraMeta(ctx context.Context, r *rig, info device.Info) storage.Camera {
	return storage.Camera{
		Port:           info.Address,
		Serial:         info.Serial,
		Model:          info.Model,
		Manufacturer:   info.Manufacturer,
		BatteryPercent: r.battery(ctx, info.Address),
	}
}

// runInteractive feeds keyboard and signal intents to the session until the
// operator quits.
func runInteractive(ctx context.Context, session *scanrig.Session, trigger bool) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprint(os.Stdout, keyHelp)
	restore, raw := enterRawMode(os.Stdin)
	defer restore()
	var echo io.Writer = os.Stdout
	if raw {
		echo = crlfWriter{w: os.Stdout}
		previous := log.Logger
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: crlfWriter{w: os.Stderr}, TimeFormat: "15:04:05"})
		defer func() { log.Logger = previous }()
	}

	sources := []scanrig.IntentSource{{
		Name: "keyboard",
		Run: func(ctx context.Context, out chan<- scanrig.Intent) error {
			return scanrig.ReadKeys(ctx, os.Stdin, out, echo)
		},
	}}
	if trigger {
		sources = append(sources, scanrig.IntentSource{
			Name: "trigger",
			Run: func(ctx context.Context, out chan<- scanrig.Intent) error {
				return scanrig.ListenSignals(ctx, out, syscall.SIGUSR1)
			},
		})
	}
	return scanrig.RunPipeline(sigCtx, session, 500*time.Millisecond, sources...)
}
