package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/scanrig"
)

func newShootCmd() *cobra.Command {
	var (
		flagPrimary   string
		flagSecondary string
		flagRole      string
		flagStart     int
		flagDir       string
		flagMode      string
	)

	cmd := &cobra.Command{
		Use:   "shoot",
		Short: "Capture one page pair (or one page) without an interactive session",
		Long: `shoot resolves the given serial numbers to their current USB ports and
captures once. The exit status is non-zero when any camera fails, and no
image number is consumed in that case.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := loadRig(ctx, flagMode)
			if err != nil {
				return err
			}
			mode, err := scanrig.ParseMode(r.cfg.Mode)
			if err != nil {
				return err
			}

			role := scanrig.RoleNone
			if s := strings.TrimSpace(flagRole); s != "" && s != "both" {
				if role, err = scanrig.ParseRole(s); err != nil {
					return err
				}
			}
			binding := &scanrig.Binding{}
			if flagPrimary != "" {
				if err := binding.Bind(scanrig.RolePrimary, flagPrimary); err != nil {
					return err
				}
			}
			if flagSecondary != "" {
				if err := binding.Bind(scanrig.RoleSecondary, flagSecondary); err != nil {
					return err
				}
			}
			if role == scanrig.RoleNone && !binding.Complete() {
				return errors.New("--primary and --secondary are required to capture a pair")
			}
			if _, ok := binding.Identity(role); role != scanrig.RoleNone && !ok {
				return errors.Errorf("--%s serial is required to capture with the %s camera", role, role)
			}

			dir := flagDir
			if dir == "" {
				dir = "."
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.Wrapf(err, "create output directory %s", dir)
			}
			seq := scanrig.NewSequence(r.cfg.FilenamePattern)
			if role == scanrig.RoleNone {
				_, err = seq.Override(flagStart)
			} else if flagStart < 0 {
				err = errors.Errorf("negative start number %d", flagStart)
			} else {
				// Single captures may land on either parity.
				seq.Next(flagStart)
			}
			if err != nil {
				return err
			}

			coord, err := scanrig.NewCoordinator(r.registry, r.agent, binding, seq, scanrig.CoordinatorOptions{
				OutputDir:        dir,
				CaptureTimeout:   r.cfg.CaptureTimeout,
				SettleInterval:   r.cfg.SettleInterval,
				Mode:             mode,
				VerifyIdentities: true,
				Observer:         scanrig.LogObserver{},
			})
			if err != nil {
				return err
			}

			var rep scanrig.Report
			if role == scanrig.RoleNone {
				rep, err = coord.CaptureBoth(ctx)
			} else {
				rep, err = coord.CaptureRole(ctx, role)
			}
			if err != nil {
				return err
			}
			for _, o := range rep.Outcomes {
				fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", o.Role, o.Identity, o.Filename)
			}
			log.Info().Int("next_image", seq.Peek()).Msg("shoot done")
			return nil
		},
	}
	cmd.Flags().StringVar(&flagPrimary, "primary", "", "serial number of the primary (left page) camera")
	cmd.Flags().StringVar(&flagSecondary, "secondary", "", "serial number of the secondary (right page) camera")
	cmd.Flags().StringVar(&flagRole, "role", "both", "both, primary or secondary")
	cmd.Flags().IntVar(&flagStart, "start", 0, "image number of the capture (pairs round down to even)")
	cmd.Flags().StringVar(&flagDir, "dir", "", "output directory (default current directory)")
	cmd.Flags().StringVar(&flagMode, "mode", "", "synchronized or sequential, overrides the config")
	return cmd
}
