package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/scanrig/internal/config"
	"github.com/httprunner/scanrig/internal/env"
)

var rootCmd = &cobra.Command{
	Use:   "scanrig",
	Short: "Two-camera book scanning station",
	Long: `scanrig drives a two-camera book scanner through gphoto2. Cameras are
tracked by serial number so captures keep working when USB ports move, and
every page pair is written as consecutive img%05d.jpg files.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := strings.TrimSpace(rootLogLevel)
		if level == "" {
			level = config.String(config.EnvLogLevel, config.DefaultLogLevel)
		}
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(parsed)
		return nil
	},
}

var (
	rootConfigPath string
	rootLogLevel   string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "rig config file (TOML), overrides $"+config.EnvConfigFile)
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "log level, overrides $"+config.EnvLogLevel)
	rootCmd.AddCommand(
		newScanCmd(),
		newDetectCmd(),
		newShootCmd(),
	)
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("scanrig command failed")
	}
}
