// Package cli implements the screenrec commands.
package cli

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thesyncim/recorder"
	"github.com/thesyncim/recorder/internal/config"
	"github.com/thesyncim/recorder/internal/output"
)

// Dependencies is filled in before any subcommand runs.
type Dependencies struct {
	Config    *config.Config
	Log       *logrus.Logger
	Provider  recorder.DeviceProvider
	Formatter *output.Formatter

	// NewEncoder overrides the encoder factory. Nil uses recorder.NewEncoder.
	NewEncoder recorder.EncoderFactory
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	var configFile, logLevel string

	rootCmd := &cobra.Command{
		Use:           "screenrec",
		Short:         "Record the screen, a camera and microphone into one file",
		Long:          "screenrec composites a display capture with a camera overlay, mixes display and microphone audio, and saves the result as WebM or Matroska.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			lvl, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			deps.Log.SetLevel(lvl)
			deps.Config = cfg
			if cfg.File != "" {
				deps.Log.WithField("file", cfg.File).Debug("config loaded")
			}
			if deps.Provider == nil {
				deps.Provider = recorder.GetDeviceProvider()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./config.yaml or $XDG_CONFIG_HOME/screenrec/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewDevicesCmd(deps))
	rootCmd.AddCommand(NewCodecsCmd(deps))

	return rootCmd
}

// NewDependencies returns dependencies logging to stderr and printing to
// stdout.
func NewDependencies() *Dependencies {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	return &Dependencies{
		Log:       log,
		Formatter: output.NewFormatter(os.Stdout),
	}
}
