package main

import (
	"os"

	"github.com/thesyncim/recorder"
	"github.com/thesyncim/recorder/internal/cli"
)

func main() {
	deps := cli.NewDependencies()

	// Platform capture is supplied by the embedding application; the CLI
	// records generated test media unless one has been registered.
	if recorder.GetDeviceProvider() == nil {
		recorder.RegisterDeviceProvider(recorder.NewSyntheticProvider(recorder.SyntheticConfig{
			DisplayAudio: true,
			Logger:       deps.Log.WithField("component", "synthetic"),
		}))
	}

	if err := cli.NewRootCmd(deps).Execute(); err != nil {
		deps.Formatter.Error(recorder.UserMessage(err))
		deps.Log.WithError(err).Debug("command failed")
		os.Exit(1)
	}
}
