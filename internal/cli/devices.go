package cli

import (
	"github.com/spf13/cobra"

	"github.com/thesyncim/recorder"
)

func NewDevicesCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List cameras and microphones",
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := recorder.NewMediaDevices(deps.Provider, deps.Log.WithField("component", "devices"))
			if err != nil {
				return err
			}
			devices, err := md.EnumerateDevices(cmd.Context())
			if err != nil {
				return err
			}
			cam, mic, err := md.DefaultSelection(cmd.Context())
			if err != nil {
				return err
			}
			if deps.Config.Camera != "" {
				cam = deps.Config.Camera
			}
			if deps.Config.Microphone != "" {
				mic = deps.Config.Microphone
			}

			f := deps.Formatter
			f.DeviceHeader("Cameras")
			for _, d := range devices {
				if d.Kind == recorder.DeviceKindVideoInput {
					f.Device(d, d.DeviceID == cam)
				}
			}
			f.DeviceHeader("Microphones")
			for _, d := range devices {
				if d.Kind == recorder.DeviceKindAudioInput {
					f.Device(d, d.DeviceID == mic)
				}
			}
			return nil
		},
	}
}
