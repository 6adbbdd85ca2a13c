package cli

import (
	"github.com/spf13/cobra"

	"github.com/thesyncim/recorder"
)

func NewCodecsCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "codecs",
		Short: "List recording formats and whether they can be encoded",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := deps.Formatter
			for _, m := range deps.Config.Encoder.Codecs {
				f.Codec(m, recorder.IsMimeTypeSupported(m))
			}
			for _, err := range recorder.NativeLibraryErrors() {
				f.Info(err.Error())
			}
			return nil
		},
	}
}
