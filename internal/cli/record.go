package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thesyncim/recorder"
	"github.com/thesyncim/recorder/internal/config"
)

type recordOptions struct {
	mode       string
	camera     string
	microphone string
	mirror     bool
	duration   time.Duration
	outputDir  string
}

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var opts recordOptions

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record until interrupted or for a fixed duration",
		Long:  "Record the configured sources. Press Ctrl+C to stop, or pass --duration.\nThe recording is saved to the output directory when it stops.",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlags(cmd, deps.Config, opts)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRecord(ctx, deps, opts.duration)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Recording mode: screen, camera or both")
	cmd.Flags().StringVar(&opts.camera, "camera", "", "Camera device ID (default: first camera)")
	cmd.Flags().StringVar(&opts.microphone, "mic", "", "Microphone device ID (default: first microphone)")
	cmd.Flags().BoolVar(&opts.mirror, "mirror", false, "Mirror the camera")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Stop after this long (0 = until interrupted)")
	cmd.Flags().StringVarP(&opts.outputDir, "out", "o", "", "Output directory")

	return cmd
}

// applyFlags overrides config values with flags the user actually set.
func applyFlags(cmd *cobra.Command, cfg *config.Config, opts recordOptions) {
	f := cmd.Flags()
	if f.Changed("mode") {
		cfg.Mode = opts.mode
	}
	if f.Changed("camera") {
		cfg.Camera = opts.camera
	}
	if f.Changed("mic") {
		cfg.Microphone = opts.microphone
	}
	if f.Changed("mirror") {
		cfg.Mirror = opts.mirror
	}
	if f.Changed("out") {
		cfg.OutputDir = opts.outputDir
	}
}

// newRecorder builds a recorder from the resolved configuration.
func newRecorder(deps *Dependencies) (*recorder.Recorder, error) {
	cfg := deps.Config
	mode, err := recorder.ParseRecordingMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	shape, _ := recorder.ParseOverlayShape(cfg.Overlay.Shape)

	controls := recorder.NewControlState(mode, shape)
	controls.SetCamera(cfg.Camera)
	controls.SetMicrophone(cfg.Microphone)
	controls.SetMirrored(cfg.Mirror)
	controls.MoveOverlay(cfg.Overlay.X, cfg.Overlay.Y)

	canvas := recorder.DefaultCompositorConfig()
	canvas.Width, canvas.Height = cfg.Canvas.Width, cfg.Canvas.Height
	canvas.FPS, canvas.RefreshRate = cfg.Canvas.FPS, cfg.Canvas.RefreshHz

	log := deps.Log.WithField("component", "recorder")
	return recorder.New(recorder.Config{
		Provider: deps.Provider,
		Controls: controls,
		Notifier: deps.Formatter,
		Canvas:   canvas,
		Session: recorder.SessionConfig{
			MimeTypes:       cfg.Encoder.Codecs,
			VideoBitrateBps: cfg.Encoder.Bitrate,
			FPS:             cfg.Canvas.FPS,
			Slice:           cfg.Encoder.Slice,
			OnElapsed:       deps.Formatter.Elapsed,
			NewEncoder:      deps.NewEncoder,
		},
		Logger: log,
	})
}

func runRecord(ctx context.Context, deps *Dependencies, duration time.Duration) error {
	rec, err := newRecorder(deps)
	if err != nil {
		return err
	}
	defer rec.Close()

	if err := rec.SelectDefaults(ctx); err != nil {
		return err
	}
	if err := rec.StartRecording(ctx); err != nil {
		return err
	}

	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-ctx.Done():
	case <-deadline:
	case <-rec.Session().Done():
	}

	// An encoder failure may already have ended the session; whatever was
	// recorded is still saved.
	if rec.Recording() {
		if err := rec.StopRecording(); err != nil {
			deps.Log.WithError(err).Warn("stopping recording")
		}
	}
	artifact, err := rec.Export()
	if err != nil {
		return err
	}
	path, err := artifact.Save(deps.Config.OutputDir)
	if err != nil {
		return err
	}
	deps.Formatter.Saved(path, artifact.Size())
	return nil
}
