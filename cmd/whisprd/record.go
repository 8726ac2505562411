package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"whispr-capture-service/internal/app"
	"whispr-capture-service/internal/audio"
)

var recordOpts struct {
	systemPID  int
	systemName string
	appPID     int
	appBundle  string
	mic        bool
	micDevice  string
	locale     string
	duration   time.Duration
	live       bool
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the selected sources and print the compiled note",
	Example: "  whisprd record --mic --duration 30s\n" +
		"  whisprd record --app-pid 4242 --app-bundle us.zoom.xos --mic --locale en-GB",
	RunE: runRecord,
}

func init() {
	f := recordCmd.Flags()
	f.IntVar(&recordOpts.systemPID, "system-pid", 0, "tap the audio output of this process into the system stream")
	f.StringVar(&recordOpts.systemName, "system-name", "", "display name of the system process")
	f.IntVar(&recordOpts.appPID, "app-pid", 0, "tap the audio output of this application")
	f.StringVar(&recordOpts.appBundle, "app-bundle", "", "bundle identifier of the application")
	f.BoolVar(&recordOpts.mic, "mic", false, "record the microphone")
	f.StringVar(&recordOpts.micDevice, "mic-device", "", "input device ID (default device when empty)")
	f.StringVar(&recordOpts.locale, "locale", "", "recognition locale (defaults to stt.language_code)")
	f.DurationVar(&recordOpts.duration, "duration", 0, "stop after this long (0 records until interrupted)")
	f.BoolVar(&recordOpts.live, "live", false, "print every compiled note, not only the final one")
}

type selection struct {
	kind audio.SourceKind
	req  app.DescriptorRequest
}

func selectedSources() []selection {
	var out []selection
	if recordOpts.systemPID > 0 {
		out = append(out, selection{audio.SourceSystemAudio, app.DescriptorRequest{PID: recordOpts.systemPID, Name: recordOpts.systemName}})
	}
	if recordOpts.appPID > 0 {
		out = append(out, selection{audio.SourceApplicationAudio, app.DescriptorRequest{PID: recordOpts.appPID, BundleID: recordOpts.appBundle}})
	}
	if recordOpts.mic {
		out = append(out, selection{audio.SourceMicrophone, app.DescriptorRequest{DeviceID: recordOpts.micDevice}})
	}
	return out
}

func runRecord(cmd *cobra.Command, args []string) error {
	sources := selectedSources()
	if len(sources) == 0 {
		return errors.New("select at least one source: --system-pid, --app-pid or --mic")
	}

	application, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer application.Shutdown()
	if err := application.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if recordOpts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, recordOpts.duration)
		defer cancel()
	}

	orch := application.Orchestrator
	notes, unsubscribe := orch.SubscribeNotes(4)
	defer unsubscribe()

	for _, s := range sources {
		desc := application.Descriptor(s.kind, s.req)
		if err := orch.ToggleRecording(cmd.Context(), s.kind, true, desc, recordOpts.locale); err != nil {
			orch.StopAll()
			return fmt.Errorf("start %s: %w", s.kind, err)
		}
		application.Logger.Info().Str("source", s.kind.String()).Str("descriptor", desc.String()).Msg("Recording")
	}

	out := cmd.OutOrStdout()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case n := <-notes:
			if recordOpts.live {
				fmt.Fprintf(out, "--- %s\n%s\n", n.Compiled.Format(time.TimeOnly), n.Body)
			}
		}
	}

	orch.StopAll()
	fmt.Fprintln(out, orch.FormattedNote())
	return nil
}
