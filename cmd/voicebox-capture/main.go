package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/voicebox-app/voicebox-capture/internal/audio"
	"github.com/voicebox-app/voicebox-capture/internal/config"
	"github.com/voicebox-app/voicebox-capture/internal/logging"
	"github.com/voicebox-app/voicebox-capture/internal/meter"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
)

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "voicebox-capture",
		Short:         "Microphone capture diagnostics for the voicebox Linux backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	newBackend := func() (audio.Backend, zerolog.Logger) {
		log := logging.NewWithLevel(logLevel)
		cfg := config.FromEnv()
		log.Debug().
			Bool("virtualized", cfg.Virtualized()).
			Bool("jack_enabled", cfg.EnableJACKHost).
			Bool("enumerate_all", cfg.EnumerateAllInputs()).
			Msg("environment")
		return audio.New(cfg, log), log
	}

	rootCmd.AddCommand(devicesCmd(newBackend))
	rootCmd.AddCommand(probeCmd(newBackend))
	rootCmd.AddCommand(recordCmd(newBackend))
	rootCmd.AddCommand(monitorCmd(newBackend))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type backendFactory func() (audio.Backend, zerolog.Logger)

func devicesCmd(newBackend backendFactory) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List available audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, _ := newBackend()
			devices, err := backend.ListDevices()
			if err != nil {
				return err
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(devices)
			}

			fmt.Printf("\nAvailable input devices\n\n")
			for _, d := range devices {
				marker := " "
				if d.IsDefault {
					marker = "*"
				}
				kind := "input"
				if d.IsLoopback {
					kind = "loopback"
				}
				fmt.Printf("%s %s (%s, %s)\n    id: %s\n", marker, d.Name, d.Host, kind, d.ID)
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the device list as JSON")
	return cmd
}

func probeCmd(newBackend backendFactory) *cobra.Command {
	var (
		deviceID   string
		durationMs int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Measure input signal strength without recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, _ := newBackend()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := backend.ProbeSignal(ctx, deviceID, time.Duration(durationMs)*time.Millisecond)
			if err != nil {
				return err
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(report)
			}

			fmt.Printf("Device:    %s\n", report.DeviceName)
			fmt.Printf("Duration:  %d ms (%d samples)\n", report.DurationMs, report.SampleCount)
			fmt.Printf("Peak:      %.4f\n", report.Peak)
			fmt.Printf("RMS:       %.4f (level %.2f)\n", report.RMS, report.NormalizedLevel)
			fmt.Printf("Signal:    %v\n", report.HasSignal)
			fmt.Printf("%s\n", report.Message)
			return nil
		},
	}
	cmd.Flags().StringVarP(&deviceID, "device", "d", "", "Device id from 'devices' (default: auto-select)")
	cmd.Flags().IntVar(&durationMs, "duration", 1500, "Probe duration in milliseconds (clamped to 300-5000)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the report as JSON")
	return cmd
}

func recordCmd(newBackend backendFactory) *cobra.Command {
	var (
		deviceID    string
		maxDuration time.Duration
		output      string
		copyPayload bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from an input device until interrupted or the duration elapses",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, log := newBackend()

			if err := backend.StartCapture(maxDuration, deviceID); err != nil {
				return err
			}
			log.Info().Dur("max_duration", maxDuration).Msg("recording, press Ctrl+C to stop")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sigChan:
			case <-time.After(maxDuration):
			}

			payload, err := backend.StopCapture()
			if err != nil {
				return err
			}

			switch {
			case output != "":
				wavData, err := base64.StdEncoding.DecodeString(payload)
				if err != nil {
					return fmt.Errorf("failed to decode capture payload: %w", err)
				}
				if err := os.WriteFile(output, wavData, 0644); err != nil {
					return err
				}
				log.Info().Str("file", output).Int("bytes", len(wavData)).Msg("capture written")
			case copyPayload:
				if err := clipboard.WriteAll(payload); err != nil {
					return fmt.Errorf("failed to copy payload to clipboard: %w", err)
				}
				log.Info().Int("chars", len(payload)).Msg("base64 payload copied to clipboard")
			default:
				fmt.Println(payload)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&deviceID, "device", "d", "", "Device id from 'devices' (default: auto-select)")
	cmd.Flags().DurationVar(&maxDuration, "max-duration", 30*time.Second, "Hard upper bound on recording length")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the decoded WAV to a file instead of stdout")
	cmd.Flags().BoolVar(&copyPayload, "copy", false, "Copy the base64 payload to the clipboard")
	return cmd
}

func monitorCmd(newBackend backendFactory) *cobra.Command {
	var (
		deviceID    string
		addr        string
		maxDuration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Capture while serving a live level-meter feed over WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, log := newBackend()

			if err := backend.StartCapture(maxDuration, deviceID); err != nil {
				return err
			}

			srv := meter.NewServer(addr, backend, 250*time.Millisecond, log)
			srv.Start()
			defer srv.Close()
			log.Info().Str("addr", addr).Msg("connect to ws://<addr>/levels for the meter feed")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sigChan:
			case <-time.After(maxDuration):
			}

			if _, err := backend.StopCapture(); err != nil {
				log.Warn().Err(err).Msg("capture ended without usable audio")
				return nil
			}
			log.Info().Msg("capture stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&deviceID, "device", "d", "", "Device id from 'devices' (default: auto-select)")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8766", "Listen address for the meter feed")
	cmd.Flags().DurationVar(&maxDuration, "max-duration", 5*time.Minute, "Hard upper bound on monitoring length")
	return cmd
}
