// Command loqa-tts-cli runs the synthesis engine once from the command line.
//
// Usage:
//
//	loqa-tts-cli [--config loqa-tts.yaml] <command> [flags]
//
// Commands:
//
//	synthesize  - Speak text into a WAV file
//	convert     - Convert a reference clip into another speaker's voice
//	voices      - List the speakers and languages the engine accepts
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/synth"
)

var (
	configPath string
	device     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "loqa-tts-cli",
	Short:         "Local text-to-speech and voice conversion",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&device, "device", "", "Override engine device (cpu, cuda, cuda:N)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(synthesizeCmd(), convertCmd(), voicesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if kind := synth.Kind(err); kind != "" && kind != "internal" {
			fmt.Fprintln(os.Stderr, "kind:", kind)
		}
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadBundle() (*engine.Bundle, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if device != "" {
		cfg.Engine.Device = device
	}
	return engine.Build(cfg.Engine, newLogger())
}

func synthesizeCmd() *cobra.Command {
	var (
		text, speaker, language, styleWav, out string
		speakerWavs                            []string
	)
	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Speak text into a WAV file",
		Long: `Synthesize text into a 16-bit mono WAV file.

Example:
  loqa-tts-cli synthesize --text "Hello world." --speaker alice --out hello.wav`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" && len(args) > 0 {
				text = strings.Join(args, " ")
			}
			b, err := loadBundle()
			if err != nil {
				return err
			}
			defer b.Close()

			res, err := b.Engine.Synthesize(cmd.Context(), synth.Request{
				Text:           text,
				Speaker:        speaker,
				Language:       language,
				ReferenceClips: speakerWavs,
				StyleRef:       styleWav,
			})
			if err != nil {
				return err
			}
			return save(cmd, res, out)
		},
	}
	cmd.Flags().StringVarP(&text, "text", "t", "", "Text to speak")
	cmd.Flags().StringVarP(&speaker, "speaker", "s", "", "Speaker name")
	cmd.Flags().StringVarP(&language, "language", "l", "", "Language name")
	cmd.Flags().StringSliceVar(&speakerWavs, "speaker-wav", nil, "Reference clip for voice cloning (repeatable)")
	cmd.Flags().StringVar(&styleWav, "style-wav", "", "Style reference clip")
	cmd.Flags().StringVarP(&out, "out", "o", "tts_output.wav", "Output WAV path")
	return cmd
}

func convertCmd() *cobra.Command {
	var (
		source, target, styleWav, out string
		speakerWavs                   []string
	)
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a reference clip into another speaker's voice",
		Long: `Convert the voice of a reference clip into a target speaker.

Example:
  loqa-tts-cli convert --speaker-wav me.wav --source alice --target bob --out bob.wav`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := loadBundle()
			if err != nil {
				return err
			}
			defer b.Close()

			res, err := b.Engine.Convert(cmd.Context(), synth.ConversionRequest{
				SourceSpeaker:  source,
				TargetSpeaker:  target,
				ReferenceClips: speakerWavs,
				StyleRef:       styleWav,
			})
			if err != nil {
				return err
			}
			return save(cmd, res, out)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Source speaker name")
	cmd.Flags().StringVar(&target, "target", "", "Target speaker name")
	cmd.Flags().StringSliceVar(&speakerWavs, "speaker-wav", nil, "Reference clip (repeatable)")
	cmd.Flags().StringVar(&styleWav, "style-wav", "", "Style reference clip")
	cmd.Flags().StringVarP(&out, "out", "o", "vc_output.wav", "Output WAV path")
	return cmd
}

func voicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the speakers and languages the engine accepts",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := loadBundle()
			if err != nil {
				return err
			}
			defer b.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(b.Info())
		},
	}
}

func save(cmd *cobra.Command, res synth.Result, out string) error {
	if err := synth.Save(res, out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d segments, %.2fs audio, rtf %.3f)\n",
		out, res.Segments, res.Duration().Seconds(), res.RealTimeFactor)
	return nil
}
