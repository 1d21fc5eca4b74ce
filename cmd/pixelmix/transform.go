package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dunamismax/pixelmix"
	"github.com/spf13/cobra"
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Re-encode as PNG without touching pixels",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetInt("level")
		return runTransform(cmd, pixelmix.Options{Compress: true, CompressionLevel: level})
	},
}

var mixCmd = &cobra.Command{
	Use:   "mix",
	Short: "Nudge one random pixel and re-encode as PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetInt("level")
		return runTransform(cmd, pixelmix.Options{Confusion: true, Compress: true, CompressionLevel: level})
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Flip, mutate and re-encode with explicit stage flags",
	RunE:  runProcess,
}

func init() {
	for _, c := range []*cobra.Command{qualityCmd, mixCmd, processCmd} {
		c.Flags().StringP("input", "i", "", "Input image file (- for stdin)")
		c.Flags().StringP("output", "o", "", "Output PNG file (- for stdout)")
		c.Flags().IntP("level", "l", 6, "Compression level 0-10 (0-3 fast, 4-6 default, 7-10 best)")
		c.MarkFlagRequired("input")
		c.MarkFlagRequired("output")
		rootCmd.AddCommand(c)
	}

	processCmd.Flags().Bool("flip", false, "Mirror the image")
	processCmd.Flags().String("flip-mode", "horizontal", "Flip direction: horizontal, vertical or both")
	processCmd.Flags().Bool("confusion", false, "Nudge one random pixel")
	processCmd.Flags().Bool("compress", false, "Honour --level (otherwise the default tier is used)")
	processCmd.Flags().Bool("regular-url", false, "Source came from a regular URL; forces the default tier")
}

func runProcess(cmd *cobra.Command, args []string) error {
	flip, _ := cmd.Flags().GetBool("flip")
	flipMode, _ := cmd.Flags().GetString("flip-mode")
	confusion, _ := cmd.Flags().GetBool("confusion")
	compress, _ := cmd.Flags().GetBool("compress")
	regularURL, _ := cmd.Flags().GetBool("regular-url")
	level, _ := cmd.Flags().GetInt("level")

	mode := pixelmix.ParseFlipMode(flipMode)
	if flip && mode == pixelmix.FlipNone {
		return fmt.Errorf("unknown flip mode %q", flipMode)
	}

	return runTransform(cmd, pixelmix.Options{
		Flip:             flip,
		FlipMode:         mode,
		Confusion:        confusion,
		Compress:         compress,
		CompressionLevel: level,
		HasRegularURL:    regularURL,
	})
}

func runTransform(cmd *cobra.Command, opts pixelmix.Options) error {
	inputPath, _ := cmd.Flags().GetString("input")
	outputPath, _ := cmd.Flags().GetString("output")

	if opts.CompressionLevel < 0 || opts.CompressionLevel > 10 {
		return fmt.Errorf("level must be between 0 and 10, got %d", opts.CompressionLevel)
	}

	input, err := readInput(cmd, inputPath)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	engine := newEngine(cmd)
	output := input
	res, err := engine.Run(input, opts)
	switch {
	case err != nil && engine.Strict():
		return err
	case err != nil:
		logger.Printf("passthrough %s: %v", inputPath, err)
	default:
		output = res.Data
		logger.Printf("%s %dx%d tier=%s flipped=%s mutated=%v pixel=%v %d → %d bytes",
			cmd.Name(), res.Width, res.Height, res.Tier, res.Flipped, res.Mutated, res.Pixel, len(input), len(output))
	}

	if err := writeOutput(cmd, outputPath, output); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
