package main

import (
	"fmt"
	"log"
	"os"

	"github.com/dunamismax/pixelmix"
	"github.com/dunamismax/pixelmix/internal/imaging"
	"github.com/spf13/cobra"
)

var logger = log.New(os.Stderr, "[pixelmix] ", log.Lmsgprefix)

var rootCmd = &cobra.Command{
	Use:           "pixelmix",
	Short:         "Re-encode images as PNG, optionally flipping them and nudging one pixel",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return imaging.Startup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		imaging.Shutdown()
	},
}

func init() {
	rootCmd.PersistentFlags().Uint64("seed", 0, "Seed for reproducible output (unset = random)")
	rootCmd.PersistentFlags().Bool("strict", false, "Fail instead of passing undecodable input through")
}

func newEngine(cmd *cobra.Command) *pixelmix.Engine {
	seed, _ := cmd.Flags().GetUint64("seed")
	strict, _ := cmd.Flags().GetBool("strict")

	opts := []pixelmix.Option{pixelmix.WithStrict(strict)}
	if cmd.Flags().Changed("seed") {
		opts = append(opts, pixelmix.WithSeed(seed))
	}
	return pixelmix.New(opts...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
