package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/dunamismax/pixelmix"
	"github.com/spf13/cobra"
)

var shuffleCmd = &cobra.Command{
	Use:   "shuffle N",
	Short: "Print a uniform random permutation of 0..N-1 as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("N must be a non-negative integer, got %q", args[0])
		}
		return json.NewEncoder(cmd.OutOrStdout()).Encode(newEngine(cmd).Shuffle(n))
	},
}

var mimeCmd = &cobra.Command{
	Use:   "mime FILE...",
	Short: "Print the sniffed content type of each file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", path, pixelmix.DetectMIME(data))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(shuffleCmd, mimeCmd)
}
