package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete all cache artifacts under the data dir.",
	Long: `Deletes every post artifact, profile, media file, not-found marker and
event sidecar. The daemon will re-download and re-publish from scratch
afterwards (relays deduplicate by event id, so republication is harmless).`,
	RunE: runClearCache,
}

func init() {
	clearCacheCmd.Flags().BoolP("force", "f", false, "Do not ask for confirmation")
	rootCmd.AddCommand(clearCacheCmd)
}

func runClearCache(cmd *cobra.Command, args []string) error {
	store, err := buildStore()
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	if !force {
		fmt.Fprintf(os.Stderr, "Delete all cached data under %s? [y/N] ", cfg.DataDir)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
			console.Info("Aborted")
			return nil
		}
	}
	removed, err := store.Clear()
	if err != nil {
		return startupErr(err)
	}
	console.Success("Removed %d cache artifact(s)", removed)
	return nil
}
