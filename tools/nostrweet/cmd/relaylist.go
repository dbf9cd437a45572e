package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/douglaz/nostrweet/pkg/events"
	"github.com/douglaz/nostrweet/pkg/publisher"
)

var updateRelayListCmd = &cobra.Command{
	Use:   "update-relay-list",
	Short: "Publish a relay-list event (kind 10002) for the configured relays.",
	RunE:  runUpdateRelayList,
}

func init() {
	rootCmd.AddCommand(updateRelayListCmd)
}

func runUpdateRelayList(cmd *cobra.Command, args []string) error {
	if len(cfg.Relays) == 0 {
		return configErr(fmt.Errorf("at least one relay is required"))
	}
	store, err := buildStore()
	if err != nil {
		return err
	}
	signer, err := buildSigner(store)
	if err != nil {
		return err
	}
	defer signer.Zeroize()

	pub := publisher.New(cfg.Relays, publisher.DialRelay, logger)
	defer pub.Close()

	ev, err := events.NewBuilder(signer).RelayList(cfg.Relays)
	if err != nil {
		return err
	}
	report := pub.Publish(cmd.Context(), ev)
	for url, res := range report.PerRelay {
		if res.Status == publisher.StatusAck {
			console.Success("%s acknowledged relay list %s", url, ev.ID)
		} else {
			console.Warn("%s: %s %s", url, res.Status, res.Reason)
		}
	}
	if !report.Success() {
		return fmt.Errorf("relay list event was not acknowledged by any relay")
	}
	return nil
}
