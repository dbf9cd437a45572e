package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listTweetsCmd = &cobra.Command{
	Use:   "list-tweets",
	Short: "List cached tweets, derived purely from cache filenames.",
	RunE:  runListTweets,
}

func init() {
	listTweetsCmd.Flags().String("user", "", "Restrict the listing to one handle")
	rootCmd.AddCommand(listTweetsCmd)
}

func runListTweets(cmd *cobra.Command, args []string) error {
	store, err := buildStore()
	if err != nil {
		return err
	}
	handle, _ := cmd.Flags().GetString("user")

	posts, err := store.ListPosts(handle)
	if err != nil {
		return startupErr(err)
	}
	if len(posts) == 0 {
		console.Info("No cached tweets found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tTWEET ID\tOBSERVED\tPUBLISHED")
	for _, p := range posts {
		published := "-"
		if id, ok := store.PublishedEventID(p.PostID); ok {
			published = id
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Handle, p.PostID, p.Observed.Format("2006-01-02 15:04:05"), published)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	console.Info("%d cached tweet(s)", len(posts))
	return nil
}
