package main

import (
	"fmt"
	"time"

	"github.com/cuemby/herald/pkg/client"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream a user's events from a running server",
	Long: `Subscribe to a user's event stream and print each event as it arrives:
agent states, chat replies, reply timeouts and reminder updates.

Examples:
  herald watch --user u1
  herald watch --user u1 --addr 10.0.0.5:7070`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		fmt.Printf("Watching events for %s (Ctrl+C to stop)\n", userID)
		return c.Subscribe(cmd.Context(), userID, func(ev client.Event) error {
			fmt.Printf("%s  %-16s %s\n", ev.Timestamp.Local().Format(time.TimeOnly), ev.Type, string(ev.Payload))
			return nil
		})
	},
}

func init() {
	watchCmd.Flags().String("addr", "127.0.0.1:7070", "Server gRPC address")
	watchCmd.Flags().String("user", "", "User ID (required)")
	_ = watchCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(watchCmd)
}
