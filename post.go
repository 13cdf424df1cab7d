package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPostCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "post <conversation-id> <text...>",
		Short: "Post a message to a conversation as the configured user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(opts.debug)

			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			client, err := newClient(cfg, logger)
			if err != nil {
				return err
			}

			if !client.Post(cmd.Context(), args[0], strings.Join(args[1:], " ")) {
				return fmt.Errorf("post to %s failed", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "posted to %s\n", args[0])
			return nil
		},
	}
}
