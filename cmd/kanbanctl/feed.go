package main

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CrowderSoup/kanban-studio/api"
)

func chatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <message...>",
		Short: "Ask the assistant to change your board",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			before := store.Snapshot()

			reply, err := store.Chat(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)

			after := store.Snapshot()
			if !reflect.DeepEqual(before, after) {
				fmt.Fprintln(cmd.OutOrStdout())
				return printBoard(cmd.OutOrStdout(), after, store.Status)
			}
			return nil
		},
	}
}

func watchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow changes to your board as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := printBoard(out, store.Snapshot(), store.Status); err != nil {
				return err
			}

			err = a.client.Watch(ctx, func(ev api.Event) {
				if err := store.ApplyEvent(ev); err != nil {
					a.logger.Warn("Ignoring malformed event", zap.String("type", ev.Type), zap.Error(err))
					return
				}
				if ev.Type == api.EventPong {
					return
				}
				fmt.Fprintf(out, "\n-- %s\n", ev.Type)
				printBoard(out, store.Snapshot(), store.Status)
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}
