package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CrowderSoup/kanban-studio/board"
	"github.com/CrowderSoup/kanban-studio/kanban"
)

func boardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show your board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			return printBoard(cmd.OutOrStdout(), store.Snapshot(), store.Status)
		},
	}
}

func addCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <column> <title...>",
		Short: "Add a card to the end of a column",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			columnID, err := resolveColumn(store.Snapshot(), args[0])
			if err != nil {
				return err
			}

			details, _ := cmd.Flags().GetString("details")
			title := strings.Join(args[1:], " ")
			if _, err := store.AddCard(cmd.Context(), columnID, title, details); err != nil {
				return err
			}
			if err := finish(store); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %q\n", title)
			return nil
		},
	}
	cmd.Flags().StringP("details", "d", "", "Card details")
	return cmd
}

func moveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "move <card> <target>",
		Short: "Move a card onto another card's position or to the end of a column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			snapshot := store.Snapshot()
			cardID, err := resolveCard(snapshot, args[0])
			if err != nil {
				return err
			}
			targetID, err := resolveTarget(snapshot, args[1])
			if err != nil {
				return err
			}

			if !store.MoveCard(cmd.Context(), cardID, targetID) {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to move")
				return nil
			}
			if err := finish(store); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Moved")
			return nil
		},
	}
}

func rmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <card>",
		Short: "Delete a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			cardID, err := resolveCard(store.Snapshot(), args[0])
			if err != nil {
				return err
			}

			store.DeleteCard(cmd.Context(), cardID)
			if err := finish(store); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted")
			return nil
		},
	}
}

func renameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <column> <title...>",
		Short: "Rename a column",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			columnID, err := resolveColumn(store.Snapshot(), args[0])
			if err != nil {
				return err
			}

			if err := store.RenameColumn(cmd.Context(), columnID, strings.Join(args[1:], " ")); err != nil {
				return err
			}
			if err := finish(store); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Renamed")
			return nil
		},
	}
}

// syncMarker flags entities that are not in sync with the server.
func syncMarker(state kanban.SyncState) string {
	switch state {
	case kanban.Pending:
		return "*"
	case kanban.Failed:
		return "!"
	case kanban.LocalOnly:
		return "~"
	default:
		return ""
	}
}

// printBoard writes one block per column, cards in order.
func printBoard(w io.Writer, b board.Board, status func(string) kanban.SyncState) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, col := range b.Columns {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "%s%s\t(%s)\t\n", col.Title, syncMarker(status(col.ID)), col.ID)
		if len(col.CardIDs) == 0 {
			fmt.Fprintln(tw, "  (empty)\t\t")
			continue
		}
		for _, id := range col.CardIDs {
			card := b.Cards[id]
			fmt.Fprintf(tw, "  %s%s\t%s\t\n", syncMarker(status(id)), id, card.Title)
		}
	}
	if err := tw.Flush(); err != nil {
		return errors.New("failed to write board")
	}
	return nil
}
