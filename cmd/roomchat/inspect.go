package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomchat/internal/app"
	"github.com/vovakirdan/roomchat/internal/store"
)

func newRoomsCmd(opts *rootOptions) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List the rooms owned by a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load(false)
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			rooms, err := st.ListRoomsByOwner(cmd.Context(), owner)
			if err != nil {
				return err
			}
			renderRooms(cmd.OutOrStdout(), rooms)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner username")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var roomID int64

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the message log of a room",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load(false)
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			messages, err := st.ListMessages(cmd.Context(), roomID)
			if err != nil {
				return err
			}
			renderMessages(cmd.OutOrStdout(), messages)
			return nil
		},
	}
	cmd.Flags().Int64Var(&roomID, "room", 0, "room id")
	_ = cmd.MarkFlagRequired("room")

	return cmd
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func renderRooms(w io.Writer, rooms []*store.Room) {
	table := newTable(w, "ID", "Name", "Owner", "Created")
	for _, r := range rooms {
		table.Append([]string{strconv.FormatInt(r.ID, 10), r.Name, r.Owner, r.CreatedAt.Format(time.RFC3339)})
	}
	table.Render()
	fmt.Fprintf(w, "%d room(s)\n", len(rooms))
}

func renderMessages(w io.Writer, messages []*store.Message) {
	table := newTable(w, "ID", "Time", "Sender", "Text")
	for _, m := range messages {
		table.Append([]string{strconv.FormatInt(m.ID, 10), m.CreatedAt.Format(time.RFC3339Nano), m.Sender, m.Body})
	}
	table.Render()
	fmt.Fprintf(w, "%d message(s)\n", len(messages))
}
