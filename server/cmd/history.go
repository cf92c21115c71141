package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gregriff/jamsesh/server/internal/dal"
	"github.com/gregriff/jamsesh/server/internal/db"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyRoom  string
)

// historyCmd prints recent room lifecycle events from the history database.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently created rooms, closed rooms and host changes",
	Args:  cobra.MaximumNArgs(0),
	RunE:  showHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 25, "number of events to show")
	historyCmd.Flags().StringVar(&historyRoom, "room", "", "only show events for this room code")
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	kindColors  = map[string]lipgloss.Color{
		dal.EventCreated:     lipgloss.Color("42"),
		dal.EventClosed:      lipgloss.Color("241"),
		dal.EventHostChanged: lipgloss.Color("214"),
	}
)

func showHistory(cmd *cobra.Command, _ []string) error {
	conn := db.GetDB()
	defer conn.Close()

	events, err := dal.GetRoomEvents(conn, historyRoom, historyLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no room history yet")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderHistory(events))
	return nil
}

func renderHistory(events []dal.RoomEvent) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("TIME", "ROOM", "EVENT", "HOST", "REASON").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 && row >= 0 && row < len(events) {
				return cellStyle.Foreground(kindColors[events[row].Kind])
			}
			return cellStyle
		})

	for _, e := range events {
		t.Row(e.At.Local().Format("2006-01-02 15:04:05"), e.Code, e.Kind, e.HostName, e.Reason)
	}
	return t.String()
}
