// Package ui prints room activity to a terminal.
package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gregriff/jamsesh/internal/schemas"
)

var (
	codeStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	hostStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Console writes one line per room event, and the full roster whenever it changes.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

func (c *Console) RoomReady(code string) {
	c.println("room " + codeStyle.Render(code) + mutedStyle.Render(" (share this code)"))
}

func (c *Console) Roster(snapshot schemas.RoomSnapshot, selfID string) {
	c.println(RenderRoster(snapshot, selfID))
}

func (c *Console) ParticipantJoined(p schemas.Participant) {
	c.println(noticeStyle.Render("+ " + p.Username + " joined"))
}

func (c *Console) ParticipantLeft(p schemas.Participant) {
	c.println(mutedStyle.Render("- " + p.Username + " left"))
}

func (c *Console) HostPromoted(username string, isYou bool) {
	if isYou {
		c.println(hostStyle.Render("you are now the host") + mutedStyle.Render(" (start, end)"))
		return
	}
	c.println(hostStyle.Render(username + " is now the host"))
}

func (c *Console) CallStarted(hosting bool) {
	if hosting {
		c.println(noticeStyle.Render("call started, streaming to the room"))
		return
	}
	c.println(noticeStyle.Render("call started, listening"))
}

func (c *Console) CallEnded() {
	c.println(mutedStyle.Render("call ended"))
}

// Info prints a plain message.
func (c *Console) Info(format string, args ...any) {
	c.println(fmt.Sprintf(format, args...))
}

// RenderRoster draws the participants in join order. The host flag comes from the snapshot's
// hostId, never from the per-participant field.
func RenderRoster(snapshot schemas.RoomSnapshot, selfID string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("#", "NAME", "ROLE").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 && row >= 0 && row < len(snapshot.Participants) &&
				snapshot.Participants[row].ID == snapshot.HostID {
				return cellStyle.Inherit(hostStyle)
			}
			return cellStyle
		})

	for i, p := range snapshot.Participants {
		name := p.Username
		if p.ID == selfID {
			name += " (you)"
		}
		role := schemas.RoleListener
		if p.ID == snapshot.HostID {
			role = schemas.RoleHost
		}
		t.Row(fmt.Sprint(i+1), name, role)
	}
	return t.String()
}
