package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/mesh"
)

func styledTable(headers []string, rows [][]string) string {
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// RosterView renders relay participants; the local participant is marked.
func RosterView(roster []mesh.Participant, localID string) string {
	if len(roster) == 0 {
		return MutedStyle.Render("Nobody is in the room")
	}

	rows := make([][]string, 0, len(roster))
	for i, p := range roster {
		name := truncate(p.Name, 32)
		if p.ID == localID {
			name += " (you)"
		}
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), name, p.ID})
	}
	return styledTable([]string{"#", "Name", "ID"}, rows)
}

// SourcesView renders capture sources of both kinds.
func SourcesView(mics, screens []media.Source) string {
	if len(mics) == 0 && len(screens) == 0 {
		return MutedStyle.Render("No capture sources")
	}

	var rows [][]string
	for _, s := range mics {
		rows = append(rows, []string{IconMic + " microphone", s.ID, s.Label})
	}
	for _, s := range screens {
		rows = append(rows, []string{IconScreen + " screen", s.ID, s.Label})
	}
	return styledTable([]string{"Kind", "ID", "File"}, rows)
}

// LinksView renders one row per peer link.
func LinksView(links []mesh.LinkStatus) string {
	if len(links) == 0 {
		return MutedStyle.Render("Waiting for others to join...")
	}

	rows := make([][]string, 0, len(links))
	for _, l := range links {
		name := l.Name
		if name == "" {
			name = l.RemoteID
		}
		note := ""
		if l.Err != nil {
			note = truncate(l.Err.Error(), 40)
		}
		rows = append(rows, []string{
			truncate(name, 24),
			StateLabel(l.State),
			ConnectionLabel(l.Connection),
			fmt.Sprintf("%d", l.Offers),
			note,
		})
	}
	return styledTable([]string{"Peer", "Signaling", "Connection", "Offers", "Error"}, rows)
}

func StateLabel(s mesh.State) string {
	switch s {
	case mesh.Stable:
		return s.String()
	case mesh.Closed:
		return ErrorStyle.Render(s.String())
	default:
		return WarningStyle.Render(s.String())
	}
}

func ConnectionLabel(s webrtc.PeerConnectionState) string {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return SuccessStyle.Render(s.String())
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		return ErrorStyle.Render(s.String())
	case webrtc.PeerConnectionStateUnknown:
		return MutedStyle.Render("new")
	default:
		return MutedStyle.Render(s.String())
	}
}
