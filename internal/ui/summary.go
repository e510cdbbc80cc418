package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/mesh"
)

// CallSummary is printed when a call ends.
type CallSummary struct {
	Name     string
	Duration time.Duration
	Links    []mesh.LinkStatus
	Sinks    []media.SinkStats
}

// RenderCallSummary writes the end-of-call tables to w.
func RenderCallSummary(w io.Writer, s CallSummary) {
	overview := table.NewWriter()
	overview.SetOutputMirror(w)
	overview.SetStyle(table.StyleRounded)
	overview.SetTitle(IconHandshake + " Call Summary")
	overview.AppendHeader(table.Row{"Metric", "Value"})
	overview.AppendRows([]table.Row{
		{"Name", s.Name},
		{"Duration", s.Duration.Round(time.Second).String()},
		{"Peers", len(s.Links)},
		{"Remote tracks", len(s.Sinks)},
	})
	overview.Render()

	if len(s.Links) > 0 {
		links := table.NewWriter()
		links.SetOutputMirror(w)
		links.SetStyle(table.StyleRounded)
		links.AppendHeader(table.Row{"Peer", "Signaling", "Connection", "Offers", "Error"})
		for _, l := range s.Links {
			errText := ""
			if l.Err != nil {
				errText = l.Err.Error()
			}
			links.AppendRow(table.Row{peerName(l), l.State.String(), l.Connection.String(), l.Offers, errText})
		}
		links.SetColumnConfigs([]table.ColumnConfig{
			{Number: 4, Align: text.AlignRight},
			{Number: 5, WidthMax: 48},
		})
		links.Render()
	}

	if len(s.Sinks) > 0 {
		sinks := table.NewWriter()
		sinks.SetOutputMirror(w)
		sinks.SetStyle(table.StyleRounded)
		sinks.AppendHeader(table.Row{"Peer", "Kind", "Codec", "Packets", "Recording"})
		var total uint64
		for _, st := range s.Sinks {
			sinks.AppendRow(table.Row{st.RemoteID, st.Kind.String(), st.Codec, st.Packets, st.File})
			total += st.Packets
		}
		sinks.AppendFooter(table.Row{"", "", "Total", total, ""})
		sinks.SetColumnConfigs([]table.ColumnConfig{
			{Number: 4, Align: text.AlignRight, AlignFooter: text.AlignRight},
		})
		sinks.Render()
	}
}

func peerName(l mesh.LinkStatus) string {
	if l.Name == "" {
		return l.RemoteID
	}
	return fmt.Sprintf("%s (%s)", l.Name, l.RemoteID)
}
