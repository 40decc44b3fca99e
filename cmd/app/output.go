package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/opentourtools/tourstudio/internal/application"
	"github.com/opentourtools/tourstudio/internal/domain"
)

func printJSON(v any) error {
	b, err := jsonMarshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println("no results")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func formatMaybeUint(v *uint) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatUint(uint64(*v), 10)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatPosition(p domain.Position) string {
	return fmt.Sprintf("%.3f,%.3f", p.X, p.Y)
}

func printTours(items []domain.Tour) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		start := item.StartRoom
		if start == "" {
			start = "-"
		}
		rows = append(rows, []string{
			item.ID,
			item.Name,
			strconv.FormatUint(uint64(item.OwnerID), 10),
			start,
			formatTime(item.UpdatedAt),
		})
	}
	printTable([]string{"ID", "NAME", "OWNER_ID", "START_ROOM", "UPDATED_AT"}, rows)
}

func printSnapshot(snap application.Snapshot) {
	start := snap.StartRoom
	if start == "" {
		start = "-"
	}
	printKV([][2]string{
		{"tour_id", snap.TourID},
		{"mode", string(snap.Mode)},
		{"active_room", snap.ActiveRoom},
		{"start_room", start},
		{"rooms", strings.Join(snap.Rooms, ", ")},
	})

	rows := make([][]string, 0)
	for _, room := range snap.Rooms {
		for _, m := range snap.Markers[room] {
			rows = append(rows, []string{m.FromRoom, m.ToRoom, formatPosition(m.Position)})
		}
	}
	if len(rows) > 0 {
		fmt.Println()
		printTable([]string{"FROM", "TO", "POSITION"}, rows)
	}

	rows = rows[:0]
	for _, room := range snap.Rooms {
		for _, tip := range snap.Tooltips[room] {
			rows = append(rows, []string{tip.ID, tip.RoomName, formatPosition(tip.Position), tip.Content})
		}
	}
	if len(rows) > 0 {
		fmt.Println()
		printTable([]string{"ID", "ROOM", "POSITION", "CONTENT"}, rows)
	}

	rows = rows[:0]
	for _, room := range snap.Rooms {
		info, ok := snap.Audio[room]
		if !ok {
			continue
		}
		pending := "-"
		if info.PendingSource != "" {
			pending = string(info.PendingSource) + ":" + info.PendingName
		}
		url := info.URL
		if url == "" {
			url = "-"
		}
		rows = append(rows, []string{room, url, pending})
	}
	if len(rows) > 0 {
		fmt.Println()
		printTable([]string{"ROOM", "AUDIO_URL", "PENDING"}, rows)
	}

	if snap.Pending != nil {
		fmt.Println()
		printPending(snap.Pending)
	}
}

func printMarker(m domain.Marker) {
	printKV([][2]string{
		{"id", m.ID},
		{"from", m.FromRoom},
		{"to", m.ToRoom},
		{"position", formatPosition(m.Position)},
	})
}

func printTooltip(tip domain.Tooltip) {
	printKV([][2]string{
		{"id", tip.ID},
		{"room", tip.RoomName},
		{"position", formatPosition(tip.Position)},
		{"content", tip.Content},
	})
}

func printPending(p *application.PendingAction) {
	if p == nil {
		fmt.Println("no pending action")
		return
	}
	rows := [][2]string{{"action", string(p.Kind)}}
	if p.Room != "" {
		rows = append(rows, [2]string{"room", p.Room})
	}
	if p.NewName != "" {
		rows = append(rows, [2]string{"new_name", p.NewName})
	}
	if p.FromRoom != "" {
		rows = append(rows, [2]string{"from", p.FromRoom})
	}
	if p.ToRoom != "" {
		rows = append(rows, [2]string{"to", p.ToRoom})
	}
	if p.Position != nil {
		rows = append(rows, [2]string{"position", formatPosition(*p.Position)})
	}
	if p.TooltipID != "" {
		rows = append(rows, [2]string{"tooltip_id", p.TooltipID})
	}
	printKV(rows)
}

func printPlayback(res playbackResult) {
	start := res.StartNode
	if !res.HasStart {
		start = "-"
	}
	printKV([][2]string{{"start_node", start}})
	rows := make([][]string, 0, len(res.Nodes))
	for _, node := range res.Nodes {
		audio := node.AudioURL
		if audio == "" {
			audio = "-"
		}
		links := make([]string, 0, len(node.Links))
		for _, l := range node.Links {
			links = append(links, l.TargetRoomID)
		}
		linkCol := strings.Join(links, ",")
		if linkCol == "" {
			linkCol = "-"
		}
		rows = append(rows, []string{
			node.ID,
			linkCol,
			strconv.Itoa(len(node.Annotations)),
			audio,
		})
	}
	fmt.Println()
	printTable([]string{"NODE", "LINKS", "ANNOTATIONS", "AUDIO"}, rows)
}

func printAuditLogs(items []domain.AuditLog) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		target := item.TargetID
		if target == "" {
			target = "-"
		}
		rows = append(rows, []string{
			strconv.FormatUint(uint64(item.ID), 10),
			item.Action,
			item.TargetType,
			target,
			formatMaybeUint(item.ActorUserID),
			formatTime(item.CreatedAt),
		})
	}
	printTable([]string{"ID", "ACTION", "TARGET_TYPE", "TARGET_ID", "ACTOR_ID", "AT"}, rows)
}
