// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/arena-foundation/arena/lib/wire"
)

const (
	columnWidthRoom  = 8
	columnWidthSlot  = 6
	columnWidthState = 18
	columnWidthHost  = 22
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	panelStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
)

// stateColor picks the foreground for a worker state name.
func stateColor(state string) lipgloss.Color {
	switch state {
	case "running":
		return lipgloss.Color("2")
	case "finished":
		return lipgloss.Color("6")
	case "launched", "created", "waiting-players":
		return lipgloss.Color("3")
	default:
		return lipgloss.Color("8")
	}
}

// render formats a status report for a terminal.
func render(report wire.StatusReport) string {
	var summary strings.Builder
	fmt.Fprintf(&summary, "%s %d   %s %d   %s %d   %s %d/%d",
		headerStyle.Render("identities"), report.Identities,
		headerStyle.Render("connected"), report.Connected,
		headerStyle.Render("queued"), report.Queued,
		headerStyle.Render("sessions"), len(report.Sessions), report.Budget,
	)

	var body strings.Builder
	body.WriteString(summary.String())
	body.WriteString("\n\n")
	if len(report.Sessions) == 0 {
		body.WriteString(faintStyle.Render("no active sessions"))
		return panelStyle.Render(body.String())
	}

	body.WriteString(headerStyle.Render(
		lipgloss.NewStyle().Width(columnWidthRoom).Render("ROOM") +
			lipgloss.NewStyle().Width(columnWidthSlot).Render("SLOT") +
			lipgloss.NewStyle().Width(columnWidthState).Render("STATE") +
			lipgloss.NewStyle().Width(columnWidthHost).Render("ENDPOINT") +
			"PARTY"))
	for _, session := range report.Sessions {
		endpoint := "-"
		if session.Port != 0 {
			endpoint = session.Host + ":" + strconv.Itoa(int(session.Port))
		}
		party := make([]string, len(session.Party))
		for i, id := range session.Party {
			party[i] = strconv.FormatUint(id, 10)
		}
		body.WriteString("\n")
		body.WriteString(
			lipgloss.NewStyle().Width(columnWidthRoom).Render(strconv.FormatUint(uint64(session.RoomID), 10)) +
				lipgloss.NewStyle().Width(columnWidthSlot).Render(strconv.Itoa(session.Slot)) +
				lipgloss.NewStyle().Width(columnWidthState).Foreground(stateColor(session.State)).Render(session.State) +
				lipgloss.NewStyle().Width(columnWidthHost).Render(endpoint) +
				strings.Join(party, ","))
	}
	return panelStyle.Render(body.String())
}
