package main

import (
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
	"github.com/eliteGoblin/focusd/automute/internal/ui"
)

// renderApps prints one row per program: managed mark, display name, path.
func renderApps(w io.Writer, apps []ui.RecentApp) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Managed", "App", "Path"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_CENTER, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT})

	for _, app := range apps {
		mark := ""
		if app.Managed {
			mark = "x"
		}
		table.Append([]string{mark, ui.AppName(app.Path), app.Path.String()})
	}
	table.Render()
}

// managedRows converts managed paths into table rows.
func managedRows(paths []domain.ProgramPath) []ui.RecentApp {
	rows := make([]ui.RecentApp, 0, len(paths))
	for _, p := range paths {
		rows = append(rows, ui.RecentApp{Path: p, Managed: true})
	}
	return rows
}
