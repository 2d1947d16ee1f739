package commands

import (
	"fmt"
	"os"

	"pointval-backend/lib/serviceutil"
	"pointval-backend/services/scraper/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	jobsDb    *string
	jobsLimit *int64
)

func init() {
	jobsDb = jobsCmd.Flags().String("db", "pointval.db", "The database to list scrapes from.")
	jobsLimit = jobsCmd.Flags().Int64("limit", 20, "Maximum number of scrapes to list.")
	rootCmd.AddCommand(jobsCmd)
}

var jobsCmd = &cobra.Command{
	Use:   "jobs [--db <path/to/pointval.db>]",
	Short: "Lists recorded scrapes, newest first.",
	Run: func(cmd *cobra.Command, args []string) {
		database, err := db.Open(cmd.Context(), *jobsDb)
		if err != nil {
			serviceutil.Fatal("failed to open db", err)
		}
		defer database.Close()

		scrapes, err := db.New(database).ListScrapes(cmd.Context(), db.ListScrapesParams{
			Limit: *jobsLimit,
		})
		if err != nil {
			serviceutil.Fatal("failed to list scrapes", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{
			"ID", "Route", "Date", "Pax", "Status", "Started", "Flights", "Avg CPP",
		})
		for _, s := range scrapes {
			flights := "-"
			if s.TotalFlights.Valid {
				flights = fmt.Sprint(s.TotalFlights.Int64)
			}
			avgCpp := "-"
			if s.AvgCpp.Valid {
				avgCpp = fmt.Sprintf("%.2f", s.AvgCpp.Float64)
			}
			t.AppendRow(table.Row{
				s.ID,
				s.Origin + "-" + s.Destination,
				s.Date,
				s.Passengers,
				s.Status,
				s.StartedAt,
				flights,
				avgCpp,
			})
		}
		t.Render()
	},
}
