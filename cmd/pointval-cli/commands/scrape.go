package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"pointval-backend/lib/restyutil"
	"pointval-backend/lib/scrapers/aa"
	"pointval-backend/lib/serviceutil"
	"pointval-backend/services/scraper"
	"pointval-backend/services/scraper/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	scrapeOrigin      *string
	scrapeDestination *string
	scrapeDate        *string
	scrapePassengers  *int
	scrapeDb          *string
	scrapeOut         *string
	scrapeHeadful     *bool
	scrapeDumpDir     *string
)

func init() {
	scrapeOrigin = scrapeCmd.Flags().StringP("origin", "o", "", "Origin airport IATA code.")
	scrapeDestination = scrapeCmd.Flags().StringP("destination", "d", "", "Destination airport IATA code.")
	scrapeDate = scrapeCmd.Flags().String("date", "", "Departure date (YYYY-MM-DD).")
	scrapePassengers = scrapeCmd.Flags().IntP("passengers", "p", 1, "Number of adult passengers.")
	scrapeDb = scrapeCmd.Flags().String("db", "pointval.db", "The database to record the scrape in.")
	scrapeOut = scrapeCmd.Flags().String("out", "", "Write the result payload to this JSON file.")
	scrapeHeadful = scrapeCmd.Flags().Bool("headful", false, "Run the bootstrap browser with a visible window.")
	scrapeDumpDir = scrapeCmd.Flags().String("dump-http", "", "Dump full request/response pairs to this directory.")
	scrapeCmd.MarkFlagRequired("origin")
	scrapeCmd.MarkFlagRequired("destination")
	scrapeCmd.MarkFlagRequired("date")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape -o <IATA> -d <IATA> --date <YYYY-MM-DD>",
	Short: "Runs one award/cash scrape and prints the valuations.",
	Run: func(cmd *cobra.Command, args []string) {
		database, err := db.Open(cmd.Context(), *scrapeDb)
		if err != nil {
			serviceutil.Fatal("failed to open db", err)
		}
		defer database.Close()

		clientOpts := aa.ClientOptions{}
		if *scrapeDumpDir != "" {
			clientOpts.InstrumentOutput = restyutil.NewFilesystemOutput(*scrapeDumpDir)
		}
		svc := scraper.NewService(
			database,
			aa.NewClient(clientOpts),
			aa.Bootstrapper{Headless: !*scrapeHeadful},
		)

		req := scraper.ScrapeRequest{
			Origin:      *scrapeOrigin,
			Destination: *scrapeDestination,
			Date:        *scrapeDate,
			Passengers:  *scrapePassengers,
			CabinClass:  "economy",
		}
		id, err := svc.CreateJob(cmd.Context(), req)
		if err != nil {
			serviceutil.Fatal("failed to record scrape", err)
		}

		t1 := time.Now()
		svc.RunJob(cmd.Context(), id, req)
		slog.Info("scraping time", "seconds", time.Since(t1).Seconds())

		job, err := svc.GetJob(cmd.Context(), id)
		if err != nil {
			serviceutil.Fatal("failed to read scrape record", err)
		}
		if *scrapeOut != "" {
			writeArtifact(*scrapeOut, req, job)
		}
		if job.Status != db.ScrapeStatusCompleted {
			serviceutil.Fatal("scrape failed", fmt.Errorf("%s", job.Error.String))
		}

		var result scraper.ScrapeResult
		if err := json.Unmarshal([]byte(job.Results.String), &result); err != nil {
			serviceutil.Fatal("failed to decode scrape results", err)
		}
		printResults(result)
	},
}

// writeArtifact persists the raw result payload for offline analysis.
// Failed scrapes still produce an artifact so the failure reason rides
// along with the search parameters.
func writeArtifact(path string, req scraper.ScrapeRequest, job db.Scrape) {
	var payload []byte
	if job.Results.Valid {
		payload = []byte(job.Results.String)
	} else {
		var err error
		payload, err = json.Marshal(map[string]any{
			"search_metadata": scraper.SearchMetadata{
				Origin:      req.Origin,
				Destination: req.Destination,
				Date:        req.Date,
				Passengers:  req.Passengers,
				CabinClass:  req.CabinClass,
			},
			"error": job.Error.String,
		})
		if err != nil {
			serviceutil.Fatal("failed to encode artifact", err)
		}
	}
	if err := os.WriteFile(path, payload, 0644); err != nil {
		serviceutil.Fatal("failed to write artifact", err)
	}
	slog.Info("wrote artifact", "path", path)
}

func printResults(result scraper.ScrapeResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{
		"Flight", "Depart", "Arrive", "Duration", "Points", "Cash", "Taxes", "CPP",
	})
	for _, f := range result.Flights {
		if len(f.Segments) == 0 {
			continue
		}
		first := f.Segments[0]
		last := f.Segments[len(f.Segments)-1]
		flight := first.FlightNumber
		if !f.IsNonstop {
			flight = fmt.Sprintf("%s (+%d)", flight, len(f.Segments)-1)
		}
		t.AppendRow(table.Row{
			flight,
			first.DepartureTime,
			last.ArrivalTime,
			f.TotalDuration,
			f.PointsRequired,
			fmt.Sprintf("$%.2f", f.CashPriceUsd),
			fmt.Sprintf("$%.2f", f.TaxesFeesUsd),
			fmt.Sprintf("%.2f", f.Cpp),
		})
	}
	t.Render()
	fmt.Printf("%d flights priced on both sides\n", result.TotalResults)
}
