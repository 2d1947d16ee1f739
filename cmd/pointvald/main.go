package main

import (
	"context"
	"log/slog"
	"pointval-backend/lib/configutil"
	"pointval-backend/lib/restyutil"
	"pointval-backend/lib/scrapers/aa"
	"pointval-backend/lib/serviceutil"
	"pointval-backend/lib/telemetry"
	"pointval-backend/services/api"
	"pointval-backend/services/scraper"
	"pointval-backend/services/scraper/db"
)

type Config struct {
	Port         int    `json:"port"`
	DatabasePath string `json:"database_path"`
	Verbose      bool   `json:"verbose"`
	// browser bootstrap knobs
	SearchUrl string `json:"search_url"`
	Headful   bool   `json:"headful"`
	// optional directory for full request/response dumps
	RestyDumpDir string `json:"resty_dump_dir"`
}

func main() {
	ctx := serviceutil.SignalContext()

	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to load configuration", err)
	}
	if config.Port == 0 {
		config.Port = 8000
	}
	if config.DatabasePath == "" {
		config.DatabasePath = "pointval.db"
	}

	telemetry.InitSlog(config.Verbose)
	tele, err := telemetry.SetupFromEnv(ctx, "pointvald")
	if err != nil {
		serviceutil.Fatal("failed to initialize telemetry", err)
	}
	defer func() {
		if err := tele.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	telemetry.InstrumentPerfStats(ctx)

	database, err := db.Open(ctx, config.DatabasePath)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}
	defer database.Close()

	clientOpts := aa.ClientOptions{}
	if config.RestyDumpDir != "" {
		clientOpts.InstrumentOutput = restyutil.NewFilesystemOutput(config.RestyDumpDir)
	}
	svc := scraper.NewService(
		database,
		aa.NewClient(clientOpts),
		aa.Bootstrapper{
			SearchUrl: config.SearchUrl,
			Headless:  !config.Headful,
		},
	)

	slog.Info("starting api server", "port", config.Port, "database", config.DatabasePath)
	go serviceutil.StartHttpServer(config.Port, api.NewServer(svc).Handler())

	<-ctx.Done()
}
