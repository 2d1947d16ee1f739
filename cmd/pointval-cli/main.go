package main

import (
	"context"
	"pointval-backend/cmd/pointval-cli/commands"
	"pointval-backend/lib/telemetry"
)

func main() {
	telemetry.SetupFromEnv(context.Background(), "pointval-cli")
	telemetry.InitSlog(true)
	commands.ExecuteContext(context.Background())
}
