package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/relmark/relmark/internal/audit"
	"github.com/relmark/relmark/internal/util"
	"github.com/relmark/relmark/pkg/gateway/httpapi"
	"github.com/relmark/relmark/pkg/logger"
	"github.com/relmark/relmark/pkg/logger/console"
	"github.com/relmark/relmark/pkg/schema"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  debug,
		Prefix: "audit",
	})
	logger.Init(consoleLogger)

	// backend client
	client, err := httpapi.NewClient(httpapi.NewClientParams{
		BaseURL: util.GetEnv("RELMARK_API_URL"),
		ApiKey:  util.GetEnv("RELMARK_API_KEY"),
		Timeout: util.GetEnvDuration("RELMARK_TIMEOUT_S", 30),
	})
	if err != nil {
		logger.Fatal("Could not create backend client", "err", err)
	}

	schemas := schema.NewStore(schema.NewStoreParams{
		Source: client,
	})
	if err := schemas.Load(ctx); err != nil {
		logger.Fatal("Could not load schema", "err", err)
	}

	auditor := audit.NewAuditor(audit.NewAuditorParams{
		Source:  client,
		Schemas: schemas,
		Retries: int(util.GetEnvNumeric("RELMARK_RETRIES", 3)),
	})

	summary, err := auditor.Run(ctx)
	if err != nil {
		logger.Fatal("Audit aborted", "err", err)
	}

	logger.Info("Audit finished",
		"scanned", summary.Scanned, "audited", summary.Audited, "failed", summary.Failed)
	if summary.Failed > 0 {
		os.Exit(1)
	}
}
