package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/relmark/relmark/internal/authoring"
	"github.com/relmark/relmark/internal/session"
	"github.com/relmark/relmark/internal/util"
	"github.com/relmark/relmark/internal/workbench"
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
		Prefix: "annotate",
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

	term := workbench.NewConsole(os.Stdin, os.Stdout)

	sess := session.NewSession(session.NewSessionParams{
		Client:  client,
		Schemas: schemas,
		Confirm: term,
	})

	wb := workbench.NewWorkbench(workbench.NewWorkbenchParams{
		Session: sess,
		Checker: authoring.NewChecker(authoring.NewCheckerParams{Schemas: schemas}),
		Client:  client,
		Console: term,
	})

	if err := wb.Run(ctx); err != nil {
		logger.Fatal("Workbench stopped", "err", err)
	}
}
