/*
Brambletest starts a small HTTP server exposing a bramble-backed store of
users and orders. It exists to exercise the full stack end to end: config
loading, connector selection, repository registration, and per-request
repository resolution.

Usage:

	brambletest [flags]

Once started, the server listens for HTTP requests:

  - /users - list and create users
  - /users/{id} - fetch, update, and delete one user
  - /orders - list and create orders; ?user=UUID filters by owner
  - /orders/{id} - fetch and delete one order

The flags are:

	-c, --config PATH
		Use the given file for the configuration instead of './bramble.yml'.
		The file must be in YAML format.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/dekarrin/jellog"
	"github.com/kettleside/bramble"
	"github.com/kettleside/bramble/config"
	"github.com/kettleside/bramble/sqlite"
	"github.com/spf13/pflag"
)

const (
	exitSuccess   = 0
	exitError     = 1
	exitPanic     = 2
	exitInterrupt = 3
)

var exitCode int

var (
	flagConf = pflag.StringP("config", "c", "bramble.yml", "Path to configuration file")
)

func main() {
	// context for signal handling. might be overkill, taking this from example
	// located at https://pace.dev/blog/2020/02/17/repond-to-ctrl-c-interrupt-signals-gracefully-with-context-in-golang-by-mat-ryer.html
	ctx := context.Background()
	ctx, cancelMainContext := context.WithCancel(ctx)
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	defer func() {
		signal.Stop(signalChan)
		cancelMainContext()
	}()
	// listen for signals
	go func() {
		select {
		case <-signalChan: // first signal, cancel context
			cancelMainContext()
		case <-ctx.Done():
		}

		<-signalChan // second signal, hard exit
		os.Exit(exitInterrupt)
	}()

	defer func() {
		if panicErr := recover(); panicErr != nil {
			fmt.Fprintf(os.Stderr, "fatal panic: %v\n", panicErr)
			exitCode = exitPanic
		}
		os.Exit(exitCode)
	}()

	pflag.Parse()

	stdErrOutput := jellog.NewStderrHandler(nil)
	logger := jellog.New(jellog.Defaults[string]().
		WithComponent("brambletest"))
	logger.AddHandler(jellog.LvTrace, stdErrOutput)

	logger.Infof("Loading config file %s...", *flagConf)
	conf, err := config.Load(*flagConf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		exitCode = exitError
		return
	}

	storeLog, err := conf.Log.Create()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		exitCode = exitError
		return
	}

	desc := storeDescriptor()
	model := desc.Model()

	var connectors config.ConnectorRegistry
	connectors.Register(config.DatabaseSQLite, "*", func(db config.Database, m *bramble.Model) (bramble.Session, error) {
		if db.Dir != "" {
			if err := os.MkdirAll(db.Dir, 0770); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		return sqlite.New(filepath.Join(db.Dir, db.File), m, storeTables()...)
	})

	reg := bramble.NewRegistry(connectors.SessionFactory(conf.DB, model)).
		RegisterAll(desc)

	logger.Infof("Readers registered for: %v", reg.ReaderEntities())
	logger.Infof("Writers registered for: %v", reg.WriterEntities())

	server := &http.Server{
		Addr:    conf.Listen,
		Handler: newRouter(reg, storeLog),
	}

	logger.Info("Starting server...")

	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("Server shutdown by request")
		} else {
			logger.Errorf("Server encountered a problem: %v", err)
		}
	}()

	logger.Infof("Bramble test server listening on %s; Ctrl-C (SIGINT) to stop", conf.Listen)

	// wait forever, checking for interrupt and doing clean shutdown if we get
	// it
	for {
		select {
		case <-ctx.Done():
			// cleanup

			// ctrl-C likes to write "^C" or similar in some console output, so
			// insert a break right after that. This is not cross-platform; if
			// an indication of ctrl C is not written, there may be an awkward
			// break in stderr, but at least we tried.
			logger.InsertBreak(jellog.LvAll)

			logger.Info("SIGINT received; cleaning up server...")
			err := server.Shutdown(context.Background())
			if err != nil {
				logger.Warn(err.Error())
			}

			// give in-flight repositories a moment to release their sessions
			time.Sleep(100 * time.Millisecond)

			logger.Info("Server shutdown complete")
			return
		default:
			// just spinlock for a sec
			time.Sleep(100 * time.Millisecond)
		}
	}

}
