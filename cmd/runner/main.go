// Command runner compiles and runs one source file synchronously and prints the result as JSON.
//
//	runner -lang python hello.py
//	echo 'console.log(1)' | runner -lang js -
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/app"
	"github.com/dontdude/codebox/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	lang := flag.String("lang", "", "language of the source file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s -lang <language> <file|->\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if *lang == "" || flag.NArg() != 1 {
		flag.Usage()
		return 2
	}

	boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	code, err := readSource(flag.Arg(0))
	if err != nil {
		boot.Error().Err(err).Msg("failed to read source")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		boot.Error().Err(err).Msg("failed to load config")
		return 2
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize compilation service")
		return 1
	}
	defer a.Shutdown(context.Background())

	res, err := a.Router.Route(ctx, *lang, code)
	if err != nil {
		logger.Error().Err(err).Msg("compilation rejected")
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		logger.Error().Err(err).Msg("failed to write result")
		return 1
	}
	if !res.Success {
		return 1
	}
	return 0
}

func readSource(path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}
