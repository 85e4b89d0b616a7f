package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/42ship/serverx"
	"github.com/42ship/serverx/config"
	"github.com/rs/zerolog"
)

var (
	configPath = flag.String("config", "conf/default.json", "path to the configuration file")
	logLevel   = flag.String("log-level", "info", "one of trace, debug, info, warn, error")
	pretty     = flag.Bool("pretty", false, "human-friendly colored logs")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [config]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	path := *configPath
	if flag.NArg() > 0 {
		path = flag.Arg(0)
	}

	log, err := newLogger(*logLevel, *pretty)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	tree, err := config.Load(path, config.Default())
	if err != nil {
		log.Fatal().Err(err).Msg("bad configuration")
	}

	err = serverx.New(tree).
		Logger(log).
		NotifyOnStop(func() {
			log.Info().Msg("stopped")
		}).
		Serve()
	if err != nil {
		log.Fatal().Err(err).Msg("serve")
	}
}

func newLogger(level string, pretty bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}

	if pretty {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
		return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
	}

	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger(), nil
}
