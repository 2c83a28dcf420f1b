package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/apibus/internal/logging"
	"github.com/danmuck/apibus/internal/server"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "apibusd TOML config (defaults to $"+envConfig+", then built-in defaults)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apibusd: %v\n", err)
		os.Exit(1)
	}
	logging.ConfigureRuntime(logging.WithLevel(cfg.LogLevel), logging.WithFile(cfg.LogFile))

	svc, err := server.NewService(cfg, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apibusd: %v\n", err)
		os.Exit(1)
	}
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "apibusd: %v\n", err)
		os.Exit(1)
	}
}
