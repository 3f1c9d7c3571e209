package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jefrnc/das-bridge/internal/cli"
	"github.com/jefrnc/das-bridge/internal/config"
	"github.com/jefrnc/das-bridge/internal/logging"
)

func main() {
	settings, err := config.Load(configDirFromArgs(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger()

	rootCmd := cli.NewRootCmd(settings, logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// configDirFromArgs pre-parses the --config flag; cobra only sees it after
// the config is already loaded.
func configDirFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}
