package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const usageText = `Usage: proposer [command] [flags]

Commands:
  run        Start a send run with a live progress view (default)
  serve      Serve the HTTP control API and WebSocket progress feed
  mcp        Serve the control tools over MCP on stdin/stdout
  init       Create the .proposer directory with default settings
  templates  List, add, edit, delete, and activate message templates
  settings   Show or edit the settings file
  version    Print the version

Run "proposer <command> -h" for command flags.
`

func main() {
	cmd, args := "run", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runRun(args)
	case "serve":
		err = runServe(args)
	case "mcp":
		err = runMCP(args)
	case "init":
		err = runInit(args)
	case "templates":
		err = runTemplates(args)
	case "settings":
		err = runSettings(args)
	case "version":
		fmt.Println(version)
	case "help":
		fmt.Fprint(os.Stderr, usageText)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usageText)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every command.
type globalFlags struct {
	dir      string
	envFile  string
	logLevel string
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.dir, "dir", ".proposer", "path to the .proposer directory")
	fs.StringVar(&g.envFile, "env", ".env", "path to .env file (ignored if missing)")
	fs.StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

// newFlagSet returns a flag set with the global flags registered and a usage
// line for the command.
func newFlagSet(name, synopsis string, g *globalFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	g.register(fs)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: proposer %s\n\nFlags:\n", synopsis)
		fs.PrintDefaults()
	}
	return fs
}
