package main

import (
	"fmt"
	"os"
)

// Version is set at build time via -ldflags.
var Version = "0.4.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"list"}
	}

	var err error
	switch args[0] {
	case "serve":
		err = handleServe(args[1:])
	case "list", "ls":
		err = handleList(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("agent-sessions v%s\n", Version)
		return
	case "help", "--help", "-h":
		printHelp()
		return
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		printHelp()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("agent-sessions - live status of coding-agent sessions")
	fmt.Println()
	fmt.Println("Usage: agent-sessions [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  list       Print the current sessions and exit (default)")
	fmt.Println("  serve      Poll continuously and serve sessions over HTTP")
	fmt.Println("  version    Show version")
	fmt.Println("  help       Show this help")
	fmt.Println()
	fmt.Println("Run 'agent-sessions <command> --help' for command options.")
	fmt.Println()
	fmt.Println("Configuration is read from ~/.agent-sessions/config.toml")
	fmt.Println("(or $AGENT_SESSIONS_HOME/config.toml).")
}
