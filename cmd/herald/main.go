package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "worker":
		return runWorkerNoun(args)
	case "submit":
		return runSubmit(args)
	case "journal":
		return runJournal(args)
	case "watch":
		return runWatch(args)
	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `herald - priority event-dispatch manager

Usage:
  herald <noun> <action> [flags]

System Commands:
  system start      Run the manager in the foreground
  system status     Show health of a running manager

Config Commands:
  config check      Validate config, worker manifests, routes and priorities
  config lock       Write .checksums for the config file
  config get <path> Print a config value (dot path, route:<type>, webhook:<path>)
  config token      Pick scopes and print a new API token entry

Worker Commands:
  worker list       Show worker manifests found under workers_dir
  worker ps         Show workers registered with a running manager
  worker start <n>  Start worker <n> on a running manager
  worker stop <key> Stop a running worker

Events:
  submit <type>     Submit an event to a running manager
  journal           Show recent dispatch outcomes
  watch             Live terminal view of a running manager

General:
  version           Show version information
  help              Show this help message

Use 'herald <noun> help' for action flags.
`)
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, _ := json.MarshalIndent(info, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("herald %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

// currentVersionInfo prefers ldflags values and falls back to the VCS
// settings embedded by the Go toolchain.
func currentVersionInfo() versionInfo {
	info := versionInfo{Version: strings.TrimSpace(version), Commit: "unknown", BuildTime: "unknown"}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		info.Commit = commit[:min(len(commit), 12)]
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return strings.TrimSpace(s.Value)
		}
	}
	return ""
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

// runNoun dispatches "<noun> <action> args..." to actions.
func runNoun(noun string, args []string, actions map[string]func([]string) int) int {
	help := func(w io.Writer) {
		names := make([]string, 0, len(actions))
		for name := range actions {
			names = append(names, name)
		}
		slices.Sort(names)
		fmt.Fprintf(w, "Usage: herald %s <action> [flags]\n", noun)
		fmt.Fprintf(w, "Actions: %s\n", strings.Join(names, ", "))
	}

	if len(args) < 1 {
		help(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		help(os.Stdout)
		return 0
	}
	action, ok := actions[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", noun, args[0])
		help(os.Stderr)
		return 1
	}
	return action(args[1:])
}

func runSystemNoun(args []string) int {
	return runNoun("system", args, map[string]func([]string) int{
		"start":  runStart,
		"status": runStatus,
	})
}

func runConfigNoun(args []string) int {
	return runNoun("config", args, map[string]func([]string) int{
		"check": runConfigCheck,
		"lock":  runConfigLock,
		"get":   runConfigGet,
		"token": runConfigToken,
	})
}

func runWorkerNoun(args []string) int {
	return runNoun("worker", args, map[string]func([]string) int{
		"list":  runWorkerList,
		"ps":    runWorkerPS,
		"start": runWorkerStart,
		"stop":  runWorkerStop,
	})
}
