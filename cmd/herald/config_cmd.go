package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/herald/internal/auth"
	"github.com/mattjoyce/herald/internal/config"
	"github.com/mattjoyce/herald/internal/doctor"
	"github.com/mattjoyce/herald/internal/log"
	"github.com/mattjoyce/herald/internal/plugin"
	"github.com/mattjoyce/herald/internal/tui/tokenmgr"
)

// configFile resolves --config: empty means discovery, a directory means
// its config.yaml.
func configFile(path string) (string, error) {
	if path == "" {
		discovered, err := config.Discover()
		if err != nil {
			return "", err
		}
		path = discovered
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "config.yaml")
	}
	return path, nil
}

func loadConfig(path string) (*config.Config, error) {
	file, err := configFile(path)
	if err != nil {
		return nil, err
	}
	return config.Load(file)
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED: %v\n", err)
		return 1
	}

	catalog, err := plugin.Discover([]string{cfg.WorkersDir}, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED: worker discovery: %v\n", err)
		return 1
	}
	result := doctor.New(cfg, catalog).Validate()

	// The doctor covers the cross-references; buildCore also parses the
	// webhook settings exactly as start-up does.
	if result.Valid {
		if _, err := buildCore(cfg, log.Discard()); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, doctor.Issue{Category: "startup", Message: err.Error()})
		}
	}

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Printf("Config:    %s\n", cfg.Path)
		fmt.Printf("Workers:   %d discovered in %s\n", len(catalog.All()), cfg.WorkersDir)
		fmt.Printf("Routes:    %d\n", len(cfg.Routes))
		if err := config.VerifyChecksums(cfg.Path); errors.Is(err, config.ErrNoChecksums) {
			fmt.Println("Integrity: not locked (run 'herald config lock')")
		} else {
			fmt.Println("Integrity: OK")
		}
		fmt.Print(doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	file, err := configFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Parse without Load: a stale .checksums must not block re-locking.
	data, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	cfg, err := config.Parse(data)
	if err == nil {
		err = config.Validate(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to lock an invalid config: %v\n", err)
		return 1
	}

	manifest, hash, err := config.Lock(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}
	fmt.Printf("Locked %s\n", file)
	fmt.Printf("blake3: %s\n", hash)
	fmt.Printf("written: %s\n", manifest)
	return 0
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	jsonOut := fs.Bool("json", false, "Output JSON instead of YAML")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Usage: herald config get [path] [--json]")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if fs.NArg() == 0 && !*jsonOut {
		data, err := config.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Print(string(data))
		return 0
	}
	val, err := cfg.GetPath(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	data, err := yaml.Marshal(val)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

// runConfigToken prints an api.auth.tokens entry. Scopes come from --scopes
// or, when omitted, from the interactive picker.
func runConfigToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	scopesFlag := fs.String("scopes", "", "Comma-separated scopes (skips the picker)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var scopes []string
	if *scopesFlag != "" {
		for _, s := range strings.Split(*scopesFlag, ",") {
			if s = strings.TrimSpace(s); s != "" {
				scopes = append(scopes, s)
			}
		}
	} else {
		picked, err := tokenmgr.Pick()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		scopes = picked
	}
	if len(scopes) == 0 {
		fmt.Fprintln(os.Stderr, "No scopes selected.")
		return 1
	}
	if unknown := unknownScopes(scopes); len(unknown) > 0 {
		fmt.Fprintf(os.Stderr, "Unknown scopes: %s\n", strings.Join(unknown, ", "))
		return 1
	}

	token, err := tokenmgr.NewToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	data, err := yaml.Marshal([]config.APIToken{{Token: token, Scopes: scopes}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println("# add under api.auth.tokens")
	fmt.Print(string(data))
	return 0
}

func unknownScopes(scopes []string) []string {
	var out []string
	for _, s := range scopes {
		if !slices.Contains(auth.Known, s) {
			out = append(out, s)
		}
	}
	return out
}

func runWorkerList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	a, err := buildCore(cfg, log.Discard())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	routed := make(map[string][]string)
	for typ, name := range cfg.Routes {
		routed[name] = append(routed[name], typ)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tROUTED FROM\tEMITS\tDESCRIPTION")
	for _, p := range a.catalog.All() {
		from := routed[p.Name]
		sort.Strings(from)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.Version, dash(from), dash(p.Emits), p.Description)
	}
	_ = tw.Flush()
	return 0
}

func dash(list []string) string {
	if len(list) == 0 {
		return "-"
	}
	return strings.Join(list, ",")
}
