// Package doctor cross-checks a loaded configuration against the discovered
// workers and reports every problem at once, where start-up stops at the
// first one.
package doctor

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/mattjoyce/herald/internal/auth"
	"github.com/mattjoyce/herald/internal/classify"
	"github.com/mattjoyce/herald/internal/config"
	"github.com/mattjoyce/herald/internal/plugin"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

type Doctor struct {
	cfg     *config.Config
	catalog *plugin.Catalog
}

func New(cfg *config.Config, catalog *plugin.Catalog) *Doctor {
	return &Doctor{cfg: cfg, catalog: catalog}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateRoutes(r)
	d.validatePriorities(r)
	d.validateTokenScopes(r)
	d.warnUnusedWorkers(r)
	d.warnUnroutedEmits(r)
	d.warnUnroutedWebhooks(r)
	d.warnUnroutedSchedules(r)
	d.warnLegacyAuth(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateRoutes checks that every route targets a discovered worker that
// accepts the event type.
func (d *Doctor) validateRoutes(r *Result) {
	for _, typ := range sortedKeys(d.cfg.Routes) {
		name := d.cfg.Routes[typ]
		field := "routes." + typ
		p, ok := d.catalog.Get(name)
		if !ok {
			d.addError(r, "routes", field, fmt.Sprintf("worker %q not found in %s", name, d.cfg.WorkersDir))
			continue
		}
		if len(p.Handles) > 0 && !p.HandlesType(typ) {
			d.addError(r, "routes", field, fmt.Sprintf("worker %q does not handle %q (handles: %s)", name, typ, strings.Join(p.Handles, ", ")))
		}
	}
}

// validatePriorities checks that every event type the system can produce is
// classifiable, and flags priority entries nothing produces.
func (d *Doctor) validatePriorities(r *Result) {
	table, err := classify.NewTable(d.cfg.Priorities.Types, d.cfg.Priorities.Default)
	if err != nil {
		d.addError(r, "priorities", "priorities.types", err.Error())
		return
	}

	produced := d.producedTypes()
	for _, typ := range produced {
		if _, err := table.Priority(typ); err != nil {
			d.addError(r, "priorities", "priorities.types",
				fmt.Sprintf("event type %q has no priority and there is no default", typ))
		}
	}

	for _, typ := range sortedKeys(d.cfg.Priorities.Types) {
		if strings.HasSuffix(typ, ".*") {
			continue
		}
		if !slices.Contains(produced, typ) {
			d.addWarning(r, "priorities", "priorities.types."+typ,
				fmt.Sprintf("%q is not produced by any worker, route, webhook or schedule; only API or stdin submissions will use it", typ))
		}
	}
}

// producedTypes is every type the configuration can bring into the router,
// sorted and deduplicated.
func (d *Doctor) producedTypes() []string {
	types := d.catalog.EventTypes()
	for typ := range d.cfg.Routes {
		types = append(types, typ)
	}
	if d.cfg.Webhooks != nil {
		for _, ep := range d.cfg.Webhooks.Endpoints {
			types = append(types, ep.EventType)
		}
	}
	for _, sc := range d.cfg.Schedules {
		types = append(types, sc.EventType)
	}
	sort.Strings(types)
	return slices.Compact(types)
}

func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if !slices.Contains(auth.Known, scope) {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (known: %s)", scope, strings.Join(auth.Known, ", ")))
			}
		}
	}
}

// warnUnusedWorkers warns about workers that no route starts. They can still
// be started by name through the API.
func (d *Doctor) warnUnusedWorkers(r *Result) {
	targets := make(map[string]bool)
	for _, name := range d.cfg.Routes {
		targets[name] = true
	}
	for _, p := range d.catalog.All() {
		if !targets[p.Name] {
			d.addWarning(r, "unused", "",
				fmt.Sprintf("worker %q is not the target of any route", p.Name))
		}
	}
}

func (d *Doctor) warnUnroutedEmits(r *Result) {
	for _, p := range d.catalog.All() {
		for _, typ := range p.Emits {
			if _, ok := d.cfg.Routes[typ]; !ok {
				d.addWarning(r, "routes", "",
					fmt.Sprintf("worker %q emits %q but no route handles it; it will be journaled as failed", p.Name, typ))
			}
		}
	}
}

func (d *Doctor) warnUnroutedWebhooks(r *Result) {
	if d.cfg.Webhooks == nil {
		return
	}
	for i, ep := range d.cfg.Webhooks.Endpoints {
		if _, ok := d.cfg.Routes[ep.EventType]; !ok {
			d.addWarning(r, "webhooks", fmt.Sprintf("webhooks.endpoints[%d].event_type", i),
				fmt.Sprintf("webhook %q submits %q which has no route", ep.Path, ep.EventType))
		}
	}
}

func (d *Doctor) warnUnroutedSchedules(r *Result) {
	for i, sc := range d.cfg.Schedules {
		if _, ok := d.cfg.Routes[sc.EventType]; !ok {
			d.addWarning(r, "schedules", fmt.Sprintf("schedules[%d].event_type", i),
				fmt.Sprintf("schedule submits %q which has no route", sc.EventType))
		}
	}
}

func (d *Doctor) warnLegacyAuth(r *Result) {
	if !d.cfg.API.Enabled || d.cfg.API.Auth.APIKey == "" {
		return
	}
	if len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "auth", "api.auth",
			"both api_key and tokens configured; prefer tokens only")
		return
	}
	d.addWarning(r, "auth", "api.auth.api_key",
		"api_key grants full access; consider scoped tokens (herald config token)")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
