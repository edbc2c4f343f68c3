package main

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/meshtap/meshtap/internal/sanitize"
	flag "github.com/spf13/pflag"
)

func runPatterns(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("patterns requires a subcommand: validate")
	}
	switch args[0] {
	case "validate":
		return patternsValidate(args[1:])
	default:
		return fmt.Errorf("unknown patterns subcommand %q", args[0])
	}
}

// patternEntry mirrors a sanitize_patterns list entry shape:
// {name, regex, marker}.
type patternEntry struct {
	Name   string `json:"name"`
	Regex  string `json:"regex"`
	Marker string `json:"marker"`
}

type patternCatalog struct {
	Patterns       []patternEntry    `json:"patterns"`
	HeaderDenylist map[string]string `json:"header_denylist"`
	FieldDenylist  map[string]string `json:"field_denylist"`
}

// patternsValidate loads a pattern-catalog config file and runs the
// Sanitizer's startup well-formedness check (marker/pattern overlap)
// without starting a server.
func patternsValidate(args []string) error {
	fs := flag.NewFlagSet("patterns validate", flag.ExitOnError)
	var path string
	fs.StringVar(&path, "config", "", "path to a pattern-catalog JSON config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("--config is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var catalog patternCatalog
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	patterns := make([]sanitize.Pattern, 0, len(catalog.Patterns))
	for _, e := range catalog.Patterns {
		re, err := regexp.Compile(e.Regex)
		if err != nil {
			return fmt.Errorf("pattern %q: invalid regex: %w", e.Name, err)
		}
		patterns = append(patterns, sanitize.Pattern{Name: e.Name, Regex: re, Marker: e.Marker})
	}

	cfg := sanitize.Config{
		Patterns:       patterns,
		HeaderDenylist: catalog.HeaderDenylist,
		FieldDenylist:  catalog.FieldDenylist,
	}
	if _, err := sanitize.New(cfg); err != nil {
		return fmt.Errorf("catalog invalid: %w", err)
	}

	fmt.Printf("%s: %d patterns, %d header-denylist entries, %d field-denylist entries — valid\n",
		path, len(patterns), len(catalog.HeaderDenylist), len(catalog.FieldDenylist))
	return nil
}
