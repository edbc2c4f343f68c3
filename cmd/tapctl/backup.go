package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/meshtap/meshtap/internal/capture"
	"github.com/meshtap/meshtap/internal/ruleloader"
	"github.com/meshtap/meshtap/internal/ruleloader/mockserver"
	flag "github.com/spf13/pflag"
)

func runBackup(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("backup requires a subcommand: replay")
	}
	switch args[0] {
	case "replay":
		return backupReplay(args[1:])
	default:
		return fmt.Errorf("unknown backup subcommand %q", args[0])
	}
}

// backupReplay reinstalls a backup file's descriptors against a mock
// server after a restart, the offline-CLI equivalent of
// original_source/wiremock-loader/main.py's /backups/{file}/restore
// HTTP route (see DESIGN.md tapctl entry).
func backupReplay(args []string) error {
	fs := flag.NewFlagSet("backup replay", flag.ExitOnError)
	var path, mockServerURL string
	var timeout time.Duration
	fs.StringVar(&path, "path", "", "backup file to replay (JSON-lines MockRuleDescriptor wire form)")
	fs.StringVar(&mockServerURL, "mock-server-url", "", "mock server admin API base URL")
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "per-install timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if path == "" || mockServerURL == "" {
		return fmt.Errorf("--path and --mock-server-url are required")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open backup file: %w", err)
	}
	defer f.Close()

	client := mockserver.New(mockServerURL, timeout)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var installed, failed int
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var d capture.Descriptor
		if err := json.Unmarshal(line, &d); err != nil {
			return fmt.Errorf("decode backup entry: %w", err)
		}
		rule := ruleloader.Translate(d)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := client.Upsert(ctx, rule)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "tapctl: replay %s failed: %v\n", d.Fingerprint, err)
			failed++
			continue
		}
		installed++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read backup file: %w", err)
	}

	fmt.Printf("replayed %d descriptors: %d installed, %d failed\n", installed+failed, installed, failed)
	return nil
}
