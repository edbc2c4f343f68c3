package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshtap/meshtap/internal/queue"
	flag "github.com/spf13/pflag"
)

func runDLQ(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("dlq requires a subcommand: list or requeue")
	}
	switch args[0] {
	case "list":
		return dlqList(args[1:])
	case "requeue":
		return dlqRequeue(args[1:])
	default:
		return fmt.Errorf("unknown dlq subcommand %q", args[0])
	}
}

func dlqFlags(args []string) (addr, password, dlqName string, err error) {
	fs := flag.NewFlagSet("dlq", flag.ExitOnError)
	fs.StringVar(&addr, "queue-endpoint", "", "Redis host:port backing the Queue")
	fs.StringVar(&password, "queue-password", "", "Redis auth password")
	fs.StringVar(&dlqName, "queue-dlq-name", "wiremock_mappings_dlq", "Queue dead-letter list name")
	err = fs.Parse(args)
	return
}

func dlqList(args []string) error {
	addr, password, dlqName, err := dlqFlags(args)
	if err != nil {
		return err
	}
	backend, err := queue.NewRedisBackend(queue.RedisConfig{Addr: addr, Password: password})
	if err != nil {
		return err
	}
	defer backend.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var entries [][]byte
	for {
		raw, err := backend.BLPop(ctx, dlqName, 200*time.Millisecond)
		if err != nil {
			return err
		}
		if raw == nil {
			break
		}
		entries = append(entries, raw)
	}
	// Re-append so `dlq list` is non-destructive; only `dlq requeue` removes entries.
	for _, raw := range entries {
		if err := backend.RPush(ctx, dlqName, raw); err != nil {
			return err
		}
	}
	for _, raw := range entries {
		var dl queue.DeadLetter
		if err := json.Unmarshal(raw, &dl); err != nil {
			return fmt.Errorf("decode dead letter: %w", err)
		}
		fmt.Printf("%s\t%s\t%s\tattempts=%d\n", dl.Descriptor.Fingerprint, dl.Reason, dl.LastError, dl.Attempts)
	}
	return nil
}

func dlqRequeue(args []string) error {
	fs := flag.NewFlagSet("dlq requeue", flag.ExitOnError)
	var fingerprint string
	var addr, password, dlqName, listName string
	fs.StringVar(&fingerprint, "fingerprint", "", "fingerprint of the descriptor to requeue")
	fs.StringVar(&addr, "queue-endpoint", "", "Redis host:port backing the Queue")
	fs.StringVar(&password, "queue-password", "", "Redis auth password")
	fs.StringVar(&dlqName, "queue-dlq-name", "wiremock_mappings_dlq", "Queue dead-letter list name")
	fs.StringVar(&listName, "queue-list-name", "wiremock_mappings", "Queue FIFO list name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fingerprint == "" {
		return fmt.Errorf("--fingerprint is required")
	}

	backend, err := queue.NewRedisBackend(queue.RedisConfig{Addr: addr, Password: password})
	if err != nil {
		return err
	}
	defer backend.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var requeued bool
	var keep [][]byte
	for {
		raw, err := backend.BLPop(ctx, dlqName, 200*time.Millisecond)
		if err != nil {
			return err
		}
		if raw == nil {
			break
		}
		var dl queue.DeadLetter
		if err := json.Unmarshal(raw, &dl); err != nil {
			return fmt.Errorf("decode dead letter: %w", err)
		}
		if dl.Descriptor.Fingerprint == fingerprint && !requeued {
			payload, err := json.Marshal(dl.Descriptor)
			if err != nil {
				return err
			}
			if err := backend.RPush(ctx, listName, payload); err != nil {
				return err
			}
			requeued = true
			continue
		}
		keep = append(keep, raw)
	}
	for _, raw := range keep {
		if err := backend.RPush(ctx, dlqName, raw); err != nil {
			return err
		}
	}
	if !requeued {
		return fmt.Errorf("no dead-lettered descriptor with fingerprint %q", fingerprint)
	}
	fmt.Printf("requeued %s\n", fingerprint)
	return nil
}
