package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcourtman/claimguard/pkg/ensure"
)

var (
	dumpWatch   bool
	dumpJSON    bool
	dumpTimeout time.Duration
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the active claim set",
	Long:  `Load the claim document, wait until it is ready and print the active claim set.`,
	Example: `  # Print the claims once as YAML
  claimguard dump

  # Keep running and print the claims again after every change
  claimguard dump --watch --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.engine.Initialize(ctx, nil); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		if err := rt.engine.WaitUntilReadyTimeout(dumpTimeout); err != nil {
			return fmt.Errorf("wait for claims: %w", err)
		}
		if err := printView(os.Stdout, rt.engine, dumpJSON); err != nil {
			return err
		}
		if !dumpWatch {
			return nil
		}

		log.Info().Msg("Watching for changes, press Ctrl+C or send TERM to exit")
		return watchClaims(ctx, rt.engine, os.Stdout, dumpJSON)
	},
}

func init() {
	dumpCmd.Flags().BoolVar(&dumpWatch, "watch", false, "Keep running and print the claims after every update")
	dumpCmd.Flags().BoolVar(&dumpJSON, "json", false, "Print JSON instead of YAML")
	dumpCmd.Flags().DurationVar(&dumpTimeout, "timeout", 30*time.Second, "How long to wait for the first claim set")
}

// watchClaims prints the view after every published generation until ctx
// is done.
func watchClaims(ctx context.Context, e *ensure.Engine, w io.Writer, asJSON bool) error {
	updates := make(chan uint64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.NotifyWhenUpdated(ctx, updates)
	}()

	for {
		select {
		case gen := <-updates:
			log.Info().Uint64("generation", gen).Msg("Claims updated")
			if err := printView(w, e, asJSON); err != nil {
				return err
			}
		case err := <-errCh:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func printView(w io.Writer, e *ensure.Engine, asJSON bool) error {
	view, err := e.View()
	if err != nil {
		return err
	}

	doc := view.Snapshot.Set.Dump()
	doc["generation"] = view.Snapshot.Generation
	doc["online"] = view.Online
	doc["trusted"] = view.Trusted
	if view.LastError != nil {
		doc["last_error"] = view.LastError.Error()
	}
	if fetched := view.Snapshot.Set.FetchedAt; !fetched.IsZero() {
		doc["fetched_at"] = fetched.UTC().Format(time.RFC3339)
	}

	var out []byte
	if asJSON {
		out, err = json.MarshalIndent(doc, "", "  ")
		out = append(out, '\n')
	} else {
		out, err = yaml.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("encode claims: %w", err)
	}
	_, err = w.Write(out)
	return err
}
