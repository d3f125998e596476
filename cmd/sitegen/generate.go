package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sitegen/internal/model"
	"sitegen/internal/storage"
	"sitegen/internal/workspace"

	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate a site against the backend and export it",
	Long: `Streams a site from the configured backend, applies any --refine
instructions in order and exports the result to the configured store.

Ctrl-C cancels the running generation. The last committed document is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd, os.Stderr)
		if err != nil {
			return err
		}
		style, _ := cmd.Flags().GetString("style")
		language, _ := cmd.Flags().GetString("language")
		refines, _ := cmd.Flags().GetStringArray("refine")
		out, _ := cmd.Flags().GetString("out")
		quiet, _ := cmd.Flags().GetBool("quiet")

		sv := newSupervisor(cfg)
		if !quiet {
			events, unsubscribe := sv.Subscribe()
			defer unsubscribe()
			go reportProgress(events)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		handle, err := sv.StartGeneration(context.WithoutCancel(ctx), model.BuildRequest{
			Prompt:   args[0],
			Style:    model.Style(style),
			Language: language,
		})
		if err != nil {
			return err
		}

		state, err := handle.Wait(ctx)
		if ctx.Err() != nil {
			sv.CancelActive()
			<-handle.Done()
			return fmt.Errorf("generation cancelled")
		}
		if state != workspace.StateCompleted {
			return fmt.Errorf("generation %s: %w", state, err)
		}

		for _, instructions := range refines {
			if _, err := sv.StartRefine(ctx, instructions); err != nil {
				return fmt.Errorf("refine %q: %w", instructions, err)
			}
		}

		if out == "" {
			out = cfg.Export.Filename
		}
		if out == "-" {
			_, err := fmt.Fprint(cmd.OutOrStdout(), sv.Document().HTML)
			return err
		}

		store, err := storage.New(cfg.Export)
		if err != nil {
			return err
		}
		defer store.Close()

		rec, err := store.Save(ctx, out, sv.Document())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", rec.Location, rec.SizeBytes)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringP("style", "s", "", "Visual style: modern, minimalist, corporate, creative or dark")
	generateCmd.Flags().StringP("language", "l", "", "Content language tag")
	generateCmd.Flags().StringArrayP("refine", "r", nil, "Refine instructions applied after generation (repeatable)")
	generateCmd.Flags().StringP("out", "o", "", "Export name, or - to print the HTML to stdout")
	generateCmd.Flags().BoolP("quiet", "q", false, "Do not report progress on stderr")
}

func reportProgress(events <-chan workspace.Snapshot) {
	for snap := range events {
		switch {
		case snap.Preview != nil:
			fmt.Fprintf(os.Stderr, "\r%s: %d bytes", snap.Active, snap.Preview.SizeBytes)
		case snap.Active == workspace.ActiveRefining:
			fmt.Fprintf(os.Stderr, "\rrefining...")
		case snap.State.Terminal():
			fmt.Fprintf(os.Stderr, "\r%s %s: %d bytes\n", snap.LastKind, snap.State, snap.Document.SizeBytes)
		}
	}
}
