package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/inquira/inquira/engine/kb/job"
	"github.com/inquira/inquira/engine/kb/sources"
)

func newIngestCmd() *cobra.Command {
	var urls []string
	cmd := &cobra.Command{
		Use:   "ingest [glob ...]",
		Short: "Collect documents and ingest them into the knowledge index",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := appConfig(ctx)
			if err != nil {
				return err
			}
			specs := make([]sources.Spec, 0, len(args)+len(urls))
			for _, pattern := range args {
				specs = append(specs, sources.Spec{Glob: pattern})
			}
			for _, raw := range urls {
				specs = append(specs, sources.Spec{URL: raw})
			}
			collector := sources.NewCollector(sources.Options{
				Root:        cfg.Sources.Root,
				MaxFileSize: cfg.Sources.MaxFileSize,
			})
			files, err := collector.Collect(ctx, specs)
			if err != nil {
				return err
			}
			application, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer application.close(ctx)
			if err := application.jobs.Start(ctx); err != nil {
				return err
			}
			events, cancel := application.jobs.Bus().Subscribe(0)
			defer cancel()
			record, err := application.service.Ingest(ctx, files)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s submitted with %d file(s)\n", record.ID, len(files))
			ticker := time.NewTicker(200 * time.Millisecond)
			defer ticker.Stop()
		wait:
			for {
				select {
				case event, open := <-events:
					if !open {
						break wait
					}
					if event.JobID != record.ID {
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-10s %3d%% %s\n", event.Status, event.Progress, event.Message)
					if job.Status(event.Status).Terminal() {
						break wait
					}
				case <-ticker.C:
					// events can be dropped under load; poll as a backstop
					if snapshot, ok := application.service.Job(record.ID); ok && snapshot.Status.Terminal() {
						break wait
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			final, ok := application.service.Job(record.ID)
			if !ok {
				return fmt.Errorf("job %s disappeared", record.ID)
			}
			if final.Status != job.StatusComplete {
				return fmt.Errorf("ingestion ended with status %s: %s", final.Status, final.Error)
			}
			if final.Result != nil {
				fmt.Fprintf(cmd.OutOrStdout(),
					"Ingested %d document(s) into %d indexed chunk(s) (%d duplicate(s) skipped)\n",
					final.Result.Documents, final.Result.Indexed, final.Counters.DuplicatesSkipped,
				)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&urls, "url", nil, "remote document URL (repeatable)")
	return cmd
}

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the knowledge index with citations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := appConfig(ctx)
			if err != nil {
				return err
			}
			application, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer application.close(ctx)
			answer, err := application.service.Ask(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, answer.Text)
			if len(answer.Sources) > 0 {
				fmt.Fprintln(out, "\nSources:")
				for _, source := range answer.Sources {
					refs := make([]string, len(source.Citations))
					for i, n := range source.Citations {
						refs[i] = fmt.Sprintf("[%d]", n)
					}
					fmt.Fprintf(out, "  %s %s\n", strings.Join(refs, ""), source.Source)
				}
			}
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Describe the backing vector index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := appConfig(ctx)
			if err != nil {
				return err
			}
			application, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer application.close(ctx)
			stats, err := application.service.Stats(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Provider:  %s\n", stats.Provider)
			fmt.Fprintf(out, "Records:   %d\n", stats.Records)
			fmt.Fprintf(out, "Dimension: %d\n", stats.Dimension)
			return nil
		},
	}
}
