package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/roach88/aegis/internal/agents"
	"github.com/roach88/aegis/internal/export"
	"github.com/roach88/aegis/internal/lookup"
	"github.com/roach88/aegis/internal/model"
	"github.com/roach88/aegis/internal/pipeline"
	"github.com/roach88/aegis/internal/resilience"
)

var (
	processAgent        string
	processCredits      int
	processMunicipality string
	processTownship     string
	processScheme       string
	processForce        bool
	processExport       bool
	processDryRun       bool
)

var processCmd = &cobra.Command{
	Use:   "process <pdf>...",
	Short: "Extract records from PDFs and resolve phone numbers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		reg := agents.NewRegistry(cfg.Agents.RegistryPath, st)
		agent, err := reg.Get(processAgent)
		if err != nil {
			return eris.Wrapf(err, "agent %q", processAgent)
		}
		password, err := reg.Password(ctx, agent.Name)
		if err != nil {
			return err
		}

		var opener lookup.Opener
		if processDryRun {
			if cfg.Portal.ReplayFixture == "" {
				return eris.New("dry run requires portal.replay_fixture in config")
			}
			opener, err = lookup.LoadReplayFixture(cfg.Portal.ReplayFixture)
			if err != nil {
				return err
			}
		} else {
			opener = lookup.NewPortalClient(lookup.PortalOptions{
				BaseURL:     cfg.Portal.BaseURL,
				Timeout:     time.Duration(cfg.Portal.TimeoutSecs) * time.Second,
				SnapshotDir: cfg.Portal.SnapshotDir,
				LookupDelay: time.Duration(cfg.Portal.LookupDelayMS) * time.Millisecond,
			})
		}

		credits := processCredits
		if credits <= 0 {
			credits = cfg.Pipeline.DefaultCredits
		}

		retry := resilience.DefaultRetryConfig()
		retry.MaxAttempts = cfg.Portal.LookupRetries

		batch := pipeline.Batch{
			Username: agent.Username,
			Password: password,
			Credits:  credits,
			Force:    processForce,
		}
		for _, path := range args {
			batch.Documents = append(batch.Documents, pipeline.DocumentInput{
				Path:         path,
				Municipality: processMunicipality,
				Township:     processTownship,
				SchemeName:   processScheme,
			})
		}

		report, err := pipeline.New(st, opener, retry).Run(ctx, batch)
		if err != nil {
			if eris.Is(err, lookup.ErrAuthentication) {
				return eris.Wrap(err, "portal sign-in rejected, check the agent credentials")
			}
			if eris.Is(err, lookup.ErrTimeout) {
				return eris.Wrap(err, "portal unavailable, batch not started")
			}
			return err
		}

		printReport(cmd, report)

		if processExport {
			for _, outcome := range report.Documents {
				if outcome.Skipped() {
					continue
				}
				records, err := st.ListAll(ctx, outcome.Document)
				if err != nil {
					return err
				}
				out := exportPath(outcome.Document)
				if err := export.WriteXLSX(records, outcome.Document, out); err != nil {
					return err
				}
				cmd.Printf("exported %s\n", out)
			}
		}

		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processAgent, "agent", "", "agent profile to sign in with (required)")
	processCmd.Flags().IntVar(&processCredits, "credits", 0, "lookup credit budget (default from config)")
	processCmd.Flags().StringVar(&processMunicipality, "municipality", "", "municipality context for extracted records")
	processCmd.Flags().StringVar(&processTownship, "township", "", "township context for extracted records")
	processCmd.Flags().StringVar(&processScheme, "scheme", "", "sectional scheme name for extracted records")
	processCmd.Flags().BoolVar(&processForce, "force", false, "re-insert records already extracted from the document")
	processCmd.Flags().BoolVar(&processExport, "export", false, "write an xlsx report per document after processing")
	processCmd.Flags().BoolVar(&processDryRun, "dry-run", false, "resolve lookups from the replay fixture instead of the live portal")
	_ = processCmd.MarkFlagRequired("agent")
	rootCmd.AddCommand(processCmd)
}

func printReport(cmd *cobra.Command, report *model.BatchReport) {
	for _, outcome := range report.Documents {
		if outcome.Skipped() {
			cmd.Printf("SKIPPED  %s: %s\n", outcome.Document, outcome.Error)
			continue
		}
		cmd.Printf("OK       %s: extracted %d (deduped %d), done %d, failed %d, pending %d\n",
			outcome.Document, outcome.Extracted, outcome.Deduped,
			outcome.Processed, outcome.Failed, outcome.Pending)
	}

	summary := fmt.Sprintf("batch %s: %d done, %d failed, %d pending, %d credits used (%d left)",
		report.ID, report.Processed, report.Failed, report.Pending,
		report.CreditsUsed, report.CreditsRemaining)
	if report.QuotaExhausted {
		summary += " (credit budget exhausted, rerun with more credits to finish)"
	}
	cmd.Println(summary)
}

func exportPath(doc string) string {
	base := strings.TrimSuffix(doc, filepath.Ext(doc)) + ".xlsx"
	return filepath.Join(cfg.Export.Dir, base)
}
