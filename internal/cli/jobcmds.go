package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"transkriptor/internal/chunkplanner"
	"transkriptor/internal/editorparser"
	"transkriptor/internal/export"
	"transkriptor/internal/models"

	"github.com/spf13/cobra"
)

var (
	flagSource           string
	flagJobID            string
	flagResume           bool
	flagInterviewerCount int
	flagParticipantCount int
	flagInput            string
	flagOutput           string
	flagLimit            int
)

func init() {
	runJobCmd.Flags().StringVar(&flagSource, "source", "", "path to the source recording")
	runJobCmd.Flags().StringVar(&flagJobID, "job-id", "", "job id (generated when omitted; required with --resume)")
	runJobCmd.Flags().BoolVar(&flagResume, "resume", false, "resume rather than restart a non-terminal job")
	runJobCmd.Flags().IntVar(&flagInterviewerCount, "interviewers", 1, "number of interviewer roles")
	runJobCmd.Flags().IntVar(&flagParticipantCount, "participants", 1, "number of participant roles")

	swapRolesCmd.Flags().StringVar(&flagJobID, "job-id", "", "job id")
	_ = swapRolesCmd.MarkFlagRequired("job-id")

	updateTranscriptCmd.Flags().StringVar(&flagJobID, "job-id", "", "job id")
	updateTranscriptCmd.Flags().StringVar(&flagInput, "input", "", "path to the edited plain-text transcript")
	_ = updateTranscriptCmd.MarkFlagRequired("job-id")
	_ = updateTranscriptCmd.MarkFlagRequired("input")

	exportTxtCmd.Flags().StringVar(&flagJobID, "job-id", "", "job id")
	exportTxtCmd.Flags().StringVar(&flagOutput, "output", "", "output .txt path")
	_ = exportTxtCmd.MarkFlagRequired("job-id")
	_ = exportTxtCmd.MarkFlagRequired("output")

	exportDocxCmd.Flags().StringVar(&flagJobID, "job-id", "", "job id")
	exportDocxCmd.Flags().StringVar(&flagOutput, "output", "", "output .docx path")
	_ = exportDocxCmd.MarkFlagRequired("job-id")
	_ = exportDocxCmd.MarkFlagRequired("output")

	listReadyCmd.Flags().IntVar(&flagLimit, "limit", 50, "max jobs to list, clamped to [1,500]")

	jobResultCmd.Flags().StringVar(&flagJobID, "job-id", "", "job id")
	_ = jobResultCmd.MarkFlagRequired("job-id")

	rootCmd.AddCommand(runJobCmd, findResumableCmd, swapRolesCmd, updateTranscriptCmd,
		exportTxtCmd, exportDocxCmd, listReadyCmd, jobResultCmd)
}

var runJobCmd = &cobra.Command{
	Use:   "run-job",
	Short: "Run (or resume) a transcription job end to end",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		ctx := context.Background()

		var jobID string
		if flagResume {
			if flagJobID == "" {
				return fmt.Errorf("--job-id is required with --resume")
			}
			job, err := a.store.GetJob(ctx, flagJobID)
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("Job findes ikke til resume: %s", flagJobID)
			}
			jobID = job.ID
		} else {
			if flagSource == "" {
				return fmt.Errorf("--source is required")
			}
			source, err := filepath.Abs(flagSource)
			if err != nil {
				return fmt.Errorf("resolve source path: %w", err)
			}
			hash, err := chunkplanner.HashFile(source)
			if err != nil {
				return fmt.Errorf("hash source: %w", err)
			}
			job, err := a.store.CreateJob(ctx, &models.Job{
				ID:               flagJobID,
				SourcePath:       source,
				SourceName:       filepath.Base(source),
				SourceHash:       hash,
				InterviewerCount: flagInterviewerCount,
				ParticipantCount: flagParticipantCount,
			})
			if err != nil {
				return err
			}
			jobID = job.ID
		}

		code, err := a.driver.RunJob(ctx, jobID, flagResume)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(code)
		return nil
	},
}

var findResumableCmd = &cobra.Command{
	Use:   "find-resumable",
	Short: "Print the most recent non-terminal job, if any",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		job, err := a.store.LatestIncompleteJob(context.Background())
		if err != nil {
			return err
		}
		if job == nil {
			fmt.Println("{}")
			return nil
		}
		return printJSON(job)
	},
}

var swapRolesCmd = &cobra.Command{
	Use:   "swap-roles",
	Short: "Swap the Interviewer/Participant labels on a job's transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		return a.store.SwapRoles(context.Background(), flagJobID)
	},
}

var updateTranscriptCmd = &cobra.Command{
	Use:   "update-transcript",
	Short: "Replace a job's transcript with a hand-edited plain-text version",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		ctx := context.Background()

		raw, err := os.ReadFile(flagInput)
		if err != nil {
			return fmt.Errorf("read edited transcript: %w", err)
		}

		fallback, err := a.store.GetTranscript(ctx, flagJobID)
		if err != nil {
			return err
		}

		parsed, err := editorparser.ParseEditorText(string(raw), fallback)
		if err != nil {
			return err
		}
		return a.store.SetFinalTranscript(ctx, flagJobID, parsed)
	},
}

var exportTxtCmd = &cobra.Command{
	Use:   "export-txt",
	Short: "Export a job's transcript as tab-separated plain text",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(false)
	},
}

var exportDocxCmd = &cobra.Command{
	Use:   "export-docx",
	Short: "Export a job's transcript as a formatted .docx",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(true)
	},
}

func runExport(docx bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx := context.Background()

	job, err := a.store.GetJob(ctx, flagJobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", flagJobID)
	}
	transcript, err := a.store.GetTranscript(ctx, flagJobID)
	if err != nil {
		return err
	}

	exportJob := export.Job{
		SourcePath:  job.SourcePath,
		SourceName:  job.SourceName,
		CreatedAt:   job.CreatedAt,
		DurationSec: job.DurationSec,
	}
	if docx {
		return export.WriteDocx(exportJob, transcript, flagOutput)
	}
	return export.WriteTxt(exportJob, transcript, flagOutput)
}

var listReadyCmd = &cobra.Command{
	Use:   "list-ready",
	Short: "List jobs in status ready, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		jobs, err := a.store.ListReadyJobs(context.Background(), flagLimit)
		if err != nil {
			return err
		}
		return printJSON(jobs)
	},
}

var jobResultCmd = &cobra.Command{
	Use:   "job-result",
	Short: "Print a job's stored result (source, duration, transcript)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		result, err := a.store.ReadJobResult(context.Background(), flagJobID)
		if err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("%w: job %s not found", models.ErrStore, flagJobID)
		}
		return printJSON(result)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
