// Package cli implements transkriptor's command surface: the job commands
// (run-job, find-resumable, swap-roles, update-transcript, export-txt,
// export-docx, list-ready, job-result) plus the folder-watcher and
// background-service commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "transkriptor",
	Short: "Transkriptor: diarized interview transcription pipeline",
	Long:  `A CLI that chunks, transcribes and diarizes interview recordings, with optional folder watching and background-service operation.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(InitConfig)
}
