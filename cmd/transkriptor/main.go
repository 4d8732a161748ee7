// Command transkriptor is the single CLI entrypoint for the transcription
// core: job commands (run-job, find-resumable, swap-roles,
// update-transcript, export-txt, export-docx, list-ready, job-result) plus
// the supplemental watch/install/start/stop/uninstall/logs commands.
package main

import "transkriptor/internal/cli"

func main() {
	cli.Execute()
}
