package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"transkriptor/internal/chunkplanner"
	"transkriptor/internal/models"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [folder]",
	Short: "Watch a folder and run a transcription job for every new recording",
	Args:  cobra.ExactArgs(1),
	Run:   runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	folder := args[0]
	absPath, err := filepath.Abs(folder)
	if err != nil {
		log.Fatalf("failed to resolve folder: %v", err)
	}
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		log.Fatalf("folder does not exist: %s", absPath)
	}

	cfg := GetWatchConfig()
	if _, err := SaveConfig(absPath, cfg.InterviewerCount, cfg.ParticipantCount); err != nil {
		fmt.Printf("warning: failed to save watch folder to config: %v\n", err)
	}

	watchFolder(absPath)
}

// watchFolder debounces fsnotify create/write events per path for 2 seconds
// (a recording still being copied triggers several writes) and then submits
// one run-job invocation per settled audio file.
func watchFolder(path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Fatal(err)
	}
	defer watcher.Close()

	timers := make(map[string]*time.Timer)
	var mu sync.Mutex

	done := make(chan bool)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					if !isAudioFile(strings.ToLower(filepath.Ext(event.Name))) {
						continue
					}

					mu.Lock()
					if t, exists := timers[event.Name]; exists {
						t.Stop()
					}
					timers[event.Name] = time.AfterFunc(2*time.Second, func() {
						mu.Lock()
						delete(timers, event.Name)
						mu.Unlock()

						log.Printf("submitting %s...\n", event.Name)
						if err := submitWatchedFile(event.Name); err != nil {
							log.Printf("failed to run job for %s: %v\n", event.Name, err)
						} else {
							log.Printf("job finished for %s\n", event.Name)
						}
					})
					mu.Unlock()
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Println("watch error:", err)
			}
		}
	}()

	if err := watcher.Add(path); err != nil {
		log.Fatal(err)
	}
	log.Printf("watching %s for new recordings...\n", path)
	<-done
}

func isAudioFile(ext string) bool {
	switch ext {
	case ".mp3", ".wav", ".m4a", ".flac", ".ogg", ".aac", ".wma":
		return true
	default:
		return false
	}
}

// submitWatchedFile creates a job for path using the persisted default role
// counts and runs it synchronously to completion.
func submitWatchedFile(path string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	cfg := GetWatchConfig()

	hash, err := chunkplanner.HashFile(path)
	if err != nil {
		return err
	}

	ctx := context.Background()
	job, err := a.store.CreateJob(ctx, &models.Job{
		SourcePath:       path,
		SourceName:       filepath.Base(path),
		SourceHash:       hash,
		InterviewerCount: cfg.InterviewerCount,
		ParticipantCount: cfg.ParticipantCount,
	})
	if err != nil {
		return err
	}

	_, err = a.driver.RunJob(ctx, job.ID, false)
	return err
}
