package cli

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var (
	installCmd = &cobra.Command{
		Use:   "install [folder]",
		Short: "Install the folder watcher as a background service",
		Args:  cobra.MaximumNArgs(1),
		Run:   runInstall,
	}

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the watcher service",
		Run:   runStart,
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the watcher service",
		Run:   runStop,
	}

	uninstallCmd = &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall the watcher service",
		Run:   runUninstall,
	}

	logsCmd = &cobra.Command{
		Use:   "logs",
		Short: "Tail the service logs",
		Run:   runLogs,
	}
)

func init() {
	rootCmd.AddCommand(installCmd, startCmd, stopCmd, uninstallCmd, logsCmd, serviceRunCmd)
}

type program struct{}

func (p *program) Start(s service.Service) error {
	go p.run()
	return nil
}

func (p *program) run() {
	if err := setupServiceLogging(); err != nil {
		log.Printf("failed to set up file logging: %v", err)
	}
	log.Println("service starting...")

	cfg := GetWatchConfig()
	log.Printf("loaded config: watch_folder=%s interviewers=%d participants=%d",
		cfg.WatchFolder, cfg.InterviewerCount, cfg.ParticipantCount)

	if cfg.WatchFolder == "" {
		log.Println("no watch folder configured; run 'transkriptor install [folder]' first")
		return
	}
	watchFolder(cfg.WatchFolder)
}

func (p *program) Stop(s service.Service) error {
	log.Println("service stopping...")
	return nil
}

func getServiceConfig() *service.Config {
	ex, err := os.Executable()
	if err != nil {
		log.Fatal(err)
	}
	return &service.Config{
		Name:        "transkriptor-watcher",
		DisplayName: "Transkriptor Watcher Service",
		Description: "Watches a folder and transcribes new recordings.",
		Executable:  ex,
		Arguments:   []string{"service-run"},
	}
}

var serviceRunCmd = &cobra.Command{
	Use:    "service-run",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		if err := setupServiceLogging(); err != nil {
			log.Printf("failed to set up file logging: %v", err)
		}
		log.Println("starting service-run...")

		prg := &program{}
		s, err := service.New(prg, getServiceConfig())
		if err != nil {
			log.Fatalf("failed to create service: %v", err)
		}

		sysLogger, err := s.Logger(nil)
		if err != nil {
			log.Printf("failed to get system logger: %v", err)
		} else {
			_ = sysLogger.Info("transkriptor service starting...")
		}

		if err := s.Run(); err != nil {
			if sysLogger != nil {
				_ = sysLogger.Error(err)
			}
			log.Fatalf("service failed to run: %v", err)
		}
	},
}

func runInstall(cmd *cobra.Command, args []string) {
	if len(args) > 0 {
		folder := args[0]
		absPath, err := filepath.Abs(folder)
		if err != nil {
			log.Fatalf("failed to resolve folder: %v", err)
		}
		cfg := GetWatchConfig()
		if _, err := SaveConfig(absPath, cfg.InterviewerCount, cfg.ParticipantCount); err != nil {
			log.Fatalf("failed to save config: %v", err)
		}
		fmt.Printf("configured to watch: %s\n", absPath)
	} else {
		cfg := GetWatchConfig()
		if cfg.WatchFolder == "" {
			log.Fatalf("no watch folder specified; usage: transkriptor install [folder]")
		}
	}

	s, err := service.New(&program{}, getServiceConfig())
	if err != nil {
		log.Fatal(err)
	}
	if err := s.Install(); err != nil {
		log.Fatalf("failed to install service: %v", err)
	}
	fmt.Println("service installed.")
}

func runStart(cmd *cobra.Command, args []string) {
	s, err := service.New(&program{}, getServiceConfig())
	if err != nil {
		log.Fatal(err)
	}
	if err := s.Start(); err != nil {
		log.Fatalf("failed to start service: %v", err)
	}
	fmt.Println("service started.")
}

func runStop(cmd *cobra.Command, args []string) {
	s, err := service.New(&program{}, getServiceConfig())
	if err != nil {
		log.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		log.Fatalf("failed to stop service: %v", err)
	}
	fmt.Println("service stopped.")
}

func runUninstall(cmd *cobra.Command, args []string) {
	s, err := service.New(&program{}, getServiceConfig())
	if err != nil {
		log.Fatal(err)
	}
	if err := s.Uninstall(); err != nil {
		log.Fatalf("failed to uninstall service: %v", err)
	}
	fmt.Println("service uninstalled.")
}

func getLogFilePath() string {
	return "/tmp/transkriptor-service.log"
}

func setupServiceLogging() error {
	f, err := os.OpenFile(getLogFilePath(), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	log.SetOutput(f)
	return nil
}

func runLogs(cmd *cobra.Command, args []string) {
	logFile := getLogFilePath()
	fmt.Printf("tailing logs from %s...\n", logFile)

	c := exec.Command("tail", "-f", logFile)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		fmt.Printf("error tailing logs: %v\n", err)
	}
}
