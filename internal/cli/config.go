package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// WatchConfig is the persisted CLI configuration: the folder transkriptor
// watches for new recordings, and the default role counts applied to jobs
// it submits automatically.
type WatchConfig struct {
	WatchFolder      string `mapstructure:"watch_folder"`
	InterviewerCount int    `mapstructure:"interviewer_count"`
	ParticipantCount int    `mapstructure:"participant_count"`
}

// InitConfig loads ~/.transkriptor.yaml, if present, before any command runs.
func InitConfig() {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	viper.AddConfigPath(home)
	viper.SetConfigType("yaml")
	viper.SetConfigName(".transkriptor")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		// config file found and loaded
	}
}

// SaveConfig persists the watch folder and default role counts to
// ~/.transkriptor.yaml, leaving unset fields (zero values) untouched.
func SaveConfig(watchFolder string, interviewerCount, participantCount int) (string, error) {
	if watchFolder != "" {
		viper.Set("watch_folder", watchFolder)
	}
	if interviewerCount > 0 {
		viper.Set("interviewer_count", interviewerCount)
	}
	if participantCount > 0 {
		viper.Set("participant_count", participantCount)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configPath := filepath.Join(home, ".transkriptor.yaml")
	if err := viper.WriteConfigAs(configPath); err != nil {
		return "", err
	}
	return configPath, nil
}

// GetWatchConfig returns the current persisted configuration, defaulting
// both role counts to 1.
func GetWatchConfig() *WatchConfig {
	cfg := &WatchConfig{
		WatchFolder:      viper.GetString("watch_folder"),
		InterviewerCount: viper.GetInt("interviewer_count"),
		ParticipantCount: viper.GetInt("participant_count"),
	}
	if cfg.InterviewerCount < 1 {
		cfg.InterviewerCount = 1
	}
	if cfg.ParticipantCount < 1 {
		cfg.ParticipantCount = 1
	}
	return cfg
}
