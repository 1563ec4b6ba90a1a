package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	// Logger is the fallback logger used before configuration is loaded
	Logger = logrus.New()
)

// LoadEnv loads environment variables from .env file if it exists
func LoadEnv() {
	once.Do(func() {
		// Try to find .env file in current directory
		envFile := ".env"
		if _, err := os.Stat(envFile); os.IsNotExist(err) {
			// Try to find .env in parent directory (project root)
			parent := filepath.Join("..", ".env")
			if _, err := os.Stat(parent); err != nil {
				return
			}
			envFile = parent
		}
		if err := godotenv.Load(envFile); err != nil {
			Logger.Warnf("Failed to load %s: %v", envFile, err)
		}
	})
}
