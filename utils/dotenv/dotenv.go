package dotenv

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// LoadDotEnvs loads .env files following https://github.com/bkeepers/dotenv#what-other-env-files-can-i-use
// Variables already set in the environment are never overwritten, and files
// loaded first win over later ones.
func LoadDotEnvs() []string {
	return loadDotEnvs("")
}

func loadDotEnvs(rootPath string) []string {
	env := os.Getenv("SUBPULSE_ENV")
	if env == "" {
		env = "dev"
	}

	candidates := []string{
		// Secrets for one environment
		".env." + env + ".local",
		".env.local",
		".env." + env,
		// Shared defaults
		".env",
	}

	var loaded []string
	for _, name := range candidates {
		path := filepath.Join(rootPath, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.WithFields(log.Fields{
				"file":  path,
				"error": err,
			}).Warn("Failed to load env file")
			continue
		}
		loaded = append(loaded, path)
	}

	return loaded
}
