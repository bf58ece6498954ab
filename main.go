package main

import (
	"os"
	"subpulse/cmd"
	"subpulse/utils/dotenv"

	log "github.com/sirupsen/logrus"
	_ "golang.org/x/crypto/x509roots/fallback" // We need this to make TLS work in scratch containers
)

func main() {
	// Before flags are parsed so EnvVars see the values
	dotenv.LoadDotEnvs()

	if err := cmd.RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
