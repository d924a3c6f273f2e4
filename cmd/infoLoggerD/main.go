// Command infoLoggerD runs the InfoLogger collector daemon: the local
// ingest socket and the durable transport client that ships collected
// records to infoLoggerServer.
package main

import (
	"flag"
	"log"
	"os"

	"infologger/internal/collectorapp"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "path to the InfoLogger YAML configuration file")
	flag.Parse()

	if configFile == "" {
		configFile = os.Getenv("INFOLOGGER_CONFIG_FILE")
	}
	if configFile == "" {
		configFile = "/etc/infoLogger/config.yaml"
	}

	app, err := collectorapp.New(configFile)
	if err != nil {
		log.Fatalf("infoLoggerD: %v", err)
	}
	if err := app.Run(); err != nil {
		log.Fatalf("infoLoggerD: %v", err)
	}
}
