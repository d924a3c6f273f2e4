// Command infoLoggerServer runs the InfoLogger central server: the
// transport listener, dispatch hub, DB insert pool, and the broadcast,
// stats, and (optional) Kafka consumers.
package main

import (
	"flag"
	"log"
	"os"

	"infologger/internal/serverapp"
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

	app, err := serverapp.New(configFile)
	if err != nil {
		log.Fatalf("infoLoggerServer: %v", err)
	}
	if err := app.Run(); err != nil {
		log.Fatalf("infoLoggerServer: %v", err)
	}
}
