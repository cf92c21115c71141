package configs

import (
	log "github.com/sirupsen/logrus"
)

// ConfigureLogging sets the global logrus level and format.
func ConfigureLogging(debug bool, format string) {
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
