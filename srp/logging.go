/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package srp

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging routes the standard logger through a rotating file when a
// logfile path is configured, and leaves it on stderr otherwise.
func SetupLogging(logfile string) error {
	log.SetFlags(log.Lshortfile | log.Ltime)

	if logfile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   logfile,
			MaxSize:    20,
			MaxBackups: 3,
			MaxAge:     14,
		})
	}

	return nil
}
