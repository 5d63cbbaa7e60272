// Package rtconfig parses the environment variables capgc consults at
// startup. Names and the yes/true/1 vs no/false/0 parsing rule are carried
// from spec.md §6's FILC_* set, renamed to the CAPGC_ prefix since this is
// not Fil-C itself.
package rtconfig

import (
	"os"
	"strings"
)

// Config holds every environment-derived toggle consumed at process start.
type Config struct {
	LogToFile      bool
	LogFilePath    string
	ExitOnPanic    bool
	DumpErrnos     bool
	RunGlobalCtors bool
	RunGlobalDtors bool
	VerboseSTW     bool
	DumpSetup      bool
}

// FromEnviron reads the CAPGC_* environment variables and returns a Config.
// RunGlobalCtors and RunGlobalDtors default to true (matching the teacher's
// "ctors/dtors run unless explicitly disabled" default); everything else
// defaults to false.
func FromEnviron() Config {
	return Config{
		LogToFile:      parseBool("CAPGC_LOG_TO_FILE", false),
		LogFilePath:    os.Getenv("CAPGC_LOG_FILE_PATH"),
		ExitOnPanic:    parseBool("CAPGC_EXIT_ON_PANIC", false),
		DumpErrnos:     parseBool("CAPGC_DUMP_ERRNOS", false),
		RunGlobalCtors: parseBool("CAPGC_RUN_GLOBAL_CTORS", true),
		RunGlobalDtors: parseBool("CAPGC_RUN_GLOBAL_DTORS", true),
		VerboseSTW:     parseBool("CAPGC_VERBOSE_STW", false),
		DumpSetup:      parseBool("CAPGC_DUMP_SETUP", false),
	}
}

func parseBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1":
		return true
	case "no", "false", "0":
		return false
	default:
		return def
	}
}
