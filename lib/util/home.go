package util

import (
	"os"
)

// UserHome returns the current user's home directory.
// Falls back to $HOME, then $USERPROFILE, if os.UserHomeDir fails.
// After those, uses the current working directory, which allows operation in
// containerized environments where $HOME may not be set; it panics only when
// the working directory cannot be determined either.
func UserHome() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback: try $HOME directly (works on most Unix systems)
		if home := os.Getenv("HOME"); home != "" {
			log.WithError(err).Warn("os.UserHomeDir failed, falling back to $HOME")
			return home
		}
		// Last resort on Windows
		if home := os.Getenv("USERPROFILE"); home != "" {
			log.WithError(err).Warn("os.UserHomeDir failed, falling back to USERPROFILE")
			return home
		}
		// Final fallback: use the current working directory. Key material is
		// never written here by this module; the config file is the only
		// artifact.
		if wd, wdErr := os.Getwd(); wdErr == nil {
			log.WithError(err).Warn("os.UserHomeDir and $HOME unavailable; falling back to working directory")
			return wd
		}
		panic("go-gosling: unable to determine home directory; set $HOME environment variable")
	}

	return homeDir
}
