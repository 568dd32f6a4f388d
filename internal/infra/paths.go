package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// appDirName is the directory name under the XDG base directories.
const appDirName = "automute"

// Paths holds the on-disk locations used by automute.
type Paths struct {
	DataDir      string // Journal, instance file, state snapshot, logs
	ConfigDir    string // Policy document
	ConfigFile   string
	InstanceFile string
	StateFile    string
	LogFile      string
}

// DefaultPaths resolves locations from the XDG base directories, falling
// back to ~/.local/share and ~/.config.
func DefaultPaths() Paths {
	home := RealUserHome()

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(home, ".local", "share")
	}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}

	return ResolvePaths(filepath.Join(dataHome, appDirName), filepath.Join(configHome, appDirName), "")
}

// ResolvePaths derives every location from a data dir and a config dir.
// An empty configFile selects automute.toml in configDir.
func ResolvePaths(dataDir, configDir, configFile string) Paths {
	if configFile == "" {
		configFile = filepath.Join(configDir, "automute.toml")
	}
	return Paths{
		DataDir:      dataDir,
		ConfigDir:    configDir,
		ConfigFile:   configFile,
		InstanceFile: filepath.Join(dataDir, "instance.json"),
		StateFile:    filepath.Join(dataDir, "state.json"),
		LogFile:      filepath.Join(dataDir, "automute.log"),
	}
}

// RealUserHome returns the real user's home directory, even when running under sudo.
func RealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
