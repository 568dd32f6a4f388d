// Package main is the CLI entry point for automute.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/automute/internal/daemon"
	"github.com/eliteGoblin/focusd/automute/internal/domain"
	"github.com/eliteGoblin/focusd/automute/internal/infra"
	"github.com/eliteGoblin/focusd/automute/internal/policy"
	"github.com/eliteGoblin/focusd/automute/internal/ui"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "automute",
	Short: "Mutes background applications, unmutes the focused one",
	Long: `automute watches which window has focus. Programs you mark as managed
are muted while in the background and unmuted as soon as one of their
windows is focused. Focus changes never mute unmanaged programs.

Managed programs are listed in the config file; edits are picked up
while the daemon runs.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run automute in the foreground",
	Long:  `Runs the daemon attached to the terminal and logs to stderr as well as the log file. Ctrl-C releases every mute and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(true)
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start automute in the background",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon (all mutes are released)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalDaemon(syscall.SIGTERM, "stop requested")
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalDaemon(syscall.SIGHUP, "reload requested")
	},
}

var unmuteAllCmd = &cobra.Command{
	Use:   "unmute-all",
	Short: "Unmute every open window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalDaemon(syscall.SIGUSR1, "unmute requested")
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Turn muting on in the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlRunning("muting enabled", func(c infra.ControlHandler) error { return c.SetEnabled(true) })
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn muting off in the running daemon (all mutes are released)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlRunning("muting disabled", func(c infra.ControlHandler) error { return c.SetEnabled(false) })
	},
}

var openConfigCmd = &cobra.Command{
	Use:   "open-config",
	Short: "Show the config file in the file manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlRunning("config shown", infra.ControlHandler.OpenConfig)
	},
}

var aboutCmd = &cobra.Command{
	Use:   "about",
	Short: "Show version information from the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return controlRunning("about shown", infra.ControlHandler.ShowAbout)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and recently focused programs",
	RunE:  runStatus,
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage the programs automute mutes in the background",
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List managed programs",
	RunE:  runAppsList,
}

var appsAddCmd = &cobra.Command{
	Use:   "add <program-path>",
	Short: "Manage a program",
	Long:  `Marks a program as managed. A running daemon applies the change at once and mutes background instances; otherwise the config file is edited.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setManaged(args[0], true)
	},
}

var appsRemoveCmd = &cobra.Command{
	Use:   "remove <program-path>",
	Short: "Stop managing a program",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setManaged(args[0], false)
	},
}

var autostartCmd = &cobra.Command{
	Use:   "autostart",
	Short: "Manage starting automute on login",
}

var autostartEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Start automute on login",
	RunE:  runAutostartEnable,
}

var autostartDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Do not start automute on login",
	RunE: func(cmd *cobra.Command, args []string) error {
		autostart := infra.NewAutostart()
		if err := autostart.Uninstall(); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", autostart.Path())
		return nil
	},
}

var autostartStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether automute starts on login",
	RunE:  runAutostartStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

// Hidden daemon command - used for self-exec by `automute start`
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(false)
	},
}

var (
	verbose    bool
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	appsCmd.AddCommand(appsListCmd, appsAddCmd, appsRemoveCmd)
	autostartCmd.AddCommand(autostartEnableCmd, autostartDisableCmd, autostartStatusCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(unmuteAllCmd)
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(openConfigCmd)
	rootCmd.AddCommand(aboutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(autostartCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
}

func aboutInfo() domain.AboutInfo {
	return domain.AboutInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func loadConfig() (daemon.Config, infra.Paths, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return daemon.Config{}, infra.Paths{}, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Paths(), nil
}

func runDaemon(console bool) error {
	cfg, paths, err := loadConfig()
	if err != nil {
		return err
	}

	logger := createLogger(paths.LogFile, cfg.LogLevel, console)
	defer func() { _ = logger.Sync() }()

	platform, err := daemon.NewPlatform(cfg, paths, logger)
	if err != nil {
		logger.Error("failed to set up platform", zap.Error(err))
		return err
	}
	defer func() { _ = platform.Close() }()

	// Termination signals reach the core through the supervisor
	supervisor := daemon.NewSupervisor(cfg, paths, *platform, aboutInfo(), logger)
	if err := supervisor.Run(context.Background()); err != nil {
		logger.Error("automute exited with error", zap.Error(err))
		return err
	}
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	_, paths, err := loadConfig()
	if err != nil {
		return err
	}
	instance := infra.NewInstanceFile(paths.InstanceFile, infra.NewProcessDirectory())

	var daemonArgs []string
	if verbose {
		daemonArgs = append(daemonArgs, "--verbose")
	}
	entry, err := daemon.StartBackground(instance, 5*time.Second, daemonArgs...)
	if errors.Is(err, domain.ErrAlreadyRunning) {
		fmt.Printf("automute is already running (pid %d)\n", entry.PID)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Println("\n=== automute Started ===")
	fmt.Printf("PID: %d\n", entry.PID)
	fmt.Printf("Config: %s\n", paths.ConfigFile)
	fmt.Printf("Log: %s\n", paths.LogFile)
	fmt.Println("========================")
	return nil
}

func signalDaemon(sig syscall.Signal, done string) error {
	_, paths, err := loadConfig()
	if err != nil {
		return err
	}
	instance := infra.NewInstanceFile(paths.InstanceFile, infra.NewProcessDirectory())
	entry, err := instance.Signal(sig)
	if err != nil {
		return err
	}
	fmt.Printf("%s (pid %d)\n", done, entry.PID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, paths, err := loadConfig()
	if err != nil {
		return err
	}
	instance := infra.NewInstanceFile(paths.InstanceFile, infra.NewProcessDirectory())

	fmt.Println("\n=== automute Status ===")

	entry, err := instance.Running()
	if err != nil || entry == nil {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'automute start' to begin.")
		return nil
	}

	fmt.Println("Status: RUNNING")
	fmt.Printf("PID: %d\n", entry.PID)
	fmt.Printf("Uptime: %s\n", infra.Uptime(*entry).Round(time.Second))
	if entry.AppVersion != "" {
		fmt.Printf("Version: %s\n", entry.AppVersion)
	}
	fmt.Printf("Config: %s\n", paths.ConfigFile)

	state, err := ui.ReadState(paths.StateFile)
	if err != nil {
		fmt.Println("=======================")
		return nil
	}
	if state.Enabled {
		fmt.Println("Muting: enabled")
	} else {
		fmt.Println("Muting: disabled")
	}
	if state.LastError != "" {
		fmt.Printf("Last error: %s\n", state.LastError)
	}

	fmt.Println("\nRecently focused:")
	if len(state.RecentApps) == 0 {
		fmt.Println("  (none)")
	} else {
		renderApps(os.Stdout, state.RecentApps)
	}
	fmt.Println("=======================")
	return nil
}

func runAppsList(cmd *cobra.Command, args []string) error {
	_, paths, err := loadConfig()
	if err != nil {
		return err
	}
	store := policy.NewFileStore(paths.ConfigFile)
	if !store.Exists() {
		fmt.Printf("No config file at %s yet; no programs are managed.\n", store.Path())
		return nil
	}
	p, err := store.Load()
	if err != nil {
		return err
	}

	fmt.Println("\n=== Managed Programs ===")
	if p.ManagedApps.Len() == 0 {
		fmt.Println("  (none)")
	} else {
		renderApps(os.Stdout, managedRows(p.ManagedApps.Sorted()))
	}
	if !p.Enabled {
		fmt.Println("\nMuting is globally disabled.")
	}
	fmt.Println("========================")
	return nil
}

// connectDaemon returns the control handler of the running daemon.
func connectDaemon(paths infra.Paths) (infra.ControlHandler, *domain.InstanceEntry, error) {
	entry, err := infra.NewInstanceFile(paths.InstanceFile, infra.NewProcessDirectory()).Running()
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return nil, nil, infra.ErrNotRunning
	}
	bus, err := infra.NewSessionControlBus()
	if err != nil {
		return nil, entry, fmt.Errorf("%v: %w", err, infra.ErrControlUnavailable)
	}
	return bus.Client(), entry, nil
}

func controlRunning(done string, request func(infra.ControlHandler) error) error {
	_, paths, err := loadConfig()
	if err != nil {
		return err
	}
	control, entry, err := connectDaemon(paths)
	if err != nil {
		return err
	}
	if err := request(control); err != nil {
		return err
	}
	fmt.Printf("%s (pid %d)\n", done, entry.PID)
	return nil
}

// setManaged asks the running daemon to change the managed set, and falls
// back to editing the config file when no daemon can be reached.
func setManaged(arg string, managed bool) error {
	_, paths, err := loadConfig()
	if err != nil {
		return err
	}
	path := domain.ProgramPath(infra.NewShell().ExpandHome(arg))

	control, entry, err := connectDaemon(paths)
	if err == nil {
		if err = control.SetManaged(path.String(), managed); err == nil {
			if managed {
				fmt.Printf("Managing %s (pid %d)\n", path, entry.PID)
			} else {
				fmt.Printf("No longer managing %s (pid %d)\n", path, entry.PID)
			}
			return nil
		}
	}
	switch {
	case errors.Is(err, infra.ErrNotRunning):
	case errors.Is(err, infra.ErrControlUnavailable):
		fmt.Fprintf(os.Stderr, "Warning: %v; editing %s instead\n", err, paths.ConfigFile)
	default:
		return err
	}
	return editApps(paths, path, managed)
}

// editApps changes the config file directly; a running daemon picks the
// edit up through its file watcher.
func editApps(paths infra.Paths, path domain.ProgramPath, managed bool) error {
	store := policy.NewFileStore(paths.ConfigFile)
	if _, err := store.EnsureExists(); err != nil {
		return err
	}
	p, err := store.Load()
	if err != nil {
		return err
	}

	var changed bool
	if managed {
		changed = p.ManagedApps.Add(path)
	} else {
		changed = p.ManagedApps.Remove(path)
	}
	if !changed {
		fmt.Printf("%s: nothing to do\n", path)
		return nil
	}
	if err := store.Save(p); err != nil {
		return err
	}

	if managed {
		fmt.Printf("Managing %s\n", path)
	} else {
		fmt.Printf("No longer managing %s\n", path)
	}
	return nil
}

func runAutostartEnable(cmd *cobra.Command, args []string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	autostart := infra.NewAutostart()
	if autostart.IsInstalled() && !autostart.NeedsUpdate(execPath) {
		fmt.Printf("Autostart already enabled (%s)\n", autostart.Path())
		return nil
	}
	if err := autostart.Install(execPath); err != nil {
		return err
	}
	fmt.Printf("Installed %s\n", autostart.Path())
	return nil
}

func runAutostartStatus(cmd *cobra.Command, args []string) error {
	autostart := infra.NewAutostart()
	if !autostart.IsInstalled() {
		fmt.Println("Autostart: disabled")
		return nil
	}
	fmt.Printf("Autostart: enabled (%s)\n", autostart.Path())
	if execPath, err := os.Executable(); err == nil && autostart.NeedsUpdate(execPath) {
		fmt.Println("           entry points at another binary; run 'automute autostart enable' to refresh")
	}
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		data, _ := json.Marshal(struct {
			Version   string `json:"version"`
			Commit    string `json:"commit"`
			BuildTime string `json:"build_time"`
		}{Version, Commit, BuildTime})
		fmt.Println(string(data))
		return
	}
	fmt.Printf("automute %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
}
