//go:build integration

package integration

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/godbus/dbus/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/automute/internal/daemon"
	"github.com/eliteGoblin/focusd/automute/internal/domain"
	"github.com/eliteGoblin/focusd/automute/internal/infra"
	"github.com/eliteGoblin/focusd/automute/internal/policy"
	"github.com/eliteGoblin/focusd/automute/internal/ui"
	"github.com/eliteGoblin/focusd/automute/test/fixtures"
)

var (
	player  = domain.Window{Handle: 0x100, PID: 1001, ProgramPath: "/usr/bin/player"}
	browser = domain.Window{Handle: 0x200, PID: 2002, ProgramPath: "/usr/bin/browser"}
	editor  = domain.Window{Handle: 0x300, PID: 3003, ProgramPath: "/usr/bin/editor"}
)

// controlExporter is how a daemon publishes its control handler.
type controlExporter interface {
	Export(handler infra.ControlHandler) (func() error, error)
}

var _ = Describe("Supervisor", func() {
	var (
		exporter   controlExporter
		tmpDir     string
		paths      infra.Paths
		desktop    *fixtures.FakeDesktop
		backend    *fixtures.RecordingBackend
		journal    *infra.SQLJournal
		supervisor *daemon.Supervisor
		errCh      chan error
	)

	writePolicy := func(enabled bool, managed ...domain.ProgramPath) {
		p := domain.DefaultPolicy()
		p.Enabled = enabled
		p.ManagedApps = domain.NewManagedApps(managed...)
		Expect(policy.NewFileStore(paths.ConfigFile).Save(p)).To(Succeed())
	}

	start := func() *ui.Presenter {
		var err error
		journal, err = infra.OpenJournal(paths.DataDir)
		Expect(err).NotTo(HaveOccurred())

		platform := daemon.Platform{
			Windows:   desktop,
			Focus:     desktop,
			Processes: desktop,
			Backend:   backend,
			Shell:     fixtures.NopShell{},
			Journal:   journal,
			Instance:  infra.NewInstanceFile(paths.InstanceFile, infra.NewProcessDirectory()),
			Control:   exporter,
		}
		cfg := daemon.Config{PollInterval: 5 * time.Millisecond}
		supervisor = daemon.NewSupervisor(cfg, paths, platform, domain.AboutInfo{Version: "integration"}, zap.NewNop())

		errCh = make(chan error, 1)
		go func() { errCh <- supervisor.Run(context.Background()) }()

		Eventually(supervisor.Presenter).WithTimeout(2 * time.Second).ShouldNot(BeNil())
		presenter := supervisor.Presenter()

		// Let the listener report the initial focus before a spec moves it.
		if handle, err := desktop.FocusedWindow(); err == nil {
			w, err := desktop.Resolve(handle)
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() []domain.ProgramPath {
				var recent []domain.ProgramPath
				for _, app := range presenter.State().RecentApps {
					recent = append(recent, app.Path)
				}
				return recent
			}).WithTimeout(2 * time.Second).Should(HaveLen(1))
			Expect(presenter.State().RecentApps[0].Path.Equal(w.ProgramPath)).To(BeTrue())
		}
		return presenter
	}

	stop := func(presenter *ui.Presenter) {
		Expect(presenter.Exit()).To(BeTrue())
		Eventually(errCh).WithTimeout(5 * time.Second).Should(Receive(BeNil()))
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "automute-integration-*")
		Expect(err).NotTo(HaveOccurred())

		paths = infra.ResolvePaths(filepath.Join(tmpDir, "data"), filepath.Join(tmpDir, "config"), "")

		// Long-running processes: no follow-up unmutes
		desktop = fixtures.NewFakeDesktop(time.Now().Add(-time.Hour), player, browser, editor)
		backend = fixtures.NewRecordingBackend()
		exporter = nil
	})

	AfterEach(func() {
		if journal != nil {
			journal.Close()
			journal = nil
		}
		os.RemoveAll(tmpDir)
	})

	Describe("focus changes", func() {
		Context("when a managed program loses and regains focus", func() {
			It("should mute it in the background and unmute it in the foreground", func() {
				writePolicy(true, player.ProgramPath)
				desktop.Focus(player.Handle)
				presenter := start()

				Eventually(func() int { return len(presenter.State().RecentApps) }).Should(Equal(1))

				desktop.Focus(browser.Handle)
				Eventually(func() bool { return backend.IsMuted(player.PID) }).Should(BeTrue())

				desktop.Focus(player.Handle)
				Eventually(func() bool { return backend.IsMuted(player.PID) }).Should(BeFalse())

				stop(presenter)

				Expect(backend.CallsFor(browser.PID)).NotTo(ContainElement(fixtures.MuteCall{PID: browser.PID, Mute: true}))
			})
		})

		Context("when muting is globally disabled", func() {
			It("should never mute", func() {
				writePolicy(false, player.ProgramPath)
				desktop.Focus(player.Handle)
				presenter := start()

				desktop.Focus(browser.Handle)
				Eventually(func() int { return len(presenter.State().RecentApps) }).Should(Equal(2))
				Consistently(func() bool { return backend.IsMuted(player.PID) }, 100*time.Millisecond).Should(BeFalse())

				stop(presenter)
			})
		})
	})

	Describe("toggles from the presenter", func() {
		It("should mute the background program once it becomes managed", func() {
			writePolicy(true)
			desktop.Focus(editor.Handle)
			presenter := start()

			desktop.Focus(browser.Handle)
			Eventually(func() int { return len(presenter.State().RecentApps) }).Should(Equal(2))

			// Index 1 is the editor, now in the background
			sent, err := presenter.ToggleProgram(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(sent).To(BeTrue())
			Eventually(func() bool { return backend.IsMuted(editor.PID) }).Should(BeTrue())

			saved, err := policy.NewFileStore(paths.ConfigFile).Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.IsManaged(editor.ProgramPath)).To(BeTrue())

			stop(presenter)
			Expect(backend.IsMuted(editor.PID)).To(BeFalse())
		})
	})

	Describe("runtime control", func() {
		var recorder *fixtures.ControlRecorder

		BeforeEach(func() {
			recorder = &fixtures.ControlRecorder{}
			exporter = recorder
		})

		It("should mute background instances of a program managed at runtime", func() {
			writePolicy(true)
			desktop.Focus(editor.Handle)
			presenter := start()
			desktop.Focus(browser.Handle)
			Eventually(func() int { return len(presenter.State().RecentApps) }).Should(Equal(2))

			control := recorder.Handler()
			Expect(control).NotTo(BeNil())
			Expect(control.SetManaged(editor.ProgramPath.String(), true)).To(Succeed())
			Eventually(func() bool { return backend.IsMuted(editor.PID) }).Should(BeTrue())
			Expect(backend.IsMuted(browser.PID)).To(BeFalse())

			Eventually(func() bool {
				saved, err := policy.NewFileStore(paths.ConfigFile).Load()
				return err == nil && saved.IsManaged(editor.ProgramPath)
			}).Should(BeTrue())
			Expect(presenter.State().RecentApps[1].Managed).To(BeTrue())

			Expect(control.SetManaged(editor.ProgramPath.String(), false)).To(Succeed())
			Eventually(func() bool { return backend.IsMuted(editor.PID) }).Should(BeFalse())

			Expect(control.Exit()).To(Succeed())
			Eventually(errCh).WithTimeout(5 * time.Second).Should(Receive(BeNil()))
			Expect(recorder.Released()).To(BeTrue())
		})

		It("should switch muting off and on", func() {
			writePolicy(true, player.ProgramPath)
			desktop.Focus(player.Handle)
			presenter := start()
			desktop.Focus(browser.Handle)
			Eventually(func() bool { return backend.IsMuted(player.PID) }).Should(BeTrue())

			control := recorder.Handler()
			enabled, err := control.Toggle()
			Expect(err).NotTo(HaveOccurred())
			Expect(enabled).To(BeFalse())
			Eventually(func() bool { return backend.IsMuted(player.PID) }).Should(BeFalse())
			Expect(presenter.Tooltip()).To(Equal("automute (disabled)"))

			// Enabling recomputes every open window, focused browser aside
			Expect(control.SetEnabled(true)).To(Succeed())
			Eventually(func() bool { return backend.IsMuted(player.PID) && backend.IsMuted(editor.PID) }).Should(BeTrue())
			Expect(backend.IsMuted(browser.PID)).To(BeFalse())

			Expect(control.OpenConfig()).To(Succeed())
			Expect(control.ShowAbout()).To(Succeed())
			Expect(control.UnmuteAll()).To(Succeed())
			Eventually(func() bool { return backend.IsMuted(player.PID) || backend.IsMuted(editor.PID) }).Should(BeFalse())

			stop(presenter)
		})

		It("should reject relative program paths", func() {
			writePolicy(true)
			presenter := start()

			Expect(recorder.Handler().SetManaged("bin/player", true)).To(MatchError(ContainSubstring("not absolute")))

			stop(presenter)
		})
	})

	Describe("runtime control over D-Bus", func() {
		It("should serve a separate bus connection", func() {
			address := startPrivateBus(tmpDir)

			serverConn, err := dbus.Connect(address)
			Expect(err).NotTo(HaveOccurred())
			defer serverConn.Close()
			clientConn, err := dbus.Connect(address)
			Expect(err).NotTo(HaveOccurred())
			defer clientConn.Close()

			client := infra.NewControlBus(clientConn).Client()
			Expect(client.SetEnabled(true)).To(MatchError(infra.ErrControlUnavailable))

			exporter = infra.NewControlBus(serverConn)
			writePolicy(true)
			desktop.Focus(editor.Handle)
			presenter := start()
			desktop.Focus(browser.Handle)
			Eventually(func() int { return len(presenter.State().RecentApps) }).Should(Equal(2))

			Expect(client.SetManaged(editor.ProgramPath.String(), true)).To(Succeed())
			Eventually(func() bool { return backend.IsMuted(editor.PID) }).Should(BeTrue())

			Expect(client.ToggleRecent(1)).To(Succeed())
			Eventually(func() bool { return backend.IsMuted(editor.PID) }).Should(BeFalse())
			Expect(client.ToggleRecent(7)).To(MatchError(ContainSubstring("out of range")))

			Expect(client.Exit()).To(Succeed())
			Eventually(errCh).WithTimeout(5 * time.Second).Should(Receive(BeNil()))
			Expect(client.Reload()).To(MatchError(infra.ErrControlUnavailable))
		})
	})

	Describe("config file edits", func() {
		It("should reload the policy while running", func() {
			writePolicy(true)
			desktop.Focus(browser.Handle)
			presenter := start()
			Eventually(func() int { return len(presenter.State().RecentApps) }).Should(Equal(1))

			writePolicy(true, browser.ProgramPath)
			Eventually(func() bool {
				apps := presenter.State().RecentApps
				return len(apps) == 1 && apps[0].Managed
			}).WithTimeout(3 * time.Second).Should(BeTrue())

			desktop.Focus(player.Handle)
			Eventually(func() bool { return backend.IsMuted(browser.PID) }).Should(BeTrue())

			stop(presenter)
		})

		It("should keep the last good policy when the edit is malformed", func() {
			writePolicy(true, player.ProgramPath)
			desktop.Focus(player.Handle)
			presenter := start()

			Expect(os.WriteFile(paths.ConfigFile, []byte("enabled = ["), 0o644)).To(Succeed())
			Eventually(func() string { return presenter.State().LastError }).WithTimeout(3 * time.Second).ShouldNot(BeEmpty())

			desktop.Focus(browser.Handle)
			Eventually(func() bool { return backend.IsMuted(player.PID) }).Should(BeTrue())

			stop(presenter)
		})
	})

	Describe("mute journal", func() {
		It("should record background mutes and clear them on exit", func() {
			writePolicy(true, player.ProgramPath)
			desktop.Focus(player.Handle)
			presenter := start()

			desktop.Focus(browser.Handle)
			Eventually(func() bool { return backend.IsMuted(player.PID) }).Should(BeTrue())
			Eventually(func() (map[int]time.Time, error) { return journal.Pending() }).Should(HaveKey(player.PID))

			stop(presenter)

			pending, err := journal.Pending()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})

		It("should release mutes left behind by a crashed run", func() {
			writePolicy(true)
			startedAt, _ := desktop.StartTime(editor.PID)

			leftover, err := infra.OpenJournal(paths.DataDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(leftover.Record(editor.PID, startedAt)).To(Succeed())
			Expect(leftover.Close()).To(Succeed())

			presenter := start()
			Eventually(func() []fixtures.MuteCall { return backend.CallsFor(editor.PID) }).
				Should(ContainElement(fixtures.MuteCall{PID: editor.PID, Mute: false}))

			pending, err := journal.Pending()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).NotTo(HaveKey(editor.PID))

			stop(presenter)
		})
	})

	Describe("young processes", func() {
		It("should repeat the unmute while the process may still reset its own state", func() {
			desktop.SetStartTime(player.PID, time.Now())
			writePolicy(true, player.ProgramPath)
			desktop.Focus(browser.Handle)
			presenter := start()

			desktop.Focus(player.Handle)
			Eventually(func() int {
				n := 0
				for _, c := range backend.CallsFor(player.PID) {
					if !c.Mute {
						n++
					}
				}
				return n
			}).WithTimeout(4 * time.Second).Should(BeNumerically(">=", 4))

			stop(presenter)
		})
	})

	Describe("single instance", func() {
		It("should refuse to start while another instance holds the instance file", func() {
			writePolicy(true)
			holder := infra.NewInstanceFile(paths.InstanceFile, alwaysRunning{})
			Expect(holder.Acquire(domain.InstanceEntry{PID: 1, StartedAt: time.Now()})).To(Succeed())

			other := daemon.NewSupervisor(daemon.Config{PollInterval: time.Second}, paths, daemon.Platform{
				Windows:   desktop,
				Focus:     desktop,
				Processes: desktop,
				Backend:   backend,
				Shell:     fixtures.NopShell{},
				Instance:  holder,
			}, domain.AboutInfo{}, zap.NewNop())

			Expect(other.Run(context.Background())).To(MatchError(domain.ErrAlreadyRunning))
			Expect(backend.Calls()).To(BeEmpty())
		})
	})
})

// startPrivateBus runs a dbus-daemon for the current spec and returns its
// address. The spec is skipped when dbus-daemon is not installed.
func startPrivateBus(dir string) string {
	bin, err := exec.LookPath("dbus-daemon")
	if err != nil {
		Skip("dbus-daemon not installed")
	}
	socket := filepath.Join(dir, "bus")
	cmd := exec.Command(bin, "--session", "--nofork", "--nopidfile", "--address=unix:path="+socket)
	Expect(cmd.Start()).To(Succeed())
	DeferCleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	Eventually(func() error {
		_, err := os.Stat(socket)
		return err
	}).WithTimeout(5 * time.Second).Should(Succeed())
	return "unix:path=" + socket
}

// alwaysRunning reports every pid as alive.
type alwaysRunning struct{}

func (alwaysRunning) IsRunning(pid int) bool { return true }
