package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Install or remove evolve serve as a user service (launchd/systemd)",
	}
	cmd.AddCommand(installDaemonCmd(), uninstallDaemonCmd())
	return cmd
}

func installDaemonCmd() *cobra.Command {
	var scheduler bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write a service file that runs evolve serve at login",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			cfgPath, err := filepath.Abs(resolveConfigPath())
			if err != nil {
				return err
			}
			unit := serviceUnit{exec: execPath, config: cfgPath, scheduler: scheduler}

			switch runtime.GOOS {
			case "darwin":
				return installLaunchd(unit)
			case "linux":
				return installSystemd(unit)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	}
	cmd.Flags().BoolVar(&scheduler, "scheduler", true, "set ENABLE_SCHEDULER=true in the service environment")
	return cmd
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the evolve service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := servicePath()
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Daemon uninstalled: %s\n", path)
			return nil
		},
	}
}

type serviceUnit struct {
	exec      string
	config    string
	scheduler bool
}

func (u serviceUnit) render(tmpl string, extra map[string]string) string {
	r := []string{
		"{{EXEC}}", u.exec,
		"{{CONFIG}}", u.config,
		"{{SCHEDULER}}", fmt.Sprintf("%t", u.scheduler),
	}
	for k, v := range extra {
		r = append(r, k, v)
	}
	return strings.NewReplacer(r...).Replace(tmpl)
}

const launchdLabel = "dev.evolve.serve"

func servicePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", "evolve.service"), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}

func installLaunchd(u serviceUnit) error {
	home, _ := os.UserHomeDir()
	plistPath, err := servicePath()
	if err != nil {
		return err
	}
	logDir := filepath.Join(home, ".evolve", "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}

	plist := u.render(launchdTemplate, map[string]string{
		"{{LABEL}}":   launchdLabel,
		"{{LOG}}":     filepath.Join(logDir, "evolve.log"),
		"{{ERR_LOG}}": filepath.Join(logDir, "evolve-error.log"),
	})
	if err := os.MkdirAll(filepath.Dir(plistPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(plistPath, []byte(plist), 0o644); err != nil {
		return err
	}

	fmt.Printf("Daemon installed: %s\n", plistPath)
	fmt.Printf("To start: launchctl load %s\n", plistPath)
	fmt.Printf("To stop:  launchctl unload %s\n", plistPath)
	return nil
}

func installSystemd(u serviceUnit) error {
	unitPath, err := servicePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(unitPath, []byte(u.render(systemdTemplate, nil)), 0o644); err != nil {
		return err
	}

	fmt.Printf("Daemon installed: %s\n", unitPath)
	fmt.Printf("To start:  systemctl --user start evolve\n")
	fmt.Printf("To enable: systemctl --user enable evolve\n")
	fmt.Printf("To stop:   systemctl --user stop evolve\n")
	return nil
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>EnvironmentVariables</key>
    <dict>
        <key>ENABLE_SCHEDULER</key>
        <string>{{SCHEDULER}}</string>
    </dict>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=evolve task reminder service
After=network.target

[Service]
Type=simple
Environment=ENABLE_SCHEDULER={{SCHEDULER}}
ExecStart={{EXEC}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
