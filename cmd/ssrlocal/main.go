// Command ssrlocal runs a local SOCKS5 gateway that relays TCP streams
// through a Shadowsocks/ShadowsocksR protocol/cipher/obfs pipeline to
// a remote server. Restructured from the teacher's flag-based
// cmd/client onto a cobra command tree (run, ping, status,
// check-config, install-service), since the pack's other repos use
// cobra for exactly this kind of multi-subcommand CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ssrtun/internal/config"
	"ssrtun/internal/diag"
	"ssrtun/internal/logging"
	"ssrtun/internal/serverenv"
	"ssrtun/internal/svcinstall"
	"ssrtun/internal/tunnel"
)

var version = "0.1.0"

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "ssrlocal",
		Short: "Local SOCKS5 gateway fronting a Shadowsocks/SSR server",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "config file path")

	root.AddCommand(
		newRunCmd(),
		newPingCmd(),
		newStatusCmd(),
		newCheckConfigCmd(),
		newServiceCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the SOCKS5 gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger, err := logging.New(cfg.Log.Level)
			if err != nil {
				return err
			}
			defer logger.Sync()

			env, err := serverenv.New(cfg.Remote.Password, cfg.Remote.Method,
				cfg.Remote.Protocol, cfg.Remote.ProtocolParam,
				cfg.Remote.Obfs, cfg.Remote.ObfsParam)
			if err != nil {
				return fmt.Errorf("build pipeline: %w", err)
			}

			srv := &tunnel.Server{
				Listen: &cfg.Listen,
				Remote: &cfg.Remote,
				Env:    env,
				Logger: logger,
			}

			logger.Info("ssrlocal starting", zap.String("version", version))
			return srv.ListenAndServe()
		},
	}
}

func newPingCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure TCP connect latency to the remote server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			results := diag.Ping(&cfg.Remote, count)
			addr := fmt.Sprintf("%s:%d", cfg.Remote.Host, cfg.Remote.Port)
			fmt.Print(diag.FormatPingResults(addr, results))
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 4, "number of pings")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report pipeline construction and connectivity diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			fmt.Print(diag.Status(cfg))
			return nil
		},
	}
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(diag.CheckConfig(configPath))
			return nil
		},
	}
}

func newServiceCmd() *cobra.Command {
	svc := &cobra.Command{
		Use:   "install-service",
		Short: "Manage ssrlocal as a systemd service",
	}

	install := &cobra.Command{
		Use:   "install",
		Short: "Install the binary and register a config as a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := svcinstall.InstallBinary(); err != nil {
				return err
			}
			return svcinstall.Install(configPath)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return svcinstall.List()
		},
	}

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Stop and remove a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return svcinstall.Remove(args[0])
		},
	}

	logs := &cobra.Command{
		Use:   "logs <name>",
		Short: "Show journal logs for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("lines")
			return svcinstall.Logs(args[0], n)
		},
	}
	logs.Flags().Int("lines", 50, "number of log lines")

	stop := &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return svcinstall.Stop(args[0])
		},
	}

	restart := &cobra.Command{
		Use:   "restart <name>",
		Short: "Restart a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return svcinstall.Restart(args[0])
		},
	}

	svc.AddCommand(install, list, remove, logs, stop, restart)
	return svc
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("ssrlocal %s\n", version)
			return nil
		},
	}
}
