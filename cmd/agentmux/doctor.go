package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/agentmux/internal/appconfig"
	"pkt.systems/agentmux/internal/depcheck"
	"pkt.systems/agentmux/internal/muxbridge"
	"pkt.systems/pslog"
)

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run agentmux diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())

			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			configPath := cfgPath
			if strings.TrimSpace(configPath) == "" {
				path, err := appconfig.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}
			logger.Info("doctor start", "config", configPath)

			checker := depcheck.New(logger, cfg.Tmux.Binary, cfg.Provider.Binary, "git")
			missing := checker.Missing(cmd.Context())
			if len(missing) > 0 {
				return fmt.Errorf("missing dependencies: %s", strings.Join(missing, ", "))
			}
			logger.Info("doctor dependencies ok", "tmux", cfg.Tmux.Binary, "provider", cfg.Provider.Binary)

			bridge := muxbridge.New(cfg.Tmux.Binary, logger)
			exists, err := bridge.SessionExists(cmd.Context(), "agentmux-doctor-probe")
			if err != nil {
				return fmt.Errorf("tmux probe failed: %w", err)
			}
			logger.Info("doctor tmux probe ok", "probe_session_exists", exists)

			logger.Info("doctor complete")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}
