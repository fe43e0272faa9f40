package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"propertyhub/config"
	"propertyhub/logging"
)

const serviceName = "propertyhub"

// cli carries what the persistent pre-run resolved for the subcommands.
type cli struct {
	configFile string
	cfg        config.Config
	logger     *slog.Logger
}

// NewRootCmd creates the root command and its subcommands.
func NewRootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:          serviceName,
		Short:        "PropertyHub marketplace maintenance",
		Long:         `Runs schema migrations, status sweeps and demo seeding against the PropertyHub database.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&c.configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newMigrateCmd(c))
	cmd.AddCommand(newSweepCmd(c))
	cmd.AddCommand(newRunCmd(c))
	cmd.AddCommand(newSeedCmd(c))

	return cmd
}

func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := logging.Setup(serviceName, version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}
