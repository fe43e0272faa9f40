package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"propertyhub/db"
	"propertyhub/errutil"
)

// migrator is the part of db.Migrator the command drives.
type migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Close() error
}

var newMigrator = func(databaseURL string) (migrator, error) {
	return db.NewMigrator(databaseURL)
}

func newMigrateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withMigrator(func(m migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations applied")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withMigrator(func(m migrator) error {
				if err := m.Down(); err != nil {
					return err
				}
				cmd.Println("Migrations rolled back")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withMigrator(func(m migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				if dirty {
					cmd.Printf("Schema version: %d (dirty)\n", v)
					return nil
				}
				cmd.Printf("Schema version: %d\n", v)
				return nil
			})
		},
	})

	return cmd
}

func (c *cli) withMigrator(fn func(m migrator) error) error {
	if c.cfg.DatabaseURL == "" {
		return oops.Code("DATABASE_URL_REQUIRED").Wrap(errutil.ErrValidation)
	}
	m, err := newMigrator(c.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			c.logger.Warn("closing migrator", "error", cerr)
		}
	}()
	return fn(m)
}
