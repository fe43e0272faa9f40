package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propertyhub/errutil"
)

type fakeMigrator struct {
	version uint
	dirty   bool
	upErr   error
	calls   []string
	closed  bool
}

func (m *fakeMigrator) Up() error {
	m.calls = append(m.calls, "up")
	return m.upErr
}

func (m *fakeMigrator) Down() error {
	m.calls = append(m.calls, "down")
	return nil
}

func (m *fakeMigrator) Version() (uint, bool, error) {
	m.calls = append(m.calls, "version")
	return m.version, m.dirty, nil
}

func (m *fakeMigrator) Close() error {
	m.closed = true
	return nil
}

func useMigrator(t *testing.T, m *fakeMigrator) *string {
	t.Helper()
	var gotURL string
	prev := newMigrator
	newMigrator = func(databaseURL string) (migrator, error) {
		gotURL = databaseURL
		return m, nil
	}
	t.Cleanup(func() { newMigrator = prev })
	return &gotURL
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"migrate", "sweep", "run", "seed"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}

	for _, flag := range []string{"config", "database-url", "log-level", "sweep-interval", "auto-expire-agreements"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "missing flag %s", flag)
	}
}

func TestMigrateCmd(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		migrator  *fakeMigrator
		wantCalls []string
		wantOut   string
	}{
		{
			name:      "up",
			args:      []string{"migrate", "up"},
			migrator:  &fakeMigrator{},
			wantCalls: []string{"up"},
			wantOut:   "Migrations applied",
		},
		{
			name:      "down",
			args:      []string{"migrate", "down"},
			migrator:  &fakeMigrator{},
			wantCalls: []string{"down"},
			wantOut:   "Migrations rolled back",
		},
		{
			name:      "version",
			args:      []string{"migrate", "version"},
			migrator:  &fakeMigrator{version: 3},
			wantCalls: []string{"version"},
			wantOut:   "Schema version: 3\n",
		},
		{
			name:      "dirty version",
			args:      []string{"migrate", "version"},
			migrator:  &fakeMigrator{version: 2, dirty: true},
			wantCalls: []string{"version"},
			wantOut:   "Schema version: 2 (dirty)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotURL := useMigrator(t, tt.migrator)

			out, err := execute(t, append(tt.args, "--database-url", "postgres://u:p@localhost/propertyhub")...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.wantOut)
			assert.Equal(t, tt.wantCalls, tt.migrator.calls)
			assert.True(t, tt.migrator.closed)
			assert.Equal(t, "postgres://u:p@localhost/propertyhub", *gotURL)
		})
	}
}

func TestMigrateCmd_Failures(t *testing.T) {
	t.Run("requires a database url", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		useMigrator(t, &fakeMigrator{})

		_, err := execute(t, "migrate", "up")
		errutil.AssertErrorCode(t, err, "DATABASE_URL_REQUIRED")
	})

	t.Run("migration error is returned and the migrator closed", func(t *testing.T) {
		m := &fakeMigrator{upErr: errors.New("dirty database")}
		useMigrator(t, m)

		_, err := execute(t, "migrate", "up", "--database-url", "postgres://localhost/propertyhub")
		require.Error(t, err)
		assert.True(t, m.closed)
	})

	t.Run("invalid configuration stops before running", func(t *testing.T) {
		m := &fakeMigrator{}
		useMigrator(t, m)

		_, err := execute(t, "migrate", "up", "--database-url", "postgres://localhost/propertyhub", "--log-format", "xml")
		errutil.AssertKind(t, err, errutil.ErrValidation)
		assert.Empty(t, m.calls)
	})
}
