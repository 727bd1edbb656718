package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
	"github.com/trezcool/masomo-billing/core/roster"
	"github.com/trezcool/masomo-billing/core/subscription"
	emailsvc "github.com/trezcool/masomo-billing/services/email"
	inmemdb "github.com/trezcool/masomo-billing/storage/database/inmem"
	"github.com/trezcool/masomo-billing/storage/roster/staticroster"
	testutil "github.com/trezcool/masomo-billing/tests"
)

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	conf := core.NewTestConfig()
	rp := staticroster.New(
		roster.Student{ID: "stud-a", Name: "Amani", Email: "amani@test.cd"},
		roster.Student{ID: "stud-b", Name: "Baraka"},
	)

	db := inmemdb.Open()
	validate := testutil.NewValidator()
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	logger := new(testutil.Logger)
	metrics := core.NopMetrics{}

	feeSvc := fee.NewService(conf, inmemdb.NewFeeRepository(db), rp, validate, mailSvc, logger, metrics)
	subSvc := subscription.NewService(conf, inmemdb.NewSubscriptionRepository(db), subscription.NopCache{}, rp, validate, mailSvc, logger, metrics)

	out := new(bytes.Buffer)
	cli := newCommandLine(nil, feeSvc, subSvc)
	cli.out = out
	return cli, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest) {
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(args); err != nil {
				if tt.wantErr != nil {
					if err != tt.wantErr {
						t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
					}
				} else if tt.wantErrStr != "" {
					if err.Error() != tt.wantErrStr {
						t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
					}
				} else {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
			} else if tt.wantErr != nil || tt.wantErrStr != "" {
				t.Errorf("cli.run() expected an error")
			}
		})
	}
}

func Test_commandLine_usage(t *testing.T) {
	cli, out := setup(t)

	runCLITests(t, cli, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
	})
	assert.Contains(t, out.String(), "postfees -amount AMOUNT")
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	gooseRunFunc = func(_ context.Context, db *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runCLITests(t, cli, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "refunds", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	})
}

func Test_commandLine_postFees(t *testing.T) {
	cli, out := setup(t)

	type extra struct {
		terminal bool
		confirm  bool
	}
	tests := []cliTest{
		{name: "no args", args: []string{"postfees"}, wantErr: errHelp},
		{name: "no description", args: []string{"postfees", "-amount", "50"}, wantErr: errHelp},
		{name: "invalid amount", args: []string{"postfees", "-amount", "lol", "-description", "Term Fee", "-yes"}, wantErrStr: `invalid amount "lol"`},
		{name: "not a terminal", args: []string{"postfees", "-amount", "50", "-description", "Term Fee"}, wantErr: errConfirmationRequired},
		{name: "declined", args: []string{"postfees", "-amount", "50", "-description", "Term Fee"}, extra: extra{terminal: true}, wantErr: errAborted},
		{name: "confirmed", args: []string{"postfees", "-amount", "50", "-description", "Term Fee"}, extra: extra{terminal: true, confirm: true}},
		{name: "confirmed by flag", args: []string{"postfees", "-amount", "75.50", "-description", "Term Fee", "-yes"}},
	}
	for _, tt := range tests {
		ex, _ := tt.extra.(extra)
		isTerminalFunc = func(int) bool { return ex.terminal }
		confirmFunc = func(string) (bool, error) { return ex.confirm, nil }

		runCLITests(t, cli, []cliTest{tt})
	}

	sched, err := cli.feeSvc.CurrentSchedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sched.Generation)
	assert.Equal(t, "75.5", sched.Amount.String())
	assert.Equal(t, 2, sched.StudentCount)
	assert.Contains(t, out.String(), "(generation 2) to 2 students")

	t.Run("invalid fee", func(t *testing.T) {
		err := cli.run([]string{"admin", "postfees", "-amount", "0", "-description", "Term Fee", "-yes"})
		assert.Error(t, err)
	})
}

func Test_commandLine_exportLedgers(t *testing.T) {
	cli, out := setup(t)
	ctx := context.Background()

	_, err := cli.feeSvc.PostSchedule(ctx, fee.NewSchedule{Amount: testutil.Dec(t, "50"), Description: "Term Fee"}, core.SystemActor)
	require.NoError(t, err)
	_, err = cli.feeSvc.ApplyPayment(ctx, "stud-b", fee.NewPayment{Amount: testutil.Dec(t, "50")})
	require.NoError(t, err)

	runCLITests(t, cli, []cliTest{
		{name: "no out", args: []string{"exportledgers"}, wantErr: errHelp},
	})

	readRows := func(t *testing.T, path string) [][]string {
		f, err := excelize.OpenFile(path)
		require.NoError(t, err)
		defer f.Close()
		rows, err := f.GetRows(ledgersSheet)
		require.NoError(t, err)
		return rows
	}

	t.Run("all", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ledgers.xlsx")
		require.NoError(t, cli.run([]string{"admin", "exportledgers", "-out", path}))

		rows := readRows(t, path)
		require.Len(t, rows, 3)
		assert.Equal(t, "Student", rows[0][0])
		assert.Equal(t, []string{"stud-a", "1", "Term Fee", "50", "0", "50", "0"}, rows[1][:7])
		assert.Equal(t, []string{"stud-b", "1", "Term Fee", "50", "50", "0", "1"}, rows[2][:7])
		assert.Contains(t, out.String(), "exported 2 ledgers")
	})

	t.Run("outstanding", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "outstanding.xlsx")
		require.NoError(t, cli.run([]string{"admin", "exportledgers", "-out", path, "-outstanding"}))

		rows := readRows(t, path)
		require.Len(t, rows, 2)
		assert.Equal(t, "stud-a", rows[1][0])
	})
}

func Test_commandLine_review(t *testing.T) {
	cli, out := setup(t)

	subscription.NowFunc = func() time.Time { return time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC) }
	defer func() { subscription.NowFunc = time.Now }()

	for _, id := range []string{"stud-a", "stud-b"} {
		_, err := cli.subSvc.Submit(context.Background(), id, subscription.NewSubscription{ConfirmationID: "RCPT-" + id})
		require.NoError(t, err)
	}

	require.NoError(t, cli.run([]string{"admin", "pending"}))
	assert.Contains(t, out.String(), "stud-a\tTerm 1\tRCPT-stud-a")
	assert.Contains(t, out.String(), "stud-b\tTerm 1\tRCPT-stud-b")

	runCLITests(t, cli, []cliTest{
		{name: "approve: no student", args: []string{"approve"}, wantErr: errHelp},
		{name: "reject: no student", args: []string{"reject"}, wantErr: errHelp},
		{name: "approve", args: []string{"approve", "-student", "stud-a"}},
		{name: "reject", args: []string{"reject", "-student", "stud-b"}},
	})
	assert.Contains(t, out.String(), "stud-a: masomo-term subscription for Term 1 is now approved")
	assert.Contains(t, out.String(), "stud-b: masomo-term subscription for Term 1 is now rejected")

	t.Run("not pending anymore", func(t *testing.T) {
		err := cli.run([]string{"admin", "approve", "-student", "stud-a"})
		assert.True(t, core.IsNotFound(err), "err = %v", err)
	})

	out.Reset()
	require.NoError(t, cli.run([]string{"admin", "pending"}))
	assert.Equal(t, "no pending subscriptions\n", out.String())
}
