package main

import (
	"bufio"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/trezcool/masomo-billing/core/fee"
	"github.com/trezcool/masomo-billing/core/subscription"
)

var (
	isTerminalFunc = term.IsTerminal // mockable
	confirmFunc    = readConfirmation // mockable

	errHelp                 = errors.New("help provided")
	errAborted              = errors.New("aborted")
	errConfirmationRequired = errors.New("stdin is not a terminal: pass -yes to confirm")
)

type commandLine struct {
	db     *sql.DB
	feeSvc *fee.Service
	subSvc *subscription.Service
	out    io.Writer
}

func newCommandLine(db *sql.DB, feeSvc *fee.Service, subSvc *subscription.Service) *commandLine {
	return &commandLine{db: db, feeSvc: feeSvc, subSvc: subSvc, out: os.Stdout}
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                              - run a goose migration command (up, down, status...)")
	fmt.Fprintln(cli.out, "  postfees -amount AMOUNT -description TEXT [-yes]    - charge a new fee to every active student")
	fmt.Fprintln(cli.out, "  exportledgers -out FILE.xlsx [-schedule ID] [-outstanding] - export ledgers to a spreadsheet")
	fmt.Fprintln(cli.out, "  pending                                             - list subscriptions awaiting review")
	fmt.Fprintln(cli.out, "  approve -student ID                                 - approve a student's pending subscription")
	fmt.Fprintln(cli.out, "  reject -student ID                                  - reject a student's pending subscription")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	postFeesCmd := flag.NewFlagSet("postfees", flag.ContinueOnError)
	postFeesAmount := postFeesCmd.String("amount", "", "The amount charged to each student, e.g. 150.00")
	postFeesDesc := postFeesCmd.String("description", "", "What the fee is for, e.g. \"Term 2 tuition\"")
	postFeesYes := postFeesCmd.Bool("yes", false, "Do not ask for confirmation")

	exportCmd := flag.NewFlagSet("exportledgers", flag.ContinueOnError)
	exportOut := exportCmd.String("out", "", "The .xlsx file to write")
	exportSchedule := exportCmd.String("schedule", "", "Only export ledgers of this schedule")
	exportOutstanding := exportCmd.Bool("outstanding", false, "Only export ledgers with a remaining balance")

	approveCmd := flag.NewFlagSet("approve", flag.ContinueOnError)
	approveStudent := approveCmd.String("student", "", "The student whose pending subscription is approved")

	rejectCmd := flag.NewFlagSet("reject", flag.ContinueOnError)
	rejectStudent := rejectCmd.String("student", "", "The student whose pending subscription is rejected")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "postfees":
		if err := postFeesCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *postFeesAmount == "" || *postFeesDesc == "" {
			postFeesCmd.Usage()
			return errHelp
		}
		return cli.postFees(*postFeesAmount, *postFeesDesc, *postFeesYes)

	case "exportledgers":
		if err := exportCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *exportOut == "" {
			exportCmd.Usage()
			return errHelp
		}
		filter := fee.LedgerFilter{ScheduleID: *exportSchedule, Outstanding: *exportOutstanding}
		return cli.exportLedgers(*exportOut, filter)

	case "pending":
		return cli.listPending()

	case "approve":
		if err := approveCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *approveStudent == "" {
			approveCmd.Usage()
			return errHelp
		}
		return cli.review(*approveStudent, cli.subSvc.Approve)

	case "reject":
		if err := rejectCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *rejectStudent == "" {
			rejectCmd.Usage()
			return errHelp
		}
		return cli.review(*rejectStudent, cli.subSvc.Reject)

	default:
		cli.printUsage()
		return errHelp
	}
}

// readConfirmation asks prompt on stdout and reads a yes/no answer from stdin.
func readConfirmation(prompt string) (bool, error) {
	fmt.Print(prompt)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
