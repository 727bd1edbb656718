package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
)

const ledgersSheet = "Ledgers"

var ledgersHeader = []interface{}{
	"Student", "Generation", "Description", "Total", "Paid", "Remaining", "Payments", "Posted At", "Updated At",
}

func (cli *commandLine) postFees(amountStr, description string, yes bool) error {
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return errors.Errorf("invalid amount %q", amountStr)
	}

	if !yes {
		if !isTerminalFunc(int(os.Stdin.Fd())) {
			return errConfirmationRequired
		}
		ok, err := confirmFunc(fmt.Sprintf("Charge %s (%s) to every active student? [y/N] ", amount.StringFixed(2), description))
		if err != nil {
			return err
		}
		if !ok {
			return errAborted
		}
	}

	sched, err := cli.feeSvc.PostSchedule(context.Background(), fee.NewSchedule{Amount: amount, Description: description}, core.SystemActor)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "posted schedule %s (generation %d) to %d students\n", sched.ID, sched.Generation, sched.StudentCount)
	return nil
}

func (cli *commandLine) exportLedgers(path string, filter fee.LedgerFilter) error {
	ledgers, err := cli.feeSvc.ListLedgers(context.Background(), filter)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), ledgersSheet); err != nil {
		return errors.Wrap(err, "naming sheet")
	}
	if err := f.SetSheetRow(ledgersSheet, "A1", &ledgersHeader); err != nil {
		return errors.Wrap(err, "writing header")
	}

	for i, l := range ledgers {
		row := []interface{}{
			l.StudentID,
			l.Generation,
			l.Description,
			l.TotalAmount.InexactFloat64(),
			l.Paid().InexactFloat64(),
			l.RemainingAmount.InexactFloat64(),
			len(l.Payments),
			l.PostedAt.Format(time.RFC3339),
			l.UpdatedAt.Format(time.RFC3339),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(ledgersSheet, cell, &row); err != nil {
			return errors.Wrapf(err, "writing ledger %s", l.ID)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "saving %s", path)
	}
	fmt.Fprintf(cli.out, "exported %d ledgers to %s\n", len(ledgers), path)
	return nil
}
