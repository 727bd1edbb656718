package main

import (
	"context"
	"fmt"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/subscription"
)

type reviewFunc func(ctx context.Context, studentID string, actor core.Actor) (subscription.Subscription, error)

func (cli *commandLine) review(studentID string, fn reviewFunc) error {
	sub, err := fn(context.Background(), studentID, core.SystemActor)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s: %s subscription for %s is now %s\n", sub.StudentID, sub.Plan, sub.TermLabel, sub.Status)
	return nil
}

func (cli *commandLine) listPending() error {
	subs, err := cli.subSvc.Pending(context.Background(), subscription.NowFunc())
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		fmt.Fprintln(cli.out, "no pending subscriptions")
		return nil
	}
	for _, sub := range subs {
		fmt.Fprintf(cli.out, "%s\t%s\t%s\t%s\n",
			sub.StudentID, sub.TermLabel, sub.ConfirmationID, sub.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
