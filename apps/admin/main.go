package main

import (
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	dig_container "github.com/trezcool/masomo-billing/apps/api/di/dig"
	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
	"github.com/trezcool/masomo-billing/core/subscription"
	logsvc "github.com/trezcool/masomo-billing/services/logger"
)

func main() {
	code := 0
	defer func() { os.Exit(code) }()

	c := dig_container.New()

	// same wiring as the API, logged under its own prefix
	errAndDie(c.Decorate(func(_ core.Logger, conf *core.Config) core.Logger {
		return logsvc.New("ADMIN", log.LstdFlags|log.Lmicroseconds|log.Lshortfile, conf)
	}))

	errAndDie(c.Invoke(func(logger core.Logger, db *sqlx.DB, feeSvc *fee.Service, subSvc *subscription.Service) {
		defer db.Close()

		cli := newCommandLine(db.DB, feeSvc, subSvc)
		if err := cli.run(os.Args); err != nil {
			if err != errHelp {
				logger.Error(fmt.Sprintf("admin %v failed", os.Args[1:]), err, core.SystemActor)
			}
			code = 1
		}
	}))
}

func errAndDie(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
