// Package inmemdb keeps billing records in memory. It backs tests and local runs without postgres.
package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-billing/core/fee"
	"github.com/trezcool/masomo-billing/core/subscription"
)

type (
	DB struct {
		fee          *feeTables
		subscription *subscriptionTable

		faultMu sync.Mutex
		fault   FaultFunc
	}

	feeTables struct {
		sync.RWMutex
		schedules      []fee.Schedule
		ledgers        map[string]*fee.Ledger // by ID
		studentLedgers map[string][]string    // student ID -> ledger IDs, oldest generation first
	}

	subscriptionTable struct {
		sync.RWMutex
		table map[string][]subscription.Subscription // student ID -> subscriptions, oldest generation first
	}

	// FaultFunc is called before each row a write would store. A non-nil error aborts the whole write.
	FaultFunc func(table string, row int) error
)

func Open() *DB {
	return &DB{
		fee: &feeTables{
			ledgers:        make(map[string]*fee.Ledger),
			studentLedgers: make(map[string][]string),
		},
		subscription: &subscriptionTable{table: make(map[string][]subscription.Subscription)},
	}
}

// SetFault installs f on every subsequent write; nil removes it.
func (db *DB) SetFault(f FaultFunc) {
	db.faultMu.Lock()
	defer db.faultMu.Unlock()
	db.fault = f
}

func (db *DB) checkFault(table string, row int) error {
	db.faultMu.Lock()
	f := db.fault
	db.faultMu.Unlock()
	if f == nil {
		return nil
	}
	return f(table, row)
}

// Counts returns the number of stored schedules and ledgers.
func (db *DB) Counts() (schedules, ledgers int) {
	db.fee.RLock()
	defer db.fee.RUnlock()
	return len(db.fee.schedules), len(db.fee.ledgers)
}
