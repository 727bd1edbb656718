// Package testutil gathers the fixtures shared by the billing test suites.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/fee"
	"github.com/trezcool/masomo-billing/core/subscription"
)

// NewValidator returns a validator with every billing validation registered.
func NewValidator() *validator.Validate {
	validate, _ := NewTranslatedValidator()
	return validate
}

// NewTranslatedValidator also returns the translator the validations were registered with.
func NewTranslatedValidator() (*validator.Validate, ut.Translator) {
	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	fee.InitValidators(validate, translator)
	return validate, translator
}

// Dec parses a decimal amount or fails the test.
func Dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("Dec(%q) failed: %v", s, err)
	}
	return d
}

type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records log entries instead of printing them.
type Logger struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log("FATAL", msg, args)
	panic(fmt.Sprintf("fatal: %s", msg))
}

// Entries returns the recorded entries of the given level, or all of them if level is empty.
func (l *Logger) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]LogEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if level == "" || e.Level == level {
			entries = append(entries, e)
		}
	}
	return entries
}

// Metrics counts recorded events.
type Metrics struct {
	mu              sync.Mutex
	SchedulesPosted int
	LedgersCreated  int
	PaymentsApplied int
	Changes         map[string]int
	Entitlements    map[bool]int
	Failures        map[string]int
}

var _ core.Metrics = (*Metrics)(nil)

func NewMetrics() *Metrics {
	return &Metrics{
		Changes:      make(map[string]int),
		Entitlements: make(map[bool]int),
		Failures:     make(map[string]int),
	}
}

func (m *Metrics) FeeSchedulePosted(students int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SchedulesPosted++
	m.LedgersCreated += students
}

func (m *Metrics) PaymentApplied() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PaymentsApplied++
}

func (m *Metrics) SubscriptionChanged(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Changes[status]++
}

func (m *Metrics) EntitlementChecked(entitled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entitlements[entitled]++
}

func (m *Metrics) OperationFailed(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failures[op]++
}

// SeedSubscription stores sub directly, bypassing the service rules.
func SeedSubscription(t *testing.T, repo subscription.Repository, sub subscription.Subscription) subscription.Subscription {
	t.Helper()
	if sub.Version == 0 {
		sub.Version = 1
	}
	sub, err := repo.Create(context.Background(), sub)
	if err != nil {
		t.Fatalf("SeedSubscription() failed: %v", err)
	}
	return sub
}
