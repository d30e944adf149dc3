package broker

import (
	"errors"
	"fmt"
	"log"
	"time"
)

// Drop reasons. A report failing with one of these will never become
// processable, so it is still recorded in the ledger and never retried.
var (
	ErrUnknownDevice = errors.New("serial number matches no registered printer")
	ErrNoContract    = errors.New("printer has no service contract")
)

// Engine correlates parsed reports to registered printers and persists the
// results. One Engine is shared by both delivery channels; the ledger
// serializes their writers.
type Engine struct {
	gw     Gateway
	ledger *Ledger
	models *PrinterModels
	debug  bool
}

func NewEngine(gw Gateway, ledger *Ledger, models *PrinterModels, debug bool) *Engine {
	return &Engine{gw: gw, ledger: ledger, models: models, debug: debug}
}

func (e *Engine) debugf(format string, args ...any) {
	if e == nil || !e.debug {
		return
	}
	log.Printf(format, args...)
}

// Process runs one report through dedup check, parsing, correlation, and
// persistence. It returns an error only when a storage operation failed; in
// that case the ledger is left untouched so the report is retried on the
// next cycle. Every other outcome (duplicate, unrecognized text, unknown
// device, missing contract) is final and marks the report processed.
func (e *Engine) Process(r RawReport) error {
	// File-drop identifiers are filename tags and mailbox identifiers are
	// Message-IDs, so the channels never collide in practice; the
	// reservation still closes the window between the duplicate check and
	// the mark when they do.
	if !e.ledger.Reserve(r.Identifier) {
		e.debugf("skip duplicate source=%s id=%q", r.Source, r.Identifier)
		return nil
	}
	err := e.process(r)
	if err != nil {
		e.ledger.Release(r.Identifier)
	}
	return err
}

func (e *Engine) process(r RawReport) error {
	parsed, err := Parse(r.Body)
	if err != nil {
		log.Printf("drop source=%s id=%q: %v", r.Source, r.Identifier, err)
		return e.mark(r)
	}

	var persistErr error
	switch {
	case parsed.Counter != nil:
		persistErr = e.processCounter(r, parsed.Counter)
	case parsed.Error != nil:
		persistErr = e.processError(r, parsed.Error)
	}
	if persistErr != nil {
		if errors.Is(persistErr, ErrUnknownDevice) || errors.Is(persistErr, ErrNoContract) {
			log.Printf("drop source=%s id=%q: %v", r.Source, r.Identifier, persistErr)
			return e.mark(r)
		}
		return persistErr
	}
	return e.mark(r)
}

func (e *Engine) processCounter(r RawReport, cr *CounterReport) error {
	printer, err := e.gw.PrinterBySerial(cr.SerialNumber)
	if err != nil {
		return fmt.Errorf("lookup printer %s: %w", cr.SerialNumber, err)
	}
	if printer == nil {
		return fmt.Errorf("%w: %s (%s)", ErrUnknownDevice, cr.SerialNumber, e.models.ModelFor(cr.SerialNumber))
	}
	if !printer.ServiceContract {
		return fmt.Errorf("%w: %s", ErrNoContract, cr.SerialNumber)
	}

	last, err := e.gw.LastCounterSample(printer.ID)
	if err != nil {
		return fmt.Errorf("last counter sample for %s: %w", cr.SerialNumber, err)
	}
	if last != nil && (cr.Black < last.CounterBlackHistory || cr.Color < last.CounterColorHistory) {
		// A sample below the previous one usually means a board swap or
		// counter reset; it is stored anyway so operators decide what to do.
		log.Printf("counter went backwards printer=%s black=%d->%d color=%d->%d",
			cr.SerialNumber, last.CounterBlackHistory, cr.Black, last.CounterColorHistory, cr.Color)
	}

	if err := e.gw.InsertCounterSample(printer.ID, r.Timestamp, cr.Black, cr.Color); err != nil {
		return fmt.Errorf("insert counter sample for %s: %w", cr.SerialNumber, err)
	}
	e.debugf("counter sample printer=%s date=%s black=%d color=%d",
		cr.SerialNumber, r.Timestamp.Format("2006-01-02"), cr.Black, cr.Color)
	return nil
}

func (e *Engine) processError(r RawReport, er *ErrorReport) error {
	printer, err := e.gw.PrinterBySerial(er.SerialNumber)
	if err != nil {
		return fmt.Errorf("lookup printer %s: %w", er.SerialNumber, err)
	}
	if printer == nil {
		return fmt.Errorf("%w: %s (%s)", ErrUnknownDevice, er.SerialNumber, e.models.ModelFor(er.SerialNumber))
	}
	if err := e.gw.RecordServiceEvent(printer, er.Description, r.Timestamp); err != nil {
		return fmt.Errorf("record service event for %s: %w", er.SerialNumber, err)
	}
	e.debugf("service event printer=%s day=%s description=%q",
		er.SerialNumber, r.Timestamp.Format("2006-01-02"), er.Description)
	return nil
}

func (e *Engine) mark(r RawReport) error {
	if err := e.ledger.Mark(r.Identifier, time.Now()); err != nil {
		return fmt.Errorf("mark %q processed: %w", r.Identifier, err)
	}
	return nil
}
