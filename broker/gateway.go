package broker

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Gateway is the storage surface the pipeline needs: device lookup, counter
// inserts, and idempotent service-event aggregation. Tests swap in an
// in-memory fake.
type Gateway interface {
	// PrinterBySerial returns nil with no error when the serial is unknown.
	PrinterBySerial(serial string) (*Printer, error)
	// InsertCounterSample appends one print_history row dated to the
	// report's calendar day.
	InsertCounterSample(printerID uint, date time.Time, black, color int) error
	// LastCounterSample returns the most recent sample for a printer, or
	// nil when it has none.
	LastCounterSample(printerID uint) (*PrintHistory, error)
	// RecordServiceEvent increments times_happened for the matching
	// (printer, description, day) row, creating it with times_happened = 1
	// when absent.
	RecordServiceEvent(printer *Printer, description string, day time.Time) error
}

type gormGateway struct {
	db *gorm.DB
}

// NewGateway wraps a GORM handle in the Gateway interface.
func NewGateway(db *gorm.DB) Gateway {
	return &gormGateway{db: db}
}

func (g *gormGateway) PrinterBySerial(serial string) (*Printer, error) {
	var p Printer
	err := g.db.Where("serial_number = ?", serial).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (g *gormGateway) InsertCounterSample(printerID uint, date time.Time, black, color int) error {
	row := PrintHistory{
		PrintersID:          printerID,
		Date:                calendarDay(date),
		CounterBlackHistory: black,
		CounterColorHistory: color,
	}
	return g.db.Create(&row).Error
}

func (g *gormGateway) LastCounterSample(printerID uint) (*PrintHistory, error) {
	var h PrintHistory
	err := g.db.Where("printers_id = ?", printerID).Order("date desc, id desc").First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// RecordServiceEvent increments in a single UPDATE rather than
// read-then-increment, so a retried report cannot race a concurrent writer
// into a lost update.
func (g *gormGateway) RecordServiceEvent(printer *Printer, description string, day time.Time) error {
	d := calendarDay(day)
	res := g.db.Model(&ServiceRequest{}).
		Where("printer_id = ? AND service_request = ? AND request_date = ?", printer.ID, description, d).
		Update("times_happened", gorm.Expr("times_happened + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	row := ServiceRequest{
		PrinterID:      printer.ID,
		TaxID:          printer.TaxID,
		ServiceRequest: description,
		TimesHappened:  1,
		RequestDate:    d,
		Active:         true,
	}
	return g.db.Create(&row).Error
}

// calendarDay truncates a timestamp to its UTC calendar day.
func calendarDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
