package broker

import "time"

// Printer mirrors the printers table owned and mutated by the administrative
// application. This pipeline only ever reads it.
type Printer struct {
	ID              uint   `gorm:"primaryKey"`
	SerialNumber    string `gorm:"uniqueIndex;size:64"`
	ServiceContract bool
	TaxID           string `gorm:"column:tax_id;size:32"`
}

func (Printer) TableName() string { return "printers" }

// PrintHistory is one counter sample for a contracted printer. Insert-only;
// the date carries no uniqueness constraint, multiple samples per day are
// legitimate when a device reports through both channels.
type PrintHistory struct {
	ID                  uint      `gorm:"primaryKey"`
	PrintersID          uint      `gorm:"column:printers_id;index"`
	Date                time.Time `gorm:"index"`
	CounterBlackHistory int
	CounterColorHistory int
}

func (PrintHistory) TableName() string { return "print_history" }

// ServiceRequest aggregates one fault description on one printer on one
// calendar day. Repeats on the same day increment TimesHappened instead of
// creating new rows.
type ServiceRequest struct {
	ID             uint      `gorm:"primaryKey"`
	PrinterID      uint      `gorm:"column:printer_id;index:idx_request_day"`
	TaxID          string    `gorm:"column:tax_id;size:32"`
	ServiceRequest string    `gorm:"column:service_request;size:255;index:idx_request_day"`
	TimesHappened  int
	RequestDate    time.Time `gorm:"index:idx_request_day"`
	Active         bool
}

func (ServiceRequest) TableName() string { return "service_requests" }
