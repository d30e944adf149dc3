package broker

import (
	"errors"
	"strings"
	"testing"
)

const counterBodyTotalOnly = `
[Model Name],EngiLab
[Serial Number], A1UG021109838
[Send Date],03/10/23
[Total Counter],00185186
[Total Scan/Fax Counter],00041513
`

const counterBodyBlackColor = `
[Model Name],Envilab
[Serial Number], A4FM021007478
[Send Date],01/06/23
[Total Counter],00400999
[Total Color Counter],00175268
[Total Black Counter],00225731
[Total Scan/Fax Counter],00058674
[Operating Accumulation Time], 0.0, 5.9, 6.0, 14.4, 9.3, 11.7, 8.8,
9.6, 8.9, 8.9, 8.5, 8.3
[Energizing Accumulation Time],
0.9,429.5,271.4,501.7,320.2,615.1,508.3,412.3,401.8,316.3,309.6,457.1
`

const errorBody = `
Occurred Time :02/12/2023 01:46:21
Installed Place :A1UG021109838
IP Address :192.168.1.245
Error : Misfeed detected. 66-33
`

func TestParse_TotalCounterFallsBackToBlack(t *testing.T) {
	parsed, err := Parse(counterBodyTotalOnly)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Counter == nil {
		t.Fatalf("expected counter report, got %+v", parsed)
	}
	cr := parsed.Counter
	if cr.SerialNumber != "A1UG021109838" {
		t.Errorf("serial = %q", cr.SerialNumber)
	}
	if cr.Black != 185186 {
		t.Errorf("black = %d, want 185186", cr.Black)
	}
	if cr.Color != 0 {
		t.Errorf("color = %d, want 0", cr.Color)
	}
}

func TestParse_BlackAndColorCounters(t *testing.T) {
	parsed, err := Parse(counterBodyBlackColor)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Counter == nil {
		t.Fatalf("expected counter report, got %+v", parsed)
	}
	cr := parsed.Counter
	if cr.SerialNumber != "A4FM021007478" {
		t.Errorf("serial = %q", cr.SerialNumber)
	}
	if cr.Black != 225731 {
		t.Errorf("black = %d, want 225731", cr.Black)
	}
	if cr.Color != 175268 {
		t.Errorf("color = %d, want 175268", cr.Color)
	}
}

func TestParse_ColorCounterWithTotalFallback(t *testing.T) {
	body := "[Serial Number], A1UG021109838\n[Total Counter],00000010\n[Total Color Counter],00000005\n"
	parsed, err := Parse(body)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Counter == nil {
		t.Fatalf("expected counter report, got %+v", parsed)
	}
	cr := parsed.Counter
	if cr.Black != 10 {
		t.Errorf("black = %d, want 10 (total fallback)", cr.Black)
	}
	if cr.Color != 5 {
		t.Errorf("color = %d, want 5", cr.Color)
	}
}

func TestParse_ErrorReport(t *testing.T) {
	parsed, err := Parse(errorBody)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Error == nil {
		t.Fatalf("expected error report, got %+v", parsed)
	}
	er := parsed.Error
	if er.SerialNumber != "A1UG021109838" {
		t.Errorf("serial = %q", er.SerialNumber)
	}
	if er.Description != "Misfeed detected. 66-33" {
		t.Errorf("description = %q", er.Description)
	}
}

func TestParse_CounterTakesPrecedence(t *testing.T) {
	body := counterBodyTotalOnly + errorBody
	parsed, err := Parse(body)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Counter == nil {
		t.Fatalf("expected counter report to win, got %+v", parsed)
	}
}

func TestParse_Unrecognized(t *testing.T) {
	for _, body := range []string{
		"",
		"hello there",
		"Installed Place :A1UG021109838\n", // no Error line
		"Error : Misfeed detected\n",       // no Installed Place line
		"[Serial Number], A1UG021109838\n", // no counter markers
	} {
		if _, err := Parse(body); !errors.Is(err, ErrUnrecognized) {
			t.Errorf("Parse(%q) err = %v, want ErrUnrecognized", body, err)
		}
	}
}

func TestParse_MalformedCounterDropsWholeReport(t *testing.T) {
	body := "[Serial Number], A1UG021109838\n[Total Counter],0018x186\n"
	if _, err := Parse(body); !errors.Is(err, ErrMalformedCounter) {
		t.Fatalf("err = %v, want ErrMalformedCounter", err)
	}

	// One bad counter out of two still fails the whole report.
	body = "[Serial Number], A1UG021109838\n[Total Black Counter],00225731\n[Total Color Counter],-5\n"
	if _, err := Parse(body); !errors.Is(err, ErrMalformedCounter) {
		t.Fatalf("err = %v, want ErrMalformedCounter", err)
	}
}

func TestParse_OverlongSerialRejected(t *testing.T) {
	body := "[Serial Number]," + strings.Repeat("A", maxFieldLen+1) + "\n[Total Counter],00185186\n"
	if _, err := Parse(body); !errors.Is(err, ErrUnrecognized) {
		t.Fatalf("err = %v, want ErrUnrecognized", err)
	}
}

func TestReportIdentifier(t *testing.T) {
	if got := ReportIdentifier(counterBodyTotalOnly); got != "A1UG021109838" {
		t.Errorf("identifier = %q", got)
	}
	if got := ReportIdentifier(errorBody); got != "A1UG021109838" {
		t.Errorf("identifier = %q", got)
	}
	if got := ReportIdentifier("nothing useful"); got != "unknown" {
		t.Errorf("identifier = %q, want unknown", got)
	}
}
