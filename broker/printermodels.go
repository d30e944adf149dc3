package broker

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PrinterModels maps serial-number prefixes to model families. The table is
// maintained alongside the device registry and is used to label archived
// reports and drop log lines; it never gates processing.
type PrinterModels struct {
	prefixes map[string]string
}

type printerModelsFile struct {
	Models map[string][]string `yaml:"models"`
}

// LoadPrinterModels reads the YAML model table:
//
//	models:
//	  bizhub-c: [A1UG, A4FM]
//
// An empty path yields an empty table; every lookup then reports "unknown".
func LoadPrinterModels(path string) (*PrinterModels, error) {
	pm := &PrinterModels{prefixes: make(map[string]string)}
	if strings.TrimSpace(path) == "" {
		return pm, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f printerModelsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse models file %s: %w", path, err)
	}
	for family, prefixes := range f.Models {
		for _, prefix := range prefixes {
			prefix = strings.ToUpper(strings.TrimSpace(prefix))
			if prefix == "" {
				continue
			}
			pm.prefixes[prefix] = family
		}
	}
	return pm, nil
}

// ModelFor resolves a serial number to its model family by longest-prefix
// match, or "unknown".
func (pm *PrinterModels) ModelFor(serial string) string {
	s := strings.ToUpper(strings.TrimSpace(serial))
	best := ""
	family := "unknown"
	for prefix, fam := range pm.prefixes {
		if strings.HasPrefix(s, prefix) && len(prefix) > len(best) {
			best = prefix
			family = fam
		}
	}
	return family
}
