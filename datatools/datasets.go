package datatools

import (
	_ "embed"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/musicaftersex/brightdata-mcp/guard"
)

//go:embed datasets.yaml
var defaultCatalog []byte

// Dataset is one structured collection exposed as a web_data_<ID> tool.
type Dataset struct {
	ID          string            `yaml:"id"`
	DatasetID   string            `yaml:"dataset_id"`
	Description string            `yaml:"description"`
	Inputs      []string          `yaml:"inputs"`
	Defaults    map[string]string `yaml:"defaults"`
}

// ToolName is the name the dataset is served under.
func (d Dataset) ToolName() string { return "web_data_" + d.ID }

// ParseCatalog decodes and validates a dataset catalog.
func ParseCatalog(data []byte) ([]Dataset, error) {
	var doc struct {
		Datasets []Dataset `yaml:"datasets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("datatools: parse catalog: %w", err)
	}
	seen := make(map[string]bool, len(doc.Datasets))
	for i, d := range doc.Datasets {
		if err := guard.ValidateIdentifier(d.ID); err != nil {
			return nil, fmt.Errorf("datatools: dataset %d: id: %w", i, err)
		}
		if err := guard.ValidateIdentifier(d.DatasetID); err != nil {
			return nil, fmt.Errorf("datatools: dataset %s: dataset_id: %w", d.ID, err)
		}
		if len(d.Inputs) == 0 {
			return nil, fmt.Errorf("datatools: dataset %s: no inputs", d.ID)
		}
		if slices.Contains(d.Inputs, "") {
			return nil, fmt.Errorf("datatools: dataset %s: empty input name", d.ID)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("datatools: dataset %s: duplicate id", d.ID)
		}
		seen[d.ID] = true
	}
	return doc.Datasets, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() ([]Dataset, error) {
	return ParseCatalog(defaultCatalog)
}
