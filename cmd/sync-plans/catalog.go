package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wekeepgrowing/semo-billing/internal/domain/model"
)

type catalogFile struct {
	Plans []catalogEntry `yaml:"plans"`
}

type catalogEntry struct {
	Name         string                 `yaml:"name"`
	DisplayName  string                 `yaml:"display_name"`
	MonthlyPrice int64                  `yaml:"monthly_price"`
	DailyLimit   *int64                 `yaml:"daily_limit"`
	Features     map[string]interface{} `yaml:"features"`
	SortOrder    int                    `yaml:"sort_order"`
	IsActive     *bool                  `yaml:"is_active"`
}

// loadCatalog reads the plan catalog. A plan without daily_limit is unlimited.
func loadCatalog(path string) ([]*model.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}
	return parseCatalog(data)
}

func parseCatalog(data []byte) ([]*model.Plan, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal plan catalog yaml: %w", err)
	}

	seen := make(map[string]bool, len(file.Plans))
	plans := make([]*model.Plan, 0, len(file.Plans))
	for i, entry := range file.Plans {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("plans[%d]: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("plans[%d]: duplicate name %q", i, name)
		}
		seen[name] = true

		displayName := entry.DisplayName
		if displayName == "" {
			displayName = name
		}

		isActive := true
		if entry.IsActive != nil {
			isActive = *entry.IsActive
		}

		features := make(model.Features, len(entry.Features))
		for k, v := range entry.Features {
			features[k] = v
		}

		plans = append(plans, &model.Plan{
			Name:         name,
			DisplayName:  displayName,
			MonthlyPrice: entry.MonthlyPrice,
			DailyLimit:   entry.DailyLimit,
			Features:     features,
			SortOrder:    entry.SortOrder,
			IsActive:     isActive,
		})
	}

	return plans, nil
}
