package services

import (
	"strings"

	"github.com/charlesng35/flowcache/internal/models"
)

func normaliseIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func normaliseClasses(values []models.ForecastClass) []models.ForecastClass {
	if len(values) == 0 {
		return models.ForecastClasses()
	}

	seen := make(map[models.ForecastClass]struct{}, len(values))
	out := make([]models.ForecastClass, 0, len(values))
	for _, value := range values {
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
