package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charlesng35/flowcache/internal/models"
	"github.com/charlesng35/flowcache/internal/upstream"
)

const returnPeriodKeyPrefix = "return_period_"

// normalizeReturnPeriods extracts the standard recurrence intervals from an upstream document.
//
// Accepted shapes: an object keyed by "2" or "return_period_2", the same object wrapped in a
// one-element array, or either of those under a "return_periods" member. Values may be numbers
// or numeric strings. Other members are ignored. The unit comes from the payload tag, then a
// "unit"/"units" member, then the legacy default.
func normalizeReturnPeriods(payload upstream.Payload) (map[int]float64, models.FlowUnit, error) {
	doc, err := unwrapReturnPeriodDocument(payload.Body)
	if err != nil {
		return nil, "", err
	}

	unitTag := strings.TrimSpace(payload.Unit)
	if unitTag == "" {
		unitTag = stringMember(doc, "unit", "units")
	}
	unit, err := models.ParseFlowUnit(unitTag)
	if err != nil {
		return nil, "", err
	}

	thresholds := make(map[int]float64, len(models.StandardReturnYears))
	for key, raw := range doc {
		year, ok := returnPeriodYear(key)
		if !ok || !models.IsStandardReturnYear(year) {
			continue
		}
		flow, err := parseFlow(raw)
		if err != nil {
			return nil, "", fmt.Errorf("return period %q: %w", key, err)
		}
		thresholds[year] = flow
	}
	if len(thresholds) == 0 {
		return nil, "", errors.New("document has no standard return periods")
	}
	return thresholds, unit, nil
}

func unwrapReturnPeriodDocument(body []byte) (map[string]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode return periods: %w", err)
		}
		if len(items) != 1 {
			return nil, fmt.Errorf("expected one return-period record, got %d", len(items))
		}
		body = items[0]
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode return periods: %w", err)
	}

	if nested, ok := doc["return_periods"]; ok {
		inner, err := unwrapReturnPeriodDocument(nested)
		if err != nil {
			return nil, err
		}
		if _, tagged := inner["unit"]; !tagged {
			if unit, ok := doc["unit"]; ok {
				inner["unit"] = unit
			}
		}
		return inner, nil
	}
	return doc, nil
}

func returnPeriodYear(key string) (int, bool) {
	key = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(key)), returnPeriodKeyPrefix)
	year, err := strconv.Atoi(key)
	if err != nil {
		return 0, false
	}
	return year, true
}

func parseFlow(raw json.RawMessage) (float64, error) {
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(raw))
	}
	return strconv.ParseFloat(strings.TrimSpace(text), 64)
}

func stringMember(doc map[string]json.RawMessage, names ...string) string {
	for _, name := range names {
		raw, ok := doc[name]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err == nil {
			return value
		}
	}
	return ""
}
