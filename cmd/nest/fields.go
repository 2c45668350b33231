package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/nestlog/nestlog/internal/schema"
)

var timeParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseAt accepts an RFC 3339 timestamp, a plain date or date and time, or
// a phrase such as "yesterday 3pm" relative to now.
func parseAt(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", time.DateOnly} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}

	r, err := timeParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q", s)
	}
	return r.Time, nil
}

// parseField splits name=value. A value that is valid JSON (a number, true,
// an object) is kept as JSON; anything else is stored as a string.
func parseField(s string) (string, any, error) {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("field %q must look like name=value", s)
	}

	var v any
	if json.Valid([]byte(value)) {
		v = json.RawMessage(value)
	} else {
		v = value
	}
	return name, v, nil
}

// applyFields sets every name=value pair on r.
func applyFields(r *schema.Record, pairs []string) error {
	for _, pair := range pairs {
		name, v, err := parseField(pair)
		if err != nil {
			return err
		}
		if err := r.SetField(name, v); err != nil {
			return err
		}
	}
	return nil
}
