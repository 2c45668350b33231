package ui

import (
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/nestlog/nestlog/internal/schema"
)

// newForm creates a form with appropriate settings based on TTY detection
func newForm(groups ...*huh.Group) *huh.Form {
	form := huh.NewForm(groups...).WithTheme(huh.ThemeDracula())
	if !IsTerminal() {
		form = form.WithAccessible(true)
	}
	return form
}

// ProfileForm asks for a new profile's details. Fields already set on seed
// are offered as defaults.
func ProfileForm(seed schema.Profile) (schema.Profile, error) {
	p := seed
	form := newForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Baby's name").
				Value(&p.BabyName).
				Validate(ValidateName),
			huh.NewInput().
				Title("Birth date").
				Description("YYYY-MM-DD, optional").
				Value(&p.BirthDate).
				Validate(ValidateBirthDate),
			huh.NewSelect[string]().
				Title("Sex").
				Options(
					huh.NewOption("Prefer not to say", ""),
					huh.NewOption("Girl", "female"),
					huh.NewOption("Boy", "male"),
				).
				Value(&p.Sex),
		),
	)

	if err := form.Run(); err != nil {
		return schema.Profile{}, err
	}
	p.BabyName = strings.TrimSpace(p.BabyName)
	p.BirthDate = strings.TrimSpace(p.BirthDate)
	return p, nil
}

// ValidateName rejects blank names.
func ValidateName(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("name is required")
	}
	return nil
}

// ValidateBirthDate accepts an empty string or a past YYYY-MM-DD date.
func ValidateBirthDate(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return errors.New("use YYYY-MM-DD")
	}
	if t.After(time.Now()) {
		return errors.New("birth date is in the future")
	}
	return nil
}
