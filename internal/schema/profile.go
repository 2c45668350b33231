package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Profile is a tracked child. Badges is derived state owned by the badge
// evaluator; callers persist it like any other profile field.
type Profile struct {
	ID        string  `json:"id"`
	BabyName  string  `json:"babyName"`
	BirthDate string  `json:"birthDate,omitempty"` // YYYY-MM-DD
	Sex       string  `json:"sex,omitempty"`
	Notes     string  `json:"notes,omitempty"`
	Badges    []Badge `json:"badges,omitempty"`

	// Extra keeps fields this version does not model.
	Extra map[string]json.RawMessage `json:"-"`
}

// Badge is one achievement slot on a profile.
type Badge struct {
	ID         string     `json:"id"`
	Threshold  int        `json:"threshold"`
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlockedAt,omitempty"`
}

// ProfilePatch holds partial update fields for UpdateProfile. Nil fields are
// left untouched.
type ProfilePatch struct {
	BabyName  *string
	BirthDate *string
	Sex       *string
	Notes     *string
	Badges    []Badge
}

// profileAlias breaks the MarshalJSON recursion.
type profileAlias Profile

var profileFields = map[string]bool{
	"id": true, "babyName": true, "birthDate": true,
	"sex": true, "notes": true, "badges": true,
}

// UnmarshalJSON decodes a profile, keeping unknown fields in Extra.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var a profileAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("failed to parse profile: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse profile: %w", err)
	}
	for k := range raw {
		if profileFields[k] {
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		a.Extra = raw
	}
	*p = Profile(a)
	return nil
}

// MarshalJSON writes the modelled fields merged with Extra.
func (p Profile) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(profileAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return known, nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(known, &out); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

// Validate checks the fields every persisted profile must carry.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.BabyName == "" {
		return fmt.Errorf("babyName is required")
	}
	if len(p.BabyName) > 200 {
		return fmt.Errorf("babyName must be 200 characters or less (got %d)", len(p.BabyName))
	}
	if p.BirthDate != "" {
		if _, err := time.Parse(time.DateOnly, p.BirthDate); err != nil {
			return fmt.Errorf("birthDate must be YYYY-MM-DD (got %q)", p.BirthDate)
		}
	}
	return nil
}

// Apply merges a patch into the profile. The id never changes.
func (p *Profile) Apply(patch ProfilePatch) {
	if patch.BabyName != nil {
		p.BabyName = *patch.BabyName
	}
	if patch.BirthDate != nil {
		p.BirthDate = *patch.BirthDate
	}
	if patch.Sex != nil {
		p.Sex = *patch.Sex
	}
	if patch.Notes != nil {
		p.Notes = *patch.Notes
	}
	if patch.Badges != nil {
		p.Badges = patch.Badges
	}
}

// FindProfile returns the index of the profile with the given id, or -1.
func FindProfile(profiles []Profile, id string) int {
	for i := range profiles {
		if profiles[i].ID == id {
			return i
		}
	}
	return -1
}

// NewProfile creates a profile with a fresh UUID.
func NewProfile(babyName string) Profile {
	return Profile{ID: uuid.NewString(), BabyName: babyName}
}
