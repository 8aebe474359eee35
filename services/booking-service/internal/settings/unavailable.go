package settings

import (
	"fmt"
	"sort"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/timewindow"
)

// UnavailableDatesUpdate is the updateUnavailableDates payload. DatesToRemove revert those dates
// to the weekly rule.
type UnavailableDatesUpdate struct {
	AgentID          string            `json:"agentId" validate:"required"`
	UnavailableDates []UnavailableDate `json:"unavailableDates" validate:"dive"`
	DatesToRemove    []string          `json:"datesToRemove" validate:"dive,wire_date"`
}

// BuildUnavailableDatesUpdate produces the wire update for a set of overrides and reverts.
// A date may not be both set and reverted.
func BuildUnavailableDatesUpdate(agentID string, overridesToSet []model.DateOverride, datesToRevert []string) (UnavailableDatesUpdate, error) {
	u := UnavailableDatesUpdate{
		AgentID:          agentID,
		UnavailableDates: make([]UnavailableDate, 0, len(overridesToSet)),
		DatesToRemove:    make([]string, 0, len(datesToRevert)),
	}

	set := make(map[string]bool, len(overridesToSet))
	sorted := append([]model.DateOverride(nil), overridesToSet...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })
	for _, o := range sorted {
		iso, err := ParseWireDate(o.Date)
		if err != nil {
			return UnavailableDatesUpdate{}, err
		}
		if set[iso] {
			return UnavailableDatesUpdate{}, fmt.Errorf("%w: duplicate override for %s", ErrInvalidPayload, iso)
		}
		set[iso] = true
		if !o.AllDay {
			if err := timewindow.Validate(o.TimeWindows); err != nil {
				return UnavailableDatesUpdate{}, fmt.Errorf("%w: override %s: %w", ErrInvalidPayload, iso, err)
			}
		}
		o.Date = iso
		u.UnavailableDates = append(u.UnavailableDates, toUnavailableDate(o))
	}

	reverts := append([]string(nil), datesToRevert...)
	sort.Strings(reverts)
	seen := make(map[string]bool, len(reverts))
	for _, d := range reverts {
		iso, err := ParseWireDate(d)
		if err != nil {
			return UnavailableDatesUpdate{}, err
		}
		if set[iso] {
			return UnavailableDatesUpdate{}, fmt.Errorf("%w: %s is both set and reverted", ErrInvalidPayload, iso)
		}
		if seen[iso] {
			continue
		}
		seen[iso] = true
		wire, _ := FormatWireDate(iso)
		u.DatesToRemove = append(u.DatesToRemove, wire)
	}

	if err := validateStruct(u); err != nil {
		return UnavailableDatesUpdate{}, err
	}
	return u, nil
}

// ApplyUnavailableDatesUpdate returns a copy of s with the update applied: reverts first,
// then overrides.
func ApplyUnavailableDatesUpdate(s model.Settings, u UnavailableDatesUpdate) (model.Settings, error) {
	if err := validateStruct(u); err != nil {
		return model.Settings{}, err
	}
	if u.AgentID != s.AgentID {
		return model.Settings{}, fmt.Errorf("%w: update for agent %q applied to %q", ErrInvalidPayload, u.AgentID, s.AgentID)
	}
	out := s.Clone()
	for _, d := range u.DatesToRemove {
		iso, err := ParseWireDate(d)
		if err != nil {
			return model.Settings{}, err
		}
		delete(out.Overrides, iso)
	}
	for _, wd := range u.UnavailableDates {
		o, err := parseOverride(wd)
		if err != nil {
			return model.Settings{}, err
		}
		out.Overrides[o.Date] = o
	}
	return out, nil
}
