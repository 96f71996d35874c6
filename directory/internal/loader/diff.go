package loader

import (
	"context"
	"slices"

	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/normalize"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/store"
	"github.com/GGPrompts/vibe4vets-sub003/directory/internal/trust"
)

// change is one field that differs between the stored and incoming resource.
type change struct {
	field   string // public field name, as in trust.IsRiskyField
	column  string
	value   any // value written to column when applied
	oldText string
	newText string
	ref     string // stored value when it differs from newText
}

type fieldDiff struct {
	plain []change
	risky []change
}

func (d *fieldDiff) add(c change) {
	if trust.IsRiskyField(c.field) {
		d.risky = append(d.risky, c)
		return
	}
	d.plain = append(d.plain, c)
}

// text diffs a scalar field. Empty incoming optional values carry no
// information and never clear what is stored.
func (d *fieldDiff) text(field, old, next string, required bool) {
	if old == next || (!required && next == "") {
		return
	}
	d.add(change{field: field, column: field, value: next, oldText: old, newText: next})
}

func (d *fieldDiff) set(field string, old, next []string) {
	if len(next) == 0 || slices.Equal(old, next) {
		return
	}
	d.add(change{field: field, column: field, value: next, oldText: joinSet(old), newText: joinSet(next)})
}

func diff(ctx context.Context, tx Tx, old *store.Resource, r *normalize.Resource, locationID string) (*fieldDiff, error) {
	d := &fieldDiff{}

	d.text("title", old.Title, r.Title, true)
	d.text("description", old.Description, r.Description, true)
	d.text("source_url", old.SourceURL, r.SourceURL, false)
	d.set("categories", old.Categories, r.Categories)
	d.set("tags", old.Tags, r.Tags)
	d.text("scope", old.Scope, string(r.Scope), false)
	if r.Scope != "" && string(r.Scope) != "national" {
		d.set("states", old.States, r.States)
	}
	d.text("email", old.Email, r.Email, false)
	d.text("hours", old.Hours, r.Hours, false)

	d.text("phone", old.Phone, r.Phone, false)
	d.text("website", old.Website, r.OrgWebsite, false)
	d.text("eligibility", old.Eligibility, r.Eligibility, false)
	d.text("how_to_apply", old.HowToApply, r.HowToApply, false)
	d.text("cost", old.Cost, r.Cost, false)

	if locationID != "" && locationID != old.LocationID {
		oldAddr := ""
		if old.LocationID != "" {
			loc, err := tx.GetLocation(ctx, old.LocationID)
			if err != nil {
				return nil, &StorageError{Op: "get location", Err: err}
			}
			if loc != nil {
				oldAddr = formatLocation(loc)
			}
		}
		d.add(change{
			field:   "address",
			column:  "location_id",
			value:   locationID,
			oldText: oldAddr,
			newText: r.FormattedAddress(),
			ref:     locationID,
		})
	}
	return d, nil
}

func formatLocation(l *store.Location) string {
	return l.Address + ", " + l.City + ", " + l.State + " " + l.ZipCode
}
