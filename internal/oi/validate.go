package oi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"comicsdb/api/internal/store"
)

// NoNumber marks an issue without a printed number. It is exempt from
// the per-series uniqueness check.
const NoNumber = "[nn]"

type problems map[string]string

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return invalid(CodeInvalidRevision, "revision has invalid fields", map[string]string(p))
}

// validateRevision checks the structural rules of one revision payload.
func validateRevision(ctx context.Context, r store.Reader, rev store.Revision) error {
	p := problems{}
	switch d := rev.Data.(type) {
	case *store.PublisherData:
		requireName(p, d.Name)
		checkYears(p, d.YearBegan, d.YearEnded)
		if rev.Added && d.ParentID != nil {
			p["parent"] = "new imprints are no longer created"
		}
	case *store.IndiciaPublisherData:
		requireName(p, d.Name)
		checkYears(p, d.YearBegan, d.YearEnded)
		if err := requireLive(ctx, r, p, "publisher", store.KindPublisher, d.PublisherID); err != nil {
			return err
		}
	case *store.BrandData:
		requireName(p, d.Name)
		checkYears(p, d.YearBegan, d.YearEnded)
		if err := requireLive(ctx, r, p, "publisher", store.KindPublisher, d.PublisherID); err != nil {
			return err
		}
	case *store.SeriesData:
		requireName(p, d.Name)
		checkYears(p, d.YearBegan, d.YearEnded)
		if d.LanguageCode == "" {
			p["language"] = "is required"
		}
		if d.CountryCode == "" {
			p["country"] = "is required"
		}
		if err := requireLive(ctx, r, p, "publisher", store.KindPublisher, d.PublisherID); err != nil {
			return err
		}
		if _, bad := p["publisher"]; !bad {
			pub, err := r.GetEntity(ctx, store.KindPublisher, d.PublisherID)
			if err != nil {
				return fmt.Errorf("load publisher: %w", err)
			}
			if pub.Data.(*store.PublisherData).ParentID != nil {
				p["publisher"] = "series cannot be placed directly under an imprint"
			}
		}
	case *store.IssueData:
		if strings.TrimSpace(d.Number) == "" {
			p["number"] = "is required"
		}
		if err := requireLive(ctx, r, p, "series", store.KindSeries, d.SeriesID); err != nil {
			return err
		}
		if d.VariantOfID != nil {
			if err := checkVariantBase(ctx, r, p, d); err != nil {
				return err
			}
		}
		if d.BrandID != nil {
			if err := requireLive(ctx, r, p, "brand", store.KindBrand, *d.BrandID); err != nil {
				return err
			}
		}
		if d.IndiciaPublisherID != nil {
			if err := requireLive(ctx, r, p, "indicia_publisher", store.KindIndiciaPublisher, *d.IndiciaPublisherID); err != nil {
				return err
			}
		}
	case *store.StoryData:
		if d.Type == "" {
			p["type"] = "is required"
		}
		if d.Sequence < 0 {
			p["sequence"] = "must not be negative"
		}
		if d.IssueID != 0 || rev.ParentRevisionID == nil {
			if err := requireLive(ctx, r, p, "issue", store.KindIssue, d.IssueID); err != nil {
				return err
			}
		}
	case *store.CoverData:
		if err := requireLive(ctx, r, p, "issue", store.KindIssue, d.IssueID); err != nil {
			return err
		}
	default:
		return invalid(CodeInvalidRevision, "unknown payload", nil)
	}
	return p.err()
}

func requireName(p problems, name string) {
	if strings.TrimSpace(name) == "" {
		p["name"] = "is required"
	}
}

func checkYears(p problems, began, ended int) {
	if began != 0 && ended != 0 && ended < began {
		p["year_ended"] = "must not be before year_began"
	}
}

func requireLive(ctx context.Context, r store.Reader, p problems, field string, kind store.Kind, id int64) error {
	if id == 0 {
		p[field] = "is required"
		return nil
	}
	rec, err := r.GetEntity(ctx, kind, id)
	if errors.Is(err, store.ErrNotFound) {
		p[field] = "does not exist"
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", kind, err)
	}
	if rec.Deleted {
		p[field] = "is deleted"
	}
	return nil
}

func checkVariantBase(ctx context.Context, r store.Reader, p problems, d *store.IssueData) error {
	base, err := r.GetEntity(ctx, store.KindIssue, *d.VariantOfID)
	if errors.Is(err, store.ErrNotFound) {
		p["variant_of"] = "does not exist"
		return nil
	}
	if err != nil {
		return fmt.Errorf("load variant base: %w", err)
	}
	baseData := base.Data.(*store.IssueData)
	switch {
	case base.Deleted:
		p["variant_of"] = "is deleted"
	case baseData.VariantOfID != nil:
		p["variant_of"] = "is itself a variant"
	case baseData.SeriesID != d.SeriesID:
		p["variant_of"] = "belongs to another series"
	}
	return nil
}

func numberKey(number string) string {
	return strings.ToLower(strings.Join(strings.Fields(number), " "))
}

// issueKey is the number an issue must not share within its series.
// Numbers restart with every volume, so the volume is part of it.
func issueKey(d *store.IssueData) string {
	key := numberKey(d.Number)
	if volume := numberKey(d.Volume); volume != "" {
		key = "v" + volume + "#" + key
	}
	return key
}

// checkIssueNumbers enforces per-series issue number uniqueness for the
// issue revisions of cs. Numbers are checked against each other and the
// committed issues. With inFlight set, issue revisions of other submitted
// changesets are checked as well.
func checkIssueNumbers(ctx context.Context, r store.Reader, cs store.Changeset, revisions []store.Revision, inFlight bool) error {
	sources := map[int64]bool{}
	for _, rev := range revisions {
		if rev.Kind == store.KindIssue && rev.SourceID != nil {
			sources[*rev.SourceID] = true
		}
	}

	proposed := map[int64]map[string]bool{}
	for _, rev := range revisions {
		if rev.Kind != store.KindIssue || rev.Deleted {
			continue
		}
		d := rev.Data.(*store.IssueData)
		key := issueKey(d)
		if d.VariantOfID != nil || numberKey(d.Number) == NoNumber {
			continue
		}
		if proposed[d.SeriesID] == nil {
			proposed[d.SeriesID] = map[string]bool{}
		}
		if proposed[d.SeriesID][key] {
			return duplicateNumber(d, 0)
		}
		proposed[d.SeriesID][key] = true

		committed, err := r.ListChildren(ctx, store.KindIssue, "series_id", d.SeriesID)
		if err != nil {
			return fmt.Errorf("list series issues: %w", err)
		}
		for _, issue := range committed {
			other := issue.Data.(*store.IssueData)
			if sources[issue.ID] || other.VariantOfID != nil {
				continue
			}
			if issueKey(other) == key {
				return duplicateNumber(d, 0)
			}
		}

		if !inFlight {
			continue
		}
		active, err := r.ListActiveRevisions(ctx, store.KindIssue, "series_id", d.SeriesID)
		if err != nil {
			return fmt.Errorf("list active issue revisions: %w", err)
		}
		for _, other := range active {
			if other.ChangesetID == cs.ID || other.Deleted {
				continue
			}
			otherData := other.Data.(*store.IssueData)
			if otherData.VariantOfID != nil || issueKey(otherData) != key {
				continue
			}
			owner, err := r.GetChangeset(ctx, other.ChangesetID)
			if err != nil {
				return fmt.Errorf("load changeset: %w", err)
			}
			if owner.State == store.StateOpen {
				continue
			}
			return duplicateNumber(d, owner.ID)
		}
	}
	return nil
}

func duplicateNumber(d *store.IssueData, otherChangeset int64) *DomainError {
	details := map[string]any{"series": d.SeriesID, "number": d.Number}
	message := fmt.Sprintf("issue #%s already exists in this series", d.Number)
	if otherChangeset != 0 {
		details["changeset"] = otherChangeset
		message = fmt.Sprintf("issue #%s is already proposed in changeset %d", d.Number, otherChangeset)
	}
	return conflict(CodeDuplicateNumber, message, details)
}
