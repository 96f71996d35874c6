package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GGPrompts/vibe4vets-sub003/dbopen"
	"github.com/GGPrompts/vibe4vets-sub003/idgen"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	s := NewStore(db)
	s.NewID = idgen.Sequence("id")
	s.Now = func() time.Time { return t0 }
	return s
}

// seedResource inserts an org and a resource in one committed Tx.
func seedResource(t *testing.T, s *Store, r *Resource) *Resource {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	org, err := tx.OrganizationByKey(ctx, "org-"+r.DedupKey)
	if err != nil {
		t.Fatal(err)
	}
	if org == nil {
		org = &Organization{Name: "Org " + r.DedupKey, NameKey: "org-" + r.DedupKey}
		if err := tx.InsertOrganization(ctx, org); err != nil {
			t.Fatal(err)
		}
	}
	r.OrganizationID = org.ID
	if err := tx.InsertResource(ctx, r); err != nil {
		t.Fatalf("insert resource: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestApplySchema(t *testing.T) {
	// WHAT: Schema creates every table the directory relies on.
	// WHY: Schema is the foundation; if it fails, nothing works.
	s := openTestStore(t)
	for _, table := range []string{"sources", "organizations", "locations", "resources", "change_log", "review_queue", "link_checks"} {
		var name string
		err := s.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
	// Idempotent.
	if err := ApplySchema(s.DB); err != nil {
		t.Fatalf("second apply: %v", err)
	}
}

func TestUpsertSource_PreservesHealth(t *testing.T) {
	// WHAT: Re-registering a connector refreshes metadata but keeps health counters.
	// WHY: Every pipeline run upserts sources; it must not wipe failure history.
	s := openTestStore(t)
	ctx := context.Background()

	src, err := s.UpsertSource(ctx, &Source{Name: "va", URL: "https://va.gov", Tier: 1})
	if err != nil {
		t.Fatal(err)
	}
	if src.HealthStatus != HealthHealthy || src.ErrorCount != 0 {
		t.Fatalf("new source: %+v", src)
	}
	if err := s.RecordSourceRun(ctx, src.ID, HealthDegraded, 2, "timeout", false); err != nil {
		t.Fatal(err)
	}

	again, err := s.UpsertSource(ctx, &Source{Name: "va", URL: "https://www.va.gov", Tier: 1, Frequency: "weekly"})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != src.ID {
		t.Errorf("id changed: %s -> %s", src.ID, again.ID)
	}
	if again.URL != "https://www.va.gov" || again.Frequency != "weekly" {
		t.Errorf("metadata not refreshed: %+v", again)
	}
	if again.HealthStatus != HealthDegraded || again.ErrorCount != 2 || again.LastError != "timeout" {
		t.Errorf("health lost: %+v", again)
	}
	if again.LastRunAt == nil || again.LastSuccessAt != nil {
		t.Errorf("run stamps: run=%v success=%v", again.LastRunAt, again.LastSuccessAt)
	}

	missing, err := s.GetSourceByName(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing source: %v, %v", missing, err)
	}
}

func TestTx_FindOrCreate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()

	org := &Organization{Name: "VA", NameKey: "va"}
	if err := tx.InsertOrganization(ctx, org); err != nil {
		t.Fatal(err)
	}
	got, err := tx.OrganizationByKey(ctx, "va")
	if err != nil || got == nil || got.ID != org.ID {
		t.Fatalf("org lookup: %+v, %v", got, err)
	}

	loc := &Location{OrganizationID: org.ID, Address: "1 Vet St", City: "Anytown", State: "CA", ZipCode: "90001", LocationKey: "1 vet st|anytown|ca|90001"}
	if err := tx.InsertLocation(ctx, loc); err != nil {
		t.Fatal(err)
	}
	gotLoc, err := tx.LocationByKey(ctx, org.ID, loc.LocationKey)
	if err != nil || gotLoc == nil || gotLoc.ID != loc.ID {
		t.Fatalf("location lookup: %+v, %v", gotLoc, err)
	}

	r := &Resource{DedupKey: "va|1 vet st|anytown|ca|90001|job fair", OrganizationID: org.ID, LocationID: loc.ID,
		Title: "Job Fair", Description: "Hiring", Categories: []string{"employment"}, Scope: "local", ContentHash: "h1",
		ReliabilityScore: 1, FreshnessScore: 1, LinkHealthScore: 1}
	if err := tx.InsertResource(ctx, r); err != nil {
		t.Fatal(err)
	}
	gotRes, err := tx.ResourceByDedupKey(ctx, r.DedupKey)
	if err != nil || gotRes == nil {
		t.Fatalf("resource lookup: %v", err)
	}
	if gotRes.LocationID != loc.ID || gotRes.SourceID != "" || gotRes.Status != StatusActive {
		t.Errorf("resource fields: %+v", gotRes)
	}
	if len(gotRes.Categories) != 1 || gotRes.Categories[0] != "employment" {
		t.Errorf("categories: %v", gotRes.Categories)
	}

	// Duplicate dedup key violates the unique constraint.
	dup := &Resource{DedupKey: r.DedupKey, OrganizationID: org.ID, Title: "x", Description: "y"}
	if err := tx.InsertResource(ctx, dup); err == nil {
		t.Fatal("duplicate dedup_key should fail")
	}
}

func TestTx_UpdateResource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := seedResource(t, s, &Resource{DedupKey: "k1", Title: "A", Description: "B", Phone: "(555) 111-2222"})

	tx, _ := s.Begin(ctx)
	err := tx.UpdateResource(ctx, r.ID, map[string]any{
		"description": "B2",
		"tags":        []string{"rent", "vets"},
		"location_id": "",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tx.UpdateResource(ctx, r.ID, map[string]any{"id": "hijack"}); err == nil {
		t.Fatal("non-updatable column should be rejected")
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetResource(ctx, r.ID)
	if got.Description != "B2" || len(got.Tags) != 2 || got.Tags[1] != "vets" {
		t.Errorf("update not applied: %+v", got)
	}
	if got.Phone != "(555) 111-2222" {
		t.Errorf("untouched column changed: %q", got.Phone)
	}
}

func TestTx_RollbackLeavesNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tx, _ := s.Begin(ctx)
	tx.InsertOrganization(ctx, &Organization{Name: "X", NameKey: "x"})
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	st, _ := s.Stats(ctx)
	if st.Organizations != 0 {
		t.Fatalf("organizations = %d after rollback", st.Organizations)
	}
}

func TestListResources_TrustOrderAndFilters(t *testing.T) {
	// WHAT: Listing ranks by reliability × freshness and honours category/state filters.
	// WHY: trust_score is the single externally visible ranking signal.
	s := openTestStore(t)
	ctx := context.Background()
	seedResource(t, s, &Resource{DedupKey: "low", Title: "Low", Description: "d", ReliabilityScore: 0.4, FreshnessScore: 1, Scope: "national", Categories: []string{"housing"}})
	seedResource(t, s, &Resource{DedupKey: "high", Title: "High", Description: "d", ReliabilityScore: 1, FreshnessScore: 0.9, Scope: "state", States: []string{"CA"}, Categories: []string{"legal"}})
	seedResource(t, s, &Resource{DedupKey: "mid", Title: "Mid", Description: "d", ReliabilityScore: 0.8, FreshnessScore: 0.8, Scope: "state", States: []string{"TX"}, Categories: []string{"housing"}})
	seedResource(t, s, &Resource{DedupKey: "gone", Title: "Gone", Description: "d", ReliabilityScore: 1, FreshnessScore: 1, Status: StatusInactive})

	all, err := s.ListResources(ctx, ResourceFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 active, got %d", len(all))
	}
	if all[0].Title != "High" || all[1].Title != "Mid" || all[2].Title != "Low" {
		t.Errorf("order: %s, %s, %s", all[0].Title, all[1].Title, all[2].Title)
	}

	housing, _ := s.ListResources(ctx, ResourceFilter{Category: "Housing"})
	if len(housing) != 2 {
		t.Errorf("housing: got %d", len(housing))
	}

	ca, _ := s.ListResources(ctx, ResourceFilter{State: "ca"})
	if len(ca) != 2 || ca[0].Title != "High" || ca[1].Title != "Low" {
		t.Errorf("CA filter should return the CA resource plus national ones, got %d", len(ca))
	}

	page, _ := s.ListResources(ctx, ResourceFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].Title != "Mid" {
		t.Errorf("pagination: %+v", page)
	}
}

func TestMarkVerified(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := seedResource(t, s, &Resource{DedupKey: "k", Title: "A", Description: "B", FreshnessScore: 0.2})

	ok, err := s.MarkVerified(ctx, r.ID, t0.UnixMilli(), 1.0)
	if err != nil || !ok {
		t.Fatalf("MarkVerified: %v %v", ok, err)
	}
	got, _ := s.GetResource(ctx, r.ID)
	if got.FreshnessScore != 1.0 || got.LastVerified == nil || *got.LastVerified != t0.UnixMilli() {
		t.Errorf("verified fields: %+v", got)
	}

	ok, err = s.MarkVerified(ctx, "missing", t0.UnixMilli(), 1.0)
	if err != nil || ok {
		t.Errorf("missing resource: %v %v", ok, err)
	}
}

func TestScoreInputsAndUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	src, _ := s.UpsertSource(ctx, &Source{Name: "dav", Tier: 2})
	s.RecordSourceRun(ctx, src.ID, HealthFailing, 3, "boom", false)
	r := seedResource(t, s, &Resource{DedupKey: "k", Title: "A", Description: "B", SourceID: src.ID})
	seedResource(t, s, &Resource{DedupKey: "orphan", Title: "C", Description: "D"})

	ins, err := s.ScoreInputs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ins) != 2 {
		t.Fatalf("inputs: %d", len(ins))
	}
	var withSource ScoreInput
	for _, in := range ins {
		if in.ResourceID == r.ID {
			withSource = in
		}
	}
	if withSource.SourceTier != 2 || withSource.SourceHealth != HealthFailing {
		t.Errorf("joined source fields: %+v", withSource)
	}

	if err := s.UpdateScores(ctx, []ScoreUpdate{{ResourceID: r.ID, Reliability: 0.56, Freshness: 0.5}}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetResource(ctx, r.ID)
	if got.ReliabilityScore != 0.56 || got.FreshnessScore != 0.5 {
		t.Errorf("scores: %v %v", got.ReliabilityScore, got.FreshnessScore)
	}
}

func TestRecordLinkChecks(t *testing.T) {
	// WHAT: A nil score leaves link health unchanged; a dead link flags the resource.
	// WHY: Transient check errors must not punish a resource.
	s := openTestStore(t)
	ctx := context.Background()
	a := seedResource(t, s, &Resource{DedupKey: "a", Title: "A", Description: "d", SourceURL: "https://a.org", LinkHealthScore: 0.7})
	b := seedResource(t, s, &Resource{DedupKey: "b", Title: "B", Description: "d", SourceURL: "https://b.org", LinkHealthScore: 1})
	seedResource(t, s, &Resource{DedupKey: "c", Title: "C", Description: "d"})

	targets, err := s.LinkTargets(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 2 {
		t.Fatalf("targets without URL must be skipped, got %d", len(targets))
	}

	zero := 0.0
	err = s.RecordLinkChecks(ctx, []*LinkCheck{
		{ResourceID: a.ID, URL: a.SourceURL, Error: "timeout"},
		{ResourceID: b.ID, URL: b.SourceURL, StatusCode: 404, Score: &zero, Dead: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	gotA, _ := s.GetResource(ctx, a.ID)
	if gotA.LinkHealthScore != 0.7 || gotA.LastLinkCheckAt == nil || gotA.Status != StatusActive {
		t.Errorf("transient: %+v", gotA)
	}
	gotB, _ := s.GetResource(ctx, b.ID)
	if gotB.LinkHealthScore != 0 || gotB.Status != StatusNeedsReview {
		t.Errorf("dead: score=%v status=%s", gotB.LinkHealthScore, gotB.Status)
	}

	history, _ := s.LinkChecks(ctx, b.ID, 0)
	if len(history) != 1 || history[0].StatusCode != 404 || history[0].Score == nil {
		t.Errorf("history: %+v", history)
	}
}

func TestResolveReview(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := seedResource(t, s, &Resource{DedupKey: "k", Title: "A", Description: "B", Phone: "(555) 000-0000", Status: StatusNeedsReview})

	tx, _ := s.Begin(ctx)
	phone := &ReviewItem{ResourceID: r.ID, Field: "phone", OldValue: "(555) 000-0000", NewValue: "(555) 999-9999", Reason: "connector update"}
	cost := &ReviewItem{ResourceID: r.ID, Field: "cost", OldValue: "", NewValue: "$10"}
	tx.InsertReview(ctx, phone)
	tx.InsertReview(ctx, cost)
	dup, _ := tx.HasPendingReview(ctx, r.ID, "phone", "(555) 999-9999")
	if !dup {
		t.Error("HasPendingReview should see the queued change")
	}
	tx.Commit()

	if err := s.ResolveReview(ctx, phone.ID, true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	got, _ := s.GetResource(ctx, r.ID)
	if got.Phone != "(555) 999-9999" {
		t.Errorf("approved phone not applied: %q", got.Phone)
	}
	if got.Status != StatusNeedsReview {
		t.Errorf("still one pending review, status = %s", got.Status)
	}

	if err := s.ResolveReview(ctx, cost.ID, false); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got, _ = s.GetResource(ctx, r.ID)
	if got.Cost != "" || got.Status != StatusActive {
		t.Errorf("after reject: cost=%q status=%s", got.Cost, got.Status)
	}

	if err := s.ResolveReview(ctx, cost.ID, true); !errors.Is(err, ErrReviewClosed) {
		t.Errorf("re-resolve: %v", err)
	}
	if err := s.ResolveReview(ctx, "missing", true); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("missing review: %v", err)
	}

	log, _ := s.ChangeLog(ctx, r.ID)
	if len(log) != 1 || log[0].Source != "review" {
		t.Errorf("change log: %+v", log)
	}
}

func TestCleanup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := t0.Add(-100 * 24 * time.Hour).UnixMilli()
	recent := t0.Add(-1 * time.Hour).UnixMilli()
	stale := seedResource(t, s, &Resource{DedupKey: "stale", Title: "S", Description: "d", LastSeenAt: &old})
	fresh := seedResource(t, s, &Resource{DedupKey: "fresh", Title: "F", Description: "d", LastSeenAt: &recent})

	tx, _ := s.Begin(ctx)
	tx.InsertChangeLog(ctx, &ChangeLogEntry{ResourceID: fresh.ID, Field: "title", CreatedAt: old})
	tx.InsertChangeLog(ctx, &ChangeLogEntry{ResourceID: fresh.ID, Field: "title", CreatedAt: recent})
	tx.Commit()

	cutoff := t0.Add(-90 * 24 * time.Hour).UnixMilli()
	n, err := s.PurgeChangeLog(ctx, cutoff)
	if err != nil || n != 1 {
		t.Errorf("purge change log: %d, %v", n, err)
	}
	n, err = s.DeactivateStale(ctx, cutoff)
	if err != nil || n != 1 {
		t.Errorf("deactivate: %d, %v", n, err)
	}
	got, _ := s.GetResource(ctx, stale.ID)
	if got.Status != StatusInactive {
		t.Errorf("stale status: %s", got.Status)
	}
	got, _ = s.GetResource(ctx, fresh.ID)
	if got.Status != StatusActive {
		t.Errorf("fresh status: %s", got.Status)
	}
	if n, _ := s.PurgeLinkChecks(ctx, cutoff); n != 0 {
		t.Errorf("link checks purged: %d", n)
	}
	if n, _ := s.PurgeResolvedReviews(ctx, cutoff); n != 0 {
		t.Errorf("reviews purged: %d", n)
	}
}
