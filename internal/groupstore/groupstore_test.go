package groupstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hysrss/internal/model"
)

func TestLoad_MissingFile_ReturnsEmptyGroup(t *testing.T) {
	g, err := Load(filepath.Join(t.TempDir(), "tech.json"), "tech")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Name != "tech" || len(g.Feeds) != 0 {
		t.Errorf("Load() = %+v, want empty group named tech", g)
	}
}

func TestLoad_NewShape_WithTextAndFeeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tech.json")
	body := `{
		"text": "Tech News",
		"feeds": [
			{"xmlUrl": "https://a.example.com/feed", "enabled": true},
			{"xmlUrl": "https://b.example.com/feed", "enabled": false}
		]
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	g, err := Load(path, "tech")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if g.DisplayName != "Tech News" {
		t.Errorf("DisplayName = %q, want Tech News", g.DisplayName)
	}
	if len(g.Feeds) != 2 {
		t.Fatalf("expected 2 feeds, got %d", len(g.Feeds))
	}
	if !g.Feeds[0].Enabled {
		t.Error("feed 0 should be enabled")
	}
	if g.Feeds[1].Enabled {
		t.Error("feed 1 should be disabled")
	}
}

func TestLoad_LegacyBareArrayShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tech.json")
	body := `[
		{"xmlUrl": "https://a.example.com/feed"},
		{"xmlUrl": "https://b.example.com/feed", "enabled": false}
	]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	g, err := Load(path, "tech")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(g.Feeds) != 2 {
		t.Fatalf("expected 2 feeds, got %d", len(g.Feeds))
	}
	if !g.Feeds[0].Enabled {
		t.Error("feed with omitted enabled key should default to true")
	}
	if g.Feeds[1].Enabled {
		t.Error("feed 1 should be disabled")
	}
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tech.json")

	g := model.Group{
		Name:        "tech",
		DisplayName: "Tech News",
		Feeds: []model.FeedConfig{
			{URL: "https://a.example.com/feed", Enabled: true, ETag: `"abc"`},
			{URL: "https://b.example.com/feed", Enabled: false},
		},
	}

	if err := Save(path, g); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := Load(path, "tech")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got.Feeds) != 2 {
		t.Fatalf("expected 2 feeds, got %d", len(got.Feeds))
	}
	if got.Feeds[0].ETag != `"abc"` {
		t.Errorf("ETag = %q, want \"abc\"", got.Feeds[0].ETag)
	}
	if got.Feeds[1].Enabled {
		t.Error("disabled feed should remain disabled after round-trip")
	}
}

func TestSave_OmitsNullOptionalFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tech.json")

	g := model.Group{
		Name: "tech",
		Feeds: []model.FeedConfig{
			{URL: "https://a.example.com/feed", Enabled: true},
		},
	}
	if err := Save(path, g); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back file: %v", err)
	}
	body := string(raw)
	for _, absent := range []string{`"etag"`, `"lastModified"`, `"title"`, `"htmlUrl"`} {
		if strings.Contains(body, absent) {
			t.Errorf("expected %s to be omitted from %s", absent, body)
		}
	}
}

func TestMergeFetchedCacheHeaders_PreservesDisabledAndUnfetchedFeeds(t *testing.T) {
	full := model.Group{
		Name: "tech",
		Feeds: []model.FeedConfig{
			{URL: "https://a.example.com/feed", Enabled: true, ETag: "old-a"},
			{URL: "https://b.example.com/feed", Enabled: false, ETag: "old-b"},
			{URL: "https://c.example.com/feed", Enabled: true, ETag: "old-c"},
		},
	}

	fetched := []model.FeedConfig{
		{URL: "https://a.example.com/feed", ETag: "new-a", LastModified: "Mon, 01 Jan 2024"},
	}

	merged := MergeFetchedCacheHeaders(full, fetched)

	if merged.Feeds[0].ETag != "new-a" {
		t.Errorf("feed a ETag = %q, want new-a", merged.Feeds[0].ETag)
	}
	if merged.Feeds[1].ETag != "old-b" || merged.Feeds[1].Enabled {
		t.Errorf("disabled feed b should survive unchanged, got %+v", merged.Feeds[1])
	}
	if merged.Feeds[2].ETag != "old-c" {
		t.Errorf("non-fetched feed c should survive unchanged, got %+v", merged.Feeds[2])
	}
}
