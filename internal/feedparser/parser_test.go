package feedparser

import (
	"strings"
	"testing"

	"hysrss/internal/model"
)

func TestProbeFeedContent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"rss", `<?xml version="1.0"?><rss version="2.0"></rss>`, true},
		{"atom", `<feed xmlns="http://www.w3.org/2005/Atom"></feed>`, true},
		{"rdf", `<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"></rdf:RDF>`, true},
		{"bom then xml decl", "\xEF\xBB\xBF<?xml version=\"1.0\"?><rss></rss>", true},
		{"leading whitespace", "   \n\t<rss></rss>", true},
		{"html error page", "<html><head><title>502 Bad Gateway</title></head></html>", false},
		{"plain text", "not xml at all", false},
		{"empty", "", false},
		{"marker beyond window", "<a>" + strings.Repeat(" ", 2000) + "<rss></rss>", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProbeFeedContent([]byte(tt.in)); got != tt.want {
				t.Errorf("ProbeFeedContent(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Example Feed</title>
  <link>https://example.com/</link>
  <description>An example feed</description>
  <language>en-us</language>
  <generator>hand-rolled</generator>
  <lastBuildDate>Wed, 02 Oct 2024 15:30:00 GMT</lastBuildDate>
  <item>
    <title>First &amp; Best Post</title>
    <link>https://example.com/posts/1</link>
    <guid>urn:uuid:111</guid>
    <pubDate>Wed, 02 Oct 2024 12:00:00 GMT</pubDate>
    <description><![CDATA[<p>Hello <strong>world</strong></p>]]></description>
    <content:encoded><![CDATA[<p>Full text</p>]]></content:encoded>
  </item>
  <item>
    <title>Second Post</title>
    <guid>urn:uuid:222</guid>
    <pubDate>Wed, 02 Oct 2024 11:00:00 GMT</pubDate>
    <description>Plain text body</description>
    <enclosure url="https://example.com/audio.mp3" type="audio/mpeg" length="1000"/>
  </item>
</channel>
</rss>`

func TestParseFeed_RSS(t *testing.T) {
	feed, err := ParseFeed([]byte(sampleRSS), nil)
	if err != nil {
		t.Fatalf("ParseFeed failed: %v", err)
	}
	if feed.Title != "Example Feed" {
		t.Errorf("feed.Title = %q", feed.Title)
	}
	if feed.Link != "https://example.com/" {
		t.Errorf("feed.Link = %q", feed.Link)
	}
	if feed.Language != "en-us" {
		t.Errorf("feed.Language = %q", feed.Language)
	}
	if feed.Generator != "hand-rolled" {
		t.Errorf("feed.Generator = %q", feed.Generator)
	}
	if len(feed.Items) != 2 {
		t.Fatalf("len(feed.Items) = %d, want 2", len(feed.Items))
	}

	first := feed.Items[0]
	if first.Title != "First & Best Post" {
		t.Errorf("first.Title = %q", first.Title)
	}
	if first.Link != "https://example.com/posts/1" {
		t.Errorf("first.Link = %q", first.Link)
	}
	if first.GUID != "urn:uuid:111" {
		t.Errorf("first.GUID = %q", first.GUID)
	}
	if first.Timestamp == 0 {
		t.Error("first.Timestamp should be non-zero")
	}
	// content:encoded (local name "encoded") is a primary-tier description
	// alternate; the first primary tag seen (description) wins.
	if first.Description != "Hello world" {
		t.Errorf("first.Description = %q, want %q", first.Description, "Hello world")
	}

	second := feed.Items[1]
	if second.Link != "https://example.com/audio.mp3" {
		t.Errorf("second.Link should fall back to enclosure url, got %q", second.Link)
	}
	if second.Description != "Plain text body" {
		t.Errorf("second.Description = %q", second.Description)
	}
}

const sampleAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Example</title>
  <link rel="self" href="https://example.com/feed.atom"/>
  <link rel="alternate" href="https://example.com/"/>
  <author><name>Jane Doe</name><uri>https://example.com/jane</uri></author>
  <updated>2024-10-02T15:30:00Z</updated>
  <entry>
    <title>Entry One</title>
    <link href="https://example.com/entry-1"/>
    <id>urn:entry:1</id>
    <updated>2024-10-02T12:00:00Z</updated>
    <summary>Short summary</summary>
    <content>Full content body</content>
  </entry>
</feed>`

func TestParseFeed_Atom(t *testing.T) {
	feed, err := ParseFeed([]byte(sampleAtom), nil)
	if err != nil {
		t.Fatalf("ParseFeed failed: %v", err)
	}
	if feed.Title != "Atom Example" {
		t.Errorf("feed.Title = %q", feed.Title)
	}
	// multiple root <link> elements: the first captured (rel=self) wins.
	if feed.Link != "https://example.com/feed.atom" {
		t.Errorf("feed.Link = %q, want first root link", feed.Link)
	}
	if feed.AuthorName != "Jane Doe" {
		t.Errorf("feed.AuthorName = %q", feed.AuthorName)
	}
	if feed.AuthorURI != "https://example.com/jane" {
		t.Errorf("feed.AuthorURI = %q", feed.AuthorURI)
	}

	if len(feed.Items) != 1 {
		t.Fatalf("len(feed.Items) = %d, want 1", len(feed.Items))
	}
	entry := feed.Items[0]
	if entry.Link != "https://example.com/entry-1" {
		t.Errorf("entry.Link = %q", entry.Link)
	}
	if entry.GUID != "urn:entry:1" {
		t.Errorf("entry.GUID = %q", entry.GUID)
	}
	// summary (tier 2) beats content (tier 3) when description (tier 1) is absent.
	if entry.Description != "Short summary" {
		t.Errorf("entry.Description = %q, want summary to win over content", entry.Description)
	}
	if entry.Timestamp == 0 {
		t.Error("entry.Timestamp should be non-zero from <updated>")
	}
}

func TestParseFeed_EarlyAbort(t *testing.T) {
	var seen []string
	_, err := ParseFeed([]byte(sampleRSS), func(item model.ParsedItem) bool {
		seen = append(seen, item.GUID)
		return item.GUID == "urn:uuid:111"
	})
	if err != nil {
		t.Fatalf("ParseFeed failed: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("onItem called %d times, want 1 (parser should stop after abort)", len(seen))
	}
}

func TestParseFeed_EarlyAbortOnFirstItem_IsNotAnError(t *testing.T) {
	feed, err := ParseFeed([]byte(sampleRSS), func(item model.ParsedItem) bool {
		return true // every item already seen
	})
	if err != nil {
		t.Fatalf("expected no error when every item is already known, got %v", err)
	}
	if len(feed.Items) != 0 {
		t.Errorf("len(feed.Items) = %d, want 0 (all dropped by early abort)", len(feed.Items))
	}
}

func TestParseFeed_GateFailure_ReturnsParseError(t *testing.T) {
	_, err := ParseFeed([]byte("<html><body>not a feed</body></html>"), nil)
	if err == nil {
		t.Fatal("expected error for non-feed content")
	}
	rerr, ok := err.(*model.RunError)
	if !ok || rerr.Kind != model.ErrParse {
		t.Errorf("err = %v, want *model.RunError{Kind: ErrParse}", err)
	}
}

func TestParseFeed_ZeroItems_ReturnsParseError(t *testing.T) {
	_, err := ParseFeed([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>Empty</title></channel></rss>`), nil)
	if err == nil {
		t.Fatal("expected error for a well-formed feed with zero items")
	}
	rerr, ok := err.(*model.RunError)
	if !ok || rerr.Kind != model.ErrParse {
		t.Errorf("err = %v, want *model.RunError{Kind: ErrParse}", err)
	}
}

func TestParseFeed_PartialFeed_TruncatedMidItem(t *testing.T) {
	truncated := `<?xml version="1.0"?><rss version="2.0"><channel><title>T</title>
	<item><title>Only complete item</title><guid>g1</guid></item>
	<item><title>Truncated` // cut off mid second item, no closing tags at all

	feed, err := ParseFeed([]byte(truncated), nil)
	if err != nil {
		t.Fatalf("expected partial success, got error: %v", err)
	}
	if len(feed.Items) != 1 {
		t.Fatalf("len(feed.Items) = %d, want 1 surviving item", len(feed.Items))
	}
	if feed.Items[0].GUID != "g1" {
		t.Errorf("feed.Items[0].GUID = %q", feed.Items[0].GUID)
	}
}

func TestParseFeed_NestedSameNameTagDoesNotOverwrite(t *testing.T) {
	// A <title> inside an unrelated nested element at a different depth
	// must not reset the already-captured item title.
	doc := `<?xml version="1.0"?><rss version="2.0"><channel><title>Feed</title>
	<item>
	  <title>Outer Title</title>
	  <source><title>Nested Source Title</title></source>
	  <guid>g1</guid>
	</item>
	</channel></rss>`
	feed, err := ParseFeed([]byte(doc), nil)
	if err != nil {
		t.Fatalf("ParseFeed failed: %v", err)
	}
	if len(feed.Items) != 1 {
		t.Fatalf("len(feed.Items) = %d, want 1", len(feed.Items))
	}
	if feed.Items[0].Title != "Outer Title" {
		t.Errorf("Items[0].Title = %q, want %q (nested <source><title> must not overwrite)", feed.Items[0].Title, "Outer Title")
	}
}
