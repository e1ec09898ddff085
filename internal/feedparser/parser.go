package feedparser

import (
	"bytes"
	"encoding/xml"
	"strings"

	"hysrss/internal/model"
)

// gateProbeWindow bounds how much of the document the cheap feed-vs-not-feed
// probe inspects before invoking the real decoder.
const gateProbeWindow = 1024

// ProbeFeedContent implements the pre-parse gate: after skipping an optional
// UTF-8 BOM and leading whitespace, the first non-whitespace byte must be
// '<', and one of the feed root markers must appear within the first KiB.
func ProbeFeedContent(data []byte) bool {
	data = skipBOM(data)

	i := 0
	for i < len(data) && isXMLWhitespace(data[i]) {
		i++
	}
	if i >= len(data) || data[i] != '<' {
		return false
	}

	window := data[i:]
	if len(window) > gateProbeWindow {
		window = window[:gateProbeWindow]
	}
	lower := strings.ToLower(string(window))
	for _, marker := range []string{"<rss", "<feed", "<rdf", "<?xml"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func skipBOM(data []byte) []byte {
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		return data[3:]
	}
	return data
}

func isXMLWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// captureField names the single slot the state machine is currently
// accumulating character data into. Only one field captures at a time,
// matching the single target_depth the tag/depth tracker maintains.
type captureField int

const (
	captureNone captureField = iota
	captureTitle
	captureDescPrimary
	captureSummary
	captureContent
	captureDate
	captureGUID
	captureLink
	captureLanguage
	captureGenerator
	captureAuthorName
	captureAuthorURI
)

// classify maps a lowercased local tag name to the slot it feeds, following
// the tag map: content:encoded and media:description both tokenize with
// Name.Local == "encoded"/"description", so namespace prefixes never need
// to be inspected — the local name alone disambiguates every entry.
func classify(local string, inAuthor bool) (captureField, bool) {
	if inAuthor {
		switch local {
		case "name":
			return captureAuthorName, true
		case "uri":
			return captureAuthorURI, true
		}
	}
	switch local {
	case "title":
		return captureTitle, true
	case "link":
		return captureLink, true
	case "description", "encoded", "subtitle":
		return captureDescPrimary, true
	case "summary":
		return captureSummary, true
	case "content":
		return captureContent, true
	case "pubdate", "published", "date", "updated", "lastbuilddate":
		return captureDate, true
	case "guid", "id":
		return captureGUID, true
	case "language":
		return captureLanguage, true
	case "generator":
		return captureGenerator, true
	}
	return captureNone, false
}

// itemBuilder accumulates one <item>/<entry> before it is frozen into a
// model.ParsedItem at close. descPrimary/summary/content are kept apart so
// the description > summary > content priority can be resolved once, at
// close, regardless of the order the tags appeared in.
type itemBuilder struct {
	title       string
	descPrimary string
	summary     string
	content     string
	pubDate     string
	timestamp   int64
	guid        string
	link        string
}

func (b *itemBuilder) toParsedItem() model.ParsedItem {
	return model.ParsedItem{
		Title:       b.title,
		Description: pickPriority(b.descPrimary, b.summary, b.content),
		Link:        b.link,
		PubDate:     b.pubDate,
		Timestamp:   b.timestamp,
		GUID:        b.guid,
	}
}

func pickPriority(primary, summary, content string) string {
	switch {
	case primary != "":
		return primary
	case summary != "":
		return summary
	default:
		return content
	}
}

// ParseFeed streams data through encoding/xml.Decoder exactly once. onItem,
// when non-nil, is invoked at every item/entry boundary with the
// just-finished item; if it returns true the item is dropped and parsing
// stops immediately — the dedup layer uses this to bail out the moment a
// known article is reached in a newest-first feed. Failures are per-item:
// a decode error after at least one item (or an early abort) has been
// accumulated still returns the partial list with no error.
func ParseFeed(data []byte, onItem func(model.ParsedItem) bool) (model.ParsedFeed, error) {
	if !ProbeFeedContent(data) {
		return model.ParsedFeed{}, model.NewRunError(model.ErrParse, "content failed the XML gate probe")
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity

	var feed model.ParsedFeed
	var feedDescPrimary, feedSummary, feedContent string

	var item *itemBuilder
	var itemDepth int
	inAuthor := false

	var depth int
	capture := captureNone
	var captureDepth int
	var text strings.Builder

	stoppedEarly := false

parseLoop:
	for {
		tok, err := dec.Token()
		if err != nil {
			break parseLoop
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			local := strings.ToLower(t.Name.Local)

			switch {
			case local == "item" || local == "entry":
				item = &itemBuilder{}
				itemDepth = depth
				capture = captureNone
				continue parseLoop
			case local == "author":
				inAuthor = true
			case local == "enclosure":
				if item != nil && item.link == "" {
					if url := attrValue(t, "url"); url != "" {
						item.link = url
					}
				}
			}

			if capture != captureNone {
				continue parseLoop
			}

			field, ok := classify(local, inAuthor)
			if !ok {
				continue parseLoop
			}

			if field == captureLink {
				if href := attrValue(t, "href"); href != "" {
					assignLink(&feed, item, href)
					continue parseLoop
				}
			}

			capture = field
			captureDepth = depth
			text.Reset()

		case xml.EndElement:
			local := strings.ToLower(t.Name.Local)

			if capture != captureNone && depth == captureDepth {
				flush(&feed, &feedDescPrimary, &feedSummary, &feedContent, item, capture, text.String())
				capture = captureNone
			}

			if local == "author" {
				inAuthor = false
			}

			if (local == "item" || local == "entry") && item != nil && depth == itemDepth {
				finished := item.toParsedItem()
				item = nil
				if onItem != nil && onItem(finished) {
					stoppedEarly = true
					depth--
					break parseLoop
				}
				feed.Items = append(feed.Items, finished)
			}

			depth--

		case xml.CharData:
			if capture != captureNone {
				text.Write(t)
			}
		}
	}

	feed.Description = pickPriority(feedDescPrimary, feedSummary, feedContent)

	if len(feed.Items) == 0 && !stoppedEarly {
		return feed, model.NewRunError(model.ErrParse, "parser yielded zero items")
	}
	return feed, nil
}

func assignLink(feed *model.ParsedFeed, item *itemBuilder, href string) {
	if item != nil {
		if item.link == "" {
			item.link = href
		}
		return
	}
	if feed.Link == "" {
		feed.Link = href
	}
}

// flush routes one closed tag's accumulated text into the right slot,
// running it through the HTML cleaner first. Every slot is first-wins:
// once set it is never overwritten by a later tag mapping to the same slot.
func flush(feed *model.ParsedFeed, feedDescPrimary, feedSummary, feedContent *string, item *itemBuilder, field captureField, raw string) {
	cleaned := CleanToTerminalText(raw)
	if cleaned == "" {
		return
	}

	switch field {
	case captureTitle:
		if item != nil {
			if item.title == "" {
				item.title = cleaned
			}
		} else if feed.Title == "" {
			feed.Title = cleaned
		}
	case captureDescPrimary:
		if item != nil {
			if item.descPrimary == "" {
				item.descPrimary = cleaned
			}
		} else if *feedDescPrimary == "" {
			*feedDescPrimary = cleaned
		}
	case captureSummary:
		if item != nil {
			if item.summary == "" {
				item.summary = cleaned
			}
		} else if *feedSummary == "" {
			*feedSummary = cleaned
		}
	case captureContent:
		if item != nil {
			if item.content == "" {
				item.content = cleaned
			}
		} else if *feedContent == "" {
			*feedContent = cleaned
		}
	case captureDate:
		if item != nil {
			if item.pubDate == "" {
				item.pubDate = cleaned
				item.timestamp = ParseDate(cleaned)
			}
		} else if feed.LastBuildDate == "" {
			feed.LastBuildDate = cleaned
		}
	case captureGUID:
		if item != nil && item.guid == "" {
			item.guid = cleaned
		}
	case captureLink:
		if item != nil {
			if item.link == "" {
				item.link = cleaned
			}
		} else if feed.Link == "" {
			feed.Link = cleaned
		}
	case captureLanguage:
		if item == nil && feed.Language == "" {
			feed.Language = cleaned
		}
	case captureGenerator:
		if item == nil && feed.Generator == "" {
			feed.Generator = cleaned
		}
	case captureAuthorName:
		if item == nil && feed.AuthorName == "" {
			feed.AuthorName = cleaned
		}
	case captureAuthorURI:
		if item == nil && feed.AuthorURI == "" {
			feed.AuthorURI = cleaned
		}
	}
}

func attrValue(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}
