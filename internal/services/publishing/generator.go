package publishing

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"time"

	"github.com/podwave/digest-api/internal/models"
)

// ChannelInfo describes the published podcast channel
type ChannelInfo struct {
	Title       string
	Link        string
	Description string
	BaseURL     string
}

// Generator renders published digests as an RSS 2.0 podcast feed
type Generator struct {
	info ChannelInfo
}

// NewGenerator creates a new feed generator
func NewGenerator(info ChannelInfo) *Generator {
	return &Generator{info: info}
}

// Run renders the feed for the given digests. A non-empty topic narrows the
// channel metadata to that topic's feed.
func (g *Generator) Run(topic *models.Topic, digests []models.Digest) string {
	var buf bytes.Buffer

	title := g.info.Title
	description := g.info.Description
	feedPath := "/feed.xml"
	if topic != nil {
		title = fmt.Sprintf("%s — %s", g.info.Title, topic.Name)
		description = cmp.Or(topic.Instructions, description)
		feedPath = fmt.Sprintf("/feeds/%s.xml", topic.Slug)
	}

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", title, 4)
	g.writeElement(&buf, "link", g.info.Link, 4)
	g.writeElement(&buf, "description", description, 4)
	buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
		html.EscapeString(g.info.BaseURL+feedPath)))

	lastBuildDate := time.Now().UTC()
	if len(digests) > 0 && digests[0].PublishedAt != nil {
		lastBuildDate = *digests[0].PublishedAt
	}
	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", "digest-api", 4)

	for _, digest := range digests {
		g.writeItem(&buf, digest)
	}

	buf.WriteString("  </channel>\n</rss>")
	return buf.String()
}

func (g *Generator) writeItem(buf *bytes.Buffer, digest models.Digest) {
	buf.WriteString("    <item>\n")

	// Stable across regenerations of the same digest day
	guid := fmt.Sprintf("digest:%s:%s", digest.TopicSlug, digest.DigestDate)
	buf.WriteString(`      <guid isPermaLink="false">`)
	xml.EscapeText(buf, []byte(guid))
	buf.WriteString("</guid>\n")

	title := digest.GeneratedTitle
	if title == "" {
		title = fmt.Sprintf("%s digest for %s", digest.TopicSlug, digest.DigestDate)
	}
	g.writeElement(buf, "title", title, 6)
	g.writeElement(buf, "description", digest.GeneratedSummary, 6)

	if digest.PublishedAt != nil {
		g.writeElement(buf, "pubDate", digest.PublishedAt.Format(time.RFC1123Z), 6)
	}

	if digest.ExternalURL != "" {
		buf.WriteString(fmt.Sprintf("      <enclosure url=\"%s\" length=\"%d\" type=\"audio/mpeg\" />\n",
			html.EscapeString(digest.ExternalURL), digest.AudioSize))
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}
