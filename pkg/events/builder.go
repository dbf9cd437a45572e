// Package events maps cached tweets onto signed Nostr events. The mapping is
// deterministic: the event's created_at is the tweet's creation time, so
// rebuilding an event for the same tweet with the same media URLs always
// yields the same event id.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/douglaz/nostrweet/internal/twitter"
	"github.com/douglaz/nostrweet/pkg/keys"
)

// ClientTag identifies events produced by this bridge.
const ClientTag = "nostrweet"

// Builder signs events with the process key.
type Builder struct {
	signer *keys.Manager
}

// NewBuilder creates a Builder around the signing key.
func NewBuilder(signer *keys.Manager) *Builder {
	return &Builder{signer: signer}
}

// TextNote builds the kind-1 event for a tweet. mediaURLs are the canonical
// media locations (Blossom when uploaded, upstream CDN otherwise), in
// attachment order.
func (b *Builder) TextNote(t *twitter.Tweet, mediaURLs []string) (*nostr.Event, error) {
	created := t.CreatedTime()
	if created.IsZero() {
		return nil, fmt.Errorf("tweet %s has no parseable creation time", t.ID)
	}

	content := formatContent(t, mediaURLs)

	tags := nostr.Tags{
		nostr.Tag{"client", ClientTag},
		nostr.Tag{"r", twitter.StatusURL(t.ID)},
	}
	for _, u := range mediaURLs {
		tags = append(tags, nostr.Tag{"r", u})
	}
	tags = append(tags, nostr.Tag{"published_at", strconv.FormatInt(created.Unix(), 10)})

	ev := &nostr.Event{
		CreatedAt: nostr.Timestamp(created.Unix()),
		Kind:      nostr.KindTextNote,
		Tags:      tags,
		Content:   content,
	}
	if err := ev.Sign(b.signer.PrivateKey()); err != nil {
		return nil, fmt.Errorf("failed to sign event for tweet %s: %w", t.ID, err)
	}
	return ev, nil
}

// profileContent is the kind-0 payload shape.
type profileContent struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	About       string `json:"about,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Banner      string `json:"banner,omitempty"`
	Website     string `json:"website,omitempty"`
}

// ProfileMetadata builds the kind-0 event mirroring an author profile.
func (b *Builder) ProfileMetadata(u *twitter.User) (*nostr.Event, error) {
	payload, err := json.Marshal(profileContent{
		Name:        u.Username,
		DisplayName: u.Name,
		About:       u.Description,
		Picture:     u.ProfileImageURL,
		Banner:      u.ProfileBannerURL,
		Website:     u.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize profile content: %w", err)
	}
	ev := &nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindProfileMetadata,
		Tags: nostr.Tags{
			nostr.Tag{"client", ClientTag},
		},
		Content: string(payload),
	}
	if err := ev.Sign(b.signer.PrivateKey()); err != nil {
		return nil, fmt.Errorf("failed to sign profile event: %w", err)
	}
	return ev, nil
}

// RelayList builds the kind-10002 event advertising the configured relays.
func (b *Builder) RelayList(relays []string) (*nostr.Event, error) {
	tags := nostr.Tags{nostr.Tag{"client", ClientTag}}
	for _, r := range relays {
		tags = append(tags, nostr.Tag{"r", r})
	}
	ev := &nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindRelayListMetadata,
		Tags:      tags,
	}
	if err := ev.Sign(b.signer.PrivateKey()); err != nil {
		return nil, fmt.Errorf("failed to sign relay list event: %w", err)
	}
	return ev, nil
}

// formatContent renders the tweet body plus its reference chain.
func formatContent(t *twitter.Tweet, mediaURLs []string) string {
	if rt := t.Reference(twitter.ReferenceRetweet); rt != nil {
		return formatRetweet(t, rt, mediaURLs)
	}

	var sb strings.Builder

	if reply := t.Reference(twitter.ReferenceReply); reply != nil {
		author := referenceAuthor(reply)
		fmt.Fprintf(&sb, "Replying to @%s: %s\n\n", author, twitter.StatusURL(reply.ID))
	}

	sb.WriteString(t.FullText())

	if quote := t.Reference(twitter.ReferenceQuote); quote != nil {
		author := referenceAuthor(quote)
		fmt.Fprintf(&sb, "\n\nQuoting @%s: %s", author, twitter.StatusURL(quote.ID))
		if quote.Data != nil {
			if excerpt := firstLine(quote.Data.FullText()); excerpt != "" {
				sb.WriteString("\n")
				sb.WriteString(excerpt)
			}
		}
	}

	appendMediaURLs(&sb, sb.String(), mediaURLs)
	return sb.String()
}

// formatRetweet renders a native retweet: the underlying original is the
// logical payload and the "RT @…:" prefix of the wrapper text is dropped.
func formatRetweet(t *twitter.Tweet, rt *twitter.ReferencedTweet, mediaURLs []string) string {
	author := referenceAuthor(rt)

	var body string
	if rt.Data != nil {
		body = rt.Data.FullText()
	} else {
		// Reference unresolved: strip the wrapper's own prefix so the text
		// is not doubled.
		body = t.FullText()
		if strings.HasPrefix(body, "RT @") {
			if i := strings.Index(body, ": "); i >= 0 {
				body = body[i+2:]
			}
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "RT @%s: %s", author, body)
	appendMediaURLs(&sb, sb.String(), mediaURLs)
	return sb.String()
}

// appendMediaURLs adds a newline-delimited block of the media URLs that are
// not already literal substrings of the content.
func appendMediaURLs(sb *strings.Builder, current string, mediaURLs []string) {
	for _, u := range mediaURLs {
		if u == "" || strings.Contains(current, u) {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(u)
		current += "\n" + u
	}
}

// referenceAuthor names the author of a referenced tweet, falling back to
// the bare id when the reference was never resolved.
func referenceAuthor(ref *twitter.ReferencedTweet) string {
	if ref.Data != nil && ref.Data.Author.Username != "" {
		return ref.Data.Author.Username
	}
	return ref.ID
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
