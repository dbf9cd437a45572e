package twitter

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Tweet represents a single post as returned by the API v2 endpoints.
type Tweet struct {
	// ID is the snowflake identifier of the tweet.
	ID string `json:"id"`
	// Text is the tweet body, possibly truncated for long posts.
	Text string `json:"text"`
	// Author is the resolved author, populated from the response includes.
	Author User `json:"author"`
	// AuthorID is the raw author id field from the API.
	AuthorID string `json:"author_id,omitempty"`
	// CreatedAt is the RFC 3339 creation timestamp.
	CreatedAt string `json:"created_at"`
	// ReferencedTweets lists reply/quote/retweet references, if any.
	ReferencedTweets []ReferencedTweet `json:"referenced_tweets,omitempty"`
	// Attachments carries the media keys attached to the tweet.
	Attachments *Attachments `json:"attachments,omitempty"`
	// Entities holds URL, mention and hashtag tables for the text.
	Entities *Entities `json:"entities,omitempty"`
	// Includes carries expanded media/users/tweets for this tweet.
	Includes *Includes `json:"includes,omitempty"`
	// NoteTweet holds the full text of posts exceeding the classic limit.
	NoteTweet *NoteTweet `json:"note_tweet,omitempty"`
}

// NoteTweet is the extended-text payload of a long post.
type NoteTweet struct {
	Text string `json:"text"`
}

// ReferenceReply, ReferenceQuote and ReferenceRetweet are the reference kinds
// the API emits in referenced_tweets[].type.
const (
	ReferenceReply   = "replied_to"
	ReferenceQuote   = "quoted"
	ReferenceRetweet = "retweeted"
)

// ReferencedTweet is one entry of a tweet's reference chain. Data is filled
// during enrichment and is nil until the referenced tweet has been resolved.
type ReferencedTweet struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data *Tweet `json:"data,omitempty"`
}

// Attachments lists the media keys of a tweet.
type Attachments struct {
	MediaKeys []string `json:"media_keys,omitempty"`
}

// Entities holds the entity tables of a tweet or profile description.
type Entities struct {
	URLs     []URLEntity `json:"urls,omitempty"`
	Mentions []Mention   `json:"mentions,omitempty"`
	Hashtags []Hashtag   `json:"hashtags,omitempty"`
}

// URLEntity maps a t.co short URL to its expanded destination.
type URLEntity struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
	DisplayURL  string `json:"display_url"`
}

// Mention is an @-mention entity.
type Mention struct {
	Username string `json:"username"`
}

// Hashtag is a #-tag entity.
type Hashtag struct {
	Tag string `json:"tag"`
}

// Includes carries the expansion objects of an API response.
type Includes struct {
	Media  []Media `json:"media,omitempty"`
	Users  []User  `json:"users,omitempty"`
	Tweets []Tweet `json:"tweets,omitempty"`
}

// Media kinds as emitted in media[].type.
const (
	MediaPhoto       = "photo"
	MediaVideo       = "video"
	MediaAnimatedGIF = "animated_gif"
)

// Media describes one attached media item.
type Media struct {
	// MediaKey is the unique key of the item, e.g. "3_1234567890".
	MediaKey string `json:"media_key"`
	// Type is one of photo, video or animated_gif.
	Type string `json:"type"`
	// URL is the direct URL for photos.
	URL string `json:"url,omitempty"`
	// PreviewImageURL is the still preview for videos and GIFs.
	PreviewImageURL string `json:"preview_image_url,omitempty"`
	// AltText is the author-provided description.
	AltText string `json:"alt_text,omitempty"`
	// Variants lists the transcoded renditions for videos and GIFs.
	Variants []MediaVariant `json:"variants,omitempty"`
}

// MediaVariant is one rendition of a video or animated image.
type MediaVariant struct {
	BitRate     int64  `json:"bit_rate,omitempty"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// User is an author profile.
type User struct {
	ID               string        `json:"id"`
	Name             string        `json:"name,omitempty"`
	Username         string        `json:"username"`
	ProfileImageURL  string        `json:"profile_image_url,omitempty"`
	ProfileBannerURL string        `json:"profile_banner_url,omitempty"`
	Description      string        `json:"description,omitempty"`
	URL              string        `json:"url,omitempty"`
	Entities         *UserEntities `json:"entities,omitempty"`
}

// UserEntities holds the entity tables of a profile.
type UserEntities struct {
	URL         *UserURLEntity `json:"url,omitempty"`
	Description *Entities      `json:"description,omitempty"`
}

// UserURLEntity wraps the URL entities of a profile website field.
type UserURLEntity struct {
	URLs []URLEntity `json:"urls,omitempty"`
}

// timelineResponse is the wire shape of the user-timeline endpoint.
type timelineResponse struct {
	Data     []Tweet       `json:"data"`
	Includes *Includes     `json:"includes"`
	Meta     *timelineMeta `json:"meta"`
}

type timelineMeta struct {
	ResultCount int    `json:"result_count"`
	NewestID    string `json:"newest_id,omitempty"`
	OldestID    string `json:"oldest_id,omitempty"`
	NextToken   string `json:"next_token,omitempty"`
}

// tweetResponse is the wire shape of the single-tweet endpoint.
type tweetResponse struct {
	Data     *Tweet    `json:"data"`
	Includes *Includes `json:"includes"`
}

// userResponse is the wire shape of the user-by-username endpoint.
type userResponse struct {
	Data *User `json:"data"`
}

// FullText returns the complete tweet text, preferring the note_tweet
// payload when the post exceeds the classic character limit.
func (t *Tweet) FullText() string {
	if t.NoteTweet != nil && t.NoteTweet.Text != "" {
		return t.NoteTweet.Text
	}
	return t.Text
}

// CreatedTime parses the tweet's creation timestamp. The zero time is
// returned for unparseable input.
func (t *Tweet) CreatedTime() time.Time {
	ts, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// Reference returns the first reference of the given kind, or nil.
func (t *Tweet) Reference(kind string) *ReferencedTweet {
	for i := range t.ReferencedTweets {
		if t.ReferencedTweets[i].Type == kind {
			return &t.ReferencedTweets[i]
		}
	}
	return nil
}

// IsRetweet reports whether the tweet is a native retweet.
func (t *Tweet) IsRetweet() bool {
	return t.Reference(ReferenceRetweet) != nil
}

// StatusURL builds the canonical permalink for a tweet id.
func StatusURL(tweetID string) string {
	return fmt.Sprintf("https://twitter.com/i/status/%s", tweetID)
}

var (
	numericID  = regexp.MustCompile(`^\d+$`)
	statusPath = regexp.MustCompile(`/status(?:es)?/(\d+)`)
)

// ParseTweetID extracts a tweet id from a raw id or a twitter.com/x.com
// status URL, dropping any query string.
func ParseTweetID(urlOrID string) (string, error) {
	s := strings.TrimSpace(urlOrID)
	if s == "" {
		return "", fmt.Errorf("tweet id cannot be empty")
	}
	if numericID.MatchString(s) {
		return s, nil
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	if m := statusPath.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("could not extract tweet id from %q", urlOrID)
}
