package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const apiBase = "https://api.twitter.com/2"

// Field sets requested on every tweet fetch. Variants are needed to pick the
// highest-quality media rendition, note_tweet for long posts.
const (
	mediaFields = "url,preview_image_url,alt_text,variants,media_key,type"
	tweetFields = "created_at,entities,referenced_tweets,author_id,note_tweet"
	userFields  = "name,username,profile_image_url,description,url,entities"
	expansions  = "attachments.media_keys,referenced_tweets.id,referenced_tweets.id.attachments.media_keys,author_id"
)

// timelinePageSize is the max_results value for timeline pages.
const timelinePageSize = 100

// maxTimelinePages bounds pagination within a single cycle; deeper history is
// picked up on subsequent cycles via since_id.
const maxTimelinePages = 10

// Client talks to the upstream API with bearer-token authentication.
type Client struct {
	http   *http.Client
	base   string
	bearer string
	logger *log.Logger

	// admit, when set, gates every API request; the daemon wires the shared
	// sliding-window limiter here so all workers honor one quota.
	admit func(context.Context) error

	mu      sync.Mutex
	userIDs map[string]string // handle (lowercased) -> user id
}

// SetAdmit installs a request-admission gate called before every API call.
func (c *Client) SetAdmit(admit func(context.Context) error) { c.admit = admit }

// New creates a Client. The bearer token must be non-empty.
func New(bearer string, logger *log.Logger) (*Client, error) {
	if bearer == "" {
		return nil, fmt.Errorf("bearer token cannot be empty")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		base:    apiBase,
		bearer:  bearer,
		logger:  logger,
		userIDs: make(map[string]string),
	}, nil
}

// SetBaseURL overrides the API base, used by tests.
func (c *Client) SetBaseURL(base string) { c.base = strings.TrimRight(base, "/") }

// UserTimeline fetches tweets for handle newer than sinceID (all recent
// tweets when sinceID is empty). Results are returned newest-first, as the
// API emits them; callers iterate in reverse to process oldest-first.
func (c *Client) UserTimeline(ctx context.Context, handle, sinceID string) ([]Tweet, error) {
	userID, err := c.userID(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("resolving user id for @%s: %w", handle, err)
	}

	var all []Tweet
	nextToken := ""
	for page := 0; page < maxTimelinePages; page++ {
		u := fmt.Sprintf("%s/users/%s/tweets?max_results=%d&expansions=%s&media.fields=%s&tweet.fields=%s&user.fields=%s",
			c.base, userID, timelinePageSize,
			url.QueryEscape(expansions), url.QueryEscape(mediaFields),
			url.QueryEscape(tweetFields), url.QueryEscape(userFields))
		if sinceID != "" {
			u += "&since_id=" + url.QueryEscape(sinceID)
		}
		if nextToken != "" {
			u += "&pagination_token=" + url.QueryEscape(nextToken)
		}

		var resp timelineResponse
		if err := c.getJSON(ctx, u, &resp); err != nil {
			return nil, fmt.Errorf("fetching timeline for @%s: %w", handle, err)
		}
		for i := range resp.Data {
			t := resp.Data[i]
			attachIncludes(&t, resp.Includes)
			expandText(&t)
			all = append(all, t)
		}
		if resp.Meta == nil || resp.Meta.NextToken == "" {
			break
		}
		nextToken = resp.Meta.NextToken
	}
	c.logger.Printf("Fetched %d tweets for @%s (since_id=%q)", len(all), handle, sinceID)
	return all, nil
}

// TweetByID fetches a single tweet with full expansions. Deleted tweets
// surface as ErrNotFound.
func (c *Client) TweetByID(ctx context.Context, tweetID string) (*Tweet, error) {
	u := fmt.Sprintf("%s/tweets/%s?expansions=%s&media.fields=%s&tweet.fields=%s&user.fields=%s",
		c.base, url.PathEscape(tweetID),
		url.QueryEscape(expansions), url.QueryEscape(mediaFields),
		url.QueryEscape(tweetFields), url.QueryEscape(userFields))

	var resp tweetResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("fetching tweet %s: %w", tweetID, err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("tweet %s: %w", tweetID, ErrNotFound)
	}
	t := *resp.Data
	attachIncludes(&t, resp.Includes)
	expandText(&t)
	return &t, nil
}

// Profile fetches the profile for handle. The profile website short URL is
// resolved to its destination when possible.
func (c *Client) Profile(ctx context.Context, handle string) (*User, error) {
	u := fmt.Sprintf("%s/users/by/username/%s?user.fields=%s",
		c.base, url.PathEscape(handle), url.QueryEscape(userFields))

	var resp userResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("fetching profile for @%s: %w", handle, err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("profile for @%s: %w", handle, ErrNotFound)
	}
	user := *resp.Data

	// The top-level url field is a t.co link; prefer the expanded entity,
	// falling back to a redirect-following request.
	if user.Entities != nil && user.Entities.URL != nil {
		for _, e := range user.Entities.URL.URLs {
			if e.URL == user.URL && e.ExpandedURL != "" {
				user.URL = e.ExpandedURL
			}
		}
	}
	if user.URL != "" && strings.Contains(user.URL, "t.co/") {
		if resolved, err := c.resolveShortURL(ctx, user.URL); err == nil {
			user.URL = resolved
		}
	}

	c.mu.Lock()
	c.userIDs[strings.ToLower(handle)] = user.ID
	c.mu.Unlock()
	return &user, nil
}

// EnrichReferences resolves the tweet's reference chain one hop deep: the
// reply parent, the quoted tweet and the retweeted tweet each get their Data
// field populated. Resolution failures for individual references are
// reported through onMiss (when non-nil) and skipped; a missing reference
// never fails the whole tweet, deeper chains stay linkified. onResolved is
// invoked for every reference resolved, whether taken from the includes or
// fetched from the API, letting callers cache the payload.
func (c *Client) EnrichReferences(ctx context.Context, t *Tweet, onResolved func(*Tweet), onMiss func(id string, err error)) {
	for i := range t.ReferencedTweets {
		ref := &t.ReferencedTweets[i]
		if ref.Data != nil {
			continue
		}
		// The timeline includes may already carry the referenced tweet.
		if t.Includes != nil {
			if hit := findIncludedTweet(t.Includes, ref.ID); hit != nil {
				full := *hit
				attachIncludes(&full, t.Includes)
				expandText(&full)
				ref.Data = &full
				if onResolved != nil {
					onResolved(&full)
				}
				continue
			}
		}
		full, err := c.TweetByID(ctx, ref.ID)
		if err != nil {
			c.logger.Printf("Could not resolve %s reference %s: %v", ref.Type, ref.ID, err)
			if onMiss != nil {
				onMiss(ref.ID, err)
			}
			continue
		}
		ref.Data = full
		if onResolved != nil {
			onResolved(full)
		}
	}
}

func findIncludedTweet(inc *Includes, id string) *Tweet {
	for i := range inc.Tweets {
		if inc.Tweets[i].ID == id {
			return &inc.Tweets[i]
		}
	}
	return nil
}

// userID resolves a handle to its stable id, caching the mapping for the
// lifetime of the client.
func (c *Client) userID(ctx context.Context, handle string) (string, error) {
	key := strings.ToLower(handle)
	c.mu.Lock()
	id, ok := c.userIDs[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	u := fmt.Sprintf("%s/users/by/username/%s", c.base, url.PathEscape(handle))
	var resp userResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return "", err
	}
	if resp.Data == nil || resp.Data.ID == "" {
		return "", fmt.Errorf("user @%s: %w", handle, ErrNotFound)
	}
	c.mu.Lock()
	c.userIDs[key] = resp.Data.ID
	c.mu.Unlock()
	return resp.Data.ID, nil
}

// resolveShortURL follows redirects for a shortened URL and returns the final
// destination.
func (c *Client) resolveShortURL(ctx context.Context, short string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, short, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.Request.URL.String(), nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	if c.admit != nil {
		if err := c.admit(ctx); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp); err != nil {
		return err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// classifyStatus maps HTTP statuses onto the error taxonomy.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("status %d: %w", resp.StatusCode, ErrAuth)
	case resp.StatusCode == http.StatusTooManyRequests:
		rl := &RateLimitError{}
		if v := resp.Header.Get("x-rate-limit-reset"); v != "" {
			if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
				rl.Reset = time.Unix(secs, 0)
			}
		}
		return rl
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
}

// attachIncludes distributes a response-level includes block onto one tweet:
// the author user, the media items matching its attachment keys, and the
// referenced tweet stubs it may need during enrichment.
func attachIncludes(t *Tweet, inc *Includes) {
	if inc == nil {
		return
	}
	out := &Includes{}

	if t.AuthorID != "" {
		for i := range inc.Users {
			if inc.Users[i].ID == t.AuthorID {
				t.Author = inc.Users[i]
				break
			}
		}
	}
	if t.Attachments != nil {
		for _, key := range t.Attachments.MediaKeys {
			for i := range inc.Media {
				if inc.Media[i].MediaKey == key {
					out.Media = append(out.Media, inc.Media[i])
				}
			}
		}
	}
	// Carry referenced tweet payloads along so enrichment can avoid a
	// second fetch.
	for i := range t.ReferencedTweets {
		for j := range inc.Tweets {
			if inc.Tweets[j].ID == t.ReferencedTweets[i].ID {
				out.Tweets = append(out.Tweets, inc.Tweets[j])
			}
		}
	}
	// Referenced tweets need the user table to resolve their own authors.
	out.Users = inc.Users

	if len(out.Media) > 0 || len(out.Tweets) > 0 || len(out.Users) > 0 {
		t.Includes = out
	}
}

// expandText replaces every t.co short URL in the tweet text with its
// expanded destination, using the entity table the API provides.
func expandText(t *Tweet) {
	if t.Entities == nil || len(t.Entities.URLs) == 0 {
		return
	}
	text := t.FullText()
	for _, e := range t.Entities.URLs {
		if e.ExpandedURL == "" {
			continue
		}
		text = strings.ReplaceAll(text, e.URL, e.ExpandedURL)
	}
	if t.NoteTweet != nil && t.NoteTweet.Text != "" {
		t.NoteTweet.Text = text
	} else {
		t.Text = text
	}
}
