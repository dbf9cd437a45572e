package cache

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/douglaz/nostrweet/internal/twitter"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "", 0)
}

func testTweet(id, handle, createdAt string) *twitter.Tweet {
	return &twitter.Tweet{
		ID:        id,
		Text:      "hello world",
		CreatedAt: createdAt,
		Author:    twitter.User{ID: "u1", Username: handle},
	}
}

func TestRecordAndLoadPost(t *testing.T) {
	store, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	tweet := testTweet("100", "alice", "2023-01-15T10:30:00Z")
	path, err := store.RecordPost(tweet)
	require.NoError(t, err)
	assert.Equal(t, "20230115_103000_alice_100.json", filepath.Base(path))

	assert.True(t, store.IsPostCached("100"))
	assert.False(t, store.IsPostCached("101"))

	loaded, err := store.LoadPost("100")
	require.NoError(t, err)
	assert.Equal(t, tweet.ID, loaded.ID)
	assert.Equal(t, tweet.Text, loaded.Text)
	assert.Equal(t, "alice", loaded.Author.Username)
}

func TestRecordPostIdempotent(t *testing.T) {
	store, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	tweet := testTweet("100", "alice", "2023-01-15T10:30:00Z")
	first, err := store.RecordPost(tweet)
	require.NoError(t, err)
	second, err := store.RecordPost(tweet)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	jsonFiles := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" {
			jsonFiles++
		}
	}
	assert.Equal(t, 1, jsonFiles)
}

func TestLatestPostID(t *testing.T) {
	store, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	latest, err := store.LatestPostID("alice")
	require.NoError(t, err)
	assert.Empty(t, latest)

	for _, id := range []string{"98", "100", "99"} {
		_, err := store.RecordPost(testTweet(id, "alice", "2023-01-15T10:30:00Z"))
		require.NoError(t, err)
	}
	// Profiles must not count as posts.
	_, err = store.RecordProfile(&twitter.User{ID: "u1", Username: "alice"})
	require.NoError(t, err)
	// Another author's newer tweet must not leak into alice's resume point.
	_, err = store.RecordPost(testTweet("500", "bob", "2023-01-16T00:00:00Z"))
	require.NoError(t, err)

	latest, err = store.LatestPostID("alice")
	require.NoError(t, err)
	assert.Equal(t, "100", latest)
}

func TestLatestPostIDNumericComparison(t *testing.T) {
	store, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	// "9" sorts after "100" lexicographically; numeric order must win.
	for _, id := range []string{"9", "100"} {
		_, err := store.RecordPost(testTweet(id, "alice", "2023-01-15T10:30:00Z"))
		require.NoError(t, err)
	}
	latest, err := store.LatestPostID("alice")
	require.NoError(t, err)
	assert.Equal(t, "100", latest)
}

func TestNotFoundMarker(t *testing.T) {
	store, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	assert.False(t, store.IsNotFound("50"))
	require.NoError(t, store.MarkNotFound("50"))
	assert.True(t, store.IsNotFound("50"))
	// The marker alone makes the post count as cached.
	assert.True(t, store.IsPostCached("50"))

	_, err = os.Stat(filepath.Join(store.Dir(), "tweet_50.not_found"))
	require.NoError(t, err)
}

func TestRecordEventAndPublishedIndex(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, testLogger())
	require.NoError(t, err)

	sk := nostr.GeneratePrivateKey()
	ev := &nostr.Event{
		CreatedAt: nostr.Timestamp(1700000000),
		Kind:      nostr.KindTextNote,
		Tags: nostr.Tags{
			nostr.Tag{"client", "nostrweet"},
			nostr.Tag{"r", "https://twitter.com/i/status/100"},
		},
		Content: "hello",
	}
	require.NoError(t, ev.Sign(sk))

	assert.False(t, store.IsPostPublished("100"))
	_, err = store.RecordEvent(ev, "100")
	require.NoError(t, err)
	assert.True(t, store.IsPostPublished("100"))

	eventID, ok := store.PublishedEventID("100")
	require.True(t, ok)
	assert.Equal(t, ev.ID, eventID)

	// A fresh store over the same dir must rebuild the index from the
	// sidecar files alone.
	reopened, err := New(dir, testLogger())
	require.NoError(t, err)
	assert.True(t, reopened.IsPostPublished("100"))
	assert.False(t, reopened.IsPostPublished("101"))
}

func TestRecordEventSidecarShape(t *testing.T) {
	store, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	sk := nostr.GeneratePrivateKey()
	ev := &nostr.Event{
		CreatedAt: nostr.Timestamp(1700000000),
		Kind:      nostr.KindTextNote,
		Tags:      nostr.Tags{nostr.Tag{"r", "https://twitter.com/i/status/42"}},
	}
	require.NoError(t, ev.Sign(sk))

	path, err := store.RecordEvent(ev, "42")
	require.NoError(t, err)
	assert.Equal(t, "event_"+ev.ID+".json", filepath.Base(path))
	assert.Equal(t, "nostr_events", filepath.Base(filepath.Dir(path)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded nostr.Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
}

func TestLatestProfileLatestWins(t *testing.T) {
	store, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	prof, err := store.LatestProfile("alice")
	require.NoError(t, err)
	assert.Nil(t, prof)

	_, err = store.RecordProfile(&twitter.User{ID: "u1", Username: "alice", Description: "first"})
	require.NoError(t, err)

	// Artifacts are stamped to the second; write the newer observation with
	// a manufactured future stamp so the ordering is unambiguous.
	newer := ProfileFilename(time.Now().Add(time.Hour), "alice")
	data, err := json.Marshal(&twitter.User{ID: "u1", Username: "alice", Description: "second"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), newer), data, 0640))
	store.Invalidate()

	prof, err = store.LatestProfile("alice")
	require.NoError(t, err)
	require.NotNil(t, prof)
	assert.Equal(t, "second", prof.Description)
}

func TestListPosts(t *testing.T) {
	store, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	for _, id := range []string{"300", "100", "200"} {
		_, err := store.RecordPost(testTweet(id, "alice", "2023-01-15T10:30:00Z"))
		require.NoError(t, err)
	}
	_, err = store.RecordPost(testTweet("400", "bob", "2023-01-15T10:30:00Z"))
	require.NoError(t, err)

	posts, err := store.ListPosts("alice")
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, []string{"100", "200", "300"}, []string{posts[0].PostID, posts[1].PostID, posts[2].PostID})

	all, err := store.ListPosts("")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestClear(t *testing.T) {
	store, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	_, err = store.RecordPost(testTweet("100", "alice", "2023-01-15T10:30:00Z"))
	require.NoError(t, err)
	require.NoError(t, store.MarkNotFound("50"))

	sk := nostr.GeneratePrivateKey()
	ev := &nostr.Event{Kind: nostr.KindTextNote, Tags: nostr.Tags{nostr.Tag{"r", "https://twitter.com/i/status/100"}}}
	require.NoError(t, ev.Sign(sk))
	_, err = store.RecordEvent(ev, "100")
	require.NoError(t, err)

	removed, err := store.Clear()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, 3)
	assert.False(t, store.IsPostCached("100"))
	assert.False(t, store.IsPostPublished("100"))
	assert.False(t, store.IsNotFound("50"))
}

func TestParsePostFilename(t *testing.T) {
	entry, ok := parsePostFilename("20230115_103000_alice_100.json")
	require.True(t, ok)
	assert.Equal(t, "alice", entry.Handle)
	assert.Equal(t, "100", entry.PostID)
	assert.Equal(t, time.Date(2023, 1, 15, 10, 30, 0, 0, time.UTC), entry.Stamp)

	// Handles may contain underscores; the id is the trailing segment.
	entry, ok = parsePostFilename("20230115_103000_under_score_user_100.json")
	require.True(t, ok)
	assert.Equal(t, "under_score_user", entry.Handle)
	assert.Equal(t, "100", entry.PostID)

	for _, name := range []string{
		"garbage.json",
		"20230115_103000_alice_100.txt",
		"tweet_50.not_found",
		"alice_100_0.jpg",
	} {
		_, ok := parsePostFilename(name)
		assert.False(t, ok, name)
	}
}
