// Package cache implements the filesystem-backed state of the bridge. The
// filenames are the index: what has been downloaded and what has been
// published is derived entirely from artifacts under the data dir, so a
// restarted process resumes exactly where the previous one stopped.
package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/douglaz/nostrweet/internal/twitter"
)

// Store provides the cache-as-state operations over one data dir.
type Store struct {
	dir    string
	logger *log.Logger

	mu      sync.Mutex
	names   []string          // memoized data dir listing, nil when stale
	pubByID map[string]string // post id -> event id, derived from sidecars
}

// New opens (creating if needed) the data dir and rebuilds the published
// index by scanning the event sidecars.
func New(dir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, eventsDirName), 0750); err != nil {
		return nil, fmt.Errorf("failed to create events dir: %w", err)
	}
	s := &Store{dir: dir, logger: logger}
	s.sweepTempFiles()
	if err := s.rebuildPublishedIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// sweepTempFiles removes write-temp leftovers from a crashed process. The
// rename in writeJSON is atomic, so anything still named .tmp-* or .part
// never became an artifact.
func (s *Store) sweepTempFiles() {
	for _, dir := range []string{s.dir, filepath.Join(s.dir, eventsDirName)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, ".tmp-") || strings.HasSuffix(name, ".part") {
				if err := os.Remove(filepath.Join(dir, name)); err == nil {
					s.logger.Printf("Removed stale temp file %s", name)
				}
			}
		}
	}
}

// Dir returns the data dir root.
func (s *Store) Dir() string { return s.dir }

// Invalidate drops the memoized directory listing. Workers call this at the
// start of each cycle so repeated predicates within the cycle share one scan.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.names = nil
	s.mu.Unlock()
}

// list returns the memoized data dir listing, scanning at most once between
// Invalidate calls.
func (s *Store) list() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names != nil {
		return s.names, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	s.names = names
	return names, nil
}

// IsPostCached reports whether a post artifact or a not-found marker exists
// for the id. Not-found markers take precedence over re-fetch attempts.
func (s *Store) IsPostCached(postID string) bool {
	if s.IsNotFound(postID) {
		return true
	}
	names, err := s.list()
	if err != nil {
		return false
	}
	suffix := "_" + postID + jsonSuffix
	for _, name := range names {
		if strings.HasSuffix(name, suffix) {
			if _, ok := parsePostFilename(name); ok {
				return true
			}
		}
	}
	return false
}

// IsNotFound reports whether the post carries a negative-cache marker.
func (s *Store) IsNotFound(postID string) bool {
	_, err := os.Stat(filepath.Join(s.dir, NotFoundFilename(postID)))
	return err == nil
}

// IsPostPublished reports whether an event sidecar references the post.
func (s *Store) IsPostPublished(postID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pubByID[postID]
	return ok
}

// PublishedEventID returns the event id recorded for a post, if any.
func (s *Store) PublishedEventID(postID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pubByID[postID]
	return id, ok
}

// LatestPostID returns the highest post id cached for handle, or "" when the
// handle has no post artifacts. Ids are compared numerically; ids that do
// not parse fall back to string comparison.
func (s *Store) LatestPostID(handle string) (string, error) {
	names, err := s.list()
	if err != nil {
		return "", err
	}
	latest := ""
	for _, name := range names {
		entry, ok := parsePostFilename(name)
		if !ok || entry.PostID == profileMarker {
			continue
		}
		if !strings.EqualFold(entry.Handle, handle) {
			continue
		}
		if latest == "" || idLess(latest, entry.PostID) {
			latest = entry.PostID
		}
	}
	return latest, nil
}

// idLess reports a < b for snowflake ids.
func idLess(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// RecordPost persists the tweet JSON under the convention filename. The
// write is atomic (temp file + rename) and idempotent: an existing artifact
// for the id is left untouched.
func (s *Store) RecordPost(t *twitter.Tweet) (string, error) {
	if s.IsPostCached(t.ID) {
		if path, ok := s.findPostFile(t.ID); ok {
			return path, nil
		}
	}
	created := t.CreatedTime()
	if created.IsZero() {
		created = time.Now().UTC()
	}
	name := PostFilename(created, sanitizeName(t.Author.Username), sanitizeName(t.ID))
	path := filepath.Join(s.dir, name)
	if err := s.writeJSON(path, t); err != nil {
		return "", err
	}
	s.Invalidate()
	s.logger.Printf("Saved tweet %s to %s", t.ID, name)
	return path, nil
}

// LoadPost reads a cached post artifact back.
func (s *Store) LoadPost(postID string) (*twitter.Tweet, error) {
	path, ok := s.findPostFile(postID)
	if !ok {
		return nil, fmt.Errorf("no cached artifact for post %s", postID)
	}
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var t twitter.Tweet
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &t, nil
}

func (s *Store) findPostFile(postID string) (string, bool) {
	names, err := s.list()
	if err != nil {
		return "", false
	}
	suffix := "_" + postID + jsonSuffix
	for _, name := range names {
		if strings.HasSuffix(name, suffix) {
			if _, ok := parsePostFilename(name); ok {
				return filepath.Join(s.dir, name), true
			}
		}
	}
	return "", false
}

// RecordProfile persists a profile artifact stamped with the current time.
// Profiles are latest-wins on read; older artifacts are not removed.
func (s *Store) RecordProfile(u *twitter.User) (string, error) {
	name := ProfileFilename(time.Now(), sanitizeName(u.Username))
	path := filepath.Join(s.dir, name)
	if err := s.writeJSON(path, u); err != nil {
		return "", err
	}
	s.Invalidate()
	return path, nil
}

// LatestProfile loads the most recently observed profile for handle, or nil
// when none is cached.
func (s *Store) LatestProfile(handle string) (*twitter.User, error) {
	names, err := s.list()
	if err != nil {
		return nil, err
	}
	var best *postEntry
	for _, name := range names {
		entry, ok := parsePostFilename(name)
		if !ok || entry.PostID != profileMarker {
			continue
		}
		if !strings.EqualFold(entry.Handle, handle) {
			continue
		}
		if best == nil || entry.Stamp.After(best.Stamp) {
			e := entry
			best = &e
		}
	}
	if best == nil {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(s.dir, best.Name)) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read profile artifact: %w", err)
	}
	var u twitter.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to parse profile artifact: %w", err)
	}
	return &u, nil
}

// RecordEvent persists the signed event as a sidecar and indexes it against
// the post id. The sidecar's presence is what suppresses re-publication.
func (s *Store) RecordEvent(ev *nostr.Event, postID string) (string, error) {
	path := filepath.Join(s.dir, eventsDirName, EventFilename(ev.ID))
	if err := s.writeJSON(path, ev); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.pubByID[postID] = ev.ID
	s.mu.Unlock()
	s.logger.Printf("Saved event %s for tweet %s", ev.ID, postID)
	return path, nil
}

// MarkNotFound records the permanent negative-cache marker for a post.
func (s *Store) MarkNotFound(postID string) error {
	path := filepath.Join(s.dir, NotFoundFilename(sanitizeName(postID)))
	if err := os.WriteFile(path, nil, 0640); err != nil { // #nosec G306
		return fmt.Errorf("failed to write not-found marker for %s: %w", postID, err)
	}
	s.Invalidate()
	return nil
}

// MediaPath returns the full path for media item n of a post.
func (s *Store) MediaPath(handle, postID string, n int, ext string) string {
	return filepath.Join(s.dir, MediaFilename(sanitizeName(handle), sanitizeName(postID), n, ext))
}

// PostSummary describes one cached post for listing purposes.
type PostSummary struct {
	Handle   string
	PostID   string
	Observed time.Time
}

// ListPosts enumerates cached posts, optionally restricted to one handle,
// ordered by ascending post id. Derived purely from filenames.
func (s *Store) ListPosts(handle string) ([]PostSummary, error) {
	names, err := s.list()
	if err != nil {
		return nil, err
	}
	var out []PostSummary
	for _, name := range names {
		entry, ok := parsePostFilename(name)
		if !ok || entry.PostID == profileMarker {
			continue
		}
		if handle != "" && !strings.EqualFold(entry.Handle, handle) {
			continue
		}
		out = append(out, PostSummary{Handle: entry.Handle, PostID: entry.PostID, Observed: entry.Stamp})
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].PostID, out[j].PostID) })
	return out, nil
}

// Clear removes every cache artifact: posts, profiles, media, markers and
// event sidecars. The dir itself is kept, as are hidden files such as the
// persisted signing key.
func (s *Store) Clear() (int, error) {
	removed := 0
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read data dir: %w", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	eventsDir := filepath.Join(s.dir, eventsDirName)
	sidecars, err := os.ReadDir(eventsDir)
	if err == nil {
		for _, e := range sidecars {
			if err := os.Remove(filepath.Join(eventsDir, e.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}
	s.mu.Lock()
	s.names = nil
	s.pubByID = make(map[string]string)
	s.mu.Unlock()
	return removed, nil
}

// writeJSON writes v atomically: marshal, write to a temp file in the target
// dir, then rename over the final path so readers never see partial JSON.
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}

// rebuildPublishedIndex scans nostr_events/ and reconstructs the post id ->
// event id mapping from the "r" tags of each sidecar. The index is purely
// derived state: deleting it costs one scan, nothing more.
func (s *Store) rebuildPublishedIndex() error {
	index := make(map[string]string)
	eventsDir := filepath.Join(s.dir, eventsDirName)
	entries, err := os.ReadDir(eventsDir)
	if err != nil {
		return fmt.Errorf("failed to scan events dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, eventPrefix) || !strings.HasSuffix(name, jsonSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(eventsDir, name)) // #nosec G304
		if err != nil {
			s.logger.Printf("Skipping unreadable sidecar %s: %v", name, err)
			continue
		}
		var ev nostr.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Printf("Skipping malformed sidecar %s: %v", name, err)
			continue
		}
		for _, tag := range ev.Tags {
			if len(tag) < 2 || tag[0] != "r" {
				continue
			}
			if id, err := twitter.ParseTweetID(tag[1]); err == nil {
				index[id] = ev.ID
				break
			}
		}
	}
	s.mu.Lock()
	s.pubByID = index
	s.mu.Unlock()
	if len(index) > 0 {
		s.logger.Printf("Rebuilt published index: %d events", len(index))
	}
	return nil
}
