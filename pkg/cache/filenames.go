package cache

import (
	"fmt"
	"strings"
	"time"
)

// The filenames below are the durable contract of the cache. Any tooling
// that inspects the data dir parses these shapes:
//
//	post       YYYYMMDD_HHMMSS_<handle>_<postid>.json
//	profile    YYYYMMDD_HHMMSS_<handle>_profile.json
//	media      <handle>_<postid>_<n>.<ext>
//	event      nostr_events/event_<eventid>.json
//	not found  tweet_<postid>.not_found
const (
	compactStamp = "20060102_150405"

	eventsDirName    = "nostr_events"
	eventPrefix      = "event_"
	notFoundPrefix   = "tweet_"
	notFoundSuffix   = ".not_found"
	profileMarker    = "profile"
	jsonSuffix       = ".json"
	stampDigits      = 15 // YYYYMMDD_HHMMSS
	stampAndSepWidth = stampDigits + 1
)

// PostFilename builds the artifact name for a tweet observed at createdAt.
func PostFilename(createdAt time.Time, handle, postID string) string {
	return fmt.Sprintf("%s_%s_%s%s", createdAt.UTC().Format(compactStamp), handle, postID, jsonSuffix)
}

// ProfileFilename builds the artifact name for a profile observed at ts.
func ProfileFilename(ts time.Time, handle string) string {
	return fmt.Sprintf("%s_%s_%s%s", ts.UTC().Format(compactStamp), handle, profileMarker, jsonSuffix)
}

// MediaFilename builds the name of media item n of a post.
func MediaFilename(handle, postID string, n int, ext string) string {
	return fmt.Sprintf("%s_%s_%d.%s", handle, postID, n, strings.TrimPrefix(ext, "."))
}

// EventFilename builds the sidecar name for a published event id.
func EventFilename(eventID string) string {
	return eventPrefix + eventID + jsonSuffix
}

// NotFoundFilename builds the negative-cache marker name for a post id.
func NotFoundFilename(postID string) string {
	return notFoundPrefix + postID + notFoundSuffix
}

// postEntry is a parsed post artifact filename.
type postEntry struct {
	Stamp  time.Time
	Handle string
	PostID string
	Name   string
}

// parsePostFilename decodes a post or profile artifact name. It returns
// ok=false for names that do not match the grammar. Profile artifacts are
// returned with PostID == "profile".
func parsePostFilename(name string) (postEntry, bool) {
	if !strings.HasSuffix(name, jsonSuffix) || len(name) <= stampAndSepWidth+len(jsonSuffix) {
		return postEntry{}, false
	}
	stamp, err := time.Parse(compactStamp, name[:stampDigits])
	if err != nil || name[stampDigits] != '_' {
		return postEntry{}, false
	}
	rest := name[stampAndSepWidth : len(name)-len(jsonSuffix)]
	// The trailing id never contains underscores; the handle may.
	sep := strings.LastIndexByte(rest, '_')
	if sep <= 0 || sep == len(rest)-1 {
		return postEntry{}, false
	}
	return postEntry{
		Stamp:  stamp,
		Handle: rest[:sep],
		PostID: rest[sep+1:],
		Name:   name,
	}, true
}

// sanitizeName strips path separators and other hostile bytes from a value
// destined for a filename component.
func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '-'
		}
		return r
	}, s)
}
