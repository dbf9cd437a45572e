// Package media downloads tweet attachments at their highest-quality
// rendition and optionally offloads them to content-addressed blob servers.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cavaliergopher/grab/v3"

	"github.com/douglaz/nostrweet/internal/fs"
	"github.com/douglaz/nostrweet/internal/twitter"
	"github.com/douglaz/nostrweet/pkg/blossom"
	"github.com/douglaz/nostrweet/pkg/cache"
	"github.com/douglaz/nostrweet/pkg/pool"
)

// downloadTimeout bounds one media file download.
const downloadTimeout = 120 * time.Second

// maxParallel is the download parallelism within a single tweet.
const maxParallel = 4

// minFreeBytes is the disk-space floor below which downloads are refused.
const minFreeBytes = 512 << 20

// ErrDiskSpace is returned when the data dir's filesystem is nearly full.
// It is fatal-internal: the daemon stops and the operator must resolve it.
var ErrDiskSpace = errors.New("insufficient disk space for media download")

// Downloader fetches media for tweets into the cache dir.
type Downloader struct {
	store   *cache.Store
	blobs   *blossom.Client
	grab    *grab.Client
	http    *http.Client
	logger  *log.Logger
}

// New creates a Downloader. blobs may be an unconfigured client, in which
// case upstream CDN URLs stay canonical.
func New(store *cache.Store, blobs *blossom.Client, logger *log.Logger) *Downloader {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Downloader{
		store:  store,
		blobs:  blobs,
		grab:   grab.NewClient(),
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// SelectURL picks the direct download URL and file extension for a media
// descriptor: photos use the original URL, videos and animated images the
// highest-bitrate MP4 variant, with the preview image as last resort.
func SelectURL(m *twitter.Media) (url, ext string, err error) {
	switch m.Type {
	case twitter.MediaPhoto:
		if m.URL == "" {
			return "", "", fmt.Errorf("photo %s has no URL", m.MediaKey)
		}
		return m.URL, extFromURL(m.URL, "jpg"), nil
	case twitter.MediaVideo, twitter.MediaAnimatedGIF:
		best := bestVariant(m.Variants)
		if best != "" {
			return best, "mp4", nil
		}
		if m.PreviewImageURL != "" {
			return m.PreviewImageURL, "jpg", nil
		}
		return "", "", fmt.Errorf("media %s has no usable variant", m.MediaKey)
	default:
		if m.PreviewImageURL != "" {
			return m.PreviewImageURL, "jpg", nil
		}
		return "", "", fmt.Errorf("unknown media type %q for %s", m.Type, m.MediaKey)
	}
}

// bestVariant returns the MP4 variant with the highest bitrate, or "".
func bestVariant(variants []twitter.MediaVariant) string {
	candidates := make([]twitter.MediaVariant, 0, len(variants))
	for _, v := range variants {
		if v.ContentType == "video/mp4" || hasMP4Path(v.URL) {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].BitRate > candidates[j].BitRate })
	return candidates[0].URL
}

func hasMP4Path(u string) bool {
	for i := 0; i+4 <= len(u); i++ {
		if u[i:i+4] == ".mp4" {
			return true
		}
	}
	return false
}

func extFromURL(u, fallback string) string {
	// Strip query string, then take the extension of the path.
	end := len(u)
	for i := 0; i < len(u); i++ {
		if u[i] == '?' {
			end = i
			break
		}
	}
	for i := end - 1; i >= 0 && u[i] != '/'; i-- {
		if u[i] == '.' {
			return u[i+1 : end]
		}
	}
	return fallback
}

// ProcessTweet downloads the media of the tweet and of its resolved
// references, then returns the canonical URL list for the tweet in
// attachment order. Individual download failures are logged and skipped so
// a broken attachment never blocks publishing the text.
func (d *Downloader) ProcessTweet(ctx context.Context, t *twitter.Tweet) ([]string, error) {
	if avail, err := fs.Available(d.store.Dir()); err == nil && avail < minFreeBytes {
		return nil, fmt.Errorf("%w: %d bytes free", ErrDiskSpace, avail)
	}

	jobs := collectJobs(t)
	if len(jobs) == 0 {
		return nil, nil
	}

	results := make([]string, len(jobs))
	var firstFatal error
	var mu sync.Mutex

	workers := pool.New(maxParallel, len(jobs))
	for i := range jobs {
		i := i
		job := jobs[i]
		workers.Submit(func() {
			url, err := d.fetchOne(ctx, job)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, ErrDiskSpace) || errors.Is(err, context.Canceled) {
					if firstFatal == nil {
						firstFatal = err
					}
					return
				}
				d.logger.Printf("Media download failed for tweet %s item %d: %v", job.postID, job.index, err)
				return
			}
			results[i] = url
		})
	}
	workers.Stop()

	if firstFatal != nil {
		return nil, firstFatal
	}

	urls := make([]string, 0, len(results))
	for _, u := range results {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// job is one media item to fetch.
type job struct {
	handle string
	postID string
	index  int
	media  *twitter.Media
}

// collectJobs gathers media descriptors from the tweet and one hop of its
// reference chain. Referenced media is keyed by the referenced tweet's own
// handle and id, matching how that tweet is cached.
func collectJobs(t *twitter.Tweet) []job {
	var jobs []job
	add := func(owner *twitter.Tweet) {
		if owner.Includes == nil {
			return
		}
		for i := range owner.Includes.Media {
			jobs = append(jobs, job{
				handle: owner.Author.Username,
				postID: owner.ID,
				index:  i,
				media:  &owner.Includes.Media[i],
			})
		}
	}
	add(t)
	for i := range t.ReferencedTweets {
		if data := t.ReferencedTweets[i].Data; data != nil {
			add(data)
		}
	}
	return jobs
}

// fetchOne downloads one item (skipping when already cached with a matching
// size) and returns its canonical URL: the blob server location when an
// upload succeeded, the upstream CDN URL otherwise.
func (d *Downloader) fetchOne(ctx context.Context, j job) (string, error) {
	srcURL, ext, err := SelectURL(j.media)
	if err != nil {
		return "", err
	}
	path := d.store.MediaPath(j.handle, j.postID, j.index, ext)

	if !d.isCached(ctx, path, srcURL) {
		if err := d.download(ctx, srcURL, path); err != nil {
			return "", err
		}
	}

	if d.blobs != nil && d.blobs.Configured() {
		if blobURL, err := d.blobs.UploadFile(ctx, path); err == nil {
			return blobURL, nil
		}
		// Upload failed everywhere: fall back to the upstream URL, the
		// event is still publishable.
		d.logger.Printf("Falling back to upstream URL for %s", path)
	}
	return srcURL, nil
}

// isCached reports whether the target file already exists and, when the
// server advertises a length, whether the sizes match.
func (d *Downloader) isCached(ctx context.Context, path, srcURL string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, srcURL, nil)
	if err != nil {
		return true
	}
	resp, err := d.http.Do(req)
	if err != nil {
		// Length unavailable: trust presence.
		return true
	}
	_ = resp.Body.Close()
	if resp.ContentLength <= 0 {
		return true
	}
	return info.Size() == resp.ContentLength
}

// download fetches srcURL to path via a temp file so cancellation or
// failure never leaves a partial artifact behind.
func (d *Downloader) download(ctx context.Context, srcURL, path string) error {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	part := path + ".part"
	req, err := grab.NewRequest(part, srcURL)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)

	resp := d.grab.Do(req)
	if err := resp.Err(); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("download of %s failed: %w", srcURL, err)
	}
	if err := os.Rename(part, path); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	d.logger.Printf("Downloaded %s (%d bytes)", path, resp.Size())
	return nil
}
