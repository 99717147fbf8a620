package ccd

import (
	"context"
	"hash/fnv"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const imagePrefetchTimeout = 30 * time.Second

// ImagePrefetcher downloads resolved preview URLs into an on-device disk
// cache so the carousel/gesture UI (out of this core's scope) can display
// them without a network round trip (§4.3.3 "Results that arrive as URLs
// are additionally enqueued into an image prefetch worker that downloads
// the artifact into an on-device disk cache").
type ImagePrefetcher struct {
	dir    string
	client *http.Client
	jobs   chan string
	done   chan struct{}
}

// NewImagePrefetcher starts workerCount background downloaders writing
// into dir.
func NewImagePrefetcher(dir string, client *http.Client, workerCount int) *ImagePrefetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if workerCount <= 0 {
		workerCount = 4
	}
	p := &ImagePrefetcher{
		dir:    dir,
		client: client,
		jobs:   make(chan string, 1024),
		done:   make(chan struct{}),
	}
	for i := 0; i < workerCount; i++ {
		go p.worker()
	}
	return p
}

// Enqueue schedules url for download. It never blocks: when the queue is
// saturated the url is dropped and logged -- acceptable since this is
// best-effort prefetch, never the interactive path.
func (p *ImagePrefetcher) Enqueue(url string) {
	select {
	case p.jobs <- url:
	default:
		log.Printf("ccd: image prefetch queue full, dropping %s", url)
	}
}

func (p *ImagePrefetcher) Close() { close(p.done) }

func (p *ImagePrefetcher) worker() {
	for {
		select {
		case <-p.done:
			return
		case url := <-p.jobs:
			p.download(url)
		}
	}
}

func (p *ImagePrefetcher) download(url string) {
	ctx, cancel := context.WithTimeout(context.Background(), imagePrefetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Printf("ccd: image prefetch build request: %v", err)
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		log.Printf("ccd: image prefetch fetch %s: %v", url, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("ccd: image prefetch %s returned %d", url, resp.StatusCode)
		return
	}

	dest := filepath.Join(p.dir, diskCacheFilename(url))
	f, err := os.Create(dest)
	if err != nil {
		log.Printf("ccd: image prefetch create %s: %v", dest, err)
		return
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		log.Printf("ccd: image prefetch write %s: %v", dest, err)
	}
}

func diskCacheFilename(url string) string {
	h := fnv.New32a()
	h.Write([]byte(url))
	return strconv.FormatUint(uint64(h.Sum32()), 16)
}
