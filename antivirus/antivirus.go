// Package antivirus implements the background scan pipeline triggered by
// upload completion: a bounded worker pool streams each object's body to an
// AV daemon over a length-prefixed TCP protocol and publishes the verdict to
// the shared KV cache. Grounded on repo/blob/rclone/rclone_storage.go's
// subprocess/socket plumbing pattern, generalized here to a persistent TCP
// connection per scan instead of a one-shot subprocess call.
package antivirus

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/cvlog"
	"github.com/cloudvault/core/kv"
	"github.com/cloudvault/core/storagekey"
)

var log = cvlog.GetContextLoggerFunc("antivirus")

// Status is a scan's terminal outcome.
type Status string

const (
	StatusClean    Status = "clean"
	StatusInfected Status = "infected"
	StatusSkipped  Status = "skipped"
	StatusError    Status = "error"
)

// Result is the published verdict for one scanned object.
type Result struct {
	Status    Status
	Signature string // set when Status == infected
	Reason    string // set when Status is skipped or error
	ScannedAt time.Time
}

func resultKey(owner, key string) string {
	return "cloud:scan:" + owner + ":" + url.QueryEscape(key)
}

// Store is the narrow object-store dependency: reading the object body and
// its size.
type Store interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, size int64, err error)
}

// Options configures the scanner daemon connection and limits.
type Options struct {
	Enabled       bool
	Host          string
	Port          int
	MaxScanBytes  int64
	SocketTimeout time.Duration
	Concurrency   int
}

// Scanner runs scans against an AV daemon speaking a simple streaming
// protocol: a 4-byte big-endian length prefix per chunk, a zero-length
// chunk terminates the stream, and the daemon replies with a line ending in
// "OK" (clean) or containing "FOUND" (infected).
type Scanner struct {
	store Store
	cache kv.Store
	opts  Options
	sem   chan struct{}
	dial  func(network, address string) (net.Conn, error)
}

// New constructs a Scanner. Concurrency defaults to 2 workers, SocketTimeout
// to 60s, when unset.
func New(store Store, cache kv.Store, opts Options) *Scanner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}

	if opts.SocketTimeout <= 0 {
		opts.SocketTimeout = 60 * time.Second
	}

	return &Scanner{
		store: store,
		cache: cache,
		opts:  opts,
		sem:   make(chan struct{}, opts.Concurrency),
		dial:  net.Dial,
	}
}

// Enqueue runs (or, if the caller wants async dispatch, schedules) a scan
// for owner/key; the facade's upload-complete hook calls this directly and
// relies on the caller to run it in its own goroutine when fire-and-forget
// semantics are wanted.
func (s *Scanner) Enqueue(ctx context.Context, owner, key string) error {
	if !s.opts.Enabled {
		return nil
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	result := s.scan(ctx, owner, key)

	if err := s.cache.Set(ctx, resultKey(owner, key), result, 0); err != nil {
		return cverr.Wrap(err, cverr.KindInternal, "publishing scan result")
	}

	return nil
}

func (s *Scanner) scan(ctx context.Context, owner, key string) Result {
	full := storagekey.JoinKey(owner, key)

	body, size, err := s.store.GetObject(ctx, full)
	if err != nil {
		return Result{Status: StatusError, Reason: "object_unavailable", ScannedAt: time.Now()}
	}
	defer body.Close()

	if s.opts.MaxScanBytes > 0 && size > s.opts.MaxScanBytes {
		return Result{Status: StatusSkipped, Reason: "size_limit", ScannedAt: time.Now()}
	}

	verdict, sig, err := s.streamToDaemon(ctx, body)
	if err != nil {
		log(ctx).Warnf("antivirus scan failed for %s/%s: %v", owner, key, err)
		return Result{Status: StatusError, Reason: "scan_failed", ScannedAt: time.Now()}
	}

	switch verdict {
	case "clean":
		return Result{Status: StatusClean, ScannedAt: time.Now()}
	case "infected":
		return Result{Status: StatusInfected, Signature: sig, ScannedAt: time.Now()}
	default:
		return Result{Status: StatusError, Reason: "unknown_response", ScannedAt: time.Now()}
	}
}

// streamToDaemon sends body as a sequence of 4-byte-length-prefixed chunks
// followed by a zero-length terminator, then reads and parses the daemon's
// reply line.
func (s *Scanner) streamToDaemon(ctx context.Context, body io.Reader) (verdict, signature string, err error) {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))

	conn, err := s.dial("tcp", addr)
	if err != nil {
		return "", "", cverr.Wrap(err, cverr.KindUnavailable, "connecting to antivirus daemon")
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(s.opts.SocketTimeout))
	}

	buf := make([]byte, 64*1024)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if werr := writeChunk(conn, buf[:n]); werr != nil {
				return "", "", werr
			}
		}

		if rerr == io.EOF {
			break
		}

		if rerr != nil {
			return "", "", cverr.Wrap(rerr, cverr.KindInternal, "reading object body for scan")
		}
	}

	if err := writeChunk(conn, nil); err != nil {
		return "", "", err
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", "", cverr.Wrap(err, cverr.KindInternal, "reading antivirus daemon reply")
	}

	line = strings.TrimSpace(line)

	if strings.Contains(line, "FOUND") {
		return "infected", extractSignature(line), nil
	}

	if strings.HasSuffix(line, "OK") {
		return "clean", "", nil
	}

	return "unknown", "", nil
}

func writeChunk(conn net.Conn, data []byte) error {
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(data)))

	if _, err := conn.Write(lenPrefix[:]); err != nil {
		return cverr.Wrap(err, cverr.KindInternal, "writing chunk length prefix")
	}

	if len(data) == 0 {
		return nil
	}

	if _, err := conn.Write(data); err != nil {
		return cverr.Wrap(err, cverr.KindInternal, "writing chunk body")
	}

	return nil
}

// extractSignature pulls the token preceding "FOUND" in a daemon reply like
// "stream: Eicar-Test-Signature FOUND".
func extractSignature(line string) string {
	idx := strings.Index(line, "FOUND")
	if idx <= 0 {
		return ""
	}

	fields := strings.Fields(line[:idx])
	if len(fields) == 0 {
		return ""
	}

	return fields[len(fields)-1]
}

// Lookup reads the published scan result for owner/key, if any.
func Lookup(ctx context.Context, cache kv.Store, owner, key string) (Result, bool, error) {
	var result Result
	ok, err := cache.Get(ctx, resultKey(owner, key), &result)
	if err != nil {
		return Result{}, false, cverr.Wrap(err, cverr.KindInternal, "reading scan result")
	}

	return result, ok, nil
}
