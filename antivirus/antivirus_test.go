package antivirus_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudvault/core/antivirus"
	"github.com/cloudvault/core/kv"
)

type fakeStore struct {
	body []byte
}

func (f fakeStore) GetObject(_ context.Context, _ string) (io.ReadCloser, int64, error) {
	return io.NopCloser(bytes.NewReader(f.body)), int64(len(f.body)), nil
}

// fakeDaemon accepts one connection, drains length-prefixed chunks until
// the zero-length terminator, then writes reply.
func fakeDaemon(t *testing.T, reply string) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)

		for {
			var lenBuf [4]byte
			if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
				return
			}

			n := binary.BigEndian.Uint32(lenBuf[:])
			if n == 0 {
				break
			}

			if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
				return
			}
		}

		conn.Write([]byte(reply + "\n"))
	}()

	return ln
}

func scannerAgainst(t *testing.T, ln net.Listener, store antivirus.Store) (*antivirus.Scanner, kv.Store) {
	t.Helper()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	cache := kv.NewMemoryStore()
	scanner := antivirus.New(store, cache, antivirus.Options{
		Enabled:       true,
		Host:          host,
		Port:          portNum,
		SocketTimeout: 5 * time.Second,
	})

	return scanner, cache
}

func TestScanPublishesCleanResult(t *testing.T) {
	ln := fakeDaemon(t, "stream: OK")
	defer ln.Close()

	scanner, cache := scannerAgainst(t, ln, fakeStore{body: []byte("hello")})

	require.NoError(t, scanner.Enqueue(context.Background(), "u1", "a.txt"))

	result, ok, err := antivirus.Lookup(context.Background(), cache, "u1", "a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, antivirus.StatusClean, result.Status)
}

func TestScanPublishesInfectedResultWithSignature(t *testing.T) {
	ln := fakeDaemon(t, "stream: Eicar-Test-Signature FOUND")
	defer ln.Close()

	scanner, cache := scannerAgainst(t, ln, fakeStore{body: []byte("payload")})

	require.NoError(t, scanner.Enqueue(context.Background(), "u1", "b.txt"))

	result, ok, err := antivirus.Lookup(context.Background(), cache, "u1", "b.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, antivirus.StatusInfected, result.Status)
	require.Equal(t, "Eicar-Test-Signature", result.Signature)
}

func TestScanSkipsOversizedObject(t *testing.T) {
	cache := kv.NewMemoryStore()
	scanner := antivirus.New(fakeStore{body: []byte("0123456789")}, cache, antivirus.Options{
		Enabled:      true,
		Host:         "127.0.0.1",
		Port:         1,
		MaxScanBytes: 5,
	})

	require.NoError(t, scanner.Enqueue(context.Background(), "u1", "big.bin"))

	result, ok, err := antivirus.Lookup(context.Background(), cache, "u1", "big.bin")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, antivirus.StatusSkipped, result.Status)
	require.Equal(t, "size_limit", result.Reason)
}

func TestScanDisabledIsNoOp(t *testing.T) {
	cache := kv.NewMemoryStore()
	scanner := antivirus.New(fakeStore{body: []byte("x")}, cache, antivirus.Options{Enabled: false})

	require.NoError(t, scanner.Enqueue(context.Background(), "u1", "a.txt"))

	_, ok, err := antivirus.Lookup(context.Background(), cache, "u1", "a.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestScanUnreachableDaemonPublishesError(t *testing.T) {
	cache := kv.NewMemoryStore()
	scanner := antivirus.New(fakeStore{body: []byte("x")}, cache, antivirus.Options{
		Enabled:       true,
		Host:          "127.0.0.1",
		Port:          1, // nothing listening
		SocketTimeout: time.Second,
	})

	require.NoError(t, scanner.Enqueue(context.Background(), "u1", "a.txt"))

	result, ok, err := antivirus.Lookup(context.Background(), cache, "u1", "a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, antivirus.StatusError, result.Status)
}
