package directory

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/storagekey"
)

// SessionKind distinguishes an encrypted-folder unlock session from a
// hidden-folder reveal session; the two are kept in separate KV namespaces.
type SessionKind string

// The two session namespaces.
const (
	EncryptedSession SessionKind = "encrypted-folder"
	HiddenSession    SessionKind = "hidden-folder"
)

const (
	encryptedSessionKind = EncryptedSession
	hiddenSessionKind    = HiddenSession
)

// session is the KV-held unlock/reveal session.
type session struct {
	Token      string `json:"token"`
	FolderPath string `json:"folderPath"`
	FolderKey  string `json:"folderKey"` // base64
	ExpiresAt  int64  `json:"expiresAt"` // unix seconds
}

func sessionKey(kind SessionKind, owner, path string) string {
	prefix := "cloud:encrypted-folder:session:"
	if kind == hiddenSessionKind {
		prefix = "cloud:hidden-folder:session:"
	}

	return prefix + owner + ":" + path
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// EncryptFolder creates a new folder key and manifest entry for dir. When
// creating is true (via CreateDirectory), the directory need not already
// exist; when converting an existing directory to encrypted, the caller
// must have verified at least one object exists under dir first.
func (s *Service) EncryptFolder(ctx context.Context, owner, dir, passphrase string, creating bool) error {
	dir = storagekey.NormalizeDir(dir)

	m, err := s.loadManifest(ctx, owner, encryptedManifestKind)
	if err != nil {
		return err
	}

	if _, exists := m.Folders[dir]; exists {
		return cverr.Conflict("directory %q is already encrypted", dir)
	}

	entry, _, err := wrapFolderKey(passphrase)
	if err != nil {
		return err
	}

	m.Folders[dir] = entry

	return s.saveManifest(ctx, owner, encryptedManifestKind, m)
}

// DecryptFolder verifies passphrase against dir's existing entry and
// removes it. Objects under dir are left untouched.
func (s *Service) DecryptFolder(ctx context.Context, owner, dir, passphrase string) error {
	return s.removeManifestEntry(ctx, owner, encryptedManifestKind, dir, passphrase)
}

// Hide mirrors EncryptFolder for the hidden-folder manifest: the entry's
// folder key is wrapped with passphrase exactly as for an encrypted folder,
// so Reveal needs the same passphrase, and hidden folders reuse the same
// manifest shape and unlock/session machinery for a uniform access-check
// path.
func (s *Service) Hide(ctx context.Context, owner, dir, passphrase string) error {
	dir = storagekey.NormalizeDir(dir)

	m, err := s.loadManifest(ctx, owner, hiddenManifestKind)
	if err != nil {
		return err
	}

	if _, exists := m.Folders[dir]; exists {
		return cverr.Conflict("directory %q is already hidden", dir)
	}

	entry, _, err := wrapFolderKey(passphrase)
	if err != nil {
		return err
	}

	m.Folders[dir] = entry

	return s.saveManifest(ctx, owner, hiddenManifestKind, m)
}

// Unhide reverses Hide.
func (s *Service) Unhide(ctx context.Context, owner, dir, passphrase string) error {
	return s.removeManifestEntry(ctx, owner, hiddenManifestKind, dir, passphrase)
}

func (s *Service) removeManifestEntry(ctx context.Context, owner string, kind manifestKind, dir, passphrase string) error {
	dir = storagekey.NormalizeDir(dir)

	m, err := s.loadManifest(ctx, owner, kind)
	if err != nil {
		return err
	}

	entry, ok := m.Folders[dir]
	if !ok {
		return cverr.NotFound("directory %q is not encrypted", dir)
	}

	if _, err := unwrapFolderKey(entry, passphrase); err != nil {
		return err
	}

	delete(m.Folders, dir)

	return s.saveManifest(ctx, owner, kind, m)
}

// Unlock resolves dir against the encrypted manifest (exact match, else
// longest-matching ancestor), verifies passphrase, and issues a session
// valid for both the matched folder path and dir itself.
func (s *Service) Unlock(ctx context.Context, owner, dir, passphrase string) (token string, expiresAt time.Time, err error) {
	return s.unlockKind(ctx, owner, encryptedManifestKind, encryptedSessionKind, dir, passphrase)
}

func (s *Service) unlockKind(ctx context.Context, owner string, mk manifestKind, sk SessionKind, dir, passphrase string) (string, time.Time, error) {
	dir = storagekey.NormalizeDir(dir)

	m, err := s.loadManifest(ctx, owner, mk)
	if err != nil {
		return "", time.Time{}, err
	}

	matched := nearestEncryptingAncestor(m, dir)
	if matched == "" && mk == encryptedManifestKind {
		return "", time.Time{}, cverr.NotFound("no encrypted folder found for %q", dir)
	}

	if matched == "" {
		return "", time.Time{}, cverr.NotFound("no hidden folder found for %q", dir)
	}

	folderKey, err := unwrapFolderKey(m.Folders[matched], passphrase)
	if err != nil {
		return "", time.Time{}, err
	}

	tok, err := newToken()
	if err != nil {
		return "", time.Time{}, cverr.Wrap(err, cverr.KindInternal, "generating session token")
	}

	expires := time.Now().Add(s.sessionTTL)

	sess := session{
		Token:      tok,
		FolderPath: matched,
		FolderKey:  base64.StdEncoding.EncodeToString(folderKey),
		ExpiresAt:  expires.Unix(),
	}

	if err := s.cache.Set(ctx, sessionKey(sk, owner, matched), sess, s.sessionTTL); err != nil {
		return "", time.Time{}, cverr.Wrap(err, cverr.KindInternal, "storing session")
	}

	if dir != matched {
		if err := s.cache.Set(ctx, sessionKey(sk, owner, dir), sess, s.sessionTTL); err != nil {
			return "", time.Time{}, cverr.Wrap(err, cverr.KindInternal, "storing child session")
		}
	}

	return tok, expires, nil
}

// Lock removes every unlock session for dir and its descendants.
func (s *Service) Lock(ctx context.Context, owner, dir string) error {
	_, err := s.cache.DeleteByPattern(ctx, sessionKey(encryptedSessionKind, owner, dir)+"*")
	return err
}

// Reveal mirrors Unlock for hidden folders, with one extra resolution step:
// when dir has no exact/ancestor match in the hidden manifest, it searches
// every descendant hidden folder unlockable by passphrase and, for however
// many match, issues one shared token with a session registered under each
// matched descendant's own path — granting access to all of them, not just
// the first one found.
func (s *Service) Reveal(ctx context.Context, owner, dir, passphrase string) (token string, expiresAt time.Time, err error) {
	dir = storagekey.NormalizeDir(dir)

	m, err := s.loadManifest(ctx, owner, hiddenManifestKind)
	if err != nil {
		return "", time.Time{}, err
	}

	if nearestEncryptingAncestor(m, dir) != "" {
		return s.unlockKind(ctx, owner, hiddenManifestKind, hiddenSessionKind, dir, passphrase)
	}

	var matched []string

	for _, candidate := range descendantsOf(m, dir) {
		if _, err := unwrapFolderKey(m.Folders[candidate], passphrase); err == nil {
			matched = append(matched, candidate)
		}
	}

	if len(matched) == 0 {
		return "", time.Time{}, cverr.NotFound("no hidden folder found under %q", dir)
	}

	return s.grantSessionForAll(ctx, owner, hiddenSessionKind, m, matched, passphrase)
}

// grantSessionForAll issues one shared token and registers a session under
// each path in paths, each keyed to its own decrypted folder key (distinct
// hidden/encrypted folders under the same passphrase still each wrap their
// own independently generated key).
func (s *Service) grantSessionForAll(ctx context.Context, owner string, sk SessionKind, m manifest, paths []string, passphrase string) (string, time.Time, error) {
	tok, err := newToken()
	if err != nil {
		return "", time.Time{}, cverr.Wrap(err, cverr.KindInternal, "generating session token")
	}

	expires := time.Now().Add(s.sessionTTL)

	for _, p := range paths {
		folderKey, err := unwrapFolderKey(m.Folders[p], passphrase)
		if err != nil {
			return "", time.Time{}, err
		}

		sess := session{
			Token:      tok,
			FolderPath: p,
			FolderKey:  base64.StdEncoding.EncodeToString(folderKey),
			ExpiresAt:  expires.Unix(),
		}

		if err := s.cache.Set(ctx, sessionKey(sk, owner, p), sess, s.sessionTTL); err != nil {
			return "", time.Time{}, cverr.Wrap(err, cverr.KindInternal, "storing session")
		}
	}

	return tok, expires, nil
}

// Conceal is Lock's hidden-folder counterpart.
func (s *Service) Conceal(ctx context.Context, owner, dir string) error {
	_, err := s.cache.DeleteByPattern(ctx, sessionKey(hiddenSessionKind, owner, dir)+"*")
	return err
}

// ValidateSession reads the session at path, returning ok=false if missing,
// the token mismatches, or it has expired (deleting the key on expiry).
func (s *Service) ValidateSession(ctx context.Context, kind SessionKind, owner, path, token string) (bool, error) {
	path = storagekey.NormalizeDir(path)

	var sess session
	ok, err := s.cache.Get(ctx, sessionKey(kind, owner, path), &sess)
	if err != nil {
		return false, cverr.Wrap(err, cverr.KindInternal, "reading session")
	}

	if !ok {
		return false, nil
	}

	if sess.Token != token {
		return false, nil
	}

	if time.Now().Unix() > sess.ExpiresAt {
		_ = s.cache.Delete(ctx, sessionKey(kind, owner, path))
		return false, nil
	}

	return true, nil
}

// CheckAccess walks the encrypted-folder manifest to find the nearest
// encrypting ancestor of path; if one exists and token does not validate
// against it, access is denied.
func (s *Service) CheckAccess(ctx context.Context, owner, path, token string) error {
	path = storagekey.NormalizeDir(path)

	m, err := s.loadManifest(ctx, owner, encryptedManifestKind)
	if err != nil {
		return err
	}

	ancestor := nearestEncryptingAncestor(m, path)
	if ancestor == "" {
		return nil
	}

	if token == "" {
		return cverr.NotFound("path %q does not exist", path)
	}

	ok, err := s.ValidateSession(ctx, encryptedSessionKind, owner, ancestor, token)
	if err != nil {
		return err
	}

	if !ok {
		return cverr.NotFound("path %q does not exist", path)
	}

	return nil
}
