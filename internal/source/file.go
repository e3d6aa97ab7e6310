package source

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	internalerrors "github.com/rcourtman/claimguard/internal/errors"
	"github.com/rcourtman/claimguard/pkg/ensure"
)

// SignatureSuffix is appended to the document path to find its detached
// signature.
const SignatureSuffix = ".sig"

// FileOptions configures a File source.
type FileOptions struct {
	// PublicKey enables detached signature verification. A document whose
	// signature does not verify is rejected.
	PublicKey ed25519.PublicKey
	// TrustUnsigned marks documents trusted when no public key is set.
	TrustUnsigned bool
	Logger        *zerolog.Logger
}

// File reads claims from a document on the local filesystem.
type File struct {
	path    string
	sigPath string
	opts    FileOptions
	logger  zerolog.Logger
}

// NewFile returns a source for the document at path.
func NewFile(path string, opts FileOptions) *File {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &File{
		path:    path,
		sigPath: path + SignatureSuffix,
		opts:    opts,
		logger:  logger.With().Str("source", "file").Str("path", path).Logger(),
	}
}

// Path returns the document path.
func (f *File) Path() string { return f.path }

// Fetch reads, verifies and parses the document.
func (f *File) Fetch(ctx context.Context, req ensure.Request) (*ensure.ClaimSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if info, statErr := os.Stat(f.path); statErr == nil && info.IsDir() {
			return nil, internalerrors.WrapConfigError("read claim document", f.path, fmt.Errorf("%w: path is a directory", internalerrors.ErrInvalidInput))
		}
		return nil, internalerrors.WrapReadError("read claim document", f.path, err)
	}

	trusted := f.opts.TrustUnsigned
	if len(f.opts.PublicKey) > 0 {
		sig, err := os.ReadFile(f.sigPath)
		if err != nil {
			return nil, internalerrors.WrapVerificationError("read signature", f.sigPath, err)
		}
		if err := VerifyDetached(f.opts.PublicKey, data, sig); err != nil {
			return nil, internalerrors.WrapVerificationError("verify claim document", f.path, err)
		}
		trusted = true
	}

	set, err := ParseDocument(data, req.Product)
	if err != nil {
		return nil, internalerrors.WrapMalformedError("parse claim document", f.path, err)
	}
	set.Trusted = trusted
	set.FetchedAt = time.Now()

	f.logger.Trace().
		Str("user_agent", req.UserAgent).
		Int("products", len(set.Products)).
		Bool("trusted", trusted).
		Msg("claim document read")
	return set, nil
}

// Watch calls trigger whenever the document or its signature is written,
// created or renamed. The parent directory is watched so editors that
// replace the file are noticed.
func (f *File) Watch(ctx context.Context, trigger func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	f.logger.Debug().Str("dir", dir).Msg("watching claim document")

	docName := filepath.Base(f.path)
	sigName := filepath.Base(f.sigPath)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			name := filepath.Base(event.Name)
			if name != docName && name != sigName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				f.logger.Debug().Str("event", event.Op.String()).Msg("claim document changed")
				trigger()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			f.logger.Warn().Err(err).Msg("claim document watcher error")
		}
	}
}
