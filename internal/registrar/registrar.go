// Package registrar makes third-party package repositories trusted and
// queryable by the target image's package manager: it fetches the vendor
// signing key, converts it into a binary keyring, and writes the apt source
// entry referencing that keyring and the resolved suite.
package registrar

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/edge-platform-tools/tool-provisioner/internal/config"
	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/proverr"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/file"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/logger"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/network"
)

var log = logger.Logger()

// Registrar writes trust artifacts under one installation root.
type Registrar struct {
	root    string
	fetcher *network.Fetcher
}

// New returns a Registrar for the given installation root.
func New(root string) *Registrar {
	return &Registrar{
		root: root,
		fetcher: network.NewFetcher(
			config.DownloadRetries(),
			config.DownloadBackoff(),
			config.DownloadTimeout(),
		),
	}
}

// NewWithFetcher is New with an injected fetcher, used by tests.
func NewWithFetcher(root string, fetcher *network.Fetcher) *Registrar {
	return &Registrar{root: root, fetcher: fetcher}
}

// KeyringPath returns where the trusted keyring for a repo id lives.
func (r *Registrar) KeyringPath(id string) string {
	return filepath.Join(r.root, "usr", "share", "keyrings", id+"-archive-keyring.gpg")
}

// SourceListPath returns where the apt source entry for a repo id lives.
func (r *Registrar) SourceListPath(id string) string {
	return filepath.Join(r.root, "etc", "apt", "sources.list.d", id+".list")
}

// Register fetches the repo's signing key, converts it to a binary keyring and
// writes the source entry for the resolved suite. Calling it again with the
// same inputs produces byte-identical files and reports no change. The
// returned bool is true when any artifact was written, signalling that the
// package index must be refreshed before dependent installs.
func (r *Registrar) Register(ctx context.Context, repo manifest.RepoSource, suite string) (bool, error) {
	keyData, err := r.fetcher.Bytes(ctx, repo.KeyURL)
	if err != nil {
		return false, proverr.New(repo.ID, proverr.StepRegister, proverr.KindFetch,
			fmt.Errorf("fetching signing key %s: %w", repo.KeyURL, err))
	}

	keyring, err := dearmor(keyData)
	if err != nil {
		return false, proverr.New(repo.ID, proverr.StepRegister, proverr.KindKeyFormat, err)
	}

	keyringPath := r.KeyringPath(repo.ID)
	keyringChanged, err := file.WriteIfChanged(keyringPath, keyring, 0o644)
	if err != nil {
		return false, proverr.New(repo.ID, proverr.StepRegister, proverr.KindInstall, err)
	}

	sourceLine := fmt.Sprintf("deb [signed-by=%s] %s %s %s\n",
		r.KeyringPath(repo.ID), repo.URL, suite, repo.Component)
	sourceChanged, err := file.WriteIfChanged(r.SourceListPath(repo.ID), []byte(sourceLine), 0o644)
	if err != nil {
		return false, proverr.New(repo.ID, proverr.StepRegister, proverr.KindInstall, err)
	}

	if keyringChanged || sourceChanged {
		log.Infof("registered repository %s (suite %s, keyring %s)", repo.ID, suite, keyringPath)
		return true, nil
	}
	log.Debugf("repository %s already registered, unchanged", repo.ID)
	return false, nil
}

// dearmor converts key material into the package manager's binary keyring
// format. Vendors publish keys both ASCII-armored (.asc) and already binary
// (.gpg); both are accepted.
func dearmor(keyData []byte) ([]byte, error) {
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(keyData))
	if err != nil {
		// Not armored; try binary keyring format.
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(keyData))
		if err != nil {
			return nil, fmt.Errorf("parsing signing key (tried both armored and binary formats): %w", err)
		}
	}

	if len(entities) == 0 {
		return nil, fmt.Errorf("signing key material contains no keys")
	}

	var buf bytes.Buffer
	for _, entity := range entities {
		if err := entity.Serialize(&buf); err != nil {
			return nil, fmt.Errorf("serializing keyring: %w", err)
		}
	}
	return buf.Bytes(), nil
}
