package intel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Loader owns the threat-intel corpus lifecycle: initial load, hot reload
// on file change (fsnotify plus an mtime poll fallback), and the
// keep-old-on-failure rule. Readers take snapshots through Corpus().
type Loader struct {
	dir             string
	extraPorts      []int
	reloadInterval  time.Duration
	logger          zerolog.Logger
	onReloadFailure func(err error)

	current     atomic.Pointer[Corpus]
	version     atomic.Int64
	fingerprint string
}

// NewLoader creates a loader for <dir>/database.json and
// <dir>/malicious_ips.txt. onReloadFailure is invoked when a reload is
// rejected; the previously loaded corpus stays in effect.
func NewLoader(dir string, extraPorts []int, reloadInterval time.Duration, logger zerolog.Logger, onReloadFailure func(err error)) *Loader {
	if reloadInterval <= 0 {
		reloadInterval = time.Minute
	}
	l := &Loader{
		dir:             dir,
		extraPorts:      extraPorts,
		reloadInterval:  reloadInterval,
		logger:          logger.With().Str("component", "intel").Logger(),
		onReloadFailure: onReloadFailure,
	}
	l.current.Store(EmptyCorpus(extraPorts))
	return l
}

// Corpus returns the current snapshot. Never nil.
func (l *Loader) Corpus() *Corpus {
	return l.current.Load()
}

// Load performs the initial corpus load. A missing directory is not an
// error (the agent can run with an empty corpus from the start); a
// malformed file is.
func (l *Loader) Load() error {
	corpus, fp, err := l.build()
	if err != nil {
		return err
	}
	l.install(corpus, fp)
	l.logger.Info().
		Int("iocs", corpus.IoCCount()).
		Int("patterns", len(corpus.Patterns)).
		Msg("Threat intelligence corpus loaded")
	return nil
}

// Watch reloads the corpus when the intel files change. It combines an
// fsnotify watcher with a periodic mtime check, because editors and
// provisioning tools frequently replace files in ways a watcher on the
// old inode misses.
func (l *Loader) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to create corpus watcher, falling back to polling only")
	} else {
		defer watcher.Close()
		if err := watcher.Add(l.dir); err != nil {
			l.logger.Warn().Err(err).Str("dir", l.dir).Msg("Failed to watch intel directory")
		}
	}

	ticker := time.NewTicker(l.reloadInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				l.maybeReload()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			l.logger.Warn().Err(err).Msg("Corpus watcher error")
		case <-ticker.C:
			l.maybeReload()
		}
	}
}

// maybeReload reloads only when the on-disk fingerprint changed. A reload
// with unchanged files is a no-op: no alert, same corpus version.
func (l *Loader) maybeReload() {
	fp := l.snapshotFingerprint()
	if fp == l.fingerprint {
		return
	}

	corpus, fp, err := l.build()
	if err != nil {
		l.logger.Error().Err(err).Msg("Corpus reload failed, keeping previous corpus")
		// Remember the bad fingerprint so a broken file does not
		// re-alert every poll until it changes again.
		l.fingerprint = fp
		if l.onReloadFailure != nil {
			l.onReloadFailure(err)
		}
		return
	}

	l.install(corpus, fp)
	l.logger.Info().
		Int64("version", corpus.Version).
		Int("iocs", corpus.IoCCount()).
		Int("patterns", len(corpus.Patterns)).
		Msg("Threat intelligence corpus reloaded")
}

func (l *Loader) install(c *Corpus, fingerprint string) {
	c.Version = l.version.Add(1)
	l.fingerprint = fingerprint
	l.current.Store(c)
}

func (l *Loader) build() (*Corpus, string, error) {
	corpus := EmptyCorpus(l.extraPorts)
	fp := l.snapshotFingerprint()

	if err := corpus.parseDatabase(filepath.Join(l.dir, "database.json")); err != nil {
		return nil, fp, err
	}
	if err := corpus.parseIPList(filepath.Join(l.dir, "malicious_ips.txt")); err != nil {
		return nil, fp, err
	}
	return corpus, fp, nil
}

// snapshotFingerprint summarizes mtime+size of both intel files.
func (l *Loader) snapshotFingerprint() string {
	fp := ""
	for _, name := range []string{"database.json", "malicious_ips.txt"} {
		path := filepath.Join(l.dir, name)
		st, err := os.Stat(path)
		if err != nil {
			fp += name + ":absent;"
			continue
		}
		fp += fmt.Sprintf("%s:%d:%d;", name, st.ModTime().UnixNano(), st.Size())
	}
	return fp
}
