package api

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CertReloader serves a TLS key pair and swaps it when either file changes
// on disk. A reload that fails keeps the previous pair.
type CertReloader struct {
	certFile string
	keyFile  string

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher *fsnotify.Watcher
	done    chan struct{}
	closeMu sync.Once
}

// NewCertReloader loads the pair once. Call Watch to follow changes.
func NewCertReloader(certFile, keyFile string) (*CertReloader, error) {
	c := &CertReloader{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		done:     make(chan struct{}),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload reads both files again.
func (c *CertReloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(c.certFile, c.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	c.mu.Lock()
	c.cert = &cert
	c.mu.Unlock()
	slog.Info("CertReloader.Reload: certificate loaded", "cert_file", c.certFile)
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (c *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cert, nil
}

// Watch starts following the files. The parent directories are watched
// rather than the files, so replacing a file by rename is seen too.
func (c *CertReloader) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dirs := map[string]struct{}{
		filepath.Dir(c.certFile): {},
		filepath.Dir(c.keyFile):  {},
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	c.watcher = w
	go c.loop()
	return nil
}

func (c *CertReloader) loop() {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(ev.Name)
			if name != c.certFile && name != c.keyFile {
				continue
			}
			if ev.Op&relevant == 0 {
				continue
			}
			slog.Debug("CertReloader.loop: file changed", "file", name, "op", ev.Op.String())
			if err := c.Reload(); err != nil {
				// The pair is often mid-rotation here; the next event retries.
				slog.Warn("CertReloader.loop: reload failed, keeping previous certificate", "error", err)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("CertReloader.loop: watcher error", "error", err)
		}
	}
}

// Close stops watching. It is safe to call without Watch.
func (c *CertReloader) Close() error {
	var err error
	c.closeMu.Do(func() {
		close(c.done)
		if c.watcher != nil {
			err = c.watcher.Close()
		}
	})
	return err
}
