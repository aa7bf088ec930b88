package instruments

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/seenimoa/marketlens/internal/logger"
	"github.com/seenimoa/marketlens/pkg/models"
)

const (
	iterBufferSize = 64 * 1024
	progressEvery  = 100000
)

// LoadDump builds a Directory from a dump stream, plain or gzip-compressed.
// Records are decoded one at a time so the raw document is never held in
// memory alongside the directory.
func LoadDump(r io.Reader) (*Directory, error) {
	log := logger.GetLogger().WithComponent("instruments")
	start := time.Now()

	src, closeFn, err := maybeGunzip(r)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	b := NewBuilder()
	iter := jsoniter.Parse(jsoniter.ConfigFastest, src, iterBufferSize)
	seen := 0
	for iter.ReadArray() {
		var rec models.InstrumentRecord
		iter.ReadVal(&rec)
		if iter.Error != nil {
			break
		}
		seen++
		b.Add(rec)
		if seen%progressEvery == 0 {
			log.WithField("records", seen).Debug("processing instrument dump")
		}
	}
	// io.EOF here means the array was never closed: a truncated download.
	if iter.Error != nil {
		return nil, fmt.Errorf("decode instrument dump at record %d: %w", seen, iter.Error)
	}
	if b.Accepted() == 0 {
		return nil, ErrEmptyDump
	}

	d := b.Build()
	st := d.Stats()
	log.WithFields(logger.Fields{
		"records":       seen,
		"equities":      st.Equities,
		"indices":       st.Indices,
		"futures_roots": st.FuturesRoots,
		"expiry_roots":  st.ExpiryRoots,
	}).Info("instrument directory built")
	logger.LogDuration(log, "load_dump", start, nil)
	return d, nil
}

// LoadDumpFile opens path and calls LoadDump.
func LoadDumpFile(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open instrument dump: %w", err)
	}
	defer f.Close()
	return LoadDump(f)
}

// Open prefers the compact master file and falls back to the raw dump.
func Open(masterPath, dumpPath string) (*Directory, error) {
	if masterPath != "" {
		if f, err := os.Open(masterPath); err == nil {
			defer f.Close()
			d, err := LoadMaster(f)
			if err == nil {
				return d, nil
			}
			logger.GetLogger().WithComponent("instruments").WithError(err).
				WithField("path", masterPath).Warn("master file unreadable, rebuilding from dump")
		}
	}
	return LoadDumpFile(dumpPath)
}

func maybeGunzip(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("read instrument dump: %w", err)
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("open gzip instrument dump: %w", err)
		}
		return zr, func() { zr.Close() }, nil
	}
	return br, func() {}, nil
}
