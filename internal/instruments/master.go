package instruments

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/seenimoa/marketlens/pkg/models"
)

var masterJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const masterVersion = 1

type masterFile struct {
	Version  int                                 `json:"version"`
	Equities map[string]models.Instrument        `json:"equities"`
	Indices  map[string]models.Instrument        `json:"indices"`
	Series   map[string]*models.DerivativeSeries `json:"series"`
}

// WriteMaster serializes the derived directory.
func (d *Directory) WriteMaster(w io.Writer) error {
	enc := masterJSON.NewEncoder(w)
	return enc.Encode(masterFile{
		Version:  masterVersion,
		Equities: d.equities,
		Indices:  d.indices,
		Series:   d.series,
	})
}

// WriteMasterFile writes the master file atomically.
func (d *Directory) WriteMasterFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create master dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".instrument_master-*.json")
	if err != nil {
		return fmt.Errorf("create master temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := d.WriteMaster(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write master: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close master temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// LoadMaster reads a directory written by WriteMaster.
func LoadMaster(r io.Reader) (*Directory, error) {
	var mf masterFile
	if err := masterJSON.NewDecoder(r).Decode(&mf); err != nil {
		return nil, fmt.Errorf("decode instrument master: %w", err)
	}
	if mf.Version != masterVersion {
		return nil, fmt.Errorf("instrument master version %d, want %d", mf.Version, masterVersion)
	}
	if len(mf.Equities) == 0 && len(mf.Indices) == 0 && len(mf.Series) == 0 {
		return nil, ErrEmptyDump
	}
	d := &Directory{equities: mf.Equities, indices: mf.Indices, series: mf.Series}
	if d.equities == nil {
		d.equities = map[string]models.Instrument{}
	}
	if d.indices == nil {
		d.indices = map[string]models.Instrument{}
	}
	if d.series == nil {
		d.series = map[string]*models.DerivativeSeries{}
	}
	return d, nil
}
