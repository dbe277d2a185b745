// Package seed reads and writes detection seed files.
//
// A seed file is YAML holding records newest-first, the order feed
// initialization expects.
package seed

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
)

const seedFilePermissions = 0o644

// File is the on-disk seed document.
type File struct {
	GeneratedAt time.Time          `yaml:"generated_at,omitempty"`
	Records     []detection.Record `yaml:"records"`
}

// Decode reads a seed document and validates every record.
func Decode(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &File{}, nil
		}
		return nil, errors.New(err).
			Component("seed").
			Category(errors.CategoryFileParsing).
			Build()
	}

	for i := range f.Records {
		if err := detection.Validate(&f.Records[i]); err != nil {
			return nil, errors.New(err).
				Component("seed").
				Category(errors.CategoryValidation).
				Context("index", i).
				Context("id", f.Records[i].ID).
				Build()
		}
	}
	return &f, nil
}

// Encode writes records as a seed document.
func Encode(w io.Writer, records []detection.Record, generatedAt time.Time) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(File{GeneratedAt: generatedAt, Records: records}); err != nil {
		return errors.New(err).
			Component("seed").
			Category(errors.CategoryFileIO).
			Build()
	}
	return enc.Close()
}

// Load reads a seed file from disk.
func Load(path string) ([]detection.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("seed").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	f, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return f.Records, nil
}

// Save writes records to path through a temporary file and rename.
func Save(path string, records []detection.Record, generatedAt time.Time) error {
	var buf bytes.Buffer
	if err := Encode(&buf, records, generatedAt); err != nil {
		return err
	}

	fileErr := func(err error) error {
		return errors.New(err).
			Component("seed").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "seed-*.yaml")
	if err != nil {
		return fileErr(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fileErr(err)
	}
	if err := tmp.Chmod(seedFilePermissions); err != nil {
		tmp.Close()
		return fileErr(err)
	}
	if err := tmp.Close(); err != nil {
		return fileErr(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fileErr(err)
	}
	return nil
}
