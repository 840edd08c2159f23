package fastqio

import (
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// OpenInput opens path for reading, transparently decompressing it if its
// name ends in ".gz" or its content starts with the gzip magic bytes (spec
// §6 "Input is text FASTQ (optionally gzip-compressed)"). The returned
// closer must be closed by the caller.
func OpenInput(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "fastqio: open %s", path)
	}
	magic := make([]byte, 2)
	n, _ := io.ReadFull(f, magic)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close() // nolint: errcheck
		return nil, errors.Wrapf(err, "fastqio: seek %s", path)
	}
	if strings.HasSuffix(path, ".gz") || (n == 2 && magic[0] == 0x1f && magic[1] == 0x8b) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close() // nolint: errcheck
			return nil, errors.Wrapf(err, "fastqio: gzip %s", path)
		}
		return &gzipReadCloser{gz: gz, f: f}, nil
	}
	return f, nil
}

type gzipReadCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	err := g.gz.Close()
	if cerr := g.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// CreateOutput creates path for writing, gzip-compressing the stream when
// gz is true.
func CreateOutput(path string, gz bool) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "fastqio: create %s", path)
	}
	if !gz {
		return f, nil
	}
	return &gzipWriteCloser{gz: gzip.NewWriter(f), f: f}, nil
}

type gzipWriteCloser struct {
	gz *gzip.Writer
	f  *os.File
}

func (g *gzipWriteCloser) Write(p []byte) (int, error) { return g.gz.Write(p) }

func (g *gzipWriteCloser) Close() error {
	err := g.gz.Close()
	if cerr := g.f.Close(); err == nil {
		err = cerr
	}
	return err
}
