package obj

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

var fileMagic = []byte("NJOB")

// ErrNotObject is returned for files without the artifact header.
var ErrNotObject = errors.New("obj: not an artifact file")

// WriteFile stores artifacts (as produced by Marshal) in one lz4-framed file.
func WriteFile(path string, artifacts [][]byte) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".nobj-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name()) //nolint:errcheck
		}
	}()
	if _, err = f.Write(fileMagic); err != nil {
		f.Close()
		return err
	}
	zw := lz4.NewWriter(f)
	if err = msgpack.NewEncoder(zw).Encode(artifacts); err != nil {
		f.Close()
		return err
	}
	if err = zw.Close(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// ReadFile loads the artifacts stored by WriteFile.
func ReadFile(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read decodes an artifact file from r.
func Read(r io.Reader) ([][]byte, error) {
	head := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(r, head); err != nil || !bytes.Equal(head, fileMagic) {
		return nil, ErrNotObject
	}
	var artifacts [][]byte
	if err := msgpack.NewDecoder(lz4.NewReader(r)).Decode(&artifacts); err != nil {
		return nil, fmt.Errorf("obj: read: %w", err)
	}
	return artifacts, nil
}
