package container

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrIO wraps every filesystem failure raised while loading or saving.
var ErrIO = errors.New("container I/O failure")

// Load reads and decodes the container stored at path.
func Load(path string) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	c, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// LoadHeader reads only the fixed header of the container at path.
func LoadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	var buf [HeaderSize]byte
	n, err := io.ReadFull(f, buf[:])
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Header{}, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return ParseHeader(buf[:n])
}

// Save encodes c and writes it to path. The file is written to a temporary
// sibling first and renamed into place, so a failed save never leaves a
// partial container behind.
func Save(path string, c *Container) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if _, err = c.WriteTo(w); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrIO, path, err)
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrIO, path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrIO, path, err)
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}
