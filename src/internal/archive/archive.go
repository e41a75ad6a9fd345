package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// ErrEntryNotFound signals that a module has no CSV entry in the archive.
// This is a skip condition for restore, not a failure: a module may have
// had zero rows at backup time or never existed.
var ErrEntryNotFound = errors.New("entry not found in archive")

// Archive reads the zip-of-CSVs backup format produced by the export API.
// Each entry is {ModuleName}.csv with a header row followed by data rows
// in the remote system's native encoding.
type Archive struct {
	reader *zip.ReadCloser
}

// Open opens a backup archive for reading
func Open(path string) (*Archive, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return &Archive{reader: r}, nil
}

// Close closes the underlying zip reader
func (a *Archive) Close() error {
	return a.reader.Close()
}

// FindEntry locates the CSV entry for a module. Candidate names are tried
// in order; the first match wins.
func (a *Archive) FindEntry(module string) (string, bool) {
	candidates := []string{
		module + ".csv",
		module + ".CSV",
		strings.ToLower(module) + ".csv",
	}
	for _, name := range candidates {
		for _, f := range a.reader.File {
			if f.Name == name {
				return name, true
			}
		}
	}
	return "", false
}

// ListEntryHeaders returns the normalized column names of a module's CSV
// entry, in original order. Returns ErrEntryNotFound when the module has
// no entry in the archive.
func (a *Archive) ListEntryHeaders(module string) ([]string, error) {
	name, ok := a.FindEntry(module)
	if !ok {
		return nil, ErrEntryNotFound
	}

	f, err := a.openEntry(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	line, err := readFirstLine(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read header row of %s: %w", name, err)
	}

	// Only the header row is parsed locally, so a naive split is enough;
	// data rows are forwarded opaquely to the bulk-write endpoint.
	var headers []string
	for _, col := range strings.Split(line, ",") {
		col = strings.TrimSpace(col)
		col = strings.Trim(col, `"`)
		headers = append(headers, NormalizeHeader(col))
	}
	return headers, nil
}

// ReadEntryBytes returns the raw bytes of an archive entry
func (a *Archive) ReadEntryBytes(name string) ([]byte, error) {
	f, err := a.openEntry(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %s: %w", name, err)
	}
	return data, nil
}

func (a *Archive) openEntry(name string) (io.ReadCloser, error) {
	for _, f := range a.reader.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open entry %s: %w", name, err)
			}
			return rc, nil
		}
	}
	return nil, ErrEntryNotFound
}

// NormalizeHeader maps a human column label to the remote system's field
// name convention: whitespace runs collapse to a single underscore and any
// character outside [A-Za-z0-9_] becomes an underscore.
func NormalizeHeader(label string) string {
	var b strings.Builder
	inSpace := false
	for _, r := range label {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace {
			b.WriteByte('_')
			inSpace = false
		}
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if inSpace {
		b.WriteByte('_')
	}
	return b.String()
}

// readFirstLine reads up to the first newline, tolerating files without one
func readFirstLine(r io.Reader) (string, error) {
	var b strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			if buf[0] != '\r' {
				b.WriteByte(buf[0])
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return b.String(), nil
}
