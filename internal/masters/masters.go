// Package masters owns the persisted-master file conventions: one file per
// (product type, master key) pair inside the master directory, named
// Master<Type>_<key>.json.gz. The envelope codec here is what the reference
// builders persist through; real instrument builders may bring their own
// formats and only share the naming.
package masters

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrNotFound reports that no master is persisted for a (type, key) pair.
var ErrNotFound = errors.New("master not found")

// envelopeVersion is bumped when the envelope layout changes. Readers
// reject versions they do not know rather than guessing.
const envelopeVersion = 1

// Path returns the master file path for a product type and master key.
func Path(dir, typ, key string) string {
	return filepath.Join(dir, Name(typ, key))
}

// Name returns the master file name for a product type and master key,
// e.g. MasterBias_A_0_01.json.gz.
func Name(typ, key string) string {
	return fmt.Sprintf("Master%s_%s.json.gz", title(typ), key)
}

// Exists reports whether a master file is present for (typ, key).
func Exists(dir, typ, key string) bool {
	info, err := os.Stat(Path(dir, typ, key))
	return err == nil && !info.IsDir()
}

// envelope is the on-disk wrapper: enough metadata to verify a file is the
// master it claims to be before the payload is decoded.
type envelope struct {
	Version int             `json:"version"`
	Type    string          `json:"type"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// Write persists v as the master for (typ, key), creating dir if needed.
// The write goes through a temp file and rename, so a crash never leaves a
// truncated master behind.
func Write(dir, typ, key string, v any) error {
	if dir == "" {
		return fmt.Errorf("write master %s/%s: empty master directory", typ, key)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write master %s/%s: %w", typ, key, err)
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("write master %s/%s: encode payload: %w", typ, key, err)
	}
	env := envelope{Version: envelopeVersion, Type: typ, Key: key, Payload: payload}

	tmp, err := os.CreateTemp(dir, "."+Name(typ, key)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write master %s/%s: %w", typ, key, err)
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	enc := json.NewEncoder(zw)
	if err := enc.Encode(env); err != nil {
		tmp.Close()
		return fmt.Errorf("write master %s/%s: %w", typ, key, err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("write master %s/%s: %w", typ, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write master %s/%s: %w", typ, key, err)
	}

	if err := os.Rename(tmp.Name(), Path(dir, typ, key)); err != nil {
		return fmt.Errorf("write master %s/%s: %w", typ, key, err)
	}
	return nil
}

// Read decodes the master for (typ, key) into out. Returns ErrNotFound
// (wrapped) when no file exists; any other error means a file is present
// but unusable, which callers should surface rather than silently rebuild
// over.
func Read(dir, typ, key string, out any) error {
	f, err := os.Open(Path(dir, typ, key))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("read master %s/%s: %w", typ, key, ErrNotFound)
		}
		return fmt.Errorf("read master %s/%s: %w", typ, key, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read master %s/%s: %w", typ, key, err)
	}
	defer zr.Close()

	var env envelope
	if err := json.NewDecoder(zr).Decode(&env); err != nil {
		return fmt.Errorf("read master %s/%s: decode envelope: %w", typ, key, err)
	}
	if env.Version != envelopeVersion {
		return fmt.Errorf("read master %s/%s: envelope version %d, want %d",
			typ, key, env.Version, envelopeVersion)
	}
	if env.Type != typ || env.Key != key {
		return fmt.Errorf("read master %s/%s: file claims to be %s/%s",
			typ, key, env.Type, env.Key)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("read master %s/%s: decode payload: %w", typ, key, err)
	}
	return nil
}

// ReadPath decodes a master envelope at an explicit path, checking the
// envelope version but not its (type, key) identity. This serves
// user-supplied overrides, where the caller names a file directly and the
// identity inside it is whatever the user's file carries.
func ReadPath(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("read master %s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("read master %s: %w", path, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read master %s: %w", path, err)
	}
	defer zr.Close()

	var env envelope
	if err := json.NewDecoder(zr).Decode(&env); err != nil {
		return fmt.Errorf("read master %s: decode envelope: %w", path, err)
	}
	if env.Version != envelopeVersion {
		return fmt.Errorf("read master %s: envelope version %d, want %d",
			path, env.Version, envelopeVersion)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("read master %s: decode payload: %w", path, err)
	}
	return nil
}

// IsNotFound reports whether err is the missing-master condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func title(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
