package inmem

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dekarrin/rezi/v2"

	"github.com/kettleside/bramble"
)

// persist.go holds the data-file backend of a Store opened with Open. The
// on-disk format is a rezi stream: a collection count, then for each
// collection its entity name, an entity count, and each entity as an opaque
// binary record produced by the entity definition's codec.

// persist writes the given collections to the data file. It takes the data
// as an argument rather than reading s.data so that Commit can write the
// post-commit view to disk before it mutates the store.
func (s *Store) persist(data map[string]map[any]any) error {
	var enc []byte

	names := s.model.Entities()
	sort.Strings(names)

	enc = append(enc, rezi.MustEnc(len(names))...)
	for _, name := range names {
		def, err := s.model.EntityByName(name)
		if err != nil {
			return err
		}
		if !def.CanEncode() {
			return bramble.NewError(fmt.Sprintf("entity %s has no binary codec; cannot persist", name), bramble.ErrBadArgument)
		}

		coll := data[name]
		keys := make([]any, 0, len(coll))
		for k := range coll {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
		})

		enc = append(enc, rezi.MustEnc(name)...)
		enc = append(enc, rezi.MustEnc(len(keys))...)
		for _, k := range keys {
			blob, err := def.Encode(coll[k])
			if err != nil {
				return bramble.WrapDBError(err, "encode ", name, " entity")
			}
			enc = append(enc, rezi.MustEnc(blob)...)
		}
	}

	if _, err := os.Stat(s.path); err == nil {
		if _, err := createFileBackup(s.path); err != nil {
			return bramble.WrapDBError(err, "back up data file")
		}
	}

	if err := os.WriteFile(s.path, enc, 0660); err != nil {
		return bramble.WrapDBError(err, "write data file")
	}
	return nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return bramble.WrapDBError(err, "read data file")
	}

	rr, err := rezi.NewReader(bytes.NewBuffer(data), nil)
	if err != nil {
		return bramble.WrapDBError(err, "open data file")
	}

	var collCount int
	if err := rr.Dec(&collCount); err != nil {
		return bramble.WrapDBError(err, "collection count")
	}

	loaded := make(map[string]map[any]any)
	for i := 0; i < collCount; i++ {
		var name string
		if err := rr.Dec(&name); err != nil {
			return bramble.WrapDBError(err, "collection name")
		}

		def, err := s.model.EntityByName(name)
		if err != nil {
			return err
		}
		if !def.CanEncode() {
			return bramble.NewError(fmt.Sprintf("entity %s has no binary codec; cannot load", name), bramble.ErrBadArgument)
		}

		var n int
		if err := rr.Dec(&n); err != nil {
			return bramble.WrapDBError(err, name, " entity count")
		}

		coll := make(map[any]any, n)
		for j := 0; j < n; j++ {
			var blob []byte
			if err := rr.Dec(&blob); err != nil {
				return bramble.WrapDBError(err, name, " entity record")
			}

			item, err := def.Decode(blob)
			if err != nil {
				return bramble.WrapDBError(err, "decode ", name, " entity")
			}

			key, ok := def.KeyOf(item)
			if !ok {
				return bramble.MissingKeyValueError{Entity: name, KeyField: def.Key.Name}
			}
			coll[key] = item
		}
		loaded[name] = coll
	}

	for name, coll := range loaded {
		s.data[name] = coll
	}
	return nil
}

// createFileBackup makes a duplicate of file in the same location with '.bak'
// appended to its filename. Any existing backup is overwritten.
//
// returns path to new backup file and any error that occurred.
func createFileBackup(file string) (string, error) {
	backupDir := filepath.Dir(file)
	backupName := filepath.Base(file) + ".bak"

	buPath := filepath.Join(backupDir, backupName)

	// underlying io
	rf, err := os.Open(file)
	if err != nil {
		return buPath, fmt.Errorf("open original: %w", err)
	}
	defer rf.Close()
	wf, err := os.Create(buPath)
	if err != nil {
		return buPath, fmt.Errorf("create backup: %w", err)
	}
	defer wf.Close()

	// buffered io
	r := bufio.NewReader(rf)
	w := bufio.NewWriter(wf)

	_, err = io.Copy(w, r)
	if err != nil {
		return buPath, fmt.Errorf("copy data to backup: %w", err)
	}

	if err := w.Flush(); err != nil {
		return buPath, fmt.Errorf("flush backup: %w", err)
	}

	return buPath, nil
}
