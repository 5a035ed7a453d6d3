// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Persistence adapter (spec.md §4.F): load/save an opaque snapshot blob.
// Grounded on the teacher's cmd/mkdrivedb "read one format, atomically
// write another" shape.

package persist

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/tescande/varstored/variable"
)

// ErrNone is returned by Load when no prior snapshot exists (fresh boot,
// spec.md §4.F "load() -> snapshot | NONE").
var ErrNone = errors.New("persist: no snapshot present")

// Adapter is the persistence contract the engine depends on. Save must be
// atomic (spec.md §4.F): callers never observe a torn write.
type Adapter interface {
	Load() ([]variable.Record, error) // returns ErrNone if nothing was ever saved
	Save(recs []variable.Record) error
}

// KVStore is the external opaque {get, put} object named in spec.md §6.
// Any key/value or blob store satisfying this can back a KVAdapter.
type KVStore interface {
	Get(name string) ([]byte, error) // returns ErrNone if absent
	Put(name string, data []byte) error
}

// KVAdapter persists the snapshot as a single whole-blob Put to an
// external KVStore, satisfying atomicity by relying on the store's own
// single-object put being atomic (spec.md §4.F: "a single whole-blob put
// to the external store").
type KVAdapter struct {
	Store KVStore
	Name  string
}

func (a *KVAdapter) Load() ([]variable.Record, error) {
	data, err := a.Store.Get(a.Name)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(data)
}

func (a *KVAdapter) Save(recs []variable.Record) error {
	return a.Store.Put(a.Name, EncodeSnapshot(recs))
}

// FileStore is a local-filesystem Adapter used by cmd/varstored's default
// configuration and by tests. It achieves atomicity via write-to-temp +
// rename, the other option spec.md §4.F names explicitly.
type FileStore struct {
	Path string
}

func (f *FileStore) Load() ([]variable.Record, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNone
		}
		return nil, err
	}
	return DecodeSnapshot(data)
}

func (f *FileStore) Save(recs []variable.Record) error {
	data := EncodeSnapshot(recs)

	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, ".varstored-snapshot-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.Path)
}
