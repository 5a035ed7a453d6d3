// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package persist

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tescande/varstored/codec"
	"github.com/tescande/varstored/variable"
)

func sampleRecords() []variable.Record {
	return []variable.Record{
		{
			Key:        variable.Key{Name: "PK", Vendor: uuid.New()},
			Attributes: variable.NonVolatile | variable.BootserviceAccess | variable.RuntimeAccess | variable.TimeBasedAuthenticatedWrite,
			Data:       []byte("sig-list-bytes"),
			Timestamp:  codec.EFITime{Year: 2024, Month: 1, Day: 1},
		},
		{
			// Volatile record: must never round-trip through the snapshot.
			Key:        variable.Key{Name: "Volatile", Vendor: uuid.New()},
			Attributes: variable.BootserviceAccess,
			Data:       []byte("ephemeral"),
		},
	}
}

func TestSnapshotRoundTripByteForByte(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	recs := sampleRecords()
	blob := EncodeSnapshot(recs)
	blob2 := EncodeSnapshot(recs)
	assert.Equal(blob, blob2, "encoding must be deterministic")

	got, err := DecodeSnapshot(blob)
	require.NoError(err)
	require.Len(got, 1, "volatile records are excluded from the snapshot")
	assert.Equal(recs[0].Name, got[0].Name)
	assert.Equal(recs[0].Data, got[0].Data)
	assert.Equal(recs[0].Timestamp, got[0].Timestamp)
	assert.True(got[0].HasTimestamp)
}

func TestFileStoreLoadNoneOnFreshBoot(t *testing.T) {
	assert := assert.New(t)

	fs := &FileStore{Path: filepath.Join(t.TempDir(), "missing.bin")}
	_, err := fs.Load()
	assert.ErrorIs(err, ErrNone)
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	fs := &FileStore{Path: filepath.Join(t.TempDir(), "snapshot.bin")}
	recs := sampleRecords()
	require.NoError(fs.Save(recs))

	got, err := fs.Load()
	require.NoError(err)
	require.Len(got, 1)
	assert.Equal(recs[0].Data, got[0].Data)
}

type fakeKV struct {
	data map[string][]byte
}

func (k *fakeKV) Get(name string) ([]byte, error) {
	b, ok := k.data[name]
	if !ok {
		return nil, ErrNone
	}
	return b, nil
}

func (k *fakeKV) Put(name string, data []byte) error {
	if k.data == nil {
		k.data = make(map[string][]byte)
	}
	k.data[name] = append([]byte(nil), data...)
	return nil
}

func TestKVAdapterRoundTrip(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	kv := &fakeKV{}
	a := &KVAdapter{Store: kv, Name: "varstored"}
	recs := sampleRecords()
	require.NoError(a.Save(recs))

	got, err := a.Load()
	require.NoError(err)
	require.Len(got, 1)
	assert.Equal(recs[0].Data, got[0].Data)
}
