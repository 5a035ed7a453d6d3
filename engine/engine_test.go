// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package engine

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tescande/varstored/config"
	"github.com/tescande/varstored/dispatch"
	"github.com/tescande/varstored/transport"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Persistence.Path = filepath.Join(t.TempDir(), "snapshot")
	return cfg
}

func TestNewWiresDispatcherAndTransport(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	hv := transport.NewLinuxHypervisor()
	e, err := New(testConfig(t), hv, transport.BDF{Bus: 0, Device: 5, Function: 0})
	require.NoError(err)
	assert.NotNil(e.Dispatcher)
	assert.NotNil(e.Transport)
}

func TestRunRegistersPCIFunction(t *testing.T) {
	require := require.New(t)

	hv := transport.NewLinuxHypervisor()
	e, err := New(testConfig(t), hv, transport.BDF{})
	require.NoError(err)
	require.NoError(e.Run())
}

func TestEngineDispatchRoundTripThroughTransport(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	hv := transport.NewLinuxHypervisor()
	e, err := New(testConfig(t), hv, transport.BDF{})
	require.NoError(err)

	buf := make([]byte, 16+4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(dispatch.OpQueryVariableInfo))
	resp := e.Dispatcher.Dispatch(buf)
	status := binary.LittleEndian.Uint64(resp[4:12])
	assert.Equal(uint64(dispatch.StatusSuccess), status)
}

func TestShutdownUnmapsTransport(t *testing.T) {
	require := require.New(t)

	hv := transport.NewLinuxHypervisor()
	e, err := New(testConfig(t), hv, transport.BDF{})
	require.NoError(err)
	require.NoError(e.Run())
	require.NoError(e.Shutdown())
}

func TestNewRejectsUnknownPersistenceBackend(t *testing.T) {
	require := require.New(t)

	cfg := testConfig(t)
	cfg.Persistence.Backend = "bogus"
	hv := transport.NewLinuxHypervisor()
	_, err := New(cfg, hv, transport.BDF{})
	require.Error(err)
}
