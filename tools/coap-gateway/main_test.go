package main

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrfthread/coapblock/gateway"
)

func TestParseSinks(t *testing.T) {
	var a Options
	fs := flag.NewFlagSet("coap-gateway", flag.ContinueOnError)
	require.NoError(t, a.Parse(fs, []string{"-sink", "log", "-sink", "dir", "-dir", t.TempDir(), "-codec", "cbor"}))

	s, closer, err := a.sinks()
	require.NoError(t, err)
	defer closer()
	ms, ok := s.(gateway.MultiSink)
	require.True(t, ok)
	require.Len(t, ms, 2)
	assert.Equal(t, gateway.LogSink{Codec: gateway.CBORCodec{}}, ms[0])
	assert.IsType(t, gateway.DirSink{}, ms[1])
}

func TestParseDefaults(t *testing.T) {
	var a Options
	fs := flag.NewFlagSet("coap-gateway", flag.ContinueOnError)
	require.NoError(t, a.Parse(fs, nil))
	assert.Equal(t, []string{"log"}, []string(a.Sinks))
	assert.Equal(t, ":5683", a.Listen)

	a.Sinks = []string{"ftp"}
	_, _, err := a.sinks()
	assert.Error(t, err)

	a.Sinks = []string{"log"}
	a.Codec = "json"
	_, _, err = a.sinks()
	assert.Error(t, err)
}
