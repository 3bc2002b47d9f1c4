package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtensionOfferSingleToken(t *testing.T) {
	offer, err := parseExtensionOffer("permessage-deflate")
	require.NoError(t, err)
	require.Len(t, offer, 1)
	assert.Equal(t, "permessage-deflate", offer[0].Token)
	assert.Empty(t, offer[0].Params)
}

func TestParseExtensionOfferParamsTyping(t *testing.T) {
	offer, err := parseExtensionOffer("permessage-deflate; client_max_window_bits=12; server_no_context_takeover")
	require.NoError(t, err)
	require.Len(t, offer, 1)
	alt := offer[0]
	require.Len(t, alt.Params, 2)

	p0 := alt.Params[0]
	assert.Equal(t, "client_max_window_bits", p0.Key)
	assert.Equal(t, ValueString, p0.Type)
	assert.Equal(t, "12", p0.StringVal)
	assert.False(t, p0.IsLast)

	p1 := alt.Params[1]
	assert.Equal(t, "server_no_context_takeover", p1.Key)
	assert.Equal(t, ValueBool, p1.Type)
	assert.True(t, p1.BoolVal)
	assert.True(t, p1.IsLast)
}

func TestParseExtensionOfferBareIntegerParam(t *testing.T) {
	offer, err := parseExtensionOffer("foo; 7")
	require.NoError(t, err)
	require.Len(t, offer, 1)
	require.Len(t, offer[0].Params, 1)
	p := offer[0].Params[0]
	assert.Equal(t, ValueInt, p.Type)
	assert.EqualValues(t, 7, p.IntVal)
}

func TestParseExtensionOfferAlternatives(t *testing.T) {
	offer, err := parseExtensionOffer("foo;x=1, foo;x=2, bar")
	require.NoError(t, err)
	require.Len(t, offer, 3)

	foos := offer.Alternatives("foo")
	require.Len(t, foos, 2)
	assert.Equal(t, "1", foos[0].Params[0].StringVal)
	assert.Equal(t, "2", foos[1].Params[0].StringVal)
	assert.True(t, foos[0].Params[0].IsLast)

	bars := offer.Alternatives("BAR")
	require.Len(t, bars, 1)
}

func TestParseExtensionOfferQuotedValue(t *testing.T) {
	offer, err := parseExtensionOffer(`foo; bar="a,b;c"`)
	require.NoError(t, err)
	require.Len(t, offer, 1)
	require.Len(t, offer[0].Params, 1)
	assert.Equal(t, "a,b;c", offer[0].Params[0].StringVal)
}

func TestParseExtensionOfferRejectsEmptyToken(t *testing.T) {
	_, err := parseExtensionOffer(" ;x=1")
	assert.Error(t, err)
}

func TestParseExtensionOfferRejectsOverlongToken(t *testing.T) {
	long := make([]byte, maxExtensionTokenLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := parseExtensionOffer(string(long))
	assert.Error(t, err)
}
