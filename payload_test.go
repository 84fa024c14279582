package ledgerbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload([]byte(`{"success":true,"data":{"id":"d1","amount":42.5},"message":"ok"}`))
	require.NoError(t, err)

	assert.True(t, p.Success())
	assert.Equal(t, "ok", p.Message())

	data, ok := p.Data()
	require.True(t, ok)
	id, _ := data.String("id")
	assert.Equal(t, "d1", id)
	amount, ok := data.Float64("amount")
	require.True(t, ok)
	assert.Equal(t, 42.5, amount)
}

func TestParsePayloadEmptyBody(t *testing.T) {
	p, err := ParsePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, p)

	p, err = ParsePayload([]byte("  \n"))
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestParsePayloadRejectsNonObjects(t *testing.T) {
	_, err := ParsePayload([]byte(`<html></html>`))
	require.Error(t, err)

	_, err = ParsePayload([]byte(`"just a string"`))
	require.Error(t, err)
}

func TestPayloadAccessorsMismatchedTypes(t *testing.T) {
	p := Payload{"name": "Asha", "count": 3.0, "flag": true}

	_, ok := p.String("count")
	assert.False(t, ok)
	_, ok = p.Int64("name")
	assert.False(t, ok)
	_, ok = p.Bool("missing")
	assert.False(t, ok)

	n, ok := p.Int64("count")
	require.True(t, ok)
	assert.Equal(t, int64(3), n)
}

func TestPayloadEnvelopeFallbacks(t *testing.T) {
	p := Payload{"error": "something broke", "error_code": "conflict_detected"}
	assert.Equal(t, "something broke", p.Message())
	assert.Equal(t, "conflict_detected", p.ErrorCode())
}

func TestPayloadDecode(t *testing.T) {
	p, err := ParsePayload([]byte(`{"id":"c1","name":"Asha","phone":"123"}`))
	require.NoError(t, err)

	var c Contact
	require.NoError(t, p.Decode(&c))
	assert.Equal(t, Contact{ID: "c1", Name: "Asha", Phone: "123"}, c)
}

func TestPayloadDataArray(t *testing.T) {
	p, err := ParsePayload([]byte(`{"success":true,"data":[{"id":"1"},{"id":"2"}]}`))
	require.NoError(t, err)

	items, ok := p.DataArray()
	require.True(t, ok)
	assert.Len(t, items, 2)

	_, ok = p.Data()
	assert.False(t, ok)
}
