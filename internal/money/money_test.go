package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittybank/kitty/internal/apperr"
)

func TestAmountDecodesNumbersAndStrings(t *testing.T) {
	var body struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 1000, "b": "9007199254740993"}`), &body))

	a, err := body.A.Positive()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), a)

	b, err := body.B.Positive()
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), b)
}

func TestAmountRejectsFractionsAndNonPositive(t *testing.T) {
	var body struct {
		A Amount `json:"a"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 10.5}`), &body))
	_, err := body.A.Positive()
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	_, err = FromMinor(0).Positive()
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	_, err = FromMinor(-5).Positive()
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	v, err := FromMinor(-5).Minor()
	require.NoError(t, err)
	assert.Equal(t, int64(-5), v)
}

func TestAmountEncodesAsString(t *testing.T) {
	out, err := json.Marshal(map[string]Amount{"balance": FromMinor(1000)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":"1000"}`, string(out))

	assert.Equal(t, "42", Format(42))
	assert.Nil(t, FormatPtr(nil))
	limit := int64(500)
	assert.Equal(t, "500", *FormatPtr(&limit))
}
