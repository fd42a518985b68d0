package shared

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMinorUnits(t *testing.T) {
	v, err := ParseMinorUnits("amount", "50000")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), v)

	v, err = ParseMinorUnits("amount", "120.00")
	require.NoError(t, err)
	assert.Equal(t, int64(120), v)

	for _, raw := range []string{"10.5", "-1", "abc", "1e20"} {
		_, err := ParseMinorUnits("amount", raw)
		assert.ErrorIs(t, err, ErrValidation, raw)
	}
}

func TestMinorUnitsUnmarshalRejectsFractions(t *testing.T) {
	var body struct {
		Amount MinorUnits `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount":30000}`), &body))
	assert.Equal(t, MinorUnits(30000), body.Amount)

	err := json.Unmarshal([]byte(`{"amount":300.5}`), &body)
	require.Error(t, err)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestFormatMajor(t *testing.T) {
	assert.Equal(t, "500.00", FormatMajor(50000))
	assert.Equal(t, "-0.05", FormatMajor(-5))
}

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	unbalanced := &UnbalancedEntryError{Debit: 10000, Credit: 9000}
	assert.ErrorIs(t, unbalanced, ErrUnbalanced)
	assert.Equal(t, int64(1000), unbalanced.Delta())

	storage := Storage("insert entry", errors.New("connection reset"))
	assert.ErrorIs(t, storage, ErrStorage)
	assert.Contains(t, storage.Error(), "connection reset")

	locked := &PeriodLockedError{PeriodName: "Spring-2025"}
	assert.Same(t, error(locked), Storage("post", locked))
	assert.True(t, IsDomain(NotFound("account", "1000")))
	assert.False(t, IsDomain(errors.New("boom")))
}
