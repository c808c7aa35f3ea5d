package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepartmentCodeValidate(t *testing.T) {
	testCases := []struct {
		code  DepartmentCode
		valid bool
	}{
		{"KI1I", true},
		{"WA1M", true},
		{"ki1i", false},
		{"KI11", false},
		{"KII1", false},
		{"KI1IX", false},
		{"", false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.code), func(t *testing.T) {
			err := tc.code.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidDepartment)
			}
		})
	}
}

func TestBookIDString(t *testing.T) {
	id := BookID{Department: "KI1I", Number: 8, Control: '0'}
	assert.Equal(t, "KI1I/00000008/0", id.String())
	assert.Equal(t, "00000008", id.NumberString())
}

func TestParseBookID(t *testing.T) {
	id, err := ParseBookID("WA1M/00123456/7")
	require.NoError(t, err)
	assert.Equal(t, DepartmentCode("WA1M"), id.Department)
	assert.Equal(t, 123456, id.Number)
	assert.Equal(t, byte('7'), id.Control)

	for _, bad := range []string{"", "WA1M/123/7", "WA1M/00123456", "wa1m/00123456/7", "WA1M/0012345x/7", "WA1M/00123456/77"} {
		_, err := ParseBookID(bad)
		assert.ErrorIs(t, err, ErrInvalidBookID, "input %q", bad)
	}
}

func TestOutcomeKindReason(t *testing.T) {
	reason, ok := OutcomeNotFound.Reason()
	assert.True(t, ok)
	assert.Equal(t, ReasonNotFound, reason)

	reason, ok = OutcomeSessionFailure.Reason()
	assert.True(t, ok)
	assert.Equal(t, ReasonAPIException, reason)

	reason, ok = OutcomeChecksumRejected.Reason()
	assert.True(t, ok)
	assert.Equal(t, ReasonIncorrectControlNumber, reason)

	_, ok = OutcomeFound.Reason()
	assert.False(t, ok)
}
