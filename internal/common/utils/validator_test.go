// internal/common/utils/validator_test.go

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Name  string   `validate:"required,min=2,max=10"`
	ID    string   `validate:"required,len=24,hexadecimal"`
	Scope string   `validate:"required,oneof=me everyone"`
	Tags  []string `validate:"omitempty,dive,min=1"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		err := ValidateStruct(&sampleRequest{
			Name:  "hello",
			ID:    "665f1f77bcf86cd799439011",
			Scope: "everyone",
		})
		assert.NoError(t, err)
	})

	t.Run("collects issues per field", func(t *testing.T) {
		err := ValidateStruct(&sampleRequest{
			Name:  "x",
			ID:    "zzz",
			Scope: "later",
		})
		require.Error(t, err)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Len(t, verr.Issues, 3)

		fields := make(map[string]string, len(verr.Issues))
		for _, issue := range verr.Issues {
			fields[issue.Field] = issue.Message
		}
		assert.Contains(t, fields["Name"], "at least 2")
		assert.Contains(t, fields["ID"], "exactly 24")
		assert.Contains(t, fields["Scope"], "one of")
	})

	t.Run("required fields", func(t *testing.T) {
		err := ValidateStruct(&sampleRequest{})
		require.Error(t, err)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), "Name is required")
	})
}
