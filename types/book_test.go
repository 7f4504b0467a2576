package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityRefsUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    EntityRefs
		wantErr error
	}{
		{name: "ids", raw: `[3, 1, 3]`, want: EntityRefs{Mode: RefByIDs, IDs: []int{3, 1, 3}}},
		{name: "names", raw: `["Orwell", " Huxley "]`, want: EntityRefs{Mode: RefByNames, Names: []string{"Orwell", " Huxley "}}},
		{name: "empty", raw: `[]`, want: EntityRefs{}},
		{name: "null", raw: `null`, want: EntityRefs{}},
		{name: "mixed id first", raw: `[1, "Tolstoy"]`, wantErr: ErrMixedRefs},
		{name: "mixed name first", raw: `["Tolstoy", 1]`, wantErr: ErrMixedRefs},
		{name: "zero id", raw: `[0]`, wantErr: ErrInvalidRef},
		{name: "fractional id", raw: `[1.5]`, wantErr: ErrInvalidRef},
		{name: "object item", raw: `[{"id": 1}]`, wantErr: ErrInvalidRef},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got EntityRefs
			err := json.Unmarshal([]byte(tt.raw), &got)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEntityRefsNotAList(t *testing.T) {
	var got EntityRefs
	err := json.Unmarshal([]byte(`"Orwell"`), &got)
	assert.EqualError(t, err, "must be a list")
}

func TestCleanNames(t *testing.T) {
	got := CleanNames([]string{" Orwell", "", "Huxley", "Orwell ", "  "})
	assert.Equal(t, []string{"Orwell", "Huxley"}, got)
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole(" ADMIN ")
	assert.True(t, ok)
	assert.Equal(t, RoleAdmin, role)

	_, ok = ParseRole("root")
	assert.False(t, ok)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
}
