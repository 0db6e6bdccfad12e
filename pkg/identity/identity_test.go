package identity

import (
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fly-io/imageuploader/pkg/errors"
	"github.com/fly-io/imageuploader/pkg/security"
)

func newResolver() *Resolver {
	return NewResolver(security.NewValidator(1<<20, 0))
}

func TestTupleDir(t *testing.T) {
	tuple := Tuple{Organization: "A", Username: "u1", Mission: "m1"}
	assert.Equal(t, filepath.Join("images", "A", "u1", "m1"), tuple.Dir("images"))
	assert.Equal(t, "A/u1/m1", tuple.String())
}

func TestNewRecord(t *testing.T) {
	tuple := Tuple{Organization: "A", Username: "u1", Mission: "m1"}

	rec, err := NewRecord(tuple, "id-1", "images/A/u1/m1/id-1.png")
	require.NoError(t, err)
	assert.Equal(t, tuple, rec.Tuple)
	assert.Equal(t, "id-1", rec.ID)

	_, err = NewRecord(tuple, "", "images/A/u1/m1/x.png")
	assert.True(t, errors.Is(err, errors.ErrContractViolation))

	_, err = NewRecord(tuple, "id-1", "")
	assert.True(t, errors.Is(err, errors.ErrContractViolation))
}

func TestResolver_FromQuery(t *testing.T) {
	r := newResolver()

	tuple, err := r.FromQuery(url.Values{
		"organization": {"A"},
		"username":     {"u1"},
		"mission":      {"m1"},
		"id":           {"ignored"},
	})
	require.NoError(t, err)
	assert.Equal(t, Tuple{Organization: "A", Username: "u1", Mission: "m1"}, tuple)

	_, err = r.FromQuery(url.Values{"organization": {"A"}, "username": {"u1"}})
	assert.True(t, errors.Is(err, errors.ErrCredential))

	_, err = r.FromQuery(url.Values{"organization": {".."}, "username": {"u1"}, "mission": {"m1"}})
	assert.True(t, errors.Is(err, errors.ErrCredential))
}

func TestResolver_FromFrame(t *testing.T) {
	r := newResolver()

	tests := []struct {
		name    string
		payload string
		want    Tuple
		wantErr bool
	}{
		{
			name:    "full credentials",
			payload: `{"organization":"A","username":"u1","mission":"m1"}`,
			want:    Tuple{Organization: "A", Username: "u1", Mission: "m1"},
		},
		{
			name:    "optional id and filepath",
			payload: `{"organization":"A","username":"u1","mission":"m1","id":"x","filepath":"y"}`,
			want:    Tuple{Organization: "A", Username: "u1", Mission: "m1"},
		},
		{name: "not json", payload: "\x89PNG", wantErr: true},
		{name: "missing mission", payload: `{"organization":"A","username":"u1"}`, wantErr: true},
		{name: "traversal", payload: `{"organization":"A","username":"../../etc","mission":"m1"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.FromFrame([]byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrCredential))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_FromFields(t *testing.T) {
	r := newResolver()

	tuple, err := r.FromFields("A", "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "A/u1/m1", tuple.String())

	_, err = r.FromFields("A", "", "m1")
	assert.True(t, errors.Is(err, errors.ErrCredential))
}
