package device

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest_IndependentOfFieldOrder(t *testing.T) {
	pairs := [][2]string{
		{"model", "Pixel 8"},
		{"os", "android"},
		{"osVersion", "14"},
		{"platform", "mobile"},
		{"buildId", "AP1A.240505"},
		{"brand", "google"},
		{"carrier", "Vodafone"},
		{"ramGb", "8"},
	}

	rng := rand.New(rand.NewSource(42))
	var want string
	for i := 0; i < 50; i++ {
		rng.Shuffle(len(pairs), func(a, b int) { pairs[a], pairs[b] = pairs[b], pairs[a] })

		// Build the JSON object by hand so key order on the wire really varies.
		parts := make([]string, len(pairs))
		for j, p := range pairs {
			parts[j] = fmt.Sprintf("%q:%q", p[0], p[1])
		}
		var a Attributes
		require.NoError(t, json.Unmarshal([]byte("{"+strings.Join(parts, ",")+"}"), &a))

		got := a.Digest()
		if want == "" {
			want = got
		}
		require.Equal(t, want, got, "permutation %d changed the digest", i)
	}
	assert.Len(t, want, 64)
}

func TestDigest_DistinguishesContent(t *testing.T) {
	base := FromMap(map[string]string{"model": "Pixel 8", "os": "android"})
	other := FromMap(map[string]string{"model": "Pixel 8", "os": "ios"})
	assert.NotEqual(t, base.Digest(), other.Digest())

	// Separator injection must not collide.
	a := FromMap(map[string]string{"x": "1,y=2"})
	b := FromMap(map[string]string{"x": "1", "y": "2"})
	assert.NotEqual(t, a.Digest(), b.Digest())
}

func TestDigest_IgnoresWhitespaceAndEmpty(t *testing.T) {
	a := FromMap(map[string]string{"model": " Pixel 8 ", "os": "android", "locale": ""})
	b := FromMap(map[string]string{"model": "Pixel 8", "os": "android"})
	assert.Equal(t, a.Digest(), b.Digest())
}

func TestAttributes_JSONRoundTripKeepsDigest(t *testing.T) {
	var a Attributes
	require.NoError(t, json.Unmarshal([]byte(`{"model":"iPhone15,2","osVersion":17.4,"jailbroken":false,"screen":{"w":1179,"h":2556}}`), &a))

	assert.Equal(t, "iPhone15,2", a.Model)
	assert.Equal(t, "17.4", a.OSVersion)
	assert.Equal(t, "false", a.Extra["jailbroken"])
	assert.Equal(t, `{"h":2556,"w":1179}`, a.Extra["screen"])

	data, err := json.Marshal(a)
	require.NoError(t, err)
	var b Attributes
	require.NoError(t, json.Unmarshal(data, &b))
	assert.Equal(t, a.Digest(), b.Digest())
}

func TestAttributes_Validate(t *testing.T) {
	assert.ErrorIs(t, Attributes{}.Validate(), ErrInvalidFingerprint)
	assert.ErrorIs(t, FromMap(map[string]string{"model": "  "}).Validate(), ErrInvalidFingerprint)
	assert.ErrorIs(t, FromMap(map[string]string{"model": strings.Repeat("x", 300)}).Validate(), ErrInvalidFingerprint)
	assert.NoError(t, FromMap(map[string]string{"model": "Pixel"}).Validate())
}

func TestAttributes_RejectsNonObject(t *testing.T) {
	var a Attributes
	assert.Error(t, json.Unmarshal([]byte(`"just a string"`), &a))
}
