package zaplink

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestPolicyAllows(t *testing.T) {
	cases := []struct {
		name  string
		p     Policy
		views int64
		now   time.Time
		want  bool
	}{
		{"unlimited", Unlimited(), 1 << 40, t0, true},
		{"max views below budget", MaxViews(2), 1, t0, true},
		{"max views spent", MaxViews(2), 2, t0, false},
		{"before expiry", ExpiresAt(t0.Add(time.Second)), 0, t0, true},
		{"at expiry instant", ExpiresAt(t0), 0, t0, false},
		{"after expiry", ExpiresAt(t0), 0, t0.Add(time.Nanosecond), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.p.Allows(tc.views, tc.now))
		})
	}
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, Unlimited().Validate())
	assert.NoError(t, MaxViews(1).Validate())
	assert.ErrorIs(t, MaxViews(0).Validate(), ErrInvalidPolicy)
	assert.ErrorIs(t, ExpiresAt(time.Time{}).Validate(), ErrInvalidPolicy)
	assert.ErrorIs(t, Policy{Kind: 9}.Validate(), ErrInvalidPolicy)
}

func TestPolicyKindRoundTrip(t *testing.T) {
	for _, k := range []PolicyKind{PolicyUnlimited, PolicyMaxViews, PolicyExpiresAt} {
		got, err := ParsePolicyKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParsePolicyKind("forever")
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestLinkState(t *testing.T) {
	l := NewLink{Name: "doc", ArtifactRef: "file://x", Policy: MaxViews(3), CreatedAt: t0}.Build(1, "abc123")
	assert.False(t, l.Protected())
	assert.True(t, l.Accessible(t0))
	n, ok := l.RemainingViews()
	assert.True(t, ok)
	assert.EqualValues(t, 3, n)

	l.ViewCount = 3
	assert.False(t, l.Accessible(t0))
	n, _ = l.RemainingViews()
	assert.Zero(t, n)

	// 墓碑优先于策略
	u := NewLink{Name: "doc", ArtifactRef: "file://x", Policy: Unlimited(), CreatedAt: t0}.Build(2, "abc124")
	at := t0
	u.ExhaustedAt = &at
	assert.True(t, u.Tombstoned())
	assert.False(t, u.Accessible(t0))
	_, ok = u.RemainingViews()
	assert.False(t, ok)
}

func TestNewLinkValidate(t *testing.T) {
	ok := NewLink{Name: " doc ", ArtifactRef: "file://x", Policy: Unlimited(), CreatedAt: t0}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.Name = "   "
	assert.ErrorIs(t, bad.Validate(), ErrInvalidName)

	bad = ok
	bad.ArtifactRef = ""
	assert.ErrorIs(t, bad.Validate(), ErrInvalidFile)

	bad = ok
	bad.Policy = MaxViews(0)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPolicy)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, ValidateName("Quarterly report"))
	assert.ErrorIs(t, ValidateName(strings.Repeat("é", maxNameLen+1)), ErrInvalidName)

	assert.NoError(t, ValidateFileName("Report.PDF"))
	for _, bad := range []string{"", "a.exe", "../a.pdf", "noext", "a\x00.pdf"} {
		assert.ErrorIs(t, ValidateFileName(bad), ErrInvalidFile, bad)
	}

	assert.NoError(t, ValidatePassword("hunter22"))
	assert.ErrorIs(t, ValidatePassword("  "), ErrInvalidPassword)
	assert.ErrorIs(t, ValidatePassword(strings.Repeat("x", maxPasswordLen+1)), ErrInvalidPassword)

	assert.NoError(t, ValidateCode("Xy3kP9"))
	for _, bad := range []string{"ab", "api", "HealthZ", "has-dash", "a/b", strings.Repeat("a", 65)} {
		assert.ErrorIs(t, ValidateCode(bad), ErrInvalidCode, bad)
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("", "", t0)
	require.NoError(t, err)
	assert.Equal(t, Unlimited(), p)

	p, err = ParsePolicy("Views", " 5 ", t0)
	require.NoError(t, err)
	assert.Equal(t, MaxViews(5), p)

	p, err = ParsePolicy("hours", "2", t0)
	require.NoError(t, err)
	assert.Equal(t, ExpiresAt(t0.Add(2*time.Hour)), p)

	for _, in := range [][2]string{{"views", "0"}, {"views", "-1"}, {"views", "x"}, {"hours", "100000"}, {"days", "1"}, {"views", ""}} {
		_, err := ParsePolicy(in[0], in[1], t0)
		assert.ErrorIs(t, err, ErrInvalidPolicy, "%v", in)
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("open sesame", 4)
	require.NoError(t, err)
	assert.NotContains(t, hash, "open sesame")
	assert.NoError(t, CheckPassword(hash, "open sesame"))
	assert.ErrorIs(t, CheckPassword(hash, "open sesam"), ErrPasswordMismatch)

	err = CheckPassword("not-a-bcrypt-hash", "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPasswordMismatch)

	_, err = HashPassword("", 4)
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestCodec(t *testing.T) {
	c, err := NewCodec(6)
	require.NoError(t, err)

	seen := map[string]bool{}
	for id := uint64(1); id <= 200; id++ {
		code, err := c.Encode(id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(code), 6)
		assert.NoError(t, ValidateCode(code))
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true

		got, ok := c.DecodeID(code)
		require.True(t, ok)
		assert.Equal(t, id, got)
	}

	_, err = NewCodec(300)
	assert.Error(t, err)
}
