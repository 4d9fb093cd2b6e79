package badge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/chatmon/twitchapi"
)

const badgeFile = `{
	"broadcaster": [{"id":"1","title":"Broadcaster","image":"https://img/broadcaster/1"}],
	"subscriber": [
		{"id":"0","title":"Subscriber","image":"https://img/sub/0"},
		{"id":"12","title":"1-Year Subscriber","image":"https://img/sub/12"}
	]
}`

func writeBadgeFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "twitch-badges.json")
	require.NoError(t, os.WriteFile(path, []byte(badgeFile), 0o600))
	return path
}

func TestParseKeepsOrderAndSkipsUnknown(t *testing.T) {
	r := NewResolver(nil)
	require.NoError(t, r.LoadFile(writeBadgeFile(t)))
	assert.Equal(t, 2, r.Len())

	got := r.Parse("", "subscriber/12,unknown/1,broadcaster/1")

	require.Len(t, got, 2)
	assert.Equal(t, Badge{ID: "subscriber", Version: "12", Title: "1-Year Subscriber", Image: "https://img/sub/12"}, got[0])
	assert.Equal(t, "broadcaster", got[1].ID)
}

func TestLookupFallsBackToFirstVersion(t *testing.T) {
	r := NewResolver(nil)
	require.NoError(t, r.LoadFile(writeBadgeFile(t)))

	b, ok := r.Lookup("", "subscriber", "48")
	require.True(t, ok)
	assert.Equal(t, "0", b.Version)
	assert.Equal(t, "Subscriber", b.Title)
}

func TestParseEmpty(t *testing.T) {
	r := NewResolver(nil)
	assert.Empty(t, r.Parse("", ""))
	assert.NotNil(t, r.Parse("", ""))
	assert.Empty(t, r.Parse("", "subscriber/1"))
}

func TestLoadFileErrors(t *testing.T) {
	r := NewResolver(nil)
	assert.Error(t, r.LoadFile(filepath.Join(t.TempDir(), "missing.json")))

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	assert.Error(t, r.LoadFile(bad))
	assert.Equal(t, 0, r.Len())
}

type fakeHelix struct {
	global  []twitchapi.BadgeSet
	channel map[string][]twitchapi.BadgeSet
	err     error
}

func (f *fakeHelix) GetGlobalBadges(context.Context) ([]twitchapi.BadgeSet, error) {
	return f.global, f.err
}

func (f *fakeHelix) GetChannelBadges(_ context.Context, id string) ([]twitchapi.BadgeSet, error) {
	return f.channel[id], f.err
}

func TestChannelCatalogOverridesGlobal(t *testing.T) {
	src := &fakeHelix{
		global: []twitchapi.BadgeSet{
			{SetID: "subscriber", Versions: []twitchapi.BadgeVersion{{ID: "0", Title: "Subscriber", ImageURL1x: "https://img/global/0"}}},
			{SetID: "vip", Versions: []twitchapi.BadgeVersion{{ID: "1", Title: "VIP", ImageURL1x: "https://img/vip"}}},
		},
		channel: map[string][]twitchapi.BadgeSet{
			"777": {{SetID: "subscriber", Versions: []twitchapi.BadgeVersion{{ID: "12", Title: "Custom Year", ImageURL1x: "https://img/custom/12"}}}},
		},
	}
	r := NewResolver(nil)
	ctx := context.Background()
	require.NoError(t, r.LoadHelix(ctx, src))
	require.NoError(t, r.LoadChannel(ctx, src, "777"))
	assert.True(t, r.HasChannel("777"))

	got := r.Parse("777", "subscriber/12,vip/1")
	require.Len(t, got, 2)
	assert.Equal(t, "https://img/custom/12", got[0].Image)
	assert.Equal(t, "VIP", got[1].Title)

	// a version only the global set knows resolves globally
	b, ok := r.Lookup("777", "subscriber", "0")
	require.True(t, ok)
	assert.Equal(t, "https://img/global/0", b.Image)

	// other channels see the global set
	other := r.Parse("1", "subscriber/12")
	require.Len(t, other, 1)
	assert.Equal(t, "0", other[0].Version)

	r.ForgetChannel("777")
	assert.False(t, r.HasChannel("777"))

	require.NoError(t, r.LoadChannel(context.Background(), src, "777"))
	require.NoError(t, r.LoadChannel(context.Background(), src, "888"))
	r.ForgetChannel("")
	assert.False(t, r.HasChannel("777"))
	assert.False(t, r.HasChannel("888"))
}

func TestLoadHelixError(t *testing.T) {
	r := NewResolver(nil)
	err := r.LoadHelix(context.Background(), &fakeHelix{err: errors.New("boom")})
	assert.Error(t, err)
}
