package emote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeRuneOffsets(t *testing.T) {
	toks := tokenize("  héllo\twörld  x ")
	require.Len(t, toks, 3)
	assert.Equal(t, token{text: "héllo", start: 2, end: 6}, toks[0])
	assert.Equal(t, token{text: "wörld", start: 8, end: 12}, toks[1])
	assert.Equal(t, token{text: "x", start: 15, end: 15}, toks[2])
}

func TestScanRepeatedTokens(t *testing.T) {
	kappa := &Emote{ID: "1", Code: "Kappa", Provider: TagBTTV}
	matches := scan("Hello Kappa Kappa", TagBTTV, Table{"Kappa": kappa}, nil)

	require.Len(t, matches, 2)
	assert.Equal(t, 6, matches[0].Start)
	assert.Equal(t, 10, matches[0].End)
	assert.Equal(t, 12, matches[1].Start)
	assert.Equal(t, 16, matches[1].End)
	assert.Equal(t, TagBTTV, matches[0].Provider)
}

func TestScanGlobalWinsOverChannel(t *testing.T) {
	global := &Emote{ID: "g", Code: "Kappa", Global: true}
	channel := &Emote{ID: "c", Code: "Kappa"}
	only := &Emote{ID: "o", Code: "catJAM"}

	matches := scan("Kappa catJAM", TagFFZ, Table{"Kappa": global}, Table{"Kappa": channel, "catJAM": only})

	require.Len(t, matches, 2)
	assert.Equal(t, "g", matches[0].Emote.ID)
	assert.Equal(t, "o", matches[1].Emote.ID)
}

func TestScanZeroWidth(t *testing.T) {
	zw := &Emote{ID: "z", Code: "RainTime", ZeroWidth: true}
	matches := scan("pepe RainTime", TagSevenTV, nil, Table{"RainTime": zw})

	require.Len(t, matches, 1)
	assert.Equal(t, 5, matches[0].Start)
	assert.Equal(t, 5, matches[0].End)
}

func TestScanNoTables(t *testing.T) {
	assert.Nil(t, scan("Kappa", TagBTTV, nil, nil))
}

func TestScanEmojiPrefix(t *testing.T) {
	kappa := &Emote{ID: "1", Code: "Kappa"}
	matches := scan("🙂 Kappa", TagBTTV, Table{"Kappa": kappa}, nil)

	require.Len(t, matches, 1)
	assert.Equal(t, 2, matches[0].Start)
	assert.Equal(t, 6, matches[0].End)
}

func TestMatchMarshalJSON(t *testing.T) {
	m := Match{
		Emote:    &Emote{ID: "1", Code: "Kappa", ImageSet: map[string]string{"1x": "u"}, BaseSize: defaultSize},
		Provider: TagBTTV,
		Start:    0,
		End:      4,
	}
	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","code":"Kappa","provider":"bttv","start":0,"end":4,"imageSet":{"1x":"u"},"baseSize":{"width":28,"height":28}}`, string(b))
}

func TestParseOrder(t *testing.T) {
	order, err := ParseOrder(" 7TV, bttv ,ffz")
	require.NoError(t, err)
	assert.Equal(t, []Tag{TagSevenTV, TagBTTV, TagFFZ}, order)

	_, err = ParseOrder("bttv,bttv")
	assert.Error(t, err)
	_, err = ParseOrder("twitch")
	assert.Error(t, err)
	_, err = ParseOrder(" , ")
	assert.Error(t, err)
}
