package emote

import (
	"context"
	"sort"
	"strconv"
	"strings"
)

const twitchCDN = "https://static-cdn.jtvnw.net/emoticons/v2"

// Twitch is the native provider. Twitch reports emote positions in the IRC
// emotes tag, so there is no catalog to load and ParseMessage finds nothing;
// use ParseTag instead.
type Twitch struct{}

// NewTwitch returns the native Twitch provider.
func NewTwitch() *Twitch { return &Twitch{} }

func (*Twitch) Tag() Tag                                { return TagTwitch }
func (*Twitch) Initialize(context.Context)              {}
func (*Twitch) GetEmotes(context.Context, string) Table { return Table{} }
func (*Twitch) Refresh(context.Context, string) Table   { return Table{} }
func (*Twitch) Forget(string)                           {}
func (*Twitch) ParseMessage(string, string) []Match     { return nil }

// ParseTag converts the raw emotes tag ("25:0-4,12-16/1902:6-10") into matches
// ordered by position. Ranges that fall outside text are skipped.
func (t *Twitch) ParseTag(text, raw string) []Match {
	if raw == "" {
		return nil
	}
	runes := []rune(text)
	var out []Match
	for _, group := range strings.Split(raw, "/") {
		id, positions, ok := strings.Cut(group, ":")
		if !ok || id == "" {
			continue
		}
		var e *Emote
		for _, pos := range strings.Split(positions, ",") {
			s, en, ok := strings.Cut(pos, "-")
			if !ok {
				continue
			}
			start, err1 := strconv.Atoi(s)
			end, err2 := strconv.Atoi(en)
			if err1 != nil || err2 != nil || start < 0 || end < start || end >= len(runes) {
				continue
			}
			if e == nil {
				e = newTwitchEmote(id, string(runes[start:end+1]))
			}
			out = append(out, Match{Emote: e, Provider: TagTwitch, Start: start, End: end})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func newTwitchEmote(id, code string) *Emote {
	base := twitchCDN + "/" + id + "/default/dark/"
	return &Emote{
		ID:       id,
		Code:     code,
		Provider: TagTwitch,
		ImageSet: map[string]string{
			"1x": base + "1.0",
			"2x": base + "2.0",
			"3x": base + "3.0",
		},
		BaseSize: defaultSize,
		Tooltip:  code,
		Global:   true,
	}
}
