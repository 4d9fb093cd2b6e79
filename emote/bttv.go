package emote

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	bttvAPI = "https://api.betterttv.net"
	bttvCDN = "https://cdn.betterttv.net/emote"
)

type bttvEmote struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	User *struct {
		DisplayName string `json:"displayName"`
	} `json:"user"`
}

type bttvChannel struct {
	DisplayName   string      `json:"channelDisplayName"`
	ChannelEmotes []bttvEmote `json:"channelEmotes"`
	SharedEmotes  []bttvEmote `json:"sharedEmotes"`
}

// NewBTTV returns the BetterTTV catalog.
func NewBTTV(cfg CatalogConfig) *CatalogProvider {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = bttvAPI
	}
	p := newCatalog(TagBTTV, cfg)
	p.globalURL = base + "/3/cached/emotes/global"
	p.channelURL = func(id string) string {
		return base + "/3/cached/users/twitch/" + url.PathEscape(id)
	}
	p.decodeGlobal = decodeBTTVGlobal
	p.decodeChannel = decodeBTTVChannel
	return p
}

func decodeBTTVGlobal(body []byte) (Table, error) {
	var list []bttvEmote
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode bttv global: %w", err)
	}
	t := make(Table, len(list))
	for _, e := range list {
		t[e.Code] = newBTTVEmote(e, true, e.Code+"<br>Global BetterTTV Emote")
	}
	return t, nil
}

func decodeBTTVChannel(body []byte) (Table, error) {
	var ch bttvChannel
	if err := json.Unmarshal(body, &ch); err != nil {
		return nil, fmt.Errorf("decode bttv channel: %w", err)
	}
	channelName := ch.DisplayName
	if channelName == "" {
		channelName = "Unknown Channel"
	}
	t := make(Table, len(ch.ChannelEmotes)+len(ch.SharedEmotes))
	for _, list := range [][]bttvEmote{ch.ChannelEmotes, ch.SharedEmotes} {
		for _, e := range list {
			kind, author := "Channel", channelName
			if e.User != nil && e.User.DisplayName != "" {
				kind, author = "Shared", e.User.DisplayName
			}
			tooltip := fmt.Sprintf("%s<br>%s BetterTTV Emote<br>By: %s", e.Code, kind, author)
			t[e.Code] = newBTTVEmote(e, false, tooltip)
		}
	}
	return t, nil
}

func newBTTVEmote(e bttvEmote, global bool, tooltip string) *Emote {
	return &Emote{
		ID:       e.ID,
		Code:     e.Code,
		Provider: TagBTTV,
		ImageSet: map[string]string{
			"1x": bttvCDN + "/" + e.ID + "/1x",
			"2x": bttvCDN + "/" + e.ID + "/2x",
			"3x": bttvCDN + "/" + e.ID + "/3x",
		},
		BaseSize: defaultSize,
		Tooltip:  tooltip,
		PageURL:  "https://betterttv.com/emotes/" + e.ID,
		Global:   global,
	}
}
