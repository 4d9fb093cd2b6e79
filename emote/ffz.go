package emote

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const ffzAPI = "https://api.frankerfacez.com"

type ffzEmoticon struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Owner  *struct {
		DisplayName string `json:"display_name"`
	} `json:"owner"`
	URLs     map[string]string `json:"urls"`
	Animated map[string]string `json:"animated"`
}

type ffzSet struct {
	Emoticons []ffzEmoticon `json:"emoticons"`
}

type ffzGlobal struct {
	DefaultSets []int             `json:"default_sets"`
	Sets        map[string]ffzSet `json:"sets"`
}

type ffzRoom struct {
	Sets map[string]ffzSet `json:"sets"`
}

// NewFFZ returns the FrankerFaceZ catalog.
func NewFFZ(cfg CatalogConfig) *CatalogProvider {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = ffzAPI
	}
	p := newCatalog(TagFFZ, cfg)
	p.globalURL = base + "/v1/set/global"
	p.channelURL = func(id string) string {
		return base + "/v1/room/id/" + url.PathEscape(id)
	}
	p.decodeGlobal = decodeFFZGlobal
	p.decodeChannel = decodeFFZChannel
	return p
}

// decodeFFZGlobal keeps only the default sets; the rest are opt-in for FFZ users.
func decodeFFZGlobal(body []byte) (Table, error) {
	var g ffzGlobal
	if err := json.Unmarshal(body, &g); err != nil {
		return nil, fmt.Errorf("decode ffz global: %w", err)
	}
	t := Table{}
	for _, id := range g.DefaultSets {
		set, ok := g.Sets[strconv.Itoa(id)]
		if !ok {
			continue
		}
		addFFZSet(t, set, "Global", true)
	}
	return t, nil
}

func decodeFFZChannel(body []byte) (Table, error) {
	var r ffzRoom
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode ffz room: %w", err)
	}
	t := Table{}
	for _, set := range r.Sets {
		addFFZSet(t, set, "Channel", false)
	}
	return t, nil
}

func addFFZSet(t Table, set ffzSet, kind string, global bool) {
	for _, e := range set.Emoticons {
		author := "Unknown"
		if e.Owner != nil && e.Owner.DisplayName != "" {
			author = e.Owner.DisplayName
		}
		urls := e.URLs
		if len(e.Animated) > 0 {
			urls = e.Animated
		}
		images := make(map[string]string, 3)
		for _, scale := range []string{"1", "2", "4"} {
			if u := urls[scale]; u != "" {
				images[scale+"x"] = ffzURL(u)
			}
		}
		size := Size{Width: e.Width, Height: e.Height}
		if size.Width == 0 {
			size.Width = defaultSize.Width
		}
		if size.Height == 0 {
			size.Height = defaultSize.Height
		}
		id := strconv.Itoa(e.ID)
		t[e.Name] = &Emote{
			ID:       id,
			Code:     e.Name,
			Provider: TagFFZ,
			ImageSet: images,
			BaseSize: size,
			Tooltip:  fmt.Sprintf("%s<br>%s FFZ Emote<br>By: %s", e.Name, kind, author),
			PageURL:  "https://www.frankerfacez.com/emoticon/" + id + "-" + e.Name,
			Global:   global,
		}
	}
}

// ffzURL turns protocol-relative CDN links into https links.
func ffzURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}
