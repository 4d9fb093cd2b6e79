package emote

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const sevenTVAPI = "https://7tv.io"

const (
	sevenTVZeroWidth        = 1 << 0
	sevenTVTwitchDisallowed = 1 << 24
)

type sevenTVFile struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

type sevenTVActive struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Flags int    `json:"flags"`
	Data  struct {
		Listed bool `json:"listed"`
		Flags  int  `json:"flags"`
		Owner  *struct {
			DisplayName string `json:"display_name"`
		} `json:"owner"`
		Host struct {
			URL   string        `json:"url"`
			Files []sevenTVFile `json:"files"`
		} `json:"host"`
	} `json:"data"`
}

type sevenTVSet struct {
	Emotes []sevenTVActive `json:"emotes"`
}

type sevenTVUser struct {
	EmoteSet *sevenTVSet `json:"emote_set"`
}

// NewSevenTV returns the 7TV catalog.
func NewSevenTV(cfg CatalogConfig) *CatalogProvider {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = sevenTVAPI
	}
	p := newCatalog(TagSevenTV, cfg)
	p.globalURL = base + "/v3/emote-sets/global"
	p.channelURL = func(id string) string {
		return base + "/v3/users/twitch/" + url.PathEscape(id)
	}
	p.decodeGlobal = decodeSevenTVGlobal
	p.decodeChannel = decodeSevenTVChannel
	return p
}

func decodeSevenTVGlobal(body []byte) (Table, error) {
	var set sevenTVSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("decode 7tv global: %w", err)
	}
	return sevenTVTable(set.Emotes, true), nil
}

func decodeSevenTVChannel(body []byte) (Table, error) {
	var u sevenTVUser
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decode 7tv user: %w", err)
	}
	if u.EmoteSet == nil {
		return Table{}, nil
	}
	return sevenTVTable(u.EmoteSet.Emotes, false), nil
}

func sevenTVTable(list []sevenTVActive, global bool) Table {
	t := make(Table, len(list))
	for _, a := range list {
		if !a.Data.Listed || a.Data.Flags&sevenTVTwitchDisallowed != 0 {
			continue
		}
		t[a.Name] = newSevenTVEmote(a, global)
	}
	return t
}

func newSevenTVEmote(a sevenTVActive, global bool) *Emote {
	files := a.Data.Host.Files
	var webp []sevenTVFile
	for _, f := range files {
		if f.Format == "WEBP" {
			webp = append(webp, f)
		}
	}
	if len(webp) > 0 {
		files = webp
	}

	images := make(map[string]string, len(files))
	var maxW, maxH int
	smallest := 0
	for _, f := range files {
		scale := f.Width / defaultSize.Width
		if scale < 1 {
			scale = 1
		}
		if smallest == 0 || scale < smallest {
			smallest = scale
		}
		if f.Width > maxW {
			maxW, maxH = f.Width, f.Height
		}
		images[strconv.Itoa(scale)+"x"] = "https:" + a.Data.Host.URL + "/" + f.Name
	}
	if _, ok := images["1x"]; !ok && smallest > 0 {
		images["1x"] = images[strconv.Itoa(smallest)+"x"]
	}

	aspect := 1.0
	if maxH > 0 {
		aspect = float64(maxW) / float64(maxH)
	}

	kind := "Channel"
	if global {
		kind = "Global"
	}
	author := "<deleted>"
	if o := a.Data.Owner; o != nil && o.DisplayName != "" {
		author = o.DisplayName
	}

	return &Emote{
		ID:          a.ID,
		Code:        a.Name,
		Provider:    TagSevenTV,
		ImageSet:    images,
		BaseSize:    defaultSize,
		Tooltip:     fmt.Sprintf("%s<br>%s 7TV Emote<br>By: %s", a.Name, kind, author),
		PageURL:     "https://7tv.app/emotes/" + a.ID,
		Global:      global,
		ZeroWidth:   a.Flags&sevenTVZeroWidth != 0,
		Wide:        aspect > 1.8,
		AspectRatio: aspect,
		Width:       maxW,
		Height:      maxH,
	}
}
