package emote

import (
	"context"
	"fmt"
	"strings"
)

// Tag identifies the catalog an emote or match came from.
type Tag string

const (
	TagTwitch  Tag = "twitch"
	TagBTTV    Tag = "bttv"
	TagFFZ     Tag = "ffz"
	TagSevenTV Tag = "7tv"
)

// DefaultOrder is the priority of third-party catalogs when matches collide.
// The native Twitch provider always comes first.
var DefaultOrder = []Tag{TagBTTV, TagFFZ, TagSevenTV}

// ParseOrder parses a comma separated list of third-party tags, e.g. "bttv,ffz,7tv".
func ParseOrder(s string) ([]Tag, error) {
	var out []Tag
	seen := make(map[Tag]bool)
	for _, part := range strings.Split(s, ",") {
		t := Tag(strings.ToLower(strings.TrimSpace(part)))
		if t == "" {
			continue
		}
		switch t {
		case TagBTTV, TagFFZ, TagSevenTV:
		default:
			return nil, fmt.Errorf("unknown emote provider %q", t)
		}
		if seen[t] {
			return nil, fmt.Errorf("duplicate emote provider %q", t)
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty emote provider order")
	}
	return out, nil
}

// Size is the display size of an emote at scale 1x.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

var defaultSize = Size{Width: 28, Height: 28}

// Emote is an immutable catalog entry.
type Emote struct {
	ID          string            `json:"id"`
	Code        string            `json:"code"`
	Provider    Tag               `json:"provider"`
	ImageSet    map[string]string `json:"imageSet"`
	BaseSize    Size              `json:"baseSize"`
	Tooltip     string            `json:"tooltip,omitempty"`
	PageURL     string            `json:"pageUrl,omitempty"`
	Global      bool              `json:"isGlobal"`
	ZeroWidth   bool              `json:"zeroWidth,omitempty"`
	Wide        bool              `json:"isWide,omitempty"`
	AspectRatio float64           `json:"aspectRatio,omitempty"`
	Width       int               `json:"width,omitempty"`
	Height      int               `json:"height,omitempty"`
}

// Table maps an emote code to its definition.
type Table map[string]*Emote

// Match is one emote occurrence inside one message.
type Match struct {
	Emote    *Emote
	Provider Tag
	Start    int
	End      int
}

// MarshalJSON flattens the emote rendering fields into the match, which is the
// shape viewers render from.
func (m Match) MarshalJSON() ([]byte, error) {
	out := struct {
		ID          string            `json:"id"`
		Code        string            `json:"code"`
		Provider    Tag               `json:"provider"`
		Start       int               `json:"start"`
		End         int               `json:"end"`
		ImageSet    map[string]string `json:"imageSet,omitempty"`
		BaseSize    *Size             `json:"baseSize,omitempty"`
		Tooltip     string            `json:"tooltip,omitempty"`
		PageURL     string            `json:"pageUrl,omitempty"`
		ZeroWidth   bool              `json:"zeroWidth,omitempty"`
		Wide        bool              `json:"isWide,omitempty"`
		AspectRatio float64           `json:"aspectRatio,omitempty"`
		Width       int               `json:"width,omitempty"`
		Height      int               `json:"height,omitempty"`
	}{
		Provider: m.Provider,
		Start:    m.Start,
		End:      m.End,
	}
	if e := m.Emote; e != nil {
		size := e.BaseSize
		out.ID = e.ID
		out.Code = e.Code
		out.ImageSet = e.ImageSet
		out.BaseSize = &size
		out.Tooltip = e.Tooltip
		out.PageURL = e.PageURL
		out.ZeroWidth = e.ZeroWidth
		out.Wide = e.Wide
		out.AspectRatio = e.AspectRatio
		out.Width = e.Width
		out.Height = e.Height
	}
	return json.Marshal(out)
}

// Provider is the capability shared by every emote source.
//
// Initialize loads the global set once and never fails; GetEmotes returns the
// memoized channel table, fetching it on first use; Refresh always re-fetches;
// Forget drops the channel memo. ParseMessage only reads tables already loaded.
type Provider interface {
	Tag() Tag
	Initialize(ctx context.Context)
	GetEmotes(ctx context.Context, channelID string) Table
	Refresh(ctx context.Context, channelID string) Table
	Forget(channelID string)
	ParseMessage(text, channelID string) []Match
}
