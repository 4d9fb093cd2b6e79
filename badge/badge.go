// Package badge resolves the badges tag of a chat message into display metadata.
package badge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/onnwee/chatmon/twitchapi"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is one version of a badge set as stored in the badge file.
type Version struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Image string `json:"image"`
}

// Badge is the resolved form sent to viewers.
type Badge struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Title   string `json:"title"`
	Image   string `json:"image"`
}

// Catalog maps a badge set id to its versions in display order.
type Catalog map[string][]Version

// HelixSource is the subset of the Helix client used to load badge catalogs.
type HelixSource interface {
	GetGlobalBadges(ctx context.Context) ([]twitchapi.BadgeSet, error)
	GetChannelBadges(ctx context.Context, broadcasterID string) ([]twitchapi.BadgeSet, error)
}

// Resolver looks badges up in the global catalog and, when loaded, a
// per-channel catalog that overrides it (custom subscriber badges).
type Resolver struct {
	logger *slog.Logger

	mu       sync.RWMutex
	global   Catalog
	channels map[string]Catalog
}

// NewResolver returns an empty resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		logger:   logger.With(slog.String("component", "badges")),
		global:   Catalog{},
		channels: make(map[string]Catalog),
	}
}

// LoadFile replaces the global catalog with the contents of a JSON file
// shaped {"setId": [{"id","title","image"}]}.
func (r *Resolver) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read badge file: %w", err)
	}
	var c Catalog
	if err := json.Unmarshal(b, &c); err != nil {
		return fmt.Errorf("decode badge file: %w", err)
	}
	r.SetGlobal(c)
	return nil
}

// LoadHelix replaces the global catalog with the Helix global badge sets.
func (r *Resolver) LoadHelix(ctx context.Context, src HelixSource) error {
	sets, err := src.GetGlobalBadges(ctx)
	if err != nil {
		return err
	}
	r.SetGlobal(fromHelix(sets))
	return nil
}

// LoadChannel fetches the custom badge sets of one broadcaster.
func (r *Resolver) LoadChannel(ctx context.Context, src HelixSource, channelID string) error {
	sets, err := src.GetChannelBadges(ctx, channelID)
	if err != nil {
		return err
	}
	c := fromHelix(sets)
	r.mu.Lock()
	r.channels[channelID] = c
	r.mu.Unlock()
	r.logger.Debug("channel badges loaded", slog.String("channel_id", channelID), slog.Int("sets", len(c)))
	return nil
}

// HasChannel reports whether a channel catalog is loaded.
func (r *Resolver) HasChannel(channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[channelID]
	return ok
}

// ForgetChannel drops a channel catalog, or all of them when channelID is
// empty. The catalog is fetched again on the channel's next room state.
func (r *Resolver) ForgetChannel(channelID string) {
	r.mu.Lock()
	if channelID == "" {
		r.channels = make(map[string]Catalog)
	} else {
		delete(r.channels, channelID)
	}
	r.mu.Unlock()
}

// SetGlobal replaces the global catalog.
func (r *Resolver) SetGlobal(c Catalog) {
	if c == nil {
		c = Catalog{}
	}
	r.mu.Lock()
	r.global = c
	r.mu.Unlock()
	r.logger.Info("badge catalog loaded", slog.Int("sets", len(c)))
}

// Len reports the number of global badge sets.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.global)
}

// Lookup resolves one badge. An unknown version falls back to the first
// version of the set; an unknown set is not found.
func (r *Resolver) Lookup(channelID, setID, version string) (Badge, bool) {
	r.mu.RLock()
	versions, ok := r.channels[channelID][setID]
	if !ok || !hasVersion(versions, version) {
		if g, gok := r.global[setID]; gok {
			versions, ok = g, true
		}
	}
	r.mu.RUnlock()
	if !ok || len(versions) == 0 {
		return Badge{}, false
	}
	v := versions[0]
	for _, cand := range versions {
		if cand.ID == version {
			v = cand
			break
		}
	}
	return Badge{ID: setID, Version: v.ID, Title: v.Title, Image: v.Image}, true
}

// Parse resolves the raw badges tag, e.g. "broadcaster/1,subscriber/12",
// keeping tag order and skipping unknown sets.
func (r *Resolver) Parse(channelID, raw string) []Badge {
	out := []Badge{}
	if raw == "" {
		return out
	}
	for _, part := range strings.Split(raw, ",") {
		setID, version, _ := strings.Cut(part, "/")
		if setID == "" {
			continue
		}
		if version == "" {
			version = "1"
		}
		if b, ok := r.Lookup(channelID, setID, version); ok {
			out = append(out, b)
		}
	}
	return out
}

func hasVersion(versions []Version, id string) bool {
	for _, v := range versions {
		if v.ID == id {
			return true
		}
	}
	return false
}

func fromHelix(sets []twitchapi.BadgeSet) Catalog {
	c := make(Catalog, len(sets))
	for _, s := range sets {
		versions := make([]Version, 0, len(s.Versions))
		for _, v := range s.Versions {
			versions = append(versions, Version{ID: v.ID, Title: v.Title, Image: v.ImageURL1x})
		}
		c[s.SetID] = versions
	}
	return c
}
