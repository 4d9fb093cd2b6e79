package hub

import (
	"regexp"
	"strings"
)

// PathPrefix is the first path segment of a viewer URL: /chatmon/<channel>.
const PathPrefix = "chatmon"

var channelRe = regexp.MustCompile(`^[A-Za-z0-9_]{4,25}$`)

// ValidChannel reports whether name is an acceptable channel name.
func ValidChannel(name string) bool {
	return channelRe.MatchString(name)
}

// ChannelFromPath extracts the channel from /chatmon/<channel>, ignoring empty
// segments. The returned name is lower-cased.
func ChannelFromPath(path string) (string, bool) {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) != 2 || segs[0] != PathPrefix || !ValidChannel(segs[1]) {
		return "", false
	}
	return strings.ToLower(segs[1]), true
}
