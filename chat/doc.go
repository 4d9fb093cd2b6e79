// Package chat owns the upstream Twitch chat connections.
//
// A Manager keeps at most one go-twitch-irc client per channel. The first viewer
// of a channel triggers Join, which connects and waits for the server to accept
// the session; the last viewer leaving triggers Leave. Every private message is
// annotated with badges and emotes (native positions merged with the
// third-party catalogs) and handed to the Broadcaster as a Message.
//
// Credentials: with TWITCH_BOT_USERNAME and TWITCH_OAUTH_TOKEN set the client
// logs in as that user; otherwise it joins anonymously, which is enough to read
// chat.
package chat
