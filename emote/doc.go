// Package emote resolves third-party and native Twitch emotes inside chat messages.
//
// It provides:
//   - Provider variants: BetterTTV, FrankerFaceZ and 7TV catalogs (CatalogProvider)
//     plus the native Twitch provider that reads positions from IRC tags (Twitch).
//   - Cache: a per-channel, TTL-bounded aggregation of every registered catalog.
//     Concurrent refreshes of the same channel share one in-flight fetch.
//   - Merge: priority-ordered de-duplication of per-provider match lists.
//
// Offsets in a Match are rune indexes into the message with an inclusive end,
// which is the convention Twitch uses for the native emotes tag.
package emote
