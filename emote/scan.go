package emote

import "unicode"

type token struct {
	text       string
	start, end int
}

// tokenize splits text on whitespace and reports each word with its rune
// offsets. Walking the text once keeps repeated words at their own positions.
func tokenize(text string) []token {
	var (
		out       []token
		runeIdx   int
		start     = -1
		startByte int
	)
	for byteIdx, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, token{text: text[startByte:byteIdx], start: start, end: runeIdx - 1})
				start = -1
			}
		} else if start < 0 {
			start = runeIdx
			startByte = byteIdx
		}
		runeIdx++
	}
	if start >= 0 {
		out = append(out, token{text: text[startByte:], start: start, end: runeIdx - 1})
	}
	return out
}

// scan matches every word of text against the global and channel tables.
// A code present in both resolves to the global definition.
func scan(text string, tag Tag, global, channel Table) []Match {
	if len(global) == 0 && len(channel) == 0 {
		return nil
	}
	var matches []Match
	for _, tok := range tokenize(text) {
		e, ok := global[tok.text]
		if !ok {
			e, ok = channel[tok.text]
		}
		if !ok {
			continue
		}
		end := tok.end
		if e.ZeroWidth {
			end = tok.start
		}
		matches = append(matches, Match{Emote: e, Provider: tag, Start: tok.start, End: end})
	}
	return matches
}
