package format

import "strings"

// sentenceEnders close a sentence when followed by whitespace or EOT.
const sentenceEnders = ".!?"

// Chunk splits text into transport-safe pieces of at most the configured
// chunk size. Splits prefer a sentence boundary in the last 30% of the
// window and avoid cutting through a code block that would fit whole in
// the next chunk. Every non-final chunk ends with the continuation
// marker.
func (f *Formatter) Chunk(text string) []string {
	runes := []rune(text)
	if len(runes) <= f.chunkSize {
		return []string{text}
	}

	marker := []rune(ChunkContinuation)
	window := f.chunkSize - len(marker)
	if window < 1 {
		window = 1
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= f.chunkSize {
			chunks = append(chunks, string(runes))
			break
		}

		cut := window
		if fence := fenceSplit(runes, cut, window); fence > 0 {
			cut = fence
		} else if b := sentenceBoundary(runes, cut); b > 0 {
			cut = b
		}

		chunks = append(chunks, string(runes[:cut])+ChunkContinuation)
		runes = runes[cut:]
	}
	return chunks
}

// sentenceBoundary looks for the last sentence end inside the final 30%
// of the window and returns the index just past it, or 0 when the window
// has no usable boundary.
func sentenceBoundary(runes []rune, cut int) int {
	floor := cut * 7 / 10
	for i := cut - 1; i >= floor; i-- {
		r := runes[i]
		if r == '\n' {
			return i + 1
		}
		if strings.ContainsRune(sentenceEnders, r) {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' {
				return i + 1
			}
		}
	}
	return 0
}

// fenceSplit handles cuts that would land inside a ``` code block. When
// the whole block fits in one window it moves the cut to the fence
// opening so the block ships intact in the next chunk. Blocks too large
// for any window split wherever the window falls. Returns 0 when the cut
// is not inside a block.
func fenceSplit(runes []rune, cut, window int) int {
	inBlock := false
	openIdx := -1
	for i := 0; i+2 < len(runes) && i < cut; i++ {
		if runes[i] != '`' || runes[i+1] != '`' || runes[i+2] != '`' {
			continue
		}
		if !inBlock {
			inBlock = true
			openIdx = i
		} else {
			inBlock = false
		}
		i += 2
	}
	if !inBlock || openIdx <= 0 {
		return 0
	}

	closeIdx := -1
	for i := openIdx + 3; i+2 < len(runes); i++ {
		if runes[i] == '`' && runes[i+1] == '`' && runes[i+2] == '`' {
			closeIdx = i + 3
			break
		}
	}
	if closeIdx == -1 || closeIdx-openIdx > window {
		return 0
	}
	return openIdx
}
