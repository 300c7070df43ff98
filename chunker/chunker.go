// Package chunker splits extracted page text into overlapping windows
// suitable for embedding and graph extraction. Splitting is recursive on a
// separator hierarchy (paragraph, line, word, character) so that windows
// break at the most natural boundary available.
package chunker

import (
	"strings"

	"github.com/mizanai/mizan/parser"
)

// separators is the split hierarchy, tried in order. The empty separator
// is the terminal hard cut for text with no natural boundaries.
var separators = []string{"\n\n", "\n", " ", ""}

// Config controls the chunking behaviour.
type Config struct {
	WindowSize int // Target window size in bytes.
	Overlap    int // Overlap between consecutive windows in bytes.
}

// Chunk is one window of page text with positional metadata. Offset is the
// byte position of the window within the original page text.
type Chunk struct {
	Content    string
	SourceFile string
	Page       int
	Offset     int
}

// Chunker converts page texts into ordered overlapping windows.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration. Zero-value fields are
// replaced with defaults (1000-byte windows, 100-byte overlap); an overlap
// that does not fit the window falls back to a tenth of the window.
func New(cfg Config) *Chunker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 1000
	}
	if cfg.Overlap <= 0 || cfg.Overlap >= cfg.WindowSize {
		cfg.Overlap = 100
		if cfg.Overlap >= cfg.WindowSize {
			cfg.Overlap = cfg.WindowSize / 10
		}
	}
	return &Chunker{cfg: cfg}
}

// Split converts the ordered page texts of sourceFile into chunks. Chunk
// order preserves document order; empty input yields no chunks.
func (c *Chunker) Split(sourceFile string, pages []parser.Page) []Chunk {
	var chunks []Chunk
	for _, p := range pages {
		for _, w := range c.splitText(p.Text, 0, 0) {
			if strings.TrimSpace(w.content) == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Content:    w.content,
				SourceFile: sourceFile,
				Page:       p.Number,
				Offset:     w.offset,
			})
		}
	}
	return chunks
}

// window is an intermediate span of page text.
type window struct {
	content string
	offset  int
}

// splitText recursively splits text into windows of at most WindowSize
// bytes. base is the byte offset of text within the original page; sepIdx
// selects the current separator in the hierarchy.
func (c *Chunker) splitText(text string, base, sepIdx int) []window {
	if len(text) <= c.cfg.WindowSize {
		if text == "" {
			return nil
		}
		return []window{{content: text, offset: base}}
	}

	sep := separators[sepIdx]
	if sep == "" {
		return c.hardCut(text, base)
	}

	parts := splitSpans(text, sep)
	if len(parts) <= 1 {
		// Separator absent; fall through to the next level.
		return c.splitText(text, base, sepIdx+1)
	}

	var out []window
	cur := -1 // start of the window being accumulated, -1 = none
	end := 0  // end of the last part added to the current window

	flush := func() {
		if cur >= 0 && end > cur {
			out = append(out, window{content: text[cur:end], offset: base + cur})
		}
	}

	for _, p := range parts {
		// An oversized part cannot be merged; split it at the next level.
		if p.end-p.start > c.cfg.WindowSize {
			flush()
			cur = -1
			out = append(out, c.splitText(text[p.start:p.end], base+p.start, sepIdx+1)...)
			continue
		}

		if cur < 0 {
			cur, end = p.start, p.end
			continue
		}

		// Including this part (and the separator bytes between) would
		// overflow the window: emit it and restart with overlap.
		if p.end-cur > c.cfg.WindowSize {
			flush()
			cur = overlapStart(parts, end, c.cfg.Overlap)
			if p.end-cur > c.cfg.WindowSize {
				cur = p.start
			}
		}
		end = p.end
	}
	flush()
	return out
}

// hardCut slices text into fixed-size windows with the configured overlap.
// Cuts are shifted off UTF-8 continuation bytes so no rune is split.
func (c *Chunker) hardCut(text string, base int) []window {
	step := c.cfg.WindowSize - c.cfg.Overlap
	var out []window
	for start := 0; start < len(text); start += step {
		start = runeAlign(text, start)
		end := start + c.cfg.WindowSize
		if end >= len(text) {
			out = append(out, window{content: text[start:], offset: base + start})
			break
		}
		end = runeAlign(text, end)
		out = append(out, window{content: text[start:end], offset: base + start})
	}
	return out
}

// runeAlign moves i backwards off UTF-8 continuation bytes.
func runeAlign(s string, i int) int {
	for i > 0 && i < len(s) && s[i]&0xC0 == 0x80 {
		i--
	}
	return i
}

// span is a half-open byte range within a text.
type span struct {
	start, end int
}

// splitSpans returns the spans between occurrences of sep, excluding the
// separator bytes themselves. Empty spans are dropped.
func splitSpans(text, sep string) []span {
	var spans []span
	start := 0
	for {
		i := strings.Index(text[start:], sep)
		if i < 0 {
			break
		}
		if i > 0 {
			spans = append(spans, span{start, start + i})
		}
		start += i + len(sep)
	}
	if start < len(text) {
		spans = append(spans, span{start, len(text)})
	}
	return spans
}

// overlapStart picks the start of the next window: the earliest part
// boundary within overlap bytes of the previous window's end, so that
// consecutive windows share roughly that much trailing text.
func overlapStart(parts []span, prevEnd, overlap int) int {
	target := prevEnd - overlap
	for _, p := range parts {
		if p.start >= target && p.start < prevEnd {
			return p.start
		}
	}
	return prevEnd
}
