// Package chunker splits documents into section-aware chunks for file-context memories.
package chunker

import (
	"strings"
)

const (
	DefaultTargetSize = 400
	DefaultMaxSize    = 600
)

// Options configures chunking behavior.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
	}
}

// Chunk is one piece of a document with its position and enclosing section.
// Page starts at 1 and advances on form-feed characters.
type Chunk struct {
	Seq       int
	Text      string
	StartLine int
	EndLine   int
	Section   string
	Page      int
}

// Split splits text into chunks. Text no longer than MaxSize is one chunk.
func Split(text string, opts Options) []Chunk {
	if opts.TargetSize == 0 {
		opts = DefaultOptions()
	}
	if opts.MaxSize < opts.TargetSize {
		opts.MaxSize = opts.TargetSize
	}

	if strings.TrimSpace(text) == "" {
		return nil
	}

	blocks := splitBlocks(text)
	chunks := mergeBlocks(blocks, opts)
	for i := range chunks {
		chunks[i].Seq = i
	}
	return chunks
}

// block is a run of lines that sits under a single heading on a single page.
type block struct {
	text      string
	startLine int
	endLine   int
	section   string
	page      int
}

// splitBlocks splits text on heading lines, page breaks and double newlines.
func splitBlocks(text string) []block {
	lines := strings.Split(text, "\n")
	var blocks []block
	var current []string
	startLine := 1
	section := ""
	page := 1
	blockSection, blockPage := section, page

	flush := func(endLine int) {
		if len(current) > 0 {
			t := strings.TrimSpace(strings.Join(current, "\n"))
			if t != "" {
				blocks = append(blocks, block{text: t, startLine: startLine, endLine: endLine, section: blockSection, page: blockPage})
			}
		}
		current = nil
		startLine = endLine + 1
		blockSection, blockPage = section, page
	}

	prevEmpty := false
	for i, line := range lines {
		lineNum := i + 1

		if n := strings.Count(line, "\f"); n > 0 {
			flush(lineNum - 1)
			page += n
			blockPage = page
			line = strings.ReplaceAll(line, "\f", "")
		}
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "#") {
			flush(lineNum - 1)
			section = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			blockSection = section
		}

		if trimmed == "" {
			if prevEmpty && len(current) > 0 {
				flush(lineNum - 1)
			}
			prevEmpty = true
			current = append(current, line)
			continue
		}
		prevEmpty = false
		current = append(current, line)
	}
	flush(len(lines))

	return blocks
}

// mergeBlocks combines small blocks within a section and splits oversized ones.
func mergeBlocks(blocks []block, opts Options) []Chunk {
	var results []Chunk
	var accum block

	flushAccum := func() {
		t := strings.TrimSpace(accum.text)
		if t == "" {
			return
		}
		if len(t) > opts.MaxSize {
			results = append(results, hardSplit(accum, opts)...)
		} else {
			results = append(results, Chunk{
				Text: t, StartLine: accum.startLine, EndLine: accum.startLine + strings.Count(t, "\n"),
				Section: accum.section, Page: accum.page,
			})
		}
		accum = block{}
	}

	for _, b := range blocks {
		if accum.text == "" {
			accum = b
			continue
		}

		combined := accum.text + "\n\n" + b.text
		if b.section == accum.section && b.page == accum.page && len(combined) <= opts.TargetSize {
			accum.text = combined
			accum.endLine = b.endLine
		} else {
			flushAccum()
			accum = b
		}
	}
	flushAccum()

	return results
}

// hardSplit breaks a block that exceeds MaxSize on line boundaries.
func hardSplit(b block, opts Options) []Chunk {
	lines := strings.Split(b.text, "\n")
	var results []Chunk
	var current []string
	curStart := b.startLine
	curLen := 0

	emit := func(end int) {
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" {
			results = append(results, Chunk{Text: t, StartLine: curStart, EndLine: end, Section: b.section, Page: b.page})
		}
	}

	for i, line := range lines {
		if curLen+len(line) > opts.TargetSize && len(current) > 0 {
			emit(b.startLine + i - 1)
			current = nil
			curStart = b.startLine + i
			curLen = 0
		}
		current = append(current, line)
		curLen += len(line) + 1
	}
	if len(current) > 0 {
		emit(b.startLine + len(lines) - 1)
	}

	return results
}
