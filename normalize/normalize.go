// Package normalize repairs known AI-output formatting defects so the lab
// markdown renderer receives consistent structure regardless of which
// provider produced the text.
//
// The document dialect uses blockquote hint blocks: a guided hint block
// starts at a ">[+] Guided Hint" line and spans the following contiguous
// ">"-prefixed lines; an advanced hint block is the same shape with an
// "Advanced Hint" header. Callouts are ">[!note]"-style tag lines and must
// live outside guided hint blocks.
//
// Every pass is a pure transform, total over arbitrary input, and
// idempotent: Normalize(Normalize(t)) == Normalize(t) for any t and hint.
package normalize

import (
	"regexp"
	"strings"
)

// Hint selects the provider-specific post-passes.
type Hint string

const (
	HintNone   Hint = ""
	HintGemini Hint = "gemini"
	HintOpenAI Hint = "openai"
	HintOllama Hint = "ollama"
)

var (
	reGuidedStart   = regexp.MustCompile(`(?i)^>\s*\[\+\]\s*guided hint`)
	reAdvancedStart = regexp.MustCompile(`(?i)^>\s*\[\+\]\s*advanced hint`)
	reQuotedCallout = regexp.MustCompile(`(?i)^>\s*\[!(?:note|help|alert|knowledge)\]`)
	reAnyCallout    = regexp.MustCompile(`(?i)^>?\s*\[!(?:note|help|alert|knowledge)\]`)
	reQuoteBullet   = regexp.MustCompile(`^>\s*-`)
	reQuoteBlank    = regexp.MustCompile(`^>\s*$`)
	reQuoteTag      = regexp.MustCompile(`^>\s*\[`)
	reOverviewTag   = regexp.MustCompile(`^\[Overview\]`)
	reSpaceRun      = regexp.MustCompile(`\s+`)
)

// Normalize runs the repair pipeline over text. Pass order matters: later
// passes assume earlier ones already ran. Malformed input passes through
// best effort; Normalize never fails.
func Normalize(text string, hint Hint) string {
	s := strings.ReplaceAll(text, "\r\n", "\n")
	s = trimTrailingSpace(s)
	s = strings.ReplaceAll(s, "> >-", "> -")
	s = collapseGuidedBlanks(s)
	s = relocateCallouts(s)
	s = capCalloutBlanks(s)

	switch hint {
	case HintGemini:
		// Gemini tends to reflow single-line fields and re-pad hint
		// blocks, so it gets a field re-join plus a second (idempotent)
		// blank collapse.
		s = joinOverviewField(s)
		s = collapseGuidedBlanks(s)
	case HintOpenAI, HintOllama:
		// Hook points only.
	}
	return s
}

func trimTrailingSpace(s string) string {
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRight(ln, " \t")
	}
	return strings.Join(lines, "\n")
}

// guidedBlocks returns [start, end) line ranges of guided hint blocks: the
// header line plus the contiguous ">"-prefixed lines after it.
func guidedBlocks(lines []string) [][2]int {
	var blocks [][2]int
	for i := 0; i < len(lines); i++ {
		if !reGuidedStart.MatchString(lines[i]) {
			continue
		}
		j := i + 1
		for j < len(lines) && strings.HasPrefix(lines[j], ">") {
			j++
		}
		blocks = append(blocks, [2]int{i, j})
		i = j - 1
	}
	return blocks
}

// collapseGuidedBlanks enforces the blank-line invariant inside guided hint
// blocks: exactly one blank blockquote line between consecutive step
// bullets and before a bracketed-tag line. Runs of two or more blanks
// collapse to one; directly adjacent bullets gain the missing blank.
func collapseGuidedBlanks(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	prev := 0
	for _, blk := range guidedBlocks(lines) {
		out = append(out, lines[prev:blk[0]]...)
		out = append(out, rebuildGuidedBlock(lines[blk[0]:blk[1]])...)
		prev = blk[1]
	}
	out = append(out, lines[prev:]...)
	return strings.Join(out, "\n")
}

func rebuildGuidedBlock(block []string) []string {
	out := []string{block[0]}
	blanks := 0
	lastWasBullet := false
	for _, ln := range block[1:] {
		if reQuoteBlank.MatchString(ln) {
			blanks++
			continue
		}
		isBullet := reQuoteBullet.MatchString(ln)
		isTag := !isBullet && reQuoteTag.MatchString(ln)
		switch {
		case isBullet || isTag:
			if blanks > 0 || lastWasBullet {
				out = append(out, ">")
			}
		default:
			// Continuation text keeps its spacing untouched.
			for i := 0; i < blanks; i++ {
				out = append(out, ">")
			}
		}
		out = append(out, ln)
		lastWasBullet = isBullet
		blanks = 0
	}
	if blanks > 0 {
		out = append(out, ">")
	}
	return out
}

// relocateCallouts moves callout tag lines found inside a guided hint block
// to just after the next advanced hint block, in encounter order, each
// preceded by one blank blockquote line. A callout with no following
// advanced hint block stays where it is.
func relocateCallouts(s string) string {
	lines := strings.Split(s, "\n")
	remove := make(map[int]bool)
	insertAfter := make(map[int][]string)

	for _, blk := range guidedBlocks(lines) {
		target := nextAdvancedEnd(lines, blk[1])
		if target < 0 {
			continue
		}
		for i := blk[0] + 1; i < blk[1]; i++ {
			if reQuotedCallout.MatchString(lines[i]) {
				remove[i] = true
				insertAfter[target] = append(insertAfter[target], ">", lines[i])
			}
		}
	}
	if len(remove) == 0 {
		return s
	}

	out := make([]string, 0, len(lines))
	for i, ln := range lines {
		if !remove[i] {
			out = append(out, ln)
		}
		if ins, ok := insertAfter[i]; ok {
			out = append(out, ins...)
		}
	}
	// Removal can leave doubled blanks behind in the source block.
	return collapseGuidedBlanks(strings.Join(out, "\n"))
}

// nextAdvancedEnd returns the index of the last line of the first advanced
// hint block starting at or after from, or -1.
func nextAdvancedEnd(lines []string, from int) int {
	for i := from; i < len(lines); i++ {
		if !reAdvancedStart.MatchString(lines[i]) {
			continue
		}
		j := i + 1
		for j < len(lines) && strings.HasPrefix(lines[j], ">") {
			j++
		}
		return j - 1
	}
	return -1
}

// capCalloutBlanks limits runs of blank lines adjacent to a callout tag
// line to a single blank, both before and after.
func capCalloutBlanks(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blanks := 0
	lastWasCallout := false
	for _, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			blanks++
			continue
		}
		isCallout := reAnyCallout.MatchString(ln)
		if blanks >= 2 && (isCallout || lastWasCallout) {
			blanks = 1
		}
		for i := 0; i < blanks; i++ {
			out = append(out, "")
		}
		out = append(out, ln)
		lastWasCallout = isCallout
		blanks = 0
	}
	if blanks >= 2 && lastWasCallout {
		blanks = 1
	}
	for i := 0; i < blanks; i++ {
		out = append(out, "")
	}
	return strings.Join(out, "\n")
}

// joinOverviewField re-joins an [Overview] field that a provider reflowed
// across multiple lines back onto one line, collapsing internal whitespace
// runs to single spaces. Continuation stops at a blank line or at the next
// structural line (tag, heading, blockquote, list item).
func joinOverviewField(s string) string {
	lines := strings.Split(s, "\n")
	for i := 0; i < len(lines); i++ {
		if !reOverviewTag.MatchString(lines[i]) {
			continue
		}
		j := i + 1
		parts := []string{lines[i]}
		for j < len(lines) {
			t := strings.TrimSpace(lines[j])
			if t == "" || strings.HasPrefix(t, "[") || strings.HasPrefix(t, "#") ||
				strings.HasPrefix(t, ">") || strings.HasPrefix(t, "-") {
				break
			}
			parts = append(parts, t)
			j++
		}
		if j > i+1 {
			joined := reSpaceRun.ReplaceAllString(strings.Join(parts, " "), " ")
			lines = append(lines[:i+1], lines[j:]...)
			lines[i] = strings.TrimSpace(joined)
		}
		break
	}
	return strings.Join(lines, "\n")
}
