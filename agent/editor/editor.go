// Package editor implements codeframe's search/replace file editor: a
// fuzzy-matching patch applier that tries progressively looser comparisons
// before giving up, and writes changes atomically via a temp-file rename.
package editor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// MatchLayer names which of the four comparison strategies located a match.
type MatchLayer string

const (
	LayerExact             MatchLayer = "exact"
	LayerTrimmedNormalized  MatchLayer = "trimmed_normalized"
	LayerWhitespaceCollapsed MatchLayer = "whitespace_collapsed"
	LayerIndentPreserving   MatchLayer = "indent_preserving"
)

// EditMismatch is returned when search could not be located in the file
// content at any of the four layers, or when it matches more than one
// location at the first layer that matches it. It carries enough context for the
// caller (or a human blocker answer) to see why the match failed.
type EditMismatch struct {
	Path       string
	Search     string
	ClosestHit string
	Reason     string
}

func (e *EditMismatch) Error() string {
	return fmt.Sprintf("edit mismatch in %s: %s", e.Path, e.Reason)
}

// Edit describes a single search/replace operation.
type Edit struct {
	Search      string
	Replace     string
	ReplaceAll  bool
}

// Apply finds Search within content and returns the content with the first
// (or, if ReplaceAll, every) match replaced, trying each of the four
// matching layers in order of strictness. At the three looser layers the
// match must be unique, ReplaceAll or not. It returns the layer that
// produced the match so callers can log how aggressively the match had to
// be coerced.
func Apply(content string, e Edit) (string, MatchLayer, error) {
	switch strings.Count(content, e.Search) {
	case 1:
		return replaceAt(content, e.Search, e.Replace, e.ReplaceAll), LayerExact, nil
	case 0:
		// fall through to the looser layers
	default:
		if e.ReplaceAll {
			return replaceAt(content, e.Search, e.Replace, true), LayerExact, nil
		}
		return "", "", &EditMismatch{
			Search:     e.Search,
			ClosestHit: closestLine(content, e.Search),
			Reason:     "search text matches more than one location in the file (exact layer)",
		}
	}

	normSearch := normalizeTrim(e.Search)
	if matched, err := findNormalized(content, normSearch, normalizeTrim); err != nil {
		return "", "", err
	} else if matched != "" {
		return replaceMatched(content, matched, e.Replace, e.ReplaceAll), LayerTrimmedNormalized, nil
	}

	collapsedSearch := collapseWhitespace(e.Search)
	if matched, err := findNormalized(content, collapsedSearch, collapseWhitespace); err != nil {
		return "", "", err
	} else if matched != "" {
		return replaceMatched(content, matched, e.Replace, e.ReplaceAll), LayerWhitespaceCollapsed, nil
	}

	indentSearch := stripCommonIndent(e.Search)
	if matched, err := findNormalized(content, indentSearch, stripCommonIndent); err != nil {
		return "", "", err
	} else if matched != "" {
		return replaceMatched(content, matched, e.Replace, e.ReplaceAll), LayerIndentPreserving, nil
	}

	return "", "", &EditMismatch{
		Search:     e.Search,
		ClosestHit: closestLine(content, e.Search),
		Reason:     "search text not found at any fuzziness layer (exact, trimmed, whitespace-collapsed, indent-preserving)",
	}
}

// WriteFile applies edits to the file at path in sequence and writes the
// result atomically: to a temp file in the same directory, then renamed
// over the original so a crash mid-write never leaves a partial file.
func WriteFile(path string, edits []Edit) (string, []MatchLayer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("editor: read %s: %w", path, err)
	}

	content := string(data)
	layers := make([]MatchLayer, 0, len(edits))
	for _, e := range edits {
		updated, layer, err := Apply(content, e)
		if err != nil {
			if mismatch, ok := err.(*EditMismatch); ok {
				mismatch.Path = path
			}
			return "", layers, err
		}
		content = updated
		layers = append(layers, layer)
	}

	if err := atomicWrite(path, []byte(content)); err != nil {
		return "", layers, err
	}
	return content, layers, nil
}

// Summarize produces a human-readable unified diff between before and after
// for display in run logs and blocker prompts.
func Summarize(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			b.WriteString("+ " + strings.ReplaceAll(d.Text, "\n", "\n+ ") + "\n")
		case diffmatchpatch.DiffDelete:
			b.WriteString("- " + strings.ReplaceAll(d.Text, "\n", "\n- ") + "\n")
		}
	}
	return b.String()
}

func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".codeframe-edit-*")
	if err != nil {
		return fmt.Errorf("editor: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("editor: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("editor: close temp file: %w", err)
	}
	if info, statErr := os.Stat(path); statErr == nil {
		os.Chmod(tmpPath, info.Mode())
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("editor: rename temp file into place: %w", err)
	}
	return nil
}

func replaceAt(content, search, replace string, all bool) string {
	if all {
		return strings.ReplaceAll(content, search, replace)
	}
	return strings.Replace(content, search, replace, 1)
}

func replaceMatched(content, matched, replace string, all bool) string {
	if all {
		return strings.ReplaceAll(content, matched, replace)
	}
	return strings.Replace(content, matched, replace, 1)
}

// findNormalized looks for a substring of content whose normalized form
// equals normalize(search), scanning line-window slices of content. It
// requires the match be unique: if a second window at a different
// position also matches, that's an EditMismatch rather than a silent
// first-hit pick, since editing the wrong occurrence is worse than
// refusing to edit at all.
func findNormalized(content, normSearch string, normalize func(string) string) (string, error) {
	if normSearch == "" {
		return "", nil
	}
	lines := strings.Split(content, "\n")
	searchLineCount := strings.Count(normSearch, "\n") + 1

	var matched string
	matches := 0
	for start := 0; start+searchLineCount <= len(lines)+1 && start < len(lines); start++ {
		end := start + searchLineCount
		if end > len(lines) {
			end = len(lines)
		}
		candidate := strings.Join(lines[start:end], "\n")
		if normalize(candidate) == normSearch {
			matches++
			if matches == 1 {
				matched = candidate
			}
		}
	}
	switch matches {
	case 0:
		return "", nil
	case 1:
		return matched, nil
	default:
		return "", &EditMismatch{
			Search:     normSearch,
			ClosestHit: matched,
			Reason:     fmt.Sprintf("search text matches %d locations in the file at this fuzziness layer", matches),
		}
	}
}

func normalizeTrim(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

var whitespaceRun = regexp.MustCompile(`[ \t]+`)

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = whitespaceRun.ReplaceAllString(strings.TrimSpace(l), " ")
	}
	return strings.Join(lines, "\n")
}

func stripCommonIndent(s string) string {
	lines := strings.Split(s, "\n")
	minIndent := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		indent := len(l) - len(strings.TrimLeft(l, " \t"))
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent <= 0 {
		return s
	}
	for i, l := range lines {
		if len(l) >= minIndent {
			lines[i] = l[minIndent:]
		}
	}
	return strings.Join(lines, "\n")
}

func closestLine(content, search string) string {
	firstSearchLine := strings.SplitN(search, "\n", 2)[0]
	best := ""
	bestScore := -1
	for _, line := range strings.Split(content, "\n") {
		score := commonPrefixLen(strings.TrimSpace(line), strings.TrimSpace(firstSearchLine))
		if score > bestScore {
			bestScore = score
			best = line
		}
	}
	return best
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
