package parser

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"
)

// Pair is one parsed term/definition line.
type Pair struct {
	Term       string
	Definition string
}

// pairPattern splits a chunk at the first separator run. The separator set
// matches what users actually type: ASCII and full-width colons and commas,
// the Japanese comma, or plain whitespace between term and definition.
var pairPattern = regexp.MustCompile(`^(.*?)[:：，,、\s]+(.+)$`)

// chunkPattern breaks a line into pair chunks. Semicolons, ASCII or
// full-width, delimit multiple pairs on one line: "a:b; c:d" is two pairs.
var chunkPattern = regexp.MustCompile(`[;；]+`)

// ParseFile reads a vocabulary file from the given path and extracts all
// term/definition pairs.
func ParseFile(path string) ([]Pair, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads term/definition pairs from an io.Reader, one per line.
// Blank lines, comment lines starting with '#', and lines with no separator
// are skipped rather than treated as errors; vocabulary files are loose,
// hand-edited things.
func Parse(r io.Reader) ([]Pair, error) {
	scanner := bufio.NewScanner(r)
	var pairs []Pair

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, chunk := range chunkPattern.Split(line, -1) {
			chunk = strings.TrimSpace(chunk)
			if chunk == "" {
				continue
			}
			m := pairPattern.FindStringSubmatch(chunk)
			if m == nil {
				continue
			}
			term := strings.TrimSpace(m[1])
			definition := strings.TrimSpace(m[2])
			if term == "" || definition == "" {
				continue
			}
			pairs = append(pairs, Pair{Term: term, Definition: definition})
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}
