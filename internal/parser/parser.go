package parser

import (
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`@[^@\s]+`)

var stepKeywords = []string{"Given ", "When ", "Then ", "And ", "But ", "* "}

// Parse parses a .feature file and returns a Document AST and any parse errors.
func Parse(filename string, content []byte) (*Document, []ParseError) {
	lines := splitLines(string(content))
	var errors []ParseError

	doc := &Document{}
	feature := &Feature{}
	doc.Feature = feature

	i := 0

	// Skip leading blanks and comments
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			i++
			continue
		}
		break
	}

	// Collect feature-level tags
	var featureTags []Tag
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if isTagLine(trimmed) {
			featureTags = append(featureTags, parseTags(trimmed, i+1)...)
			i++
			continue
		}
		break
	}

	feature.Header.Tags = featureTags
	feature.Header.Name = filenameWithoutExt(filename)

	if i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "Feature:") {
			feature.Header.Name = strings.TrimSpace(strings.TrimPrefix(trimmed, "Feature:"))
			i++

			// Scan description lines until keyword or tag
			var descLines []string
			for i < len(lines) {
				trimmed := strings.TrimSpace(lines[i])
				if isKeyword(trimmed) || isTagLine(trimmed) {
					break
				}
				descLines = append(descLines, lines[i])
				i++
			}
			if desc := strings.TrimSpace(strings.Join(descLines, "\n")); desc != "" {
				feature.Header.Description = strings.Join(descLines, "\n")
			}
		}
	}

	// Body loop
	var pendingTags []Tag
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])

		// Stray doc strings outside a step are skipped whole
		if isDocStringDelimiter(trimmed) {
			i = skipDocString(lines, i)
			continue
		}

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			i++
			continue
		}

		if isTagLine(trimmed) {
			pendingTags = append(pendingTags, parseTags(trimmed, i+1)...)
			i++
			continue
		}

		if strings.HasPrefix(trimmed, "Background:") {
			pendingTags = nil // Background doesn't get tags
			bg := &Background{Line: i + 1}
			i++
			bg.Steps, i = parseSteps(lines, i, &errors)
			if feature.Background != nil {
				errors = append(errors, ParseError{Line: bg.Line, Message: "multiple Background blocks"})
			}
			feature.Background = bg
			continue
		}

		if keyword, name, ok := ScenarioHeader(trimmed); ok {
			sd := ScenarioDefinition{
				Tags:     pendingTags,
				Keyword:  keyword,
				Scenario: Scenario{Name: name},
				Line:     i + 1,
			}
			pendingTags = nil
			i++
			sd.Scenario.Steps, i = parseSteps(lines, i, &errors)
			feature.Scenarios = append(feature.Scenarios, sd)
			continue
		}

		// Unsupported blocks are dropped on their own; the scenarios around them still parse
		if msg, ok := unsupported(trimmed); ok {
			errors = append(errors, ParseError{Line: i + 1, Message: msg, Block: trimmed})
			pendingTags = nil
			i++
			switch {
			case strings.HasPrefix(trimmed, "Scenario Outline:"):
				i = consumeOutline(lines, i)
			case strings.HasPrefix(trimmed, "Rule:"):
				i = consumeRule(lines, i)
			default:
				i = consumeBlock(lines, i)
			}
			continue
		}

		// Otherwise a content line for current block, skip
		i++
	}

	return doc, errors
}

// parseSteps reads the steps of a Background or Scenario starting at i and returns
// them with the index of the first line that belongs to the next block.
func parseSteps(lines []string, i int, errors *[]ParseError) ([]Step, int) {
	var steps []Step
	for i < len(lines) {
		t := strings.TrimSpace(lines[i])

		if isDocStringDelimiter(t) {
			ds, next := readDocString(lines, i)
			if next == len(lines) && !closesDocString(lines, i) {
				*errors = append(*errors, ParseError{Line: i + 1, Message: "unterminated doc string"})
			}
			if len(steps) > 0 {
				last := &steps[len(steps)-1]
				if last.Argument == nil {
					last.Argument = &StepArgument{}
				}
				last.Argument.DocString = ds
			}
			i = next
			continue
		}
		if isKeyword(t) {
			break
		}
		if isTagLine(t) && tagPrecedesKeyword(lines, i) {
			break
		}
		if strings.HasPrefix(t, "|") && len(steps) > 0 {
			last := &steps[len(steps)-1]
			if last.Argument == nil {
				last.Argument = &StepArgument{}
			}
			if last.Argument.DataTable == nil {
				last.Argument.DataTable = &DataTable{}
			}
			last.Argument.DataTable.Rows = append(last.Argument.DataTable.Rows, parseRow(t))
			i++
			continue
		}
		if kw, text, ok := splitStep(t); ok {
			steps = append(steps, Step{Keyword: kw, Text: text, Line: i + 1})
		}
		i++
	}
	return steps, i
}

func splitStep(trimmed string) (keyword, text string, ok bool) {
	for _, kw := range stepKeywords {
		if strings.HasPrefix(trimmed, kw) {
			return strings.TrimSpace(kw), strings.TrimSpace(strings.TrimPrefix(trimmed, kw)), true
		}
	}
	return "", "", false
}

func parseRow(trimmed string) []string {
	inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "|"), "|")
	cells := strings.Split(inner, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func parseTags(line string, lineNo int) []Tag {
	if idx := strings.Index(line, " #"); idx >= 0 {
		line = line[:idx]
	}
	matches := tagPattern.FindAllString(line, -1)
	var tags []Tag
	for _, m := range matches {
		tags = append(tags, Tag{Name: m, Line: lineNo})
	}
	return tags
}

func unsupported(trimmed string) (string, bool) {
	switch {
	case strings.HasPrefix(trimmed, "Scenario Outline:"):
		return "Scenario Outline is not supported", true
	case strings.HasPrefix(trimmed, "Rule:"):
		return "Rule is not supported", true
	case strings.HasPrefix(trimmed, "Examples:"):
		return "Examples is not supported", true
	}
	return "", false
}

func isTagLine(trimmed string) bool {
	return strings.HasPrefix(trimmed, "@")
}

var scenarioKeywords = []string{"Scenario:", "Example:"}

// ScenarioHeader splits a "Scenario:" or "Example:" header line into its keyword
// and the scenario name. "Examples:" is not a scenario header.
func ScenarioHeader(trimmed string) (keyword, name string, ok bool) {
	for _, kw := range scenarioKeywords {
		if rest, found := strings.CutPrefix(trimmed, kw); found {
			return strings.TrimSuffix(kw, ":"), strings.TrimSpace(rest), true
		}
	}
	return "", "", false
}

func isKeyword(trimmed string) bool {
	if _, _, ok := ScenarioHeader(trimmed); ok {
		return true
	}
	return strings.HasPrefix(trimmed, "Feature:") ||
		strings.HasPrefix(trimmed, "Background:") ||
		strings.HasPrefix(trimmed, "Scenario Outline:") ||
		strings.HasPrefix(trimmed, "Rule:") ||
		strings.HasPrefix(trimmed, "Examples:")
}

func isDocStringDelimiter(trimmed string) bool {
	return strings.HasPrefix(trimmed, `"""`) || strings.HasPrefix(trimmed, "```")
}

// IsDocStringDelimiter reports whether a line opens or closes a doc string.
func IsDocStringDelimiter(line string) bool {
	return isDocStringDelimiter(strings.TrimSpace(line))
}

func docStringDelimiter(opener string) string {
	if strings.HasPrefix(opener, "```") {
		return "```"
	}
	return `"""`
}

// readDocString reads a doc string block. i points at the opening delimiter.
// Returns the block and the index of the line after the closing delimiter.
func readDocString(lines []string, i int) (*DocString, int) {
	opener := strings.TrimSpace(lines[i])
	delimiter := docStringDelimiter(opener)
	ds := &DocString{
		Delimiter: delimiter,
		MediaType: strings.TrimSpace(strings.TrimPrefix(opener, delimiter)),
	}
	indent := leadingWhitespace(lines[i])
	var body []string
	i++
	for i < len(lines) {
		if strings.TrimSpace(lines[i]) == delimiter {
			ds.Content = strings.Join(body, "\n")
			return ds, i + 1
		}
		body = append(body, strings.TrimPrefix(lines[i], indent))
		i++
	}
	ds.Content = strings.Join(body, "\n")
	return ds, i
}

func closesDocString(lines []string, i int) bool {
	delimiter := docStringDelimiter(strings.TrimSpace(lines[i]))
	for j := i + 1; j < len(lines); j++ {
		if strings.TrimSpace(lines[j]) == delimiter {
			return true
		}
	}
	return false
}

// skipDocString advances past a doc string block. i points at the opening delimiter.
// Returns the index of the line after the closing delimiter.
func skipDocString(lines []string, i int) int {
	_, next := readDocString(lines, i)
	return next
}

// consumeBlock advances past content lines, skipping over doc strings,
// until the next keyword, tag line, or EOF.
func consumeBlock(lines []string, i int) int {
	for i < len(lines) {
		t := strings.TrimSpace(lines[i])
		if isDocStringDelimiter(t) {
			i = skipDocString(lines, i)
			continue
		}
		if isKeyword(t) || isTagLine(t) {
			break
		}
		i++
	}
	return i
}

// consumeOutline advances past a Scenario Outline body and the Examples blocks
// that belong to it, tagged or not.
func consumeOutline(lines []string, i int) int {
	for {
		i = consumeBlock(lines, i)
		j := nextHeader(lines, i)
		if j >= len(lines) || !strings.HasPrefix(strings.TrimSpace(lines[j]), "Examples:") {
			return i
		}
		i = j + 1
	}
}

// consumeRule advances past a Rule and every block nested under it, stopping at
// the next Rule (or the tags above it).
func consumeRule(lines []string, i int) int {
	for {
		i = consumeBlock(lines, i)
		if i >= len(lines) {
			return i
		}
		j := nextHeader(lines, i)
		if j < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[j]), "Rule:") {
			return i
		}
		i++
	}
}

// nextHeader returns the index of the first line at or after i that is neither
// blank, a comment nor a tag line.
func nextHeader(lines []string, i int) int {
	for ; i < len(lines); i++ {
		t := strings.TrimSpace(lines[i])
		if t == "" || strings.HasPrefix(t, "#") || isTagLine(t) {
			continue
		}
		return i
	}
	return i
}

// tagPrecedesKeyword checks if a tag line at index i is followed by a Scenario: or keyword line.
func tagPrecedesKeyword(lines []string, i int) bool {
	j := nextHeader(lines, i+1)
	return j < len(lines) && isKeyword(strings.TrimSpace(lines[j]))
}

func leadingWhitespace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// splitLines splits on "\n" and drops a trailing "\r" from each line.
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func filenameWithoutExt(filename string) string {
	name := filename
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[:idx]
	}
	return name
}
