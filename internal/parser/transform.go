package parser

import (
	"strings"
)

// ParsedFile is the Layer 2 application model extracted from the AST. Errors
// spoil the whole file; Skipped are unsupported blocks dropped on their own.
type ParsedFile struct {
	Name      string
	Scenarios []ParsedScenario
	Errors    []ParseError
	Skipped   []ParseError
}

// ParsedScenario is one compiled scenario: the record the synchronizer works on.
type ParsedScenario struct {
	Name    string   // from Scenario: line
	Keyword string   // "Scenario" or "Example"
	Tags    []string // feature tags then scenario tags, in source order
	Steps   []string // background steps first, each "Keyword text" plus any argument lines
	Content string   // raw text from Scenario: line to end of scenario
	Line    int      // 1-based line number of Scenario: line
}

// Compile parses content and transforms it into a ParsedFile in one call.
func Compile(filename string, content []byte) *ParsedFile {
	doc, errors := Parse(filename, content)
	return Transform(doc, filename, content, errors)
}

// Transform converts a Layer 1 Document into a Layer 2 ParsedFile.
func Transform(doc *Document, filename string, content []byte, errors []ParseError) *ParsedFile {
	pf := &ParsedFile{}
	var blockStarts []int
	for _, pe := range errors {
		if pe.Block != "" {
			pf.Skipped = append(pf.Skipped, pe)
			blockStarts = append(blockStarts, pe.Line)
			continue
		}
		pf.Errors = append(pf.Errors, pe)
	}

	if doc.Feature == nil {
		pf.Name = filenameWithoutExt(filename)
		return pf
	}
	pf.Name = doc.Feature.Header.Name

	lines := splitLines(string(content))

	var background []string
	if doc.Feature.Background != nil {
		background = renderSteps(doc.Feature.Background.Steps)
	}

	for _, sd := range doc.Feature.Scenarios {
		blockStarts = append(blockStarts, sd.Line)
	}

	for _, sd := range doc.Feature.Scenarios {
		ps := ParsedScenario{
			Name:    sd.Scenario.Name,
			Keyword: sd.Keyword,
			Line:    sd.Line,
		}

		for _, tag := range doc.Feature.Header.Tags {
			ps.Tags = append(ps.Tags, tag.Name)
		}
		for _, tag := range sd.Tags {
			ps.Tags = append(ps.Tags, tag.Name)
		}

		ps.Steps = append(ps.Steps, background...)
		ps.Steps = append(ps.Steps, renderSteps(sd.Scenario.Steps)...)

		ps.Content = scenarioContent(sd, blockStarts, lines)

		pf.Scenarios = append(pf.Scenarios, ps)
	}

	return pf
}

func renderSteps(steps []Step) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, renderStep(s))
	}
	return out
}

func renderStep(s Step) string {
	var b strings.Builder
	b.WriteString(s.Keyword)
	b.WriteString(" ")
	b.WriteString(s.Text)
	if s.Argument == nil {
		return b.String()
	}
	if dt := s.Argument.DataTable; dt != nil {
		for _, row := range dt.Rows {
			b.WriteString("\n| ")
			b.WriteString(strings.Join(row, " | "))
			b.WriteString(" |")
		}
	}
	if ds := s.Argument.DocString; ds != nil {
		b.WriteString("\n")
		b.WriteString(ds.Delimiter)
		b.WriteString(ds.MediaType)
		if ds.Content != "" {
			b.WriteString("\n")
			b.WriteString(ds.Content)
		}
		b.WriteString("\n")
		b.WriteString(ds.Delimiter)
	}
	return b.String()
}

// scenarioContent extracts the raw text from the Scenario: line to the end of the
// scenario, excluding the tags and blank lines that precede the next block.
// blockStarts holds the 1-based header lines of every scenario and dropped block.
func scenarioContent(sd ScenarioDefinition, blockStarts []int, lines []string) string {
	startLine := sd.Line - 1 // 0-based
	endLine := len(lines)

	for _, other := range blockStarts {
		if other > sd.Line && other-1 < endLine {
			candidateEnd := other - 1 // 0-based index of the next header line
			// Walk back to exclude tag lines and blank lines before the next scenario
			for candidateEnd > startLine {
				t := strings.TrimSpace(lines[candidateEnd-1])
				if t == "" || strings.HasPrefix(t, "@") || strings.HasPrefix(t, "#") {
					candidateEnd--
				} else {
					break
				}
			}
			if candidateEnd < endLine {
				endLine = candidateEnd
			}
		}
	}

	// Trim trailing blank lines
	for endLine > startLine && strings.TrimSpace(lines[endLine-1]) == "" {
		endLine--
	}

	if startLine >= len(lines) {
		return ""
	}
	return strings.Join(lines[startLine:endLine], "\n")
}
