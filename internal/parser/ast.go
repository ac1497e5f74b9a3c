package parser

import "fmt"

// Layer 1: Gherkin AST types

type Document struct {
	Feature *Feature
}

type Feature struct {
	Header     FeatureHeader
	Background *Background
	Scenarios  []ScenarioDefinition
}

type FeatureHeader struct {
	Tags        []Tag
	Name        string
	Description string
}

type Background struct {
	Steps []Step
	Line  int // 1-based line number of Background: line
}

type ScenarioDefinition struct {
	Tags     []Tag
	Keyword  string // "Scenario" or "Example", as written
	Scenario Scenario
	Line     int // 1-based line number of Scenario: line
}

type Scenario struct {
	Name  string
	Steps []Step
}

type Tag struct {
	Name string // e.g. "@smoke", "@TestCaseId:TP-42"
	Line int
}

type Step struct {
	Keyword  string // Given, When, Then, And, But, *
	Text     string
	Line     int
	Argument *StepArgument
}

type StepArgument struct {
	DocString *DocString
	DataTable *DataTable
}

type DocString struct {
	Delimiter string
	MediaType string
	Content   string
}

type DataTable struct {
	Rows [][]string
}

type ParseError struct {
	Line    int
	Message string
	// Block is the header of an unsupported block that was dropped by itself,
	// e.g. "Scenario Outline: Many". Empty when the error spoils the whole file.
	Block   string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}
