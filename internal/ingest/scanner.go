package ingest

type scanState int

const (
	beforeQuote scanState = iota
	inQuote
	afterQuote
)

// quoteScan is the result of one pass over the remainder of a row.
type quoteScan struct {
	state         scanState
	quotes        int
	startQuote    int
	endQuote      int
	lastDelimiter int
}

func scanQuotes(s string) quoteScan {
	sc := quoteScan{startQuote: -1, endQuote: -1, lastDelimiter: -1}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case doubleQuote:
			sc.quotes++
			switch sc.state {
			case beforeQuote:
				sc.startQuote = i
				sc.state = inQuote
			case inQuote:
				sc.endQuote = i
				sc.state = afterQuote
			}
		case delimiter:
			sc.lastDelimiter = i
		}
	}
	return sc
}

// validate checks the two invariants of a quoted row independently: exactly two
// quotes, and a delimiter after the closing one.
func (sc quoteScan) validate() error {
	if err := sc.checkQuotes(); err != nil {
		return err
	}
	return sc.checkDelimiter()
}

func (sc quoteScan) checkQuotes() error {
	if sc.quotes != 2 {
		return &MalformedRowError{Quotes: sc.quotes}
	}
	return nil
}

func (sc quoteScan) checkDelimiter() error {
	if sc.lastDelimiter < sc.endQuote {
		return &StructuralRowError{EndQuote: sc.endQuote, LastDelimiter: sc.lastDelimiter}
	}
	return nil
}
