package extract

import "github.com/crospyder/ocr-core/internal/core/domain"

// Input is what every type-specific parser receives.
type Input struct {
	Text     string
	Operator domain.Operator
}

// Parser extracts typed fields from raw text. Parsers never fail; absent
// values are simply missing from the result.
type Parser func(Input) domain.ExtractionResult

// Strategy names the parser chosen for a document type.
type Strategy struct {
	Name  string
	Parse Parser
}

const (
	StrategyIncomingInvoice = "incoming_invoice"
	StrategyOutgoingInvoice = "outgoing_invoice"
	StrategyStatement       = "statement"
	StrategyContract        = "contract"
	StrategyDefault         = "default"
)

// Dispatch maps a document type to its parser. Unlisted types, including
// OSTALO, NEPOZNATO and empty labels, get the default strategy, which
// parses the text as an incoming invoice.
func Dispatch(t domain.DocumentType) Strategy {
	switch t {
	case domain.TypeIncomingInvoice:
		return Strategy{Name: StrategyIncomingInvoice, Parse: ParseIncomingInvoice}
	case domain.TypeOutgoingInvoice:
		return Strategy{Name: StrategyOutgoingInvoice, Parse: ParseOutgoingInvoice}
	case domain.TypeStatement:
		return Strategy{Name: StrategyStatement, Parse: ParseStatement}
	case domain.TypeContract:
		return Strategy{Name: StrategyContract, Parse: ParseContract}
	default:
		return Strategy{Name: StrategyDefault, Parse: ParseIncomingInvoice}
	}
}

// ParserFor is Dispatch without the strategy name.
func ParserFor(t domain.DocumentType) Parser {
	return Dispatch(t).Parse
}
