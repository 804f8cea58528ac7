package usecase

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/core/extract"
	"github.com/crospyder/ocr-core/internal/core/ports"
)

const (
	DefaultTieThreshold  = 0.07
	DefaultPositionLines = 10
)

// Heuristic names recorded on a Classification.
const (
	HeuristicContractKeyword = "contract_keyword"
	HeuristicDeclaredType    = "declared_type"
	HeuristicPosition        = "position"
	HeuristicAdjacency       = "keyword_adjacency"
	HeuristicTieDefault      = "tie_default"
	HeuristicNoOperator      = "operator_absent"
)

var defaultContractPattern = regexp.MustCompile(`(?i)\b(ugovor[a-z]*|aneks ugovora|contract|agreement)\b`)

// ClassificationPolicy carries the tunable parts of type resolution.
type ClassificationPolicy struct {
	TieThreshold    float64
	PositionLines   int
	AdjacencyWindow int
	ContractPattern *regexp.Regexp
	BuyerKeywords   []string
	SellerKeywords  []string
	LabelMap        map[string]domain.DocumentType
	CandidateLabels []string
	LabelExamples   map[string][]string
}

func (p ClassificationPolicy) normalize() ClassificationPolicy {
	if p.TieThreshold <= 0 {
		p.TieThreshold = DefaultTieThreshold
	}
	if p.PositionLines <= 0 {
		p.PositionLines = DefaultPositionLines
	}
	if p.AdjacencyWindow < 0 {
		p.AdjacencyWindow = 0
	}
	if p.ContractPattern == nil {
		p.ContractPattern = defaultContractPattern
	}
	if len(p.BuyerKeywords) == 0 {
		p.BuyerKeywords = []string{"kupac", "primatelj", "buyer", "recipient"}
	}
	if len(p.SellerKeywords) == 0 {
		p.SellerKeywords = []string{"prodavatelj", "dobavljač", "izdavatelj", "seller", "sender", "supplier"}
	}
	if len(p.LabelMap) == 0 {
		p.LabelMap = map[string]domain.DocumentType{
			"0":            domain.TypeIncomingInvoice,
			"1":            domain.TypeOutgoingInvoice,
			"2":            domain.TypeOther,
			"email-prilog": domain.TypeOther,
			"incoming":     domain.TypeIncomingInvoice,
			"outgoing":     domain.TypeOutgoingInvoice,
		}
	}
	if len(p.CandidateLabels) == 0 {
		p.CandidateLabels = []string{"IZVOD", "UGOVOR", "URA", "IRA", "OSTALO"}
	}
	return p
}

// ClassificationResolver combines the remote classifier with deterministic
// heuristics into the final document type.
type ClassificationResolver struct {
	classifier ports.DocumentClassifier
	policy     ClassificationPolicy
	operator   domain.Operator
	logger     *slog.Logger
}

func NewClassificationResolver(
	classifier ports.DocumentClassifier,
	policy ClassificationPolicy,
	operator domain.Operator,
	logger *slog.Logger,
) *ClassificationResolver {
	return &ClassificationResolver{
		classifier: classifier,
		policy:     policy.normalize(),
		operator:   operator,
		logger:     loggerOrDiscard(logger),
	}
}

// Resolve never fails. The raw classifier result is returned alongside when
// the remote call succeeded so that its parsed fields can be reconciled.
func (r *ClassificationResolver) Resolve(
	ctx context.Context,
	text string,
	declared domain.DocumentType,
) (domain.Classification, *domain.ClassifierResult) {
	result, err := r.callClassifier(ctx, text)
	if err != nil {
		r.logger.Warn("classifier_degraded", "declared_type", string(declared), "error", err)
	}
	cls := r.Decide(text, declared, result)
	if err != nil {
		cls.Degraded = true
	}
	return cls, result
}

func (r *ClassificationResolver) callClassifier(ctx context.Context, text string) (*domain.ClassifierResult, error) {
	if r.classifier == nil {
		return nil, nil
	}
	res, err := r.classifier.Classify(ctx, domain.ClassifyRequest{
		Text:            text,
		CandidateLabels: r.policy.CandidateLabels,
		LabelExamples:   r.policy.LabelExamples,
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Decide applies the resolution rules to an already obtained classifier
// result; a nil result means the classifier was unavailable.
func (r *ClassificationResolver) Decide(text string, declared domain.DocumentType, result *domain.ClassifierResult) domain.Classification {
	var cls domain.Classification

	switch {
	case r.policy.ContractPattern.MatchString(text):
		cls = domain.Classification{Type: domain.TypeContract, Heuristic: HeuristicContractKeyword}
		if result != nil {
			cls.Label, cls.Score = result.BestLabel, result.BestScore
		}
	case result == nil || strings.TrimSpace(result.BestLabel) == "":
		cls = domain.Classification{Type: fallbackType(declared), Heuristic: HeuristicDeclaredType, Degraded: true}
	default:
		cls = domain.Classification{
			Type:  r.MapLabel(result.BestLabel),
			Label: result.BestLabel,
			Score: result.BestScore,
		}
		if r.isInvoiceTie(cls.Type, result) {
			cls.Type, cls.Heuristic = r.breakTie(text)
		}
	}

	if cls.Type.IdentityBearing() && r.operatorConfigured() && !r.mentionsOperator(text) {
		cls.Type = domain.TypeUnknown
		cls.Excluded = true
		cls.Heuristic = HeuristicNoOperator
	}
	return cls
}

// MapLabel turns a raw classifier label into a document type.
func (r *ClassificationResolver) MapLabel(label string) domain.DocumentType {
	key := strings.ToLower(strings.TrimSpace(label))
	if t, ok := r.policy.LabelMap[key]; ok {
		return t
	}
	if t, ok := r.policy.LabelMap[strings.TrimSpace(label)]; ok {
		return t
	}
	return domain.ParseDocumentType(label)
}

func fallbackType(declared domain.DocumentType) domain.DocumentType {
	t := domain.ParseDocumentType(string(declared))
	if t == "" {
		return domain.TypeOther
	}
	return t
}

func (r *ClassificationResolver) isInvoiceTie(best domain.DocumentType, result *domain.ClassifierResult) bool {
	if best != domain.TypeIncomingInvoice && best != domain.TypeOutgoingInvoice {
		return false
	}
	incoming, okIn := r.scoreFor(result, domain.TypeIncomingInvoice)
	outgoing, okOut := r.scoreFor(result, domain.TypeOutgoingInvoice)
	if !okIn || !okOut {
		return false
	}
	return math.Abs(incoming-outgoing) < r.policy.TieThreshold
}

func (r *ClassificationResolver) scoreFor(result *domain.ClassifierResult, t domain.DocumentType) (float64, bool) {
	best, found := 0.0, false
	for label, score := range result.Scores {
		if r.MapLabel(label) != t {
			continue
		}
		if !found || score > best {
			best, found = score, true
		}
	}
	if !found && r.MapLabel(result.BestLabel) == t {
		return result.BestScore, true
	}
	return best, found
}

// breakTie decides between URA and IRA: the operator named near the top
// means the operator issued the document; otherwise role words next to the
// operator decide; undecided documents are incoming.
func (r *ClassificationResolver) breakTie(text string) (domain.DocumentType, string) {
	lines := nonBlankLines(text)

	head := lines
	if len(head) > r.policy.PositionLines {
		head = head[:r.policy.PositionLines]
	}
	for _, line := range head {
		if r.mentionsOperator(line) {
			return domain.TypeOutgoingInvoice, HeuristicPosition
		}
	}

	for i, line := range lines {
		if !r.mentionsOperator(line) {
			continue
		}
		if t, ok := r.roleOf(line); ok {
			return t, HeuristicAdjacency
		}
		for d := 1; d <= r.policy.AdjacencyWindow; d++ {
			for _, j := range []int{i - d, i + d} {
				if j < 0 || j >= len(lines) {
					continue
				}
				if t, ok := r.roleOf(lines[j]); ok {
					return t, HeuristicAdjacency
				}
			}
		}
	}
	return domain.TypeIncomingInvoice, HeuristicTieDefault
}

// roleOf maps a role word to the type it implies for the operator: the
// operator as buyer receives an incoming invoice.
func (r *ClassificationResolver) roleOf(line string) (domain.DocumentType, bool) {
	folded := extract.Fold(line)
	for _, kw := range r.policy.BuyerKeywords {
		if k := extract.Fold(kw); k != "" && strings.Contains(folded, k) {
			return domain.TypeIncomingInvoice, true
		}
	}
	for _, kw := range r.policy.SellerKeywords {
		if k := extract.Fold(kw); k != "" && strings.Contains(folded, k) {
			return domain.TypeOutgoingInvoice, true
		}
	}
	return "", false
}

func (r *ClassificationResolver) operatorConfigured() bool {
	return strings.TrimSpace(r.operator.Name) != "" || strings.TrimSpace(r.operator.TaxID) != ""
}

func (r *ClassificationResolver) mentionsOperator(text string) bool {
	if r.operator.TaxID != "" && extract.MentionsTaxID(text, r.operator.TaxID) {
		return true
	}
	return r.operator.Name != "" && extract.MentionsName(text, r.operator.Name)
}

func nonBlankLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
