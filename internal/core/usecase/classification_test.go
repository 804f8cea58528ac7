package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/crospyder/ocr-core/internal/core/domain"
)

const tieInvoiceText = `ACME d.o.o.
Ilica 10, 10000 Zagreb
OIB: 49528128847
Tel: 01 2345 678
IBAN: HR1210010051863000160
Račun broj: 55/1/1
Datum: 05.03.2024
Mjesto izdavanja: Zagreb
Operater: Ivan
Napomena: plaćanje virmanom
Način plaćanja: transakcijski račun
Kupac: Spine ICT d.o.o., OIB: 10238889600
Ukupno za platiti: 1.234,56`

func newResolver(c *classifierFake, operator domain.Operator) *ClassificationResolver {
	return NewClassificationResolver(c, ClassificationPolicy{}, operator, nil)
}

func TestResolveTieBreaksToIncomingWhenOperatorIsBuyerBelowHeader(t *testing.T) {
	classifier := &classifierFake{result: domain.ClassifierResult{
		BestLabel: "INCOMING",
		BestScore: 0.52,
		Scores:    map[string]float64{"INCOMING": 0.52, "OUTGOING": 0.49},
	}}
	cls, raw := newResolver(classifier, testOperator).Resolve(context.Background(), tieInvoiceText, "")
	if raw == nil {
		t.Fatalf("expected raw classifier result")
	}
	if cls.Type != domain.TypeIncomingInvoice {
		t.Fatalf("expected URA, got %s", cls.Type)
	}
	if cls.Heuristic != HeuristicAdjacency {
		t.Fatalf("expected adjacency heuristic, got %q", cls.Heuristic)
	}
	if cls.Excluded || cls.Degraded {
		t.Fatalf("unexpected flags %+v", cls)
	}
	if len(classifier.last.CandidateLabels) == 0 {
		t.Fatalf("expected candidate labels in classifier request")
	}
}

func TestResolveTieBreaksToOutgoingWhenOperatorHeadsDocument(t *testing.T) {
	text := "Spine ICT d.o.o.\nOIB: 10238889600\nKupac: ACME d.o.o.\nOIB: 49528128847\nRačun 12/1/1"
	classifier := &classifierFake{result: domain.ClassifierResult{
		BestLabel: "0",
		BestScore: 0.50,
		Scores:    map[string]float64{"0": 0.50, "1": 0.48},
	}}
	cls, _ := newResolver(classifier, testOperator).Resolve(context.Background(), text, "")
	if cls.Type != domain.TypeOutgoingInvoice || cls.Heuristic != HeuristicPosition {
		t.Fatalf("expected IRA by position, got %+v", cls)
	}
}

func TestResolveTieDefaultsToIncoming(t *testing.T) {
	lines := make([]string, 0, 14)
	for i := 0; i < 12; i++ {
		lines = append(lines, "stavka usluge")
	}
	lines = append(lines, "", "Spine ICT d.o.o.")
	classifier := &classifierFake{result: domain.ClassifierResult{
		BestLabel: "1",
		BestScore: 0.51,
		Scores:    map[string]float64{"0": 0.50, "1": 0.51},
	}}
	cls, _ := newResolver(classifier, testOperator).Resolve(context.Background(), strings.Join(lines, "\n"), "")
	if cls.Type != domain.TypeIncomingInvoice || cls.Heuristic != HeuristicTieDefault {
		t.Fatalf("expected URA by default, got %+v", cls)
	}
}

func TestResolveKeepsClearWinner(t *testing.T) {
	classifier := &classifierFake{result: domain.ClassifierResult{
		BestLabel: "1",
		BestScore: 0.8,
		Scores:    map[string]float64{"0": 0.2, "1": 0.8},
	}}
	cls, _ := newResolver(classifier, testOperator).Resolve(context.Background(), tieInvoiceText, "")
	if cls.Type != domain.TypeOutgoingInvoice || cls.Heuristic != "" {
		t.Fatalf("expected IRA without heuristic, got %+v", cls)
	}
}

func TestResolveContractKeywordOverridesClassifier(t *testing.T) {
	classifier := &classifierFake{result: domain.ClassifierResult{BestLabel: "0", BestScore: 0.95}}
	cls, _ := newResolver(classifier, testOperator).Resolve(context.Background(), "UGOVOR O DJELU\nizmeđu ACME d.o.o.", "URA")
	if cls.Type != domain.TypeContract || cls.Heuristic != HeuristicContractKeyword {
		t.Fatalf("expected contract override, got %+v", cls)
	}
}

func TestResolveExcludesIdentityBearingWithoutOperator(t *testing.T) {
	classifier := &classifierFake{result: domain.ClassifierResult{BestLabel: "0", BestScore: 0.9}}
	cls, _ := newResolver(classifier, testOperator).Resolve(context.Background(), "ACME d.o.o.\nKupac: Drugi d.o.o.", "")
	if cls.Type != domain.TypeUnknown || !cls.Excluded {
		t.Fatalf("expected NEPOZNATO and excluded, got %+v", cls)
	}
}

func TestResolveMatchesOperatorIgnoringDiacriticsAndSpacing(t *testing.T) {
	classifier := &classifierFake{result: domain.ClassifierResult{BestLabel: "IZVOD", BestScore: 0.9}}
	cls, _ := newResolver(classifier, testOperator).Resolve(context.Background(), "Izvod br. 4\nVlasnik: ŠPINE-ICT  D.O.O.", "")
	if cls.Type != domain.TypeStatement || cls.Excluded {
		t.Fatalf("expected IZVOD kept, got %+v", cls)
	}
}

func TestResolveFallsBackToDeclaredTypeWhenClassifierFails(t *testing.T) {
	classifier := &classifierFake{err: errors.New("timeout")}
	cls, raw := newResolver(classifier, testOperator).Resolve(context.Background(), tieInvoiceText, "URA")
	if raw != nil {
		t.Fatalf("expected no raw result on failure")
	}
	if cls.Type != domain.TypeIncomingInvoice || !cls.Degraded || cls.Heuristic != HeuristicDeclaredType {
		t.Fatalf("expected degraded URA, got %+v", cls)
	}
}

func TestResolveEmptyDeclaredTypeFallsBackToOther(t *testing.T) {
	classifier := &classifierFake{result: domain.ClassifierResult{}}
	cls, _ := newResolver(classifier, testOperator).Resolve(context.Background(), "nešto", "")
	if cls.Type != domain.TypeOther || !cls.Degraded {
		t.Fatalf("expected degraded OSTALO, got %+v", cls)
	}
}

func TestResolveSkipsValidityWithoutOperatorIdentity(t *testing.T) {
	classifier := &classifierFake{result: domain.ClassifierResult{BestLabel: "0", BestScore: 0.9}}
	cls, _ := newResolver(classifier, domain.Operator{}).Resolve(context.Background(), "ACME d.o.o.", "")
	if cls.Type != domain.TypeIncomingInvoice || cls.Excluded {
		t.Fatalf("expected URA without operator check, got %+v", cls)
	}
}

func TestMapLabel(t *testing.T) {
	r := newResolver(nil, testOperator)
	cases := map[string]domain.DocumentType{
		"0":            domain.TypeIncomingInvoice,
		"1":            domain.TypeOutgoingInvoice,
		"2":            domain.TypeOther,
		"email-prilog": domain.TypeOther,
		"INCOMING":     domain.TypeIncomingInvoice,
		"outgoing":     domain.TypeOutgoingInvoice,
		"IZVOD":        domain.TypeStatement,
		"ugovor":       domain.TypeContract,
	}
	for in, want := range cases {
		if got := r.MapLabel(in); got != want {
			t.Fatalf("MapLabel(%q) = %s, want %s", in, got, want)
		}
	}
}
