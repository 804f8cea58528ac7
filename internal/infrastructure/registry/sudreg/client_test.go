package sudreg

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/infrastructure/resilience"
)

const subjectJSON = `{
	"oib": 49528128847,
	"datum_osnivanja": "2001-04-12T00:00:00",
	"tvrtke": [{"ime": "ACME DRUŠTVO S OGRANIČENOM ODGOVORNOŠĆU ZA TRGOVINU"}],
	"skracene_tvrtke": [{"ime": "ACME d.o.o."}],
	"sjedista": [{"ulica": "Ilica", "kucni_broj": 12, "kucni_podbroj": "a", "postanski_broj": 10000, "naziv_naselja": "Zagreb"}]
}`

type registryServer struct {
	tokenCalls  atomic.Int32
	lookupCalls atomic.Int32
	lookup      func(w http.ResponseWriter, r *http.Request)
}

func newRegistryServer(t *testing.T, rs *registryServer) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		rs.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":3600}`))
	})
	mux.HandleFunc("/javni/v1/subjekt_detalji", func(w http.ResponseWriter, r *http.Request) {
		rs.lookupCalls.Add(1)
		rs.lookup(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(server *httptest.Server, exec *resilience.Executor) *Client {
	return New(Options{
		BaseURL:      server.URL,
		TokenURL:     server.URL + "/oauth/token",
		ClientID:     "client",
		ClientSecret: "secret",
		Executor:     exec,
	})
}

func TestLookupByTaxIDMapsSubject(t *testing.T) {
	rs := &registryServer{}
	rs.lookup = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		if q.Get("identifikator") != "49528128847" || q.Get("tipIdentifikatora") != "oib" {
			t.Fatalf("unexpected query %v", q)
		}
		_, _ = w.Write([]byte(subjectJSON))
	}
	client := newTestClient(newRegistryServer(t, rs), nil)

	company, err := client.LookupByTaxID(context.Background(), "49528128847")
	if err != nil {
		t.Fatalf("LookupByTaxID() error = %v", err)
	}
	if company.DisplayName() != "ACME d.o.o." || company.TaxID != "49528128847" {
		t.Fatalf("unexpected company %+v", company)
	}
	if company.Address != "Ilica 12a, 10000 Zagreb" {
		t.Fatalf("unexpected address %q", company.Address)
	}
	if len(company.RawResponse) == 0 || company.FoundedAt == "" {
		t.Fatalf("expected raw response and founding date, got %+v", company)
	}

	if _, err := client.LookupByTaxID(context.Background(), "49528128847"); err != nil {
		t.Fatalf("second LookupByTaxID() error = %v", err)
	}
	if rs.tokenCalls.Load() != 1 {
		t.Fatalf("expected cached token, got %d token calls", rs.tokenCalls.Load())
	}
}

func TestLookupByTaxIDNotFound(t *testing.T) {
	rs := &registryServer{}
	rs.lookup = func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}
	exec := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 3, RetryInitialBackoff: time.Millisecond})
	client := newTestClient(newRegistryServer(t, rs), exec)

	_, err := client.LookupByTaxID(context.Background(), "66609700583")
	if !domain.IsKind(err, domain.ErrCounterPartyNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if rs.lookupCalls.Load() != 1 {
		t.Fatalf("a miss must not be retried, got %d calls", rs.lookupCalls.Load())
	}
}

func TestLookupByTaxIDRefreshesRejectedToken(t *testing.T) {
	rs := &registryServer{}
	rs.lookup = func(w http.ResponseWriter, r *http.Request) {
		if rs.lookupCalls.Load() == 1 {
			http.Error(w, "expired", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(subjectJSON))
	}
	exec := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 2, RetryInitialBackoff: time.Millisecond})
	client := newTestClient(newRegistryServer(t, rs), exec)

	if _, err := client.LookupByTaxID(context.Background(), "49528128847"); err != nil {
		t.Fatalf("LookupByTaxID() error = %v", err)
	}
	if rs.tokenCalls.Load() != 2 {
		t.Fatalf("expected token refresh, got %d token calls", rs.tokenCalls.Load())
	}
}

func TestLookupByTaxIDRejectedCredentialsAreNotRetried(t *testing.T) {
	rs := &registryServer{}
	rs.lookup = func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(subjectJSON))
	}
	server := newRegistryServer(t, rs)
	exec := resilience.NewExecutor(resilience.Config{RetryMaxAttempts: 3, RetryInitialBackoff: time.Millisecond})
	client := New(Options{
		BaseURL:      server.URL,
		TokenURL:     server.URL + "/oauth/token",
		ClientID:     "client",
		ClientSecret: "wrong",
		Executor:     exec,
	})

	_, err := client.LookupByTaxID(context.Background(), "49528128847")
	var statusErr *resilience.HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.Operation != "token" || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected token status error, got %v", err)
	}
	if rs.tokenCalls.Load() != 1 || rs.lookupCalls.Load() != 0 {
		t.Fatalf("expected a single token attempt and no lookup, got token=%d lookup=%d",
			rs.tokenCalls.Load(), rs.lookupCalls.Load())
	}
}

func TestLookupByTaxIDServerErrorIsTemporary(t *testing.T) {
	rs := &registryServer{}
	rs.lookup = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}
	client := newTestClient(newRegistryServer(t, rs), nil)

	_, err := client.LookupByTaxID(context.Background(), "49528128847")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestLookupWithoutCredentialsIsTemporary(t *testing.T) {
	_, err := New(Options{BaseURL: "http://localhost"}).LookupByTaxID(context.Background(), "49528128847")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestDecodeSubjectFallsBackToFullName(t *testing.T) {
	company, err := decodeSubject([]byte(`{"oib":"00123456789","tvrtke":[{"ime":"Puni naziv"}],"sjedista":[{"naziv_naselja":"Split"}]}`))
	if err != nil {
		t.Fatalf("decodeSubject() error = %v", err)
	}
	if company.DisplayName() != "Puni naziv" || company.Address != "Split" || company.TaxID != "00123456789" {
		t.Fatalf("unexpected company %+v", company)
	}
}

func TestPadOIBRestoresLeadingZeros(t *testing.T) {
	if got := padOIB("123456789"); got != "00123456789" {
		t.Fatalf("unexpected padding %q", got)
	}
}

type countingRegistry struct {
	calls int
	err   error
}

func (r *countingRegistry) LookupByTaxID(_ context.Context, taxID string) (*domain.RegistryCompany, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &domain.RegistryCompany{TaxID: taxID, Name: "ACME"}, nil
}

func TestCachedRegistryCachesHitsAndMisses(t *testing.T) {
	hit := &countingRegistry{}
	cache := NewCachedRegistry(hit, time.Hour)
	for i := 0; i < 3; i++ {
		if _, err := cache.LookupByTaxID(context.Background(), "49528128847"); err != nil {
			t.Fatalf("LookupByTaxID() error = %v", err)
		}
	}
	if hit.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", hit.calls)
	}

	miss := &countingRegistry{err: domain.WrapError(domain.ErrCounterPartyNotFound, "lookup", errors.New("oib"))}
	cache = NewCachedRegistry(miss, time.Hour)
	for i := 0; i < 2; i++ {
		if _, err := cache.LookupByTaxID(context.Background(), "66609700583"); !domain.IsKind(err, domain.ErrCounterPartyNotFound) {
			t.Fatalf("expected cached miss, got %v", err)
		}
	}
	if miss.calls != 1 {
		t.Fatalf("expected one upstream call for miss, got %d", miss.calls)
	}
}

func TestCachedRegistrySkipsTemporaryFailuresAndExpires(t *testing.T) {
	flaky := &countingRegistry{err: domain.WrapError(domain.ErrTemporary, "lookup", errors.New("down"))}
	cache := NewCachedRegistry(flaky, time.Hour)
	_, _ = cache.LookupByTaxID(context.Background(), "49528128847")
	_, _ = cache.LookupByTaxID(context.Background(), "49528128847")
	if flaky.calls != 2 {
		t.Fatalf("temporary failures must not be cached, got %d calls", flaky.calls)
	}

	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	hit := &countingRegistry{}
	cache = NewCachedRegistry(hit, time.Minute)
	cache.now = func() time.Time { return now }
	_, _ = cache.LookupByTaxID(context.Background(), "49528128847")
	now = now.Add(2 * time.Minute)
	_, _ = cache.LookupByTaxID(context.Background(), "49528128847")
	if hit.calls != 2 {
		t.Fatalf("expected expiry to refetch, got %d calls", hit.calls)
	}
}

type gatedRegistry struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRegistry) LookupByTaxID(_ context.Context, taxID string) (*domain.RegistryCompany, error) {
	r.calls.Add(1)
	r.entered <- struct{}{}
	<-r.release
	return &domain.RegistryCompany{TaxID: taxID, Name: "ACME"}, nil
}

func TestCachedRegistrySharesConcurrentLookups(t *testing.T) {
	upstream := &gatedRegistry{entered: make(chan struct{}, 8), release: make(chan struct{})}
	cache := NewCachedRegistry(upstream, time.Hour)

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	lookup := func() {
		defer wg.Done()
		company, err := cache.LookupByTaxID(context.Background(), "49528128847")
		if err == nil && company.Name != "ACME" {
			err = errors.New("unexpected company " + company.Name)
		}
		errs <- err
	}

	wg.Add(1)
	go lookup()
	<-upstream.entered
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go lookup()
	}
	time.Sleep(20 * time.Millisecond)
	close(upstream.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("LookupByTaxID() error = %v", err)
		}
	}
	if upstream.calls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", upstream.calls.Load())
	}
}
