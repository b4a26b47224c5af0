package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/flowstudio/authz/core/rebac"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestProviderRecordsEngineMetrics(t *testing.T) {
	cfg := DefaultConfig()
	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Shutdown(context.Background())

	ctx := context.Background()
	m := rebac.NewManager(rebac.NewMemoryStore(),
		rebac.WithMetrics(p),
		rebac.WithTracer(p.Tracer()),
		rebac.WithDecisionCache(rebac.NewMemoryCache(time.Minute)),
	)
	m.GrantOwnership(ctx, rebac.NamespaceImageProject, "p", "alice")
	m.CheckPermission(ctx, "alice", rebac.NamespaceImageProject, "p", rebac.RelationViewer)
	m.CheckPermission(ctx, "alice", rebac.NamespaceImageProject, "p", rebac.RelationViewer)
	m.GrantPermission(ctx, rebac.GrantRequest{Namespace: rebac.NamespaceImageProject, ObjectID: "p", Relation: rebac.RelationViewer, SubjectID: "bob", GrantedBy: "mallory"})
	m.TransferOwnership(ctx, rebac.TransferRequest{Namespace: rebac.NamespaceImageProject, ObjectID: "p", From: "alice", To: "carol", RequestedBy: "alice"})
	m.BootstrapAdmin(ctx, "root")

	body := scrape(t, p)
	for _, op := range []string{"transfer", "bootstrap"} {
		if !regexp.MustCompile(`operation="` + op + `"`).MatchString(body) {
			t.Errorf("no write recorded for %s", op)
		}
	}
	for _, name := range []string{"checks", "grants", "cache_hits", "cache_misses", "check_duration"} {
		re := regexp.MustCompile(`flowstudio[._]authz[._]` + name)
		if !re.MatchString(body) {
			t.Errorf("metric %s missing from scrape output", name)
		}
	}
}

func TestDisabledProvider(t *testing.T) {
	p, err := NewProvider(Config{ServiceName: "test"})
	if err != nil {
		t.Fatal(err)
	}

	// Recording on a disabled provider is a no-op.
	p.RecordCheck(context.Background(), rebac.NamespaceImageProject, rebac.RelationViewer, true, time.Millisecond)
	p.RecordWrite(context.Background(), "grant", rebac.NamespaceImageProject, rebac.RelationViewer, true)
	p.RecordCache(context.Background(), true)

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 from disabled provider, got %d", rec.Code)
	}

	_, span := p.StartSpan(context.Background(), "test", SpanOptions{Namespace: "image_project"})
	EndSpan(span, errors.New("boom"))
}
