package rebac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flowstudio/authz/core/audit"
)

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewManager(store, opts...), store
}

func mustCheck(t *testing.T, m *Manager, subject string, ns Namespace, object string, rel Relation) bool {
	t.Helper()
	ok, err := m.CheckPermission(context.Background(), subject, ns, object, rel)
	if err != nil {
		t.Fatalf("check %s %s:%s#%s: %v", subject, ns, object, rel, err)
	}
	return ok
}

func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	if err := m.GrantOwnership(ctx, NamespaceImageProject, "proj-1", "user-A"); err != nil {
		t.Fatalf("grant ownership: %v", err)
	}

	if !mustCheck(t, m, "user-A", NamespaceImageProject, "proj-1", RelationEditor) {
		t.Error("owner should satisfy editor")
	}
	if mustCheck(t, m, "user-B", NamespaceImageProject, "proj-1", RelationEditor) {
		t.Error("user-B should have no access yet")
	}

	res, err := m.GrantPermission(ctx, GrantRequest{
		Namespace: NamespaceImageProject,
		ObjectID:  "proj-1",
		Relation:  RelationViewer,
		SubjectID: "user-B",
		GrantedBy: "user-A",
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	if !mustCheck(t, m, "user-B", NamespaceImageProject, "proj-1", RelationViewer) {
		t.Error("user-B should be a viewer")
	}
	if mustCheck(t, m, "user-B", NamespaceImageProject, "proj-1", RelationEditor) {
		t.Error("viewer must not satisfy editor")
	}
}

func TestImplicationMonotonicity(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	for _, ns := range []Namespace{NamespaceImageProject, NamespaceWorkflowSession} {
		if err := m.GrantOwnership(ctx, ns, "obj", "owner"); err != nil {
			t.Fatalf("grant ownership: %v", err)
		}
		for _, rel := range []Relation{RelationOwner, RelationEditor, RelationViewer} {
			if !mustCheck(t, m, "owner", ns, "obj", rel) {
				t.Errorf("%s: owner should satisfy %s", ns, rel)
			}
		}
	}
}

func TestEditorImpliesViewerOnly(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	m.GrantOwnership(ctx, NamespaceImageProject, "p", "alice")
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p", RelationEditor, "bob", "alice"})

	tests := []struct {
		rel  Relation
		want bool
	}{
		{RelationViewer, true},
		{RelationEditor, true},
		{RelationOwner, false},
	}
	for _, tt := range tests {
		if got := mustCheck(t, m, "bob", NamespaceImageProject, "p", tt.rel); got != tt.want {
			t.Errorf("editor check %s: got %v want %v", tt.rel, got, tt.want)
		}
	}
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	if err := m.GrantOwnership(ctx, NamespaceImageProject, "X", "S"); err != nil {
		t.Fatal(err)
	}
	if mustCheck(t, m, "S", NamespaceWorkflowSession, "X", RelationViewer) {
		t.Error("image_project owner must not leak into workflow_session")
	}
}

func TestIdempotentGrant(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)
	m.GrantOwnership(ctx, NamespaceImageProject, "p", "alice")

	req := GrantRequest{NamespaceImageProject, "p", RelationViewer, "bob", "alice"}
	for i := 0; i < 2; i++ {
		res, err := m.GrantPermission(ctx, req)
		if err != nil || !res.Success {
			t.Fatalf("grant #%d: res=%+v err=%v", i+1, res, err)
		}
	}

	if store.Len() != 2 {
		t.Errorf("expected 2 tuples (owner + viewer), got %d", store.Len())
	}
}

func TestConcurrentIdenticalGrants(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)
	m.GrantOwnership(ctx, NamespaceImageProject, "p", "alice")

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p", RelationEditor, "bob", "alice"})
			if err != nil {
				errs <- err
				return
			}
			if !res.Success {
				errs <- fmt.Errorf("grant denied: %s", res.Error)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 tuples, got %d", store.Len())
	}
}

func TestRevokeRemovesAccess(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	m.GrantOwnership(ctx, NamespaceImageProject, "p", "alice")
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p", RelationViewer, "bob", "alice"})

	res, err := m.RevokePermission(ctx, RevokeRequest{NamespaceImageProject, "p", RelationViewer, "bob", "alice"})
	if err != nil || !res.Success {
		t.Fatalf("revoke: res=%+v err=%v", res, err)
	}
	if mustCheck(t, m, "bob", NamespaceImageProject, "p", RelationViewer) {
		t.Error("bob should have lost viewer access")
	}
}

func TestRevokeMissingTupleIsNoop(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	m.GrantOwnership(ctx, NamespaceImageProject, "p", "alice")

	res, err := m.RevokePermission(ctx, RevokeRequest{NamespaceImageProject, "p", RelationEditor, "nobody", "alice"})
	if err != nil || !res.Success {
		t.Fatalf("expected no-op success, got res=%+v err=%v", res, err)
	}
}

func TestDelegationCheck(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	m.GrantOwnership(ctx, NamespaceImageProject, "O", "owner")
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "O", RelationViewer, "viewer", "owner"})

	res, err := m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "O", RelationEditor, "other", "viewer"})
	if err != nil {
		t.Fatalf("delegation denial must not be an error: %v", err)
	}
	if res.Success {
		t.Fatal("viewer must not be able to grant editor")
	}
	if mustCheck(t, m, "other", NamespaceImageProject, "O", RelationViewer) {
		t.Error("denied grant must not write a tuple")
	}
}

func TestAdminCanDelegate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	m.GrantOwnership(ctx, NamespaceImageProject, "p", "alice")
	if err := m.BootstrapAdmin(ctx, "root"); err != nil {
		t.Fatal(err)
	}

	res, err := m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p", RelationEditor, "bob", "root"})
	if err != nil || !res.Success {
		t.Fatalf("admin grant: res=%+v err=%v", res, err)
	}

	// Admin bypass is only available through the dedicated guard.
	if mustCheck(t, m, "root", NamespaceImageProject, "p", RelationViewer) {
		t.Error("admin must not be folded into CheckPermission")
	}
}

func TestSelfRevokeNonOwner(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	m.GrantOwnership(ctx, NamespaceWorkflowSession, "s", "alice")
	m.GrantPermission(ctx, GrantRequest{NamespaceWorkflowSession, "s", RelationEditor, "bob", "alice"})

	res, err := m.RevokePermission(ctx, RevokeRequest{NamespaceWorkflowSession, "s", RelationEditor, "bob", "bob"})
	if err != nil || !res.Success {
		t.Fatalf("self revoke: res=%+v err=%v", res, err)
	}

	m.GrantPermission(ctx, GrantRequest{NamespaceWorkflowSession, "s", RelationEditor, "carol", "alice"})
	res, _ = m.RevokePermission(ctx, RevokeRequest{NamespaceWorkflowSession, "s", RelationEditor, "carol", "bob"})
	if res.Success {
		t.Error("bob must not revoke carol")
	}
}

func TestLastOwnerCannotBeRevoked(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	m.GrantOwnership(ctx, NamespaceImageProject, "p", "alice")

	res, err := m.RevokePermission(ctx, RevokeRequest{NamespaceImageProject, "p", RelationOwner, "alice", "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("revoking the sole owner must be refused")
	}
	if !mustCheck(t, m, "alice", NamespaceImageProject, "p", RelationOwner) {
		t.Error("alice should still own p")
	}

	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p", RelationOwner, "bob", "alice"})
	res, _ = m.RevokePermission(ctx, RevokeRequest{NamespaceImageProject, "p", RelationOwner, "alice", "alice"})
	if !res.Success {
		t.Fatalf("revoking one of two owners should succeed: %+v", res)
	}
}

func TestTransferOwnership(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	m.GrantOwnership(ctx, NamespaceImageProject, "p", "alice")

	res, err := m.TransferOwnership(ctx, TransferRequest{NamespaceImageProject, "p", "alice", "bob", "alice"})
	if err != nil || !res.Success {
		t.Fatalf("transfer: res=%+v err=%v", res, err)
	}
	if mustCheck(t, m, "alice", NamespaceImageProject, "p", RelationViewer) {
		t.Error("alice should have no access after transfer")
	}
	if !mustCheck(t, m, "bob", NamespaceImageProject, "p", RelationOwner) {
		t.Error("bob should own p")
	}

	res, _ = m.TransferOwnership(ctx, TransferRequest{NamespaceImageProject, "p", "bob", "carol", "alice"})
	if res.Success {
		t.Error("former owner must not transfer")
	}
}

func TestValidationErrors(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	tests := []struct {
		name string
		req  GrantRequest
	}{
		{"bad namespace", GrantRequest{"folder", "p", RelationViewer, "b", "a"}},
		{"bad relation", GrantRequest{NamespaceImageProject, "p", "commenter", "b", "a"}},
		{"missing object", GrantRequest{NamespaceImageProject, "", RelationViewer, "b", "a"}},
		{"missing subject", GrantRequest{NamespaceImageProject, "p", RelationViewer, "", "a"}},
		{"missing granter", GrantRequest{NamespaceImageProject, "p", RelationViewer, "b", ""}},
		{"admin outside system", GrantRequest{NamespaceImageProject, "p", RelationAdmin, "b", "a"}},
		{"owner in system", GrantRequest{NamespaceSystem, SystemObjectID, RelationOwner, "b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.GrantPermission(ctx, tt.req)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
			if HTTPStatus(err) != 400 {
				t.Errorf("expected 400, got %d", HTTPStatus(err))
			}
		})
	}
}

func TestGuards(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	m.GrantOwnership(ctx, NamespaceImageProject, "p", "alice")
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p", RelationViewer, "bob", "alice"})

	if err := m.RequireOwner(ctx, "alice", NamespaceImageProject, "p"); err != nil {
		t.Errorf("alice owner: %v", err)
	}
	if err := m.RequireViewer(ctx, "bob", NamespaceImageProject, "p"); err != nil {
		t.Errorf("bob viewer: %v", err)
	}
	if err := m.RequireEditor(ctx, "bob", NamespaceImageProject, "p"); !errors.Is(err, ErrForbidden) {
		t.Errorf("bob editor: expected forbidden, got %v", err)
	}
	if err := m.RequireViewer(ctx, "", NamespaceImageProject, "p"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("anonymous: expected unauthorized, got %v", err)
	}
}

func TestRequireAdmin(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	m.BootstrapAdmin(ctx, "root")

	if err := m.RequireAdmin(ctx, "root"); err != nil {
		t.Errorf("root: %v", err)
	}
	if err := m.RequireAdmin(ctx, "alice"); !errors.Is(err, ErrForbidden) {
		t.Errorf("alice: expected forbidden, got %v", err)
	}
	if err := m.RequireAdmin(ctx, ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("anonymous: expected unauthorized, got %v", err)
	}

	res, err := m.GrantPermission(ctx, GrantRequest{NamespaceSystem, SystemObjectID, RelationAdmin, "alice", "root"})
	if err != nil || !res.Success {
		t.Fatalf("admin grant admin: res=%+v err=%v", res, err)
	}
	if err := m.RequireAdmin(ctx, "alice"); err != nil {
		t.Errorf("alice after grant: %v", err)
	}
}

func TestListingConsistency(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	m.GrantOwnership(ctx, NamespaceImageProject, "p1", "alice")
	m.GrantOwnership(ctx, NamespaceImageProject, "p2", "bob")
	m.GrantOwnership(ctx, NamespaceImageProject, "p3", "bob")
	m.GrantOwnership(ctx, NamespaceWorkflowSession, "p4", "alice")
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p2", RelationEditor, "alice", "bob"})
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p2", RelationViewer, "alice", "bob"})
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p3", RelationViewer, "alice", "bob"})

	for _, rel := range []Relation{RelationViewer, RelationEditor, RelationOwner} {
		listed, err := m.ListAccessible(ctx, "alice", NamespaceImageProject, rel)
		if err != nil {
			t.Fatal(err)
		}
		inList := make(map[string]bool)
		for _, id := range listed {
			inList[id] = true
		}
		for _, obj := range []string{"p1", "p2", "p3", "p4"} {
			if got := mustCheck(t, m, "alice", NamespaceImageProject, obj, rel); got != inList[obj] {
				t.Errorf("%s on %s: check=%v listed=%v", rel, obj, got, inList[obj])
			}
		}
	}

	all, _ := m.ListAccessible(ctx, "alice", NamespaceImageProject, "")
	if fmt.Sprint(all) != "[p1 p2 p3]" {
		t.Errorf("default viewer listing: got %v", all)
	}
}

func TestGetAccessibleWithRelation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	m.GrantOwnership(ctx, NamespaceImageProject, "p1", "alice")
	m.GrantOwnership(ctx, NamespaceImageProject, "p2", "bob")
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p2", RelationViewer, "alice", "bob"})
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p2", RelationEditor, "alice", "bob"})

	got, err := m.GetAccessibleWithRelation(ctx, NamespaceImageProject, "alice")
	if err != nil {
		t.Fatal(err)
	}
	want := []ObjectRelation{{"p1", RelationOwner}, {"p2", RelationEditor}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestListResourceUsers(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	m.GrantOwnership(ctx, NamespaceImageProject, "p", "alice")
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p", RelationViewer, "carol", "alice"})
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p", RelationEditor, "bob", "alice"})

	users, err := m.ListResourceUsers(ctx, NamespaceImageProject, "p")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 3 {
		t.Fatalf("expected 3 users, got %d", len(users))
	}
	if users[0].SubjectID != "alice" || users[1].SubjectID != "bob" || users[2].SubjectID != "carol" {
		t.Errorf("unexpected order: %+v", users)
	}
	if users[2].GrantedBy != "alice" {
		t.Errorf("expected granted_by alice, got %q", users[2].GrantedBy)
	}
}

func TestRevokeAllForObject(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)
	m.GrantOwnership(ctx, NamespaceImageProject, "p", "alice")
	m.GrantOwnership(ctx, NamespaceImageProject, "q", "alice")
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p", RelationViewer, "bob", "alice"})

	if err := m.RevokeAllForObject(ctx, NamespaceImageProject, "p"); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 1 {
		t.Errorf("expected only q's owner tuple to remain, got %d", store.Len())
	}
	if mustCheck(t, m, "alice", NamespaceImageProject, "p", RelationViewer) {
		t.Error("purged object must deny")
	}
}

func TestCreateOwnedRollsBack(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	boom := errors.New("insert failed")
	err := m.CreateOwned(ctx, NamespaceImageProject, "p", "alice", func(ctx context.Context, tx Store) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected create error, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("owner tuple must be rolled back, have %d tuples", store.Len())
	}

	err = m.CreateOwned(ctx, NamespaceImageProject, "p", "alice", func(ctx context.Context, tx Store) error {
		ok, err := tx.TupleExists(ctx, TupleKey{NamespaceImageProject, "p", RelationOwner, "alice"})
		if err != nil || !ok {
			return fmt.Errorf("owner tuple not visible inside transaction: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !mustCheck(t, m, "alice", NamespaceImageProject, "p", RelationOwner) {
		t.Error("alice should own p")
	}
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	events := audit.NewMemoryStore()
	m, _ := newTestManager(t, WithAudit(audit.NewLogger(events, audit.Hooks{})))

	m.GrantOwnership(ctx, NamespaceImageProject, "p", "alice")
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p", RelationViewer, "bob", "alice"})
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p", RelationEditor, "carol", "bob"})

	granted, _ := events.Count(ctx, audit.Filter{Types: []string{audit.EventPermissionGranted}})
	deniedCount, _ := events.Count(ctx, audit.Filter{Types: []string{audit.EventPermissionDenied}, ActorID: "bob"})
	if granted != 1 || deniedCount != 1 {
		t.Errorf("expected 1 grant and 1 denial, got %d and %d", granted, deniedCount)
	}
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) TupleExists(ctx context.Context, key TupleKey) (bool, error) {
	return false, errors.New("connection refused")
}

func TestStorageFailureFailsClosed(t *testing.T) {
	m := NewManager(failingStore{NewMemoryStore()})

	ok, err := m.CheckPermission(context.Background(), "alice", NamespaceImageProject, "p", RelationViewer)
	if ok {
		t.Error("storage failure must deny")
	}
	if !errors.Is(err, ErrStorage) {
		t.Errorf("expected storage error, got %v", err)
	}
	if HTTPStatus(err) != 500 {
		t.Errorf("expected 500, got %d", HTTPStatus(err))
	}
	if PublicMessage(err) == err.Error() {
		t.Error("storage errors must not leak detail")
	}

	if err := m.RequireViewer(context.Background(), "alice", NamespaceImageProject, "p"); !errors.Is(err, ErrStorage) {
		t.Errorf("guard should surface storage error, got %v", err)
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	objects []string
}

func (n *recordingNotifier) NotifyChange(ctx context.Context, ns Namespace, objectID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.objects = append(n.objects, string(ns)+":"+objectID)
	return nil
}

func TestWritesNotify(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	m, _ := newTestManager(t, WithNotifier(n))

	m.GrantOwnership(ctx, NamespaceImageProject, "p", "alice")
	m.GrantPermission(ctx, GrantRequest{NamespaceImageProject, "p", RelationViewer, "bob", "alice"})
	m.RevokePermission(ctx, RevokeRequest{NamespaceImageProject, "p", RelationViewer, "bob", "alice"})

	if len(n.objects) != 3 {
		t.Fatalf("expected 3 notifications, got %v", n.objects)
	}
	for _, o := range n.objects {
		if o != "image_project:p" {
			t.Errorf("unexpected notification %q", o)
		}
	}
}

type recordingMetrics struct {
	mu     sync.Mutex
	writes []string
}

func (r *recordingMetrics) RecordCheck(ctx context.Context, ns Namespace, rel Relation, allowed bool, d time.Duration) {
}

func (r *recordingMetrics) RecordWrite(ctx context.Context, op string, ns Namespace, rel Relation, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, fmt.Sprintf("%s:%s:%t", op, rel, success))
}

func (r *recordingMetrics) RecordCache(ctx context.Context, hit bool) {}

func TestTransferAndBootstrapRecordWrites(t *testing.T) {
	ctx := context.Background()
	metrics := &recordingMetrics{}
	m, _ := newTestManager(t, WithMetrics(metrics))

	if err := m.BootstrapAdmin(ctx, "root"); err != nil {
		t.Fatal(err)
	}
	m.GrantOwnership(ctx, NamespaceImageProject, "p", "alice")
	m.TransferOwnership(ctx, TransferRequest{NamespaceImageProject, "p", "alice", "bob", "mallory"})
	m.TransferOwnership(ctx, TransferRequest{NamespaceImageProject, "p", "alice", "bob", "alice"})

	want := []string{
		"bootstrap:admin:true",
		"grant:owner:true",
		"transfer:owner:false",
		"transfer:owner:true",
	}
	if fmt.Sprint(metrics.writes) != fmt.Sprint(want) {
		t.Errorf("writes = %v, want %v", metrics.writes, want)
	}
}
