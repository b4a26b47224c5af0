package kgorm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowstudio/authz/core/audit"
	"github.com/flowstudio/authz/core/rebac"
	"github.com/flowstudio/authz/core/resource"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "authz.db")
	db, err := Open("sqlite", dsn, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { Close(db) })

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "dsn", nil); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if got := Drivers(); len(got) != 3 {
		t.Errorf("expected 3 registered drivers, got %v", got)
	}
}

func TestReBACRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewReBACRepository(openTestDB(t))

	owner := rebac.NewTuple(rebac.NamespaceImageProject, "p1", rebac.RelationOwner, "alice", "alice")
	viewer := rebac.NewTuple(rebac.NamespaceImageProject, "p2", rebac.RelationViewer, "alice", "bob")
	other := rebac.NewTuple(rebac.NamespaceWorkflowSession, "p1", rebac.RelationEditor, "alice", "carol")
	for _, tup := range []rebac.Tuple{owner, viewer, other, owner} {
		if err := repo.WriteTuple(ctx, tup); err != nil {
			t.Fatalf("write %s: %v", tup, err)
		}
	}

	ok, err := repo.TupleExists(ctx, owner.TupleKey)
	if err != nil || !ok {
		t.Fatalf("owner tuple should exist: ok=%v err=%v", ok, err)
	}

	all, err := repo.FindBySubject(ctx, "alice", rebac.NamespaceImageProject)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 image_project tuples, got %d", len(all))
	}
	if all[1].GrantedBy != "bob" {
		t.Errorf("granted_by not persisted: %+v", all[1])
	}

	owned, _ := repo.FindBySubject(ctx, "alice", rebac.NamespaceImageProject, rebac.RelationOwner, rebac.RelationEditor)
	if len(owned) != 1 || owned[0].ObjectID != "p1" {
		t.Errorf("relation filter: got %+v", owned)
	}

	if err := repo.DeleteTuple(ctx, viewer.TupleKey); err != nil {
		t.Fatal(err)
	}
	if ok, _ := repo.TupleExists(ctx, viewer.TupleKey); ok {
		t.Error("viewer tuple should be deleted")
	}

	if err := repo.DeleteObjectTuples(ctx, rebac.NamespaceImageProject, "p1"); err != nil {
		t.Fatal(err)
	}
	left, _ := repo.FindByObject(ctx, rebac.NamespaceWorkflowSession, "p1")
	if len(left) != 1 {
		t.Errorf("cascade must stay within the namespace, got %d tuples left", len(left))
	}
}

func TestReBACRepositoryTransactionRollback(t *testing.T) {
	ctx := context.Background()
	repo := NewReBACRepository(openTestDB(t))

	boom := errors.New("boom")
	err := repo.Transaction(ctx, func(tx rebac.Store) error {
		if err := tx.WriteTuple(ctx, rebac.NewTuple(rebac.NamespaceImageProject, "p", rebac.RelationOwner, "alice", "alice")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	tuples, _ := repo.FindByObject(ctx, rebac.NamespaceImageProject, "p")
	if len(tuples) != 0 {
		t.Errorf("rolled back write is visible: %+v", tuples)
	}
}

func TestManagerOverGorm(t *testing.T) {
	ctx := context.Background()
	m := rebac.NewManager(NewReBACRepository(openTestDB(t)))

	if err := m.GrantOwnership(ctx, rebac.NamespaceImageProject, "proj-1", "user-A"); err != nil {
		t.Fatal(err)
	}
	res, err := m.GrantPermission(ctx, rebac.GrantRequest{
		Namespace: rebac.NamespaceImageProject,
		ObjectID:  "proj-1",
		Relation:  rebac.RelationViewer,
		SubjectID: "user-B",
		GrantedBy: "user-A",
	})
	if err != nil || !res.Success {
		t.Fatalf("grant: %+v %v", res, err)
	}

	ok, _ := m.CheckPermission(ctx, "user-B", rebac.NamespaceImageProject, "proj-1", rebac.RelationViewer)
	if !ok {
		t.Error("user-B should view proj-1")
	}
	ok, _ = m.CheckPermission(ctx, "user-B", rebac.NamespaceImageProject, "proj-1", rebac.RelationEditor)
	if ok {
		t.Error("user-B must not edit proj-1")
	}

	revoke, err := m.RevokePermission(ctx, rebac.RevokeRequest{
		Namespace: rebac.NamespaceImageProject,
		ObjectID:  "proj-1",
		Relation:  rebac.RelationOwner,
		SubjectID: "user-A",
		RevokedBy: "user-A",
	})
	if err != nil || revoke.Success {
		t.Errorf("last owner revoke must be refused: %+v %v", revoke, err)
	}
}

func TestDelimiterBearingIDsStayDistinct(t *testing.T) {
	ctx := context.Background()
	repo := NewReBACRepository(openTestDB(t))
	m := rebac.NewManager(repo)

	if err := m.GrantOwnership(ctx, rebac.NamespaceImageProject, "Q", "alice"); err != nil {
		t.Fatal(err)
	}
	res, err := m.GrantPermission(ctx, rebac.GrantRequest{
		Namespace: rebac.NamespaceImageProject,
		ObjectID:  "Q",
		Relation:  rebac.RelationViewer,
		SubjectID: "y#owner@z",
		GrantedBy: "alice",
	})
	if err != nil || !res.Success {
		t.Fatalf("grant: %+v %v", res, err)
	}

	// Same canonical string, different tuple.
	forged := rebac.TupleKey{Namespace: rebac.NamespaceImageProject, ObjectID: "Q#viewer@y", Relation: rebac.RelationOwner, SubjectID: "z"}
	if ok, err := repo.TupleExists(ctx, forged); err != nil || ok {
		t.Fatalf("forged tuple must not exist: ok=%v err=%v", ok, err)
	}
	if ok, _ := m.CheckPermission(ctx, "z", rebac.NamespaceImageProject, "Q#viewer@y", rebac.RelationOwner); ok {
		t.Error("z must not own Q#viewer@y")
	}

	// Both tuples can coexist and be removed independently.
	if err := repo.WriteTuple(ctx, rebac.NewTuple(forged.Namespace, forged.ObjectID, forged.Relation, forged.SubjectID, "z")); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteTuple(ctx, forged); err != nil {
		t.Fatal(err)
	}
	ok, _ := repo.TupleExists(ctx, rebac.TupleKey{Namespace: rebac.NamespaceImageProject, ObjectID: "Q", Relation: rebac.RelationViewer, SubjectID: "y#owner@z"})
	if !ok {
		t.Error("deleting the other tuple removed the viewer grant")
	}
	if ids, _ := m.ListAccessible(ctx, "z", rebac.NamespaceImageProject, rebac.RelationOwner); len(ids) != 0 {
		t.Errorf("listing disagrees with checks: %v", ids)
	}
}

func TestResourceCreateSharesTransaction(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	tuples := NewReBACRepository(db)
	resources := NewResourceRepository(db)
	svc := resource.NewService(resources, rebac.NewManager(tuples), nil)

	r, err := svc.Create(ctx, "alice", rebac.NamespaceImageProject, "Project")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.Get(ctx, "alice", rebac.NamespaceImageProject, r.ID)
	if err != nil || got.Name != "Project" {
		t.Fatalf("get: %+v %v", got, err)
	}

	// A duplicate primary key fails the insert and must roll back the owner grant.
	dup := &resource.Resource{ID: "fixed", Namespace: rebac.NamespaceImageProject, Name: "x"}
	resources.Create(ctx, dup)
	m := rebac.NewManager(tuples)
	err = m.CreateOwned(ctx, rebac.NamespaceImageProject, "fixed", "bob", func(ctx context.Context, tx rebac.Store) error {
		return resources.WithTx(tx).Create(ctx, dup)
	})
	if err == nil {
		t.Fatal("expected duplicate insert to fail")
	}
	if ok, _ := tuples.TupleExists(ctx, rebac.TupleKey{Namespace: rebac.NamespaceImageProject, ObjectID: "fixed", Relation: rebac.RelationOwner, SubjectID: "bob"}); ok {
		t.Error("owner tuple survived a failed create")
	}

	renamed, err := svc.Rename(ctx, "alice", rebac.NamespaceImageProject, r.ID, "Renamed")
	if err != nil || renamed.Name != "Renamed" {
		t.Fatalf("rename: %+v %v", renamed, err)
	}
	list, _ := svc.List(ctx, "alice", rebac.NamespaceImageProject)
	if len(list) != 1 || list[0].Name != "Renamed" {
		t.Errorf("list: %+v", list)
	}

	if err := svc.Delete(ctx, "alice", rebac.NamespaceImageProject, r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if left, _ := tuples.FindByObject(ctx, rebac.NamespaceImageProject, r.ID); len(left) != 0 {
		t.Errorf("tuples left after delete: %+v", left)
	}
}

func TestAuditRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAuditRepository(openTestDB(t))
	logger := audit.NewLogger(repo, audit.Hooks{})

	old := audit.NewEvent(audit.EventPermissionGranted).Actor("alice").Object("image_project", "p").Success().Build()
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	if err := logger.Log(ctx, old); err != nil {
		t.Fatal(err)
	}
	logger.Log(ctx, audit.NewEvent(audit.EventPermissionDenied).Actor("bob").Object("image_project", "p").Denied().
		Meta(map[string]string{"reason": "not owner"}).Build())
	logger.Log(ctx, audit.NewEvent(audit.EventPermissionRevoked).Actor("alice").Object("workflow_session", "s").Success().Build())

	events, err := repo.Query(ctx, audit.Filter{Namespace: "image_project"})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Type != audit.EventPermissionDenied {
		t.Fatalf("expected newest-first image_project events, got %+v", events)
	}
	if string(events[0].Metadata) != `{"reason":"not owner"}` {
		t.Errorf("metadata not persisted: %s", events[0].Metadata)
	}

	n, _ := repo.Count(ctx, audit.Filter{ActorID: "alice"})
	if n != 2 {
		t.Errorf("expected 2 events by alice, got %d", n)
	}

	purged, err := repo.Purge(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil || purged != 1 {
		t.Errorf("purge: n=%d err=%v", purged, err)
	}
}
