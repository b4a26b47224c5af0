package rebac

import (
	"fmt"
	"testing"
)

func TestDefaultSchemaClosure(t *testing.T) {
	schemas := make(map[Namespace]Schema)
	for _, s := range DefaultSchemas() {
		schemas[s.Namespace] = s
	}

	tests := []struct {
		ns       Namespace
		required Relation
		want     string
	}{
		{NamespaceImageProject, RelationViewer, "[owner editor viewer]"},
		{NamespaceImageProject, RelationEditor, "[owner editor]"},
		{NamespaceImageProject, RelationOwner, "[owner]"},
		{NamespaceWorkflowSession, RelationViewer, "[owner editor viewer]"},
		{NamespaceSystem, RelationAdmin, "[admin]"},
	}
	for _, tt := range tests {
		got := fmt.Sprint(schemas[tt.ns].Satisfying(tt.required))
		if got != tt.want {
			t.Errorf("%s#%s: got %s want %s", tt.ns, tt.required, got, tt.want)
		}
	}
}

func TestSchemaDefines(t *testing.T) {
	schemas := DefaultSchemas()
	project, system := schemas[0], schemas[2]

	if !project.Defines(RelationViewer) || project.Defines(RelationAdmin) {
		t.Error("image_project should define the owner chain only")
	}
	if !system.Defines(RelationAdmin) || system.Defines(RelationOwner) {
		t.Error("system should define admin only")
	}
}

func TestSchemaSatisfies(t *testing.T) {
	s := DefaultSchemas()[0]

	if !s.Satisfies(RelationOwner, RelationViewer) {
		t.Error("owner should satisfy viewer")
	}
	if s.Satisfies(RelationViewer, RelationEditor) {
		t.Error("viewer must not satisfy editor")
	}
}

func TestSchemaToleratesCycles(t *testing.T) {
	s := NewSchema("custom", map[Relation][]Relation{
		"a": {"b"},
		"b": {"a"},
	})
	if got := len(s.Satisfying("a")); got != 2 {
		t.Errorf("expected a and b to satisfy each other, got %d", got)
	}
}

func TestUnknownRelationOnlySatisfiesItself(t *testing.T) {
	s := NewSchema(NamespaceImageProject, nil)
	if got := fmt.Sprint(s.Satisfying(RelationViewer)); got != "[viewer]" {
		t.Errorf("got %s", got)
	}
}

func TestParseEnums(t *testing.T) {
	if _, err := ParseNamespace("image_project"); err != nil {
		t.Errorf("image_project: %v", err)
	}
	if _, err := ParseNamespace("Image_Project"); KindOf(err) != KindValidation {
		t.Errorf("namespaces are case sensitive, got %v", err)
	}
	if _, err := ParseRelation("editor"); err != nil {
		t.Errorf("editor: %v", err)
	}
	if _, err := ParseRelation("commenter"); KindOf(err) != KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestTupleKeyString(t *testing.T) {
	k := TupleKey{NamespaceImageProject, "proj-1", RelationOwner, "user-a"}
	if got := k.String(); got != "image_project:proj-1#owner@user-a" {
		t.Errorf("got %s", got)
	}
}
