package kgorm

import (
	"time"

	"github.com/flowstudio/authz/core/audit"
	"github.com/flowstudio/authz/core/rebac"
	"github.com/flowstudio/authz/core/resource"
)

type gormAuditEvent struct {
	ID        string `gorm:"primaryKey;size:64"`
	Type      string `gorm:"size:64;index"`
	ActorID   string `gorm:"size:255;index"`
	SubjectID string `gorm:"size:255;index"`
	Namespace string `gorm:"size:64;index:idx_audit_object,priority:1"`
	ObjectID  string `gorm:"size:255;index:idx_audit_object,priority:2"`
	Relation  string `gorm:"size:64"`
	Status    string `gorm:"size:32;index"`
	Message   string
	Risk      string     `gorm:"size:16"`
	Metadata  audit.JSON `gorm:"type:text"`
	RequestID string     `gorm:"size:64"`
	CreatedAt time.Time  `gorm:"index"`
}

func (gormAuditEvent) TableName() string { return "audit_events" }

func fromCoreAuditEvent(e *audit.Event) *gormAuditEvent {
	if e == nil {
		return nil
	}
	return &gormAuditEvent{
		ID:        e.ID,
		Type:      e.Type,
		ActorID:   e.ActorID,
		SubjectID: e.SubjectID,
		Namespace: e.Namespace,
		ObjectID:  e.ObjectID,
		Relation:  e.Relation,
		Status:    e.Status,
		Message:   e.Message,
		Risk:      string(e.Risk),
		Metadata:  e.Metadata,
		RequestID: e.RequestID,
		CreatedAt: e.CreatedAt,
	}
}

func toCoreAuditEvent(e *gormAuditEvent) audit.Event {
	return audit.Event{
		ID:        e.ID,
		Type:      e.Type,
		ActorID:   e.ActorID,
		SubjectID: e.SubjectID,
		Namespace: e.Namespace,
		ObjectID:  e.ObjectID,
		Relation:  e.Relation,
		Status:    e.Status,
		Message:   e.Message,
		Risk:      audit.RiskLevel(e.Risk),
		Metadata:  e.Metadata,
		RequestID: e.RequestID,
		CreatedAt: e.CreatedAt,
	}
}

type gormResource struct {
	Namespace string `gorm:"primaryKey;size:64"`
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255;not null"`
	CreatedBy string `gorm:"size:255;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (gormResource) TableName() string { return "resources" }

func fromCoreResource(r *resource.Resource) *gormResource {
	return &gormResource{
		Namespace: string(r.Namespace),
		ID:        r.ID,
		Name:      r.Name,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func toCoreResource(r *gormResource) *resource.Resource {
	return &resource.Resource{
		ID:        r.ID,
		Namespace: rebac.Namespace(r.Namespace),
		Name:      r.Name,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
