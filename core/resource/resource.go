// Package resource is a minimal model of the FlowStudio objects guarded by the
// permission engine: image projects and workflow sessions.
package resource

import (
	"context"
	"strings"
	"time"

	"github.com/flowstudio/authz/core/rebac"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Resource is a shareable object. Its permissions live in the tuple store.
type Resource struct {
	ID        string          `json:"id"`
	Namespace rebac.Namespace `json:"namespace"`
	Name      string          `json:"name"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Repository persists resources.
type Repository interface {
	Create(ctx context.Context, r *Resource) error
	Get(ctx context.Context, ns rebac.Namespace, id string) (*Resource, error)
	Update(ctx context.Context, r *Resource) error
	Delete(ctx context.Context, ns rebac.Namespace, id string) error
	List(ctx context.Context, ns rebac.Namespace, ids []string) ([]Resource, error)

	// WithTx returns a repository bound to the transaction behind tx, so a
	// resource insert commits or rolls back together with its owner tuple.
	WithTx(tx rebac.Store) Repository
}

// Service applies permission checks around resource operations. Access
// checks always run before lookups, so a caller without access cannot learn
// whether an object exists.
type Service struct {
	repo  Repository
	authz *rebac.Manager
	log   *zap.Logger
}

// NewService creates a resource service.
func NewService(repo Repository, authz *rebac.Manager, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, authz: authz, log: log}
}

func shareable(ns rebac.Namespace) error {
	if ns == rebac.NamespaceSystem || !ns.Valid() {
		return rebac.Validationf("namespace %q does not hold resources", ns)
	}
	return nil
}

// Create stores a new resource owned by subjectID.
func (s *Service) Create(ctx context.Context, subjectID string, ns rebac.Namespace, name string) (*Resource, error) {
	if subjectID == "" {
		return nil, rebac.Unauthorized()
	}
	if err := shareable(ns); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, rebac.Validationf("name is required")
	}

	now := time.Now().UTC()
	r := &Resource{
		ID:        uuid.NewString(),
		Namespace: ns,
		Name:      name,
		CreatedBy: subjectID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.authz.CreateOwned(ctx, ns, r.ID, subjectID, func(ctx context.Context, tx rebac.Store) error {
		return s.repo.WithTx(tx).Create(ctx, r)
	})
	if err != nil {
		return nil, rebac.StorageError("create "+string(ns), err)
	}

	s.log.Info("resource created",
		zap.String("namespace", string(ns)),
		zap.String("id", r.ID),
		zap.String("owner", subjectID),
	)
	return r, nil
}

// Get returns a resource the subject can view.
func (s *Service) Get(ctx context.Context, subjectID string, ns rebac.Namespace, id string) (*Resource, error) {
	if err := shareable(ns); err != nil {
		return nil, err
	}
	if err := s.authz.RequireViewer(ctx, subjectID, ns, id); err != nil {
		return nil, err
	}
	return s.lookup(ctx, ns, id)
}

// Rename changes the name of a resource the subject can edit.
func (s *Service) Rename(ctx context.Context, subjectID string, ns rebac.Namespace, id, name string) (*Resource, error) {
	if err := shareable(ns); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, rebac.Validationf("name is required")
	}
	if err := s.authz.RequireEditor(ctx, subjectID, ns, id); err != nil {
		return nil, err
	}

	r, err := s.lookup(ctx, ns, id)
	if err != nil {
		return nil, err
	}
	r.Name = name
	r.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, rebac.StorageError("update "+string(ns), err)
	}
	return r, nil
}

// Delete removes a resource the subject owns together with every tuple on
// it, in one transaction.
func (s *Service) Delete(ctx context.Context, subjectID string, ns rebac.Namespace, id string) error {
	if err := shareable(ns); err != nil {
		return err
	}
	if err := s.authz.RequireOwner(ctx, subjectID, ns, id); err != nil {
		return err
	}
	if _, err := s.lookup(ctx, ns, id); err != nil {
		return err
	}

	err := s.authz.DeleteOwned(ctx, ns, id, func(ctx context.Context, tx rebac.Store) error {
		return s.repo.WithTx(tx).Delete(ctx, ns, id)
	})
	if err != nil {
		s.log.Error("resource delete failed",
			zap.String("namespace", string(ns)),
			zap.String("id", id),
			zap.Error(err),
		)
		return rebac.StorageError("delete "+string(ns), err)
	}
	return nil
}

// List returns the resources in ns the subject can view.
func (s *Service) List(ctx context.Context, subjectID string, ns rebac.Namespace) ([]Resource, error) {
	if subjectID == "" {
		return nil, rebac.Unauthorized()
	}
	if err := shareable(ns); err != nil {
		return nil, err
	}
	ids, err := s.authz.ListAccessible(ctx, subjectID, ns, rebac.RelationViewer)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Resource{}, nil
	}
	list, err := s.repo.List(ctx, ns, ids)
	if err != nil {
		return nil, rebac.StorageError("list "+string(ns), err)
	}
	return list, nil
}

func (s *Service) lookup(ctx context.Context, ns rebac.Namespace, id string) (*Resource, error) {
	r, err := s.repo.Get(ctx, ns, id)
	if err != nil {
		return nil, rebac.StorageError("get "+string(ns), err)
	}
	if r == nil {
		return nil, rebac.NotFound(string(ns), id)
	}
	return r, nil
}
