package memories

import (
	"context"
	"strings"
)

// Capsule operations

func (s *service) CreateCapsule(ctx context.Context, owner string) (*Capsule, error) {
	capsule := &Capsule{
		ID:        NewID(KindCapsule),
		Owner:     strings.TrimSpace(owner),
		CreatedAt: s.now(),
	}
	if err := s.repository.CreateCapsule(ctx, capsule); err != nil {
		return nil, err
	}
	s.emit(ctx, "capsule_created", func(e EventSink) error { return e.CapsuleCreated(ctx, capsule) })
	return capsule, nil
}

// CapsuleForOwner returns the capsule of owner, creating it on first use.
func (s *service) CapsuleForOwner(ctx context.Context, owner string) (*Capsule, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, invalidArgument("owner is required")
	}
	candidate := &Capsule{
		ID:        NewID(KindCapsule),
		Owner:     owner,
		CreatedAt: s.now(),
	}
	capsule, created, err := s.repository.GetOrCreateCapsuleByOwner(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if created {
		s.emit(ctx, "capsule_created", func(e EventSink) error { return e.CapsuleCreated(ctx, capsule) })
	}
	return capsule, nil
}

func (s *service) GetCapsule(ctx context.Context, id string) (*Capsule, error) {
	if err := RequireKind(id, KindCapsule); err != nil {
		return nil, err
	}
	return s.repository.GetCapsule(ctx, id)
}
