package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"linqyard/internal/auth"
	"linqyard/internal/models"
	"linqyard/internal/storage"
)

// Service handles link and group ownership rules on top of a LinkStore
type Service struct {
	store storage.LinkStore
}

// NewService creates a new links service with the given storage backend
func NewService(store storage.LinkStore) *Service {
	return &Service{store: store}
}

// ListLinks returns the caller's links, ungrouped first, in display order
func (s *Service) ListLinks(ctx context.Context, p *auth.Principal) (*models.ListLinksResponse, error) {
	if p == nil {
		return nil, NewUnauthorizedError()
	}

	links, err := s.store.ListLinks(ctx, p.UserID)
	if err != nil {
		return nil, NewInternalError("failed to list links", err)
	}
	return &models.ListLinksResponse{Links: links, TotalCount: len(links)}, nil
}

// CreateLink stores a new link. Without an explicit sequence the link is
// placed after its last sibling.
func (s *Service) CreateLink(ctx context.Context, p *auth.Principal, req *models.CreateLinkRequest) (*models.Link, error) {
	if p == nil {
		return nil, NewUnauthorizedError()
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	if req.GroupID != nil {
		if _, err := s.ownedGroup(ctx, p, *req.GroupID, false); err != nil {
			return nil, err
		}
	}

	sequence, err := s.nextLinkSequence(ctx, p.UserID, req.GroupID, req.Sequence)
	if err != nil {
		return nil, err
	}

	link := models.NewLink(p.UserID, req.Name, req.URL, req.GroupID, sequence)
	if req.IsActive != nil {
		link.IsActive = *req.IsActive
	}

	if err := s.store.CreateLink(ctx, link); err != nil {
		return nil, NewInternalError("failed to create link", err)
	}

	slog.Info("Link created", "link_id", link.ID, "user_id", p.UserID, "sequence", link.Sequence)
	return link, nil
}

// UpdateLink changes the fields present in req. Sequence is never changed here.
func (s *Service) UpdateLink(ctx context.Context, p *auth.Principal, id string, req *models.UpdateLinkRequest) (*models.Link, error) {
	if p == nil {
		return nil, NewUnauthorizedError()
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	link, err := s.ownedLink(ctx, p, id, false)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		link.Name = *req.Name
	}
	if req.URL != nil {
		link.URL = *req.URL
	}
	if req.IsActive != nil {
		link.IsActive = *req.IsActive
	}
	if req.GroupID != nil {
		if *req.GroupID == "" {
			link.GroupID = nil
		} else {
			if _, err := s.ownedGroup(ctx, p, *req.GroupID, false); err != nil {
				return nil, err
			}
			groupID := *req.GroupID
			link.GroupID = &groupID
		}
	}
	link.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateLink(ctx, link); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewNotFoundError("link", id)
		}
		return nil, NewInternalError("failed to update link", err)
	}
	return link, nil
}

// DeleteLink removes a link. Admins may delete any link.
func (s *Service) DeleteLink(ctx context.Context, p *auth.Principal, id string) (*models.DeleteResponse, error) {
	if p == nil {
		return nil, NewUnauthorizedError()
	}

	if _, err := s.ownedLink(ctx, p, id, true); err != nil {
		return nil, err
	}

	if err := s.store.DeleteLink(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewNotFoundError("link", id)
		}
		return nil, NewInternalError("failed to delete link", err)
	}

	slog.Info("Link deleted", "link_id", id, "user_id", p.UserID, "admin", p.IsAdmin())
	return &models.DeleteResponse{ID: id, Message: "Link deleted successfully"}, nil
}

// ResequenceLinks applies the requested positions to the caller's links.
// Items naming links the caller does not own are ignored.
func (s *Service) ResequenceLinks(ctx context.Context, p *auth.Principal, req *models.ResequenceRequest) (*models.ResequenceResponse, error) {
	if p == nil {
		return nil, NewUnauthorizedError()
	}
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	items, err := s.store.ResequenceLinks(ctx, p.UserID, req.Items)
	if err != nil {
		return nil, resequenceError("links", err)
	}

	slog.Debug("Links resequenced", "user_id", p.UserID, "requested", len(req.Items), "applied", len(items))
	return &models.ResequenceResponse{Message: "Links resequenced successfully", Items: items}, nil
}

// ListGroups returns the caller's groups in display order
func (s *Service) ListGroups(ctx context.Context, p *auth.Principal) (*models.ListGroupsResponse, error) {
	if p == nil {
		return nil, NewUnauthorizedError()
	}

	groups, err := s.store.ListGroups(ctx, p.UserID)
	if err != nil {
		return nil, NewInternalError("failed to list groups", err)
	}
	return &models.ListGroupsResponse{Groups: groups, TotalCount: len(groups)}, nil
}

func (s *Service) CreateGroup(ctx context.Context, p *auth.Principal, req *models.CreateGroupRequest) (*models.LinkGroup, error) {
	if p == nil {
		return nil, NewUnauthorizedError()
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	var sequence int
	if req.Sequence != nil {
		sequence = *req.Sequence
	} else {
		max, err := s.store.MaxGroupSequence(ctx, p.UserID)
		if err != nil {
			return nil, NewInternalError("failed to read group order", err)
		}
		sequence = max + 1
	}

	group := models.NewLinkGroup(p.UserID, req.Name, sequence)
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, NewInternalError("failed to create group", err)
	}

	slog.Info("Group created", "group_id", group.ID, "user_id", p.UserID)
	return group, nil
}

// DeleteGroup removes a group and ungroups its links. Admins may delete any group.
func (s *Service) DeleteGroup(ctx context.Context, p *auth.Principal, id string) (*models.DeleteResponse, error) {
	if p == nil {
		return nil, NewUnauthorizedError()
	}

	if _, err := s.ownedGroup(ctx, p, id, true); err != nil {
		return nil, err
	}

	if err := s.store.DeleteGroup(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewNotFoundError("group", id)
		}
		return nil, NewInternalError("failed to delete group", err)
	}

	slog.Info("Group deleted", "group_id", id, "user_id", p.UserID, "admin", p.IsAdmin())
	return &models.DeleteResponse{ID: id, Message: "Group deleted successfully; its links were ungrouped"}, nil
}

func (s *Service) ResequenceGroups(ctx context.Context, p *auth.Principal, req *models.ResequenceRequest) (*models.ResequenceResponse, error) {
	if p == nil {
		return nil, NewUnauthorizedError()
	}
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	items, err := s.store.ResequenceGroups(ctx, p.UserID, req.Items)
	if err != nil {
		return nil, resequenceError("groups", err)
	}

	slog.Debug("Groups resequenced", "user_id", p.UserID, "requested", len(req.Items), "applied", len(items))
	return &models.ResequenceResponse{Message: "Groups resequenced successfully", Items: items}, nil
}

func (s *Service) nextLinkSequence(ctx context.Context, userID string, groupID *string, requested *int) (int, error) {
	if requested != nil {
		return *requested, nil
	}
	max, err := s.store.MaxLinkSequence(ctx, userID, groupID)
	if err != nil {
		return 0, NewInternalError("failed to read link order", err)
	}
	return max + 1, nil
}

// ownedLink loads a link the principal may act on. Non-owners always see
// not found; admins see the row when allowAdmin is set and forbidden otherwise.
func (s *Service) ownedLink(ctx context.Context, p *auth.Principal, id string, allowAdmin bool) (*models.Link, error) {
	link, err := s.store.GetLink(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewNotFoundError("link", id)
		}
		return nil, NewInternalError("failed to load link", err)
	}
	if err := checkOwner(p, link.UserID, "link", id, allowAdmin); err != nil {
		return nil, err
	}
	return link, nil
}

func (s *Service) ownedGroup(ctx context.Context, p *auth.Principal, id string, allowAdmin bool) (*models.LinkGroup, error) {
	group, err := s.store.GetGroup(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewNotFoundError("group", id)
		}
		return nil, NewInternalError("failed to load group", err)
	}
	if err := checkOwner(p, group.UserID, "group", id, allowAdmin); err != nil {
		return nil, err
	}
	return group, nil
}

func checkOwner(p *auth.Principal, ownerID, kind, id string, allowAdmin bool) error {
	if ownerID == p.UserID {
		return nil
	}
	if !p.IsAdmin() {
		return NewNotFoundError(kind, id)
	}
	if allowAdmin {
		return nil
	}
	return NewForbiddenError(fmt.Sprintf("%s '%s' belongs to another user", kind, id))
}

func resequenceError(kind string, err error) error {
	if errors.Is(err, storage.ErrInvalidInput) {
		return NewValidationError(err.Error(), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NewInternalError("failed to resequence "+kind, err)
}
