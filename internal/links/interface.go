package links

import (
	"context"

	"linqyard/internal/auth"
	"linqyard/internal/models"
)

// ServiceInterface defines the link and group operations exposed over HTTP.
// Every method acts on behalf of the given principal.
type ServiceInterface interface {
	ListLinks(ctx context.Context, p *auth.Principal) (*models.ListLinksResponse, error)
	CreateLink(ctx context.Context, p *auth.Principal, req *models.CreateLinkRequest) (*models.Link, error)
	// UpdateLink is owner-only; admins get a forbidden error on foreign links.
	UpdateLink(ctx context.Context, p *auth.Principal, id string, req *models.UpdateLinkRequest) (*models.Link, error)
	DeleteLink(ctx context.Context, p *auth.Principal, id string) (*models.DeleteResponse, error)
	ResequenceLinks(ctx context.Context, p *auth.Principal, req *models.ResequenceRequest) (*models.ResequenceResponse, error)

	ListGroups(ctx context.Context, p *auth.Principal) (*models.ListGroupsResponse, error)
	CreateGroup(ctx context.Context, p *auth.Principal, req *models.CreateGroupRequest) (*models.LinkGroup, error)
	// DeleteGroup keeps the group's links and moves them out of the group.
	DeleteGroup(ctx context.Context, p *auth.Principal, id string) (*models.DeleteResponse, error)
	ResequenceGroups(ctx context.Context, p *auth.Principal, req *models.ResequenceRequest) (*models.ResequenceResponse, error)
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
