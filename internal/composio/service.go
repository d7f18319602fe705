package composio

import (
	"context"
	"log"
	"strings"
)

// Service applies the user-id policy on top of the client.
type Service struct {
	*Client
	userID        string
	multiUserMode bool
}

func NewService(client *Client, userID string, multiUserMode bool) *Service {
	if userID == "" {
		userID = "default"
	}
	return &Service{Client: client, userID: userID, multiUserMode: multiUserMode}
}

func (s *Service) MultiUserMode() bool {
	return s.multiUserMode
}

// EffectiveUserID maps a chat entity to the API user. In single-user mode
// every entity collapses to the configured id.
func (s *Service) EffectiveUserID(entityID string) string {
	if !s.multiUserMode || entityID == "" {
		return s.userID
	}
	return entityID
}

// GetConnectedApps returns lowercase slugs of the entity's ACTIVE toolkits.
// Lookup failures are logged and yield an empty list.
func (s *Service) GetConnectedApps(ctx context.Context, entityID string) []string {
	userID := s.EffectiveUserID(entityID)
	conns, err := s.ListConnections(ctx, ListConnectionsParams{
		UserIDs:  []string{userID},
		Statuses: []string{StatusActive},
	})
	if err != nil {
		log.Printf("[Composio] Failed to load connected apps for %s: %v", userID, err)
		return nil
	}

	seen := make(map[string]bool)
	var apps []string
	for _, c := range conns {
		slug := strings.ToLower(c.Toolkit.Slug)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		apps = append(apps, slug)
	}
	return apps
}

func (s *Service) IsToolkitConnected(ctx context.Context, entityID, toolkit string) bool {
	for _, app := range s.GetConnectedApps(ctx, entityID) {
		if app == strings.ToLower(toolkit) {
			return true
		}
	}
	return false
}
