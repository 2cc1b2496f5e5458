package erc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Session is the acting identity and visibility scope for one task run,
// resolved once before the root context starts.
type Session struct {
	UserID        string `json:"user_id"`
	Login         string `json:"login"`
	Name          string `json:"name"`
	Authenticated bool   `json:"authenticated"`
	Today         string `json:"today"`
}

// Audience keys for rulebook selection.
const (
	AudiencePublic        = "public"
	AudienceAuthenticated = "authenticated"
)

// Audience returns the rulebook audience this session belongs to.
func (s Session) Audience() string {
	if s.Authenticated {
		return AudienceAuthenticated
	}
	return AudiencePublic
}

// Describe renders the session block injected into system prompts.
func (s Session) Describe() string {
	var b strings.Builder
	b.WriteString("<session>\n")
	if s.Authenticated {
		fmt.Fprintf(&b, "Requester: %s (%s, id=%s), authenticated employee.\n", s.Name, s.Login, s.UserID)
	} else {
		b.WriteString("Requester: public, unauthenticated.\n")
	}
	fmt.Fprintf(&b, "Today: %s\n", s.Today)
	b.WriteString("</session>")
	return b.String()
}

// WhoAmI resolves the current session from the enterprise API.
func (c *Client) WhoAmI(ctx context.Context) (Session, error) {
	payload, err := c.DispatchWithRetry(ctx, RouteWhoAmI, nil)
	if err != nil {
		return Session{}, fmt.Errorf("resolve identity: %w", err)
	}
	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return Session{}, fmt.Errorf("decode identity: %w", err)
	}
	return session, nil
}
