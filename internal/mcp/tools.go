package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/knagatomi/lockgate/pkg/session"
	"github.com/knagatomi/lockgate/pkg/vault"
)

// VaultStatusInput is empty; the tool takes no arguments.
type VaultStatusInput struct{}

// VaultStatusOutput reports subsystem state without secret material.
type VaultStatusOutput struct {
	SetUp          bool   `json:"set_up"`
	Unlocked       bool   `json:"unlocked"`
	LockedOut      bool   `json:"locked_out"`
	LockoutSeconds int64  `json:"lockout_seconds,omitempty"`
	Items          int    `json:"items"`
	Suite          string `json:"cipher_suite"`
}

// ItemListInput optionally narrows the listing to one category.
type ItemListInput struct {
	Category string `json:"category,omitempty"`
}

// ItemInfo is one item's metadata. There is deliberately no value field.
type ItemInfo struct {
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
	HasNotes  bool   `json:"has_notes"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ItemListOutput carries the listing.
type ItemListOutput struct {
	Items []ItemInfo `json:"items"`
}

// ItemExistsInput names the item to probe.
type ItemExistsInput struct {
	Name string `json:"name"`
}

// ItemExistsOutput reports presence plus metadata when found.
type ItemExistsOutput struct {
	Exists    bool   `json:"exists"`
	Name      string `json:"name"`
	Category  string `json:"category,omitempty"`
	HasNotes  bool   `json:"has_notes"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func (s *Server) handleVaultStatus(_ context.Context, _ *mcp.CallToolRequest, _ VaultStatusInput) (*mcp.CallToolResult, VaultStatusOutput, error) {
	if err := s.limits.allow("vault_status"); err != nil {
		return nil, VaultStatusOutput{}, err
	}

	status := s.session.Status()
	out := VaultStatusOutput{
		SetUp:    status != session.StatusNotSetUp,
		Unlocked: status == session.StatusUnlocked,
		Suite:    s.session.Suite().String(),
	}
	if status == session.StatusLockedOut {
		out.LockedOut = true
		if remaining, err := s.session.RemainingLockout(); err == nil {
			out.LockoutSeconds = int64(remaining.Seconds() + 0.999)
		}
	}

	count, err := s.vault.Count()
	if err != nil {
		s.log.Warn().Err(err).Msg("item count failed")
		return nil, VaultStatusOutput{}, err
	}
	out.Items = count
	return nil, out, nil
}

func (s *Server) handleItemList(_ context.Context, _ *mcp.CallToolRequest, input ItemListInput) (*mcp.CallToolResult, ItemListOutput, error) {
	if err := s.limits.allow("item_list"); err != nil {
		return nil, ItemListOutput{}, err
	}

	var (
		items []*vault.Item
		err   error
	)
	if input.Category != "" {
		items, err = s.vault.ListByCategory(input.Category)
	} else {
		items, err = s.vault.List()
	}
	if err != nil {
		if errors.Is(err, session.ErrLocked) {
			return nil, ItemListOutput{}, errors.New("session is locked; restart the server with " + PassphraseEnv)
		}
		return nil, ItemListOutput{}, err
	}

	out := ItemListOutput{Items: make([]ItemInfo, 0, len(items))}
	for _, item := range items {
		out.Items = append(out.Items, ItemInfo{
			Name:      item.Name,
			Category:  item.Category,
			HasNotes:  item.HasNotes,
			CreatedAt: item.CreatedAt.Format(time.RFC3339),
			UpdatedAt: item.UpdatedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

func (s *Server) handleItemExists(_ context.Context, _ *mcp.CallToolRequest, input ItemExistsInput) (*mcp.CallToolResult, ItemExistsOutput, error) {
	if err := s.limits.allow("item_exists"); err != nil {
		return nil, ItemExistsOutput{}, err
	}
	if input.Name == "" {
		return nil, ItemExistsOutput{}, errors.New("name is required")
	}

	item, err := s.vault.Stat(input.Name)
	if err != nil {
		if errors.Is(err, vault.ErrItemNotFound) {
			return nil, ItemExistsOutput{Exists: false, Name: input.Name}, nil
		}
		return nil, ItemExistsOutput{}, err
	}

	return nil, ItemExistsOutput{
		Exists:    true,
		Name:      item.Name,
		Category:  item.Category,
		HasNotes:  item.HasNotes,
		CreatedAt: item.CreatedAt.Format(time.RFC3339),
		UpdatedAt: item.UpdatedAt.Format(time.RFC3339),
	}, nil
}
