package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"accantona/internal/core"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// Seed describes the workspaces, members, subcategories and accounts a
// fresh store starts with. It is read from a TOML file:
//
//	[[workspace]]
//	id = "ws-home"
//	name = "Home"
//	reporting_currency = "EUR"
//
//	  [[workspace.member]]
//	  user_id = "alice"
//	  role = "owner"
//
//	  [[workspace.subcategory]]
//	  id = "sub-car"
//	  name = "Car insurance"
//
//	  [[workspace.account]]
//	  id = "acc-main"
//	  name = "Checking"
//	  currency = "EUR"
//	  opening_balance = "1000.00"
type Seed struct {
	Workspaces []SeedWorkspace `toml:"workspace"`
}

type SeedWorkspace struct {
	ID                string            `toml:"id"`
	Name              string            `toml:"name"`
	ReportingCurrency string            `toml:"reporting_currency"`
	Members           []SeedMember      `toml:"member"`
	Subcategories     []SeedSubcategory `toml:"subcategory"`
	Accounts          []SeedAccount     `toml:"account"`
}

type SeedMember struct {
	UserID string `toml:"user_id"`
	Role   string `toml:"role"`
}

type SeedSubcategory struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

type SeedAccount struct {
	ID             string `toml:"id"`
	Name           string `toml:"name"`
	Currency       string `toml:"currency"`
	OpeningBalance string `toml:"opening_balance"`
}

// LoadSeed decodes a seed file. A missing file yields an empty seed.
func LoadSeed(path string) (Seed, error) {
	var s Seed
	if _, err := toml.DecodeFile(path, &s); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Seed{}, nil
		}
		return Seed{}, fmt.Errorf("decode seed %s: %w", path, err)
	}
	return s, nil
}

// Apply writes the seed into st inside one transaction. Workspaces that
// already exist are skipped.
func (s Seed) Apply(ctx context.Context, st Store) error {
	return st.WithTx(ctx, func(tx Store) error {
		for _, w := range s.Workspaces {
			if _, err := tx.GetWorkspace(ctx, w.ID); err == nil {
				continue
			} else if !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("get workspace %s: %w", w.ID, err)
			}
			if err := applyWorkspace(ctx, tx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyWorkspace(ctx context.Context, tx Store, w SeedWorkspace) error {
	currency, err := core.NormalizeCurrency(w.ReportingCurrency)
	if err != nil {
		return fmt.Errorf("workspace %s reporting currency: %w", w.ID, err)
	}
	if err := tx.CreateWorkspace(ctx, core.Workspace{ID: w.ID, Name: w.Name, ReportingCurrency: currency}); err != nil {
		return fmt.Errorf("create workspace %s: %w", w.ID, err)
	}
	for _, m := range w.Members {
		role := core.MemberRole(m.Role)
		if !role.IsValid() {
			return fmt.Errorf("workspace %s member %s: invalid role %q", w.ID, m.UserID, m.Role)
		}
		if err := tx.UpsertMember(ctx, core.Member{WorkspaceID: w.ID, UserID: m.UserID, Role: role}); err != nil {
			return fmt.Errorf("add member %s: %w", m.UserID, err)
		}
	}
	for _, sc := range w.Subcategories {
		if err := tx.CreateSubcategory(ctx, core.Subcategory{ID: sc.ID, WorkspaceID: w.ID, Name: sc.Name}); err != nil {
			return fmt.Errorf("create subcategory %s: %w", sc.ID, err)
		}
	}
	for _, a := range w.Accounts {
		accCurrency, err := core.NormalizeCurrency(a.Currency)
		if err != nil {
			return fmt.Errorf("account %s currency: %w", a.ID, err)
		}
		opening := decimal.Zero
		if a.OpeningBalance != "" {
			if opening, err = decimal.NewFromString(a.OpeningBalance); err != nil {
				return fmt.Errorf("account %s opening balance: %w", a.ID, err)
			}
		}
		acc := core.Account{ID: a.ID, WorkspaceID: w.ID, Name: a.Name, Currency: accCurrency, OpeningBalance: core.RoundMoney(opening)}
		if err := tx.CreateAccount(ctx, acc); err != nil {
			return fmt.Errorf("create account %s: %w", a.ID, err)
		}
	}
	return nil
}
