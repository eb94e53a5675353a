package mappings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-pos/meridian-pos/internal/accounting/accounts"
	acctshared "github.com/meridian-pos/meridian-pos/internal/accounting/shared"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// seedAccount pairs a chart-of-accounts row with the mapping keys that
// should point at it after provisioning.
type seedAccount struct {
	account accounts.Account
	keys    []string
}

var defaultChart = []seedAccount{
	{
		account: accounts.Account{Code: "1000", Name: "Cash on Hand", Type: accounts.AccountTypeAsset, Subtype: "cash", NormalBalance: accounts.NormalBalanceDebit, IsSystem: true},
		keys:    []string{KeyCash, KeyBank, KeyCard, KeyMonCash, KeyCheque},
	},
	{
		account: accounts.Account{Code: "1100", Name: "Accounts Receivable", Type: accounts.AccountTypeAsset, Subtype: "ar", NormalBalance: accounts.NormalBalanceDebit, IsSystem: true},
		keys:    []string{KeyAR},
	},
	{
		account: accounts.Account{Code: "1200", Name: "Inventory", Type: accounts.AccountTypeAsset, Subtype: "inventory", NormalBalance: accounts.NormalBalanceDebit, IsSystem: true},
		keys:    []string{KeyInventory},
	},
	{
		account: accounts.Account{Code: "2100", Name: "Tax Payable", Type: accounts.AccountTypeLiability, Subtype: "tax", NormalBalance: accounts.NormalBalanceCredit, IsSystem: true},
		keys:    []string{KeyTaxPayable},
	},
	{
		account: accounts.Account{Code: "4000", Name: "Sales Revenue", Type: accounts.AccountTypeIncome, Subtype: "sales", NormalBalance: accounts.NormalBalanceCredit, IsSystem: true},
		keys:    []string{KeySales},
	},
	{
		account: accounts.Account{Code: "4010", Name: "Shipping Income", Type: accounts.AccountTypeIncome, Subtype: "shipping", NormalBalance: accounts.NormalBalanceCredit, IsSystem: true},
		keys:    []string{KeyShippingIncome},
	},
	{
		account: accounts.Account{Code: "5000", Name: "Cost of Goods Sold", Type: accounts.AccountTypeExpense, Subtype: "cogs", NormalBalance: accounts.NormalBalanceDebit, IsSystem: true},
		keys:    []string{KeyCOGS},
	},
}

// Store is the mapping persistence surface the directory drives.
type Store interface {
	Get(ctx context.Context, q db.Querier, scope shared.Scope, key string) (AccountMapping, error)
	Upsert(ctx context.Context, q db.Querier, scope shared.Scope, key string, accountID int64) error
}

// AccountStore ensures chart rows exist during provisioning.
type AccountStore interface {
	EnsureAccount(ctx context.Context, q db.Querier, scope shared.Scope, a accounts.Account) (int64, error)
}

// Directory resolves symbolic account keys to account ids, provisioning
// the tenant's system chart on first miss. Mappings are read-mostly so
// resolved ids sit in redis until a mapping is rewritten.
type Directory struct {
	repo     Store
	accounts AccountStore
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewDirectory builds a Directory. cache may be nil; resolution then
// always hits the database.
func NewDirectory(repo Store, accountRepo AccountStore, cache *redis.Client) *Directory {
	return &Directory{repo: repo, accounts: accountRepo, cache: cache, cacheTTL: 10 * time.Minute}
}

func cacheKey(businessID int64, key string) string {
	return fmt.Sprintf("acct:map:%d:%s", businessID, key)
}

// Resolve returns the account id mapped to key for the tenant. A miss
// triggers Provision once, then retries; a second miss is a server
// defect (ErrMappingMissing).
func (d *Directory) Resolve(ctx context.Context, q db.Querier, scope shared.Scope, key string) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	if d.cache != nil {
		if raw, err := d.cache.Get(ctx, cacheKey(scope.BusinessID, key)).Result(); err == nil {
			if id, perr := strconv.ParseInt(raw, 10, 64); perr == nil && id > 0 {
				return id, nil
			}
		}
	}

	m, err := d.repo.Get(ctx, q, scope, key)
	if errors.Is(err, acctshared.ErrMappingMissing) {
		if err := d.Provision(ctx, q, scope); err != nil {
			return 0, err
		}
		m, err = d.repo.Get(ctx, q, scope, key)
	}
	if err != nil {
		if errors.Is(err, acctshared.ErrMappingMissing) {
			return 0, fmt.Errorf("%w: %s", acctshared.ErrMappingMissing, key)
		}
		return 0, err
	}

	if d.cache != nil {
		_ = d.cache.Set(ctx, cacheKey(scope.BusinessID, key), strconv.FormatInt(m.AccountID, 10), d.cacheTTL).Err()
	}
	return m.AccountID, nil
}

// Provision seeds the tenant's system accounts and mappings. Safe to
// run repeatedly; existing rows are kept.
func (d *Directory) Provision(ctx context.Context, q db.Querier, scope shared.Scope) error {
	for _, seed := range defaultChart {
		id, err := d.accounts.EnsureAccount(ctx, q, scope, seed.account)
		if err != nil {
			return fmt.Errorf("accounting: provision %s: %w", seed.account.Code, err)
		}
		for _, key := range seed.keys {
			// Only fill gaps; an operator-chosen mapping wins over the seed.
			if _, err := d.repo.Get(ctx, q, scope, key); err == nil {
				continue
			} else if !errors.Is(err, acctshared.ErrMappingMissing) {
				return err
			}
			if err := d.repo.Upsert(ctx, q, scope, key, id); err != nil {
				return fmt.Errorf("accounting: provision mapping %s: %w", key, err)
			}
			if d.cache != nil {
				_ = d.cache.Del(ctx, cacheKey(scope.BusinessID, key)).Err()
			}
		}
	}
	return nil
}

// Rebind points a key at a different account and drops the cached id.
func (d *Directory) Rebind(ctx context.Context, q db.Querier, scope shared.Scope, key string, accountID int64) error {
	if err := d.repo.Upsert(ctx, q, scope, key, accountID); err != nil {
		return err
	}
	if d.cache != nil {
		_ = d.cache.Del(ctx, cacheKey(scope.BusinessID, key)).Err()
	}
	return nil
}
