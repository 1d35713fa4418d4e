package ledger

// accounts.go — saldos de liquidación por cuenta.
//
// Todos los movimientos pasan por Commit: se calcula el resultado, se
// persiste y solo entonces se aplica en memoria. Si la persistencia falla
// no hay nada que revertir.

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/shopspring/decimal"
)

// PersistFunc recibe los saldos absolutos resultantes de las cuentas tocadas.
type PersistFunc func(next map[string]decimal.Decimal) error

// Accounts guarda los saldos del activo de liquidación.
type Accounts struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

// NewAccounts crea el ledger con los saldos cargados del store.
func NewAccounts(initial map[string]decimal.Decimal) *Accounts {
	balances := make(map[string]decimal.Decimal, len(initial))
	for acct, b := range initial {
		balances[acct] = b
	}
	return &Accounts{balances: balances}
}

// Balance devuelve el saldo de la cuenta (cero si no existe).
func (a *Accounts) Balance(account string) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.balances[account]; ok {
		return b
	}
	return decimal.Zero
}

// Accounts devuelve las cuentas con saldo, ordenadas.
func (a *Accounts) Accounts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.balances))
	for acct := range a.balances {
		out = append(out, acct)
	}
	sort.Strings(out)
	return out
}

// Preview calcula los saldos resultantes sin aplicarlos. Falla con
// ErrInsufficientBalance si alguna cuenta quedaría en negativo.
func (a *Accounts) Preview(deltas []domain.BalanceDelta) (map[string]decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.preview(deltas)
}

func (a *Accounts) preview(deltas []domain.BalanceDelta) (map[string]decimal.Decimal, error) {
	next := make(map[string]decimal.Decimal, len(deltas))
	for _, d := range deltas {
		if d.Account == "" {
			return nil, fmt.Errorf("%w: empty account in balance delta", domain.ErrInvalidAmount)
		}
		cur, ok := next[d.Account]
		if !ok {
			cur = a.balances[d.Account]
		}
		next[d.Account] = cur.Add(d.Amount)
	}
	for acct, b := range next {
		if b.IsNegative() {
			return nil, fmt.Errorf("%w: account %s short by %s", domain.ErrInsufficientBalance, acct, b.Neg())
		}
	}
	return next, nil
}

// Commit valida los deltas, llama a persist con los saldos resultantes y,
// si persist no falla, los aplica. El mutex se mantiene durante persist para
// que dos commits concurrentes nunca escriban un saldo obsoleto.
func (a *Accounts) Commit(deltas []domain.BalanceDelta, persist PersistFunc) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	next, err := a.preview(deltas)
	if err != nil {
		return err
	}
	if persist != nil {
		if err := persist(next); err != nil {
			return err
		}
	}
	for acct, b := range next {
		a.balances[acct] = b
	}
	return nil
}

// Merge acumula deltas de la misma cuenta y descarta los nulos.
func Merge(deltas []domain.BalanceDelta) []domain.BalanceDelta {
	sum := make(map[string]decimal.Decimal)
	var order []string
	for _, d := range deltas {
		if _, ok := sum[d.Account]; !ok {
			order = append(order, d.Account)
		}
		sum[d.Account] = sum[d.Account].Add(d.Amount)
	}
	out := make([]domain.BalanceDelta, 0, len(order))
	for _, acct := range order {
		if sum[acct].IsZero() {
			continue
		}
		out = append(out, domain.BalanceDelta{Account: acct, Amount: sum[acct]})
	}
	return out
}
