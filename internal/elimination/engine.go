package elimination

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol/accounts"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/shared"
)

// DefaultTolerance is the largest difference treated as immaterial.
var DefaultTolerance = decimal.RequireFromString("0.01")

// Engine derives elimination entries and exceptions from balances. It is
// pure; posting is left to the caller's unit of work.
type Engine struct {
	accounts  accounts.Map
	tolerance decimal.Decimal
}

// NewEngine returns an engine. A negative tolerance falls back to DefaultTolerance.
func NewEngine(acc accounts.Map, tolerance decimal.Decimal) *Engine {
	if tolerance.IsNegative() {
		tolerance = DefaultTolerance
	}
	return &Engine{accounts: acc, tolerance: tolerance}
}

// Context identifies the statement and run the output belongs to.
type Context struct {
	StatementID uuid.UUID
	RunID       *uuid.UUID
	CreatedBy   uuid.UUID
	Now         time.Time
}

// Result is the outcome of one elimination pass.
type Result struct {
	Entries    []ledger.EntryInput
	Exceptions []Exception
}

type pair struct {
	company      uuid.UUID
	counterparty uuid.UUID
}

func (p pair) less(o pair) bool {
	if p.company != o.company {
		return p.company.String() < o.company.String()
	}
	return p.counterparty.String() < o.counterparty.String()
}

type side struct {
	amount   decimal.Decimal
	accounts []string
}

func (s *side) add(b Balance) {
	s.amount = s.amount.Add(b.Amount)
	for _, a := range s.accounts {
		if a == b.AccountCode {
			return
		}
	}
	s.accounts = append(s.accounts, b.AccountCode)
	sort.Strings(s.accounts)
}

func (s *side) abs() decimal.Decimal {
	if s == nil {
		return decimal.Zero
	}
	return shared.Round(s.amount.Abs())
}

// account returns the single account code of the side, or fallback when the
// side is missing or spread over several accounts.
func (s *side) account(fallback string) string {
	if s == nil || len(s.accounts) != 1 || s.accounts[0] == "" {
		return fallback
	}
	return s.accounts[0]
}

type offset struct {
	kind       Kind
	typ        ledger.AdjustmentType
	hgb        ledger.HGBReference
	first      Category
	second     Category
	firstBack  string
	secondBack string
	// debitFirst books the first category's side as debit. Receivables
	// are credited while intercompany revenue is debited.
	debitFirst bool
	label      string
}

// Eliminate processes debt, income and expense, and intercompany profit.
// Output order is deterministic for a given set of balances.
func (e *Engine) Eliminate(ec Context, balances []Balance) Result {
	sides := map[Category]map[pair]*side{}
	for _, b := range balances {
		if b.CompanyID == b.CounterpartyID {
			continue
		}
		bucket := sides[b.Category]
		if bucket == nil {
			bucket = map[pair]*side{}
			sides[b.Category] = bucket
		}
		p := pair{company: b.CompanyID, counterparty: b.CounterpartyID}
		s := bucket[p]
		if s == nil {
			s = &side{amount: decimal.Zero}
			bucket[p] = s
		}
		s.add(b)
	}

	offsets := []offset{
		{
			kind: KindDebt, typ: ledger.TypeDebtConsolidation, hgb: ledger.HGB303,
			first: CategoryReceivable, second: CategoryPayable,
			firstBack: e.accounts.ICReceivables, secondBack: e.accounts.ICPayables,
			label: "Schuldenkonsolidierung",
		},
		{
			kind: KindIncomeExpense, typ: ledger.TypeIncomeExpense, hgb: ledger.HGB305,
			first: CategoryRevenue, second: CategoryExpense,
			firstBack: e.accounts.ICRevenue, secondBack: e.accounts.ICExpense,
			debitFirst: true,
			label:      "Aufwands- und Ertragskonsolidierung",
		},
	}

	var res Result
	for _, o := range offsets {
		e.offsetPairs(ec, o, sides[o.first], sides[o.second], &res)
	}
	e.eliminateProfit(ec, sides[CategoryUnrealizedProfit], &res)
	return res
}

// offsetPairs matches the first category of A against B with the second
// category of B against A.
func (e *Engine) offsetPairs(ec Context, o offset, first, second map[pair]*side, res *Result) {
	seen := map[pair]struct{}{}
	var pairs []pair
	for p := range first {
		seen[p] = struct{}{}
		pairs = append(pairs, p)
	}
	for p := range second {
		flipped := pair{company: p.counterparty, counterparty: p.company}
		if _, ok := seen[flipped]; !ok {
			seen[flipped] = struct{}{}
			pairs = append(pairs, flipped)
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].less(pairs[j]) })

	for _, p := range pairs {
		a := first[p]
		b := second[pair{company: p.counterparty, counterparty: p.company}]
		amountA, amountB := a.abs(), b.abs()
		eliminated := shared.MinDecimal(amountA, amountB)
		diff := amountA.Sub(amountB)
		accountA := a.account(o.firstBack)
		accountB := b.account(o.secondBack)
		debit, credit := accountB, accountA
		if o.debitFirst {
			debit, credit = accountA, accountB
		}

		exc := Exception{
			ID:               uuid.New(),
			StatementID:      ec.StatementID,
			RunID:            ec.RunID,
			Kind:             o.kind,
			CompanyAID:       p.company,
			CompanyBID:       p.counterparty,
			AccountA:         accountA,
			AccountB:         accountB,
			AmountA:          amountA,
			AmountB:          amountB,
			EliminatedAmount: eliminated,
			Difference:       diff,
			CreatedAt:        ec.Now,
			UpdatedAt:        ec.Now,
		}

		if eliminated.IsPositive() && debit == credit {
			exc.EliminatedAmount = decimal.Zero
			exc.Material = true
			exc.Status = StatusOpen
			exc.Reason = ReasonBookingError
			exc.Explanation = fmt.Sprintf("Konto %s auf beiden Seiten gebucht", debit)
			res.Exceptions = append(res.Exceptions, exc)
			continue
		}
		if eliminated.IsPositive() {
			res.Entries = append(res.Entries, ledger.EntryInput{
				StatementID:    ec.StatementID,
				RunID:          ec.RunID,
				DebitAccount:   debit,
				CreditAccount:  credit,
				Amount:         eliminated,
				AdjustmentType: o.typ,
				HGBReference:   o.hgb,
				Source:         ledger.SourceAutomatic,
				CompanyID:      ledger.IDPtr(p.company),
				CounterpartyID: ledger.IDPtr(p.counterparty),
				Description:    fmt.Sprintf("%s: Aufrechnung konzerninterner Posten (%s)", o.label, shared.FormatEUR(eliminated)),
				SourceRef:      fmt.Sprintf("IC|%s|%s|%s", o.kind, p.company, p.counterparty),
				CreatedBy:      ec.CreatedBy,
			})
		}
		if diff.IsZero() {
			continue
		}
		exc.Material = diff.Abs().GreaterThan(e.tolerance)
		exc.Status = StatusAccepted
		if exc.Material {
			exc.Status = StatusOpen
		}
		if a == nil || b == nil {
			exc.Reason = ReasonMissingEntry
			exc.Explanation = "Keine Gegenbuchung gefunden"
		}
		res.Exceptions = append(res.Exceptions, exc)
	}
}

// eliminateProfit removes unrealized intercompany profit from inventory in full.
func (e *Engine) eliminateProfit(ec Context, profits map[pair]*side, res *Result) {
	pairs := make([]pair, 0, len(profits))
	for p := range profits {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].less(pairs[j]) })

	for _, p := range pairs {
		s := profits[p]
		amount := s.abs()
		if !amount.IsPositive() {
			continue
		}
		credit := s.account(e.accounts.Inventory)
		if credit == e.accounts.CostOfSales {
			credit = e.accounts.Inventory
		}
		res.Entries = append(res.Entries, ledger.EntryInput{
			StatementID:    ec.StatementID,
			RunID:          ec.RunID,
			DebitAccount:   e.accounts.CostOfSales,
			CreditAccount:  credit,
			Amount:         amount,
			AdjustmentType: ledger.TypeIntercompanyProfit,
			HGBReference:   ledger.HGB304,
			Source:         ledger.SourceAutomatic,
			CompanyID:      ledger.IDPtr(p.company),
			CounterpartyID: ledger.IDPtr(p.counterparty),
			Description:    "Zwischenergebniseliminierung: Eliminierung Zwischengewinn im Vorratsvermögen",
			SourceRef:      fmt.Sprintf("IC|profit|%s|%s", p.company, p.counterparty),
			CreatedBy:      ec.CreatedBy,
		})
	}
}
