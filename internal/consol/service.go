package consol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol/accounts"
	"github.com/odyssey-erp/konzern/internal/consol/capital"
	"github.com/odyssey-erp/konzern/internal/consol/deconsol"
	"github.com/odyssey-erp/konzern/internal/consol/equity"
	"github.com/odyssey-erp/konzern/internal/consol/fiscalyear"
	"github.com/odyssey-erp/konzern/internal/consol/fx"
	"github.com/odyssey-erp/konzern/internal/consol/goodwill"
	"github.com/odyssey-erp/konzern/internal/consol/minority"
	"github.com/odyssey-erp/konzern/internal/elimination"
	"github.com/odyssey-erp/konzern/internal/ledger"
	"github.com/odyssey-erp/konzern/internal/shared"
)

const auditEntityParticipation = "participation"

// RunLocker serialises runs per statement; *cache.Locker satisfies it.
type RunLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// SummaryCache stores statement summaries; *cache.Versioned satisfies it.
type SummaryCache interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context) error
}

// AuditPort records audit events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config tunes the engines and the run.
type Config struct {
	Accounts          accounts.Map
	ICTolerance       decimal.Decimal
	DeferredTaxRate   decimal.Decimal
	DefaultUsefulLife int
	FetchTimeout      time.Duration
	LockTTL           time.Duration
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		Accounts:          accounts.Default(),
		ICTolerance:       elimination.DefaultTolerance,
		DeferredTaxRate:   capital.DefaultDeferredTaxRate,
		DefaultUsefulLife: goodwill.DefaultUsefulLife,
		FetchTimeout:      15 * time.Second,
		LockTTL:           10 * time.Minute,
	}
}

// Service orchestrates consolidation use cases.
type Service struct {
	store       Store
	cfg         Config
	capital     *capital.Engine
	goodwill    *goodwill.Scheduler
	elimination *elimination.Engine
	locker      RunLocker
	cache       SummaryCache
	audit       AuditPort
	logger      *slog.Logger
	now         func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithLocker enables the distributed run lock.
func WithLocker(l RunLocker) Option {
	return func(s *Service) { s.locker = l }
}

// WithCache enables the statement summary cache.
func WithCache(c SummaryCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithAudit records participations and runs in the audit log.
func WithAudit(a AuditPort) Option {
	return func(s *Service) { s.audit = a }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the engines around store.
func NewService(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Accounts == (accounts.Map{}) {
		cfg.Accounts = def.Accounts
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.DefaultUsefulLife == 0 {
		cfg.DefaultUsefulLife = def.DefaultUsefulLife
	}
	s := &Service{
		store:       store,
		cfg:         cfg,
		capital:     capital.NewEngine(cfg.DeferredTaxRate),
		elimination: elimination.NewEngine(cfg.Accounts, cfg.ICTolerance),
		logger:      logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	// Runs only use the transactional scheduler methods.
	s.goodwill = goodwill.NewScheduler(nil, cfg.Accounts, logger,
		goodwill.WithDefaultLife(cfg.DefaultUsefulLife),
		goodwill.WithClock(s.now))
	return s
}

// PerformFirstConsolidation recognises a participation: it offsets the
// investment against the subsidiary's adjusted equity, posts the draft
// entries and opens a goodwill schedule when goodwill arises.
func (s *Service) PerformFirstConsolidation(ctx context.Context, in FirstConsolidationInput) (FirstConsolidationResult, error) {
	if err := shared.Validate(in); err != nil {
		return FirstConsolidationResult{}, err
	}
	if in.ParentID == in.SubsidiaryID {
		return FirstConsolidationResult{}, ErrSameCompany
	}
	eq, err := equity.Calculate(in.Equity)
	if err != nil {
		return FirstConsolidationResult{}, err
	}
	res, err := s.capital.Consolidate(capital.Input{
		Percentage:        in.Percentage,
		AcquisitionCost:   in.AcquisitionCost,
		AdjustedEquity:    eq.AdjustedEquity,
		HiddenReserves:    in.Equity.HiddenReserves,
		HiddenLiabilities: in.Equity.HiddenLiabilities,
		DeferredTaxRate:   in.DeferredTaxRate,
	})
	if err != nil {
		return FirstConsolidationResult{}, err
	}
	stmt, err := s.store.GetStatement(ctx, in.StatementID)
	if err != nil {
		return FirstConsolidationResult{}, err
	}

	now := s.now()
	p := Participation{
		ID:                  uuid.New(),
		ParentID:            in.ParentID,
		SubsidiaryID:        in.SubsidiaryID,
		Percentage:          in.Percentage,
		AcquisitionDate:     civil(in.AcquisitionDate),
		AcquisitionCost:     shared.Round(in.AcquisitionCost),
		EquityAtAcquisition: eq.AdjustedEquity,
		HiddenReserves:      shared.Round(in.Equity.HiddenReserves),
		HiddenLiabilities:   shared.Round(in.Equity.HiddenLiabilities),
		Goodwill:            res.Goodwill,
		NegativeGoodwill:    res.NegativeGoodwill,
		FirstStatementID:    stmt.ID,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	out := FirstConsolidationResult{Participation: p, Equity: eq, Capital: capitalFigures(res)}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.FindActiveParticipation(ctx, in.ParentID, in.SubsidiaryID); err == nil {
			return ErrDuplicateParticipation
		} else if !errors.Is(err, ErrNoActiveParticipation) {
			return err
		}
		if err := tx.InsertParticipation(ctx, p); err != nil {
			return err
		}
		entries, err := ledger.PostDrafts(ctx, tx, now, capital.BuildEntries(res, capital.EntryContext{
			StatementID:     stmt.ID,
			ParticipationID: p.ID,
			ParentID:        p.ParentID,
			SubsidiaryID:    p.SubsidiaryID,
			CreatedBy:       in.ActorID,
			Accounts:        s.cfg.Accounts,
		})...)
		if err != nil {
			return fmt.Errorf("consol: first consolidation entries: %w", err)
		}
		out.Entries = entries
		if res.Goodwill.IsPositive() {
			sched, err := s.goodwill.CreateScheduleTx(ctx, tx, goodwill.ScheduleInput{
				ParticipationID: p.ID,
				InitialGoodwill: res.Goodwill,
				UsefulLifeYears: in.UsefulLifeYears,
				Method:          in.Method,
				StartYear:       stmt.FiscalYear,
			})
			if err != nil {
				return fmt.Errorf("consol: goodwill schedule: %w", err)
			}
			out.Schedule = &sched
		}
		return nil
	})
	if err != nil {
		return FirstConsolidationResult{}, err
	}

	countPosted(typeCounts(out.Entries))
	s.invalidate(ctx)
	s.recordAudit(ctx, in.ActorID, "first_consolidation", auditEntityParticipation, p.ID.String(), map[string]any{
		"statement_id":  stmt.ID.String(),
		"subsidiary_id": p.SubsidiaryID.String(),
		"goodwill":      res.Goodwill.StringFixed(2),
		"entries":       len(out.Entries),
	})
	s.log().Info("first consolidation performed",
		slog.String("participation_id", p.ID.String()),
		slog.String("subsidiary_id", p.SubsidiaryID.String()),
		slog.String("goodwill", res.Goodwill.StringFixed(2)),
		slog.String("negative_goodwill", res.NegativeGoodwill.StringFixed(2)),
		slog.Int("entries", len(out.Entries)))
	return out, nil
}

// PerformDeconsolidation disposes of a participation: the remaining
// goodwill is released, the subsidiary derecognised and the disposal result
// booked. The participation stays on record as inactive.
func (s *Service) PerformDeconsolidation(ctx context.Context, in DeconsolidationInput) (DeconsolidationResult, error) {
	if err := shared.Validate(in); err != nil {
		return DeconsolidationResult{}, err
	}
	current, err := s.store.GetParticipation(ctx, in.ParticipationID)
	if err != nil {
		return DeconsolidationResult{}, err
	}
	balances, err := s.store.ListBalances(ctx, in.StatementID)
	if err != nil {
		return DeconsolidationResult{}, err
	}
	subEquity := currentEquity(current, balances)
	var yearly []decimal.Decimal
	if in.Translation != nil {
		diff, err := fx.TranslationDifference(*in.Translation)
		if err != nil {
			return DeconsolidationResult{}, err
		}
		yearly = append(yearly, diff)
	}
	ctd := fx.Cumulative(in.TranslationDifference, yearly...)

	now := s.now()
	var out DeconsolidationResult
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.GetParticipation(ctx, in.ParticipationID)
		if err != nil {
			return err
		}
		if !p.Active {
			return ErrAlreadyDisposed
		}
		if civil(in.DisposalDate).Before(p.AcquisitionDate) {
			return ErrDisposalBeforeAcquisition
		}

		writtenOff, remaining := decimal.Zero, decimal.Zero
		sched, err := tx.GetScheduleByParticipation(ctx, p.ID)
		switch {
		case err == nil:
			writtenOff = sched.WrittenOff()
			if sched.Status != goodwill.StatusReleased {
				if remaining, err = s.goodwill.ReleaseTx(ctx, tx, sched.ID); err != nil {
					return err
				}
			}
		case errors.Is(err, goodwill.ErrScheduleNotFound):
		default:
			return err
		}

		res, err := deconsol.Calculate(deconsol.Input{
			Percentage:            p.Percentage,
			AcquisitionCost:       p.AcquisitionCost,
			DisposalProceeds:      in.DisposalProceeds,
			GoodwillWrittenOff:    writtenOff,
			RemainingGoodwill:     remaining,
			SubsidiaryEquity:      subEquity,
			TranslationDifference: ctd,
		})
		if err != nil {
			return err
		}
		entries, err := ledger.PostDrafts(ctx, tx, now, deconsol.BuildEntries(res, deconsol.EntryContext{
			StatementID:     in.StatementID,
			ParticipationID: p.ID,
			ParentID:        p.ParentID,
			SubsidiaryID:    p.SubsidiaryID,
			CreatedBy:       in.ActorID,
			Accounts:        s.cfg.Accounts,
		})...)
		if err != nil {
			return fmt.Errorf("consol: deconsolidation entries: %w", err)
		}

		disposal := civil(in.DisposalDate)
		p.Active = false
		p.DisposalDate = &disposal
		p.DisposalProceeds = decimal.NewNullDecimal(shared.Round(in.DisposalProceeds))
		p.UpdatedAt = now
		if err := tx.UpdateParticipation(ctx, p); err != nil {
			return err
		}
		out = DeconsolidationResult{Participation: p, Result: res, Entries: entries}
		return nil
	})
	if err != nil {
		return DeconsolidationResult{}, err
	}

	countPosted(typeCounts(out.Entries))
	s.invalidate(ctx)
	s.recordAudit(ctx, in.ActorID, "deconsolidation", auditEntityParticipation, out.Participation.ID.String(), map[string]any{
		"statement_id": in.StatementID.String(),
		"gain_loss":    out.Result.GainLoss.StringFixed(2),
	})
	s.log().Info("participation deconsolidated",
		slog.String("participation_id", out.Participation.ID.String()),
		slog.String("gain_loss", out.Result.GainLoss.StringFixed(2)))
	return out, nil
}

// CalculateMinorityInterests aggregates the minority shares in equity and
// result over the active subsidiaries of companyID. Wholly owned
// subsidiaries are left out of the details.
func (s *Service) CalculateMinorityInterests(ctx context.Context, statementID, companyID uuid.UUID) (MinorityInterestResult, error) {
	if _, err := s.store.GetStatement(ctx, statementID); err != nil {
		return MinorityInterestResult{}, err
	}
	parts, err := s.store.ListParticipations(ctx, []uuid.UUID{companyID}, true)
	if err != nil {
		return MinorityInterestResult{}, err
	}
	balances, err := s.store.ListBalances(ctx, statementID)
	if err != nil {
		return MinorityInterestResult{}, err
	}
	companies, err := s.store.ListCompanies(ctx, statementID)
	if err != nil {
		return MinorityInterestResult{}, err
	}
	names := make(map[uuid.UUID]string, len(companies))
	for _, c := range companies {
		names[c.ID] = c.Name
	}

	out := MinorityInterestResult{
		StatementID:    statementID,
		CompanyID:      companyID,
		MinorityEquity: decimal.Zero,
		MinorityProfit: decimal.Zero,
		Details:        []MinorityDetail{},
	}
	for _, p := range parts {
		totalEquity := currentEquity(p, balances)
		totalProfit := profitOf(balances, p.SubsidiaryID)
		res, err := minority.Calculate(minority.Input{
			Active:      p.Active,
			Percentage:  p.Percentage,
			TotalEquity: totalEquity,
			TotalProfit: totalProfit,
		})
		if err != nil {
			return MinorityInterestResult{}, err
		}
		if !res.Applicable {
			continue
		}
		out.MinorityEquity = out.MinorityEquity.Add(res.Equity)
		out.MinorityProfit = out.MinorityProfit.Add(res.Profit)
		out.Details = append(out.Details, MinorityDetail{
			ParticipationID:    p.ID,
			SubsidiaryID:       p.SubsidiaryID,
			SubsidiaryName:     names[p.SubsidiaryID],
			ParentPercentage:   p.Percentage,
			MinorityPercentage: res.MinorityPercentage,
			TotalEquity:        totalEquity,
			TotalProfit:        totalProfit,
			MinorityEquity:     res.Equity,
			MinorityProfit:     res.Profit,
		})
	}
	sort.Slice(out.Details, func(i, j int) bool {
		if out.Details[i].SubsidiaryName != out.Details[j].SubsidiaryName {
			return out.Details[i].SubsidiaryName < out.Details[j].SubsidiaryName
		}
		return out.Details[i].SubsidiaryID.String() < out.Details[j].SubsidiaryID.String()
	})
	return out, nil
}

// ListFiscalYearAdjustments returns the evaluations stored by runs.
func (s *Service) ListFiscalYearAdjustments(ctx context.Context, statementID uuid.UUID) ([]fiscalyear.Adjustment, error) {
	return s.store.ListFiscalYearAdjustments(ctx, statementID)
}

// DecideFiscalYearAdjustment approves or rejects a pending adjustment. The
// deciding user must differ from the one whose run created it.
func (s *Service) DecideFiscalYearAdjustment(ctx context.Context, id uuid.UUID, approve bool, actor uuid.UUID, note string) (fiscalyear.Adjustment, error) {
	if actor == uuid.Nil {
		return fiscalyear.Adjustment{}, ledger.ErrActorRequired
	}
	var out fiscalyear.Adjustment
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		adj, err := tx.GetFiscalYearAdjustment(ctx, id)
		if err != nil {
			return err
		}
		next, err := fiscalyear.Decide(adj, approve, actor, note, s.now())
		if err != nil {
			return err
		}
		if err := tx.SaveFiscalYearAdjustment(ctx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return fiscalyear.Adjustment{}, err
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, actor, "fiscal_year_"+string(out.Status), "fiscal_year_adjustment", out.ID.String(), map[string]any{
		"company_id": out.CompanyID.String(),
		"method":     string(out.Method),
	})
	return out, nil
}

// FiscalYearProRata projects the time-weighted correction of an
// adjustment onto the subsidiary's revenue and expense balances of the
// adjustment's statement. Nothing is posted.
func (s *Service) FiscalYearProRata(ctx context.Context, id uuid.UUID) (fiscalyear.ProRataResult, error) {
	var adj fiscalyear.Adjustment
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		adj, err = tx.GetFiscalYearAdjustment(ctx, id)
		return err
	})
	if err != nil {
		return fiscalyear.ProRataResult{}, err
	}
	balances, err := s.store.ListBalances(ctx, adj.StatementID)
	if err != nil {
		return fiscalyear.ProRataResult{}, err
	}
	var lines []fiscalyear.Line
	for _, b := range balances {
		if b.CompanyID != adj.CompanyID || (b.Class != ClassRevenue && b.Class != ClassExpense) {
			continue
		}
		lines = append(lines, fiscalyear.Line{
			AccountCode: b.AccountCode,
			Revenue:     b.Class == ClassRevenue,
			Amount:      b.Amount,
		})
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].AccountCode < lines[j].AccountCode })
	return fiscalyear.ProRata(lines, adj), nil
}

// StatementSummary reports entries, exceptions and open fiscal-year
// decisions of a statement, served from the cache when configured.
func (s *Service) StatementSummary(ctx context.Context, statementID uuid.UUID) (StatementSummary, error) {
	if s.cache == nil {
		return s.buildSummary(ctx, statementID)
	}
	key, err := s.cache.BuildKey(ctx, "statement-summary", statementID.String())
	if err != nil {
		return s.buildSummary(ctx, statementID)
	}
	var out StatementSummary
	err = s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.buildSummary(ctx, statementID)
	})
	return out, err
}

func (s *Service) buildSummary(ctx context.Context, statementID uuid.UUID) (StatementSummary, error) {
	if _, err := s.store.GetStatement(ctx, statementID); err != nil {
		return StatementSummary{}, err
	}
	entries, err := s.store.ListEntries(ctx, ledger.Filter{StatementID: statementID})
	if err != nil {
		return StatementSummary{}, err
	}
	exceptions, err := s.store.ListExceptions(ctx, statementID, "")
	if err != nil {
		return StatementSummary{}, err
	}
	adjustments, err := s.store.ListFiscalYearAdjustments(ctx, statementID)
	if err != nil {
		return StatementSummary{}, err
	}
	out := StatementSummary{
		StatementID: statementID,
		Entries:     ledger.Summarize(entries),
		Exceptions:  elimination.Summarize(exceptions),
		GeneratedAt: s.now(),
	}
	for _, adj := range adjustments {
		if adj.Status == fiscalyear.StatusPending {
			out.PendingFiscal++
		}
	}
	return out, nil
}

// currentEquity is the subsidiary's adjusted equity from the statement
// balances, or the equity at acquisition when the balances carry none.
func currentEquity(p Participation, balances []AccountBalance) decimal.Decimal {
	var eq []equity.Balance
	for _, b := range balances {
		if b.CompanyID == p.SubsidiaryID && b.Class == ClassEquity {
			eq = append(eq, equity.Balance{Class: b.EquityClass, Amount: b.Amount})
		}
	}
	if len(eq) == 0 {
		return p.EquityAtAcquisition
	}
	c := equity.FromBalances(eq, p.HiddenReserves, p.HiddenLiabilities)
	for _, comp := range []*decimal.NullDecimal{&c.SubscribedCapital, &c.CapitalReserves, &c.RevenueReserves, &c.RetainedEarnings} {
		if !comp.Valid {
			*comp = decimal.NewNullDecimal(decimal.Zero)
		}
	}
	res, err := equity.Calculate(c)
	if err != nil {
		return p.EquityAtAcquisition
	}
	return res.AdjustedEquity
}

// profitOf is revenue minus expense of a company.
func profitOf(balances []AccountBalance, companyID uuid.UUID) decimal.Decimal {
	profit := decimal.Zero
	for _, b := range balances {
		if b.CompanyID != companyID {
			continue
		}
		switch b.Class {
		case ClassRevenue:
			profit = profit.Add(b.Amount)
		case ClassExpense:
			profit = profit.Sub(b.Amount)
		}
	}
	return shared.Round(profit)
}

func typeCounts(entries []ledger.Entry) map[string]int {
	out := make(map[string]int)
	for _, e := range entries {
		out[string(e.AdjustmentType)]++
	}
	return out
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.log().Warn("bump summary cache", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor uuid.UUID, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.log().Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "consol"))
	}
	return slog.Default().With(slog.String("component", "consol"))
}
