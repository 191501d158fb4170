package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/muhammadolammi/careerpivot/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventType names an account mutation published to Publisher.
type EventType string

const (
	EventAccountCreated EventType = "account.created"
	EventUpgraded       EventType = "account.upgraded"
	EventTokenDeducted  EventType = "token.deducted"
	EventTokenDenied    EventType = "token.denied"
)

type Event struct {
	Type       EventType `json:"type"`
	Identifier string    `json:"identifier"`
	Tier       Tier      `json:"tier"`
	Tokens     int64     `json:"tokens"`
	At         time.Time `json:"timestamp"`
}

// Publisher receives account events. Publish errors never fail the mutation.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

type multiPublisher []Publisher

// MultiPublisher sends every event to each publisher in order.
func MultiPublisher(pubs ...Publisher) Publisher {
	return multiPublisher(pubs)
}

func (m multiPublisher) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Service applies the entitlement rules on top of a Store.
type Service struct {
	store     Store
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*keyedLock
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: nopPublisher{},
		logger:    log.Logger.With().Str("component", "accounts").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		locks:     make(map[string]*keyedLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// lock serializes read-modify-write cycles on one identifier. The entry is
// dropped once the last holder or waiter releases it.
func (s *Service) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &keyedLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// withLock runs fn under the identifier lock and publishes the events it
// returns after the lock is released, so a slow publisher never holds up
// other mutations of the same account.
func (s *Service) withLock(ctx context.Context, id string, fn func() ([]Event, error)) error {
	unlock := s.lock(id)
	events, err := fn()
	unlock()

	for _, ev := range events {
		s.emit(ctx, ev)
	}
	return err
}

// getOrCreate returns the record for id and the creation event, if any.
func (s *Service) getOrCreate(ctx context.Context, id string) (Account, []Event, error) {
	acct, created, err := s.store.GetOrCreate(ctx, NewAccount(id, s.now()))
	if err != nil {
		return Account{}, nil, fmt.Errorf("get account %q: %w", id, err)
	}
	if !created {
		return acct, nil, nil
	}
	metrics.AccountsCreated.Inc()
	s.logger.Info().Str("identifier", id).Msg("account created with free trial")
	return acct, []Event{s.event(EventAccountCreated, acct)}, nil
}

// GetAccount returns the record for id, creating the free-trial default on
// first access.
func (s *Service) GetAccount(ctx context.Context, id string) (Account, error) {
	acct, events, err := s.getOrCreate(ctx, id)
	if err != nil {
		return Account{}, err
	}
	for _, ev := range events {
		s.emit(ctx, ev)
	}
	return acct, nil
}

// Upgrade assigns tier to the account. Premium stores the unlimited
// sentinel, basic adds BasicTopUp to the current balance, free only
// changes the tier. Any tier may be assigned from any other.
func (s *Service) Upgrade(ctx context.Context, id string, tier Tier) (Account, error) {
	if !tier.Valid() {
		return Account{}, fmt.Errorf("%w: %q", ErrUnknownTier, string(tier))
	}

	var acct Account
	err := s.withLock(ctx, id, func() ([]Event, error) {
		var (
			events []Event
			err    error
		)
		acct, events, err = s.getOrCreate(ctx, id)
		if err != nil {
			return nil, err
		}
		previous := acct.Tier

		acct.Tier = tier
		switch tier {
		case TierPremium:
			acct.Tokens = UnlimitedTokens
		case TierBasic:
			acct.Tokens += BasicTopUp
		case TierFree:
		}

		if previous == TierPremium && tier != TierPremium {
			s.logger.Warn().
				Str("identifier", id).
				Str("from", previous.String()).
				Str("to", tier.String()).
				Int64("tokens", acct.Tokens).
				Msg("premium account downgraded")
		}

		if err := s.store.Save(ctx, acct); err != nil {
			return events, fmt.Errorf("save account %q: %w", id, err)
		}
		metrics.Upgrades.WithLabelValues(tier.String()).Inc()
		s.logger.Info().Str("identifier", id).Str("tier", tier.String()).Int64("tokens", acct.Tokens).Msg("account upgraded")
		return append(events, s.event(EventUpgraded, acct)), nil
	})
	if err != nil {
		return Account{}, err
	}
	return acct, nil
}

// DeductToken spends one token. It reports false, leaving the balance
// untouched, when a non-premium account has nothing left to spend.
func (s *Service) DeductToken(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.withLock(ctx, id, func() ([]Event, error) {
		acct, events, err := s.getOrCreate(ctx, id)
		if err != nil {
			return nil, err
		}

		switch {
		case acct.Unlimited():
			metrics.TokenDeductions.WithLabelValues("unlimited").Inc()
			ok = true
			return events, nil
		case acct.Tokens > 0:
			acct.Tokens--
			if err := s.store.Save(ctx, acct); err != nil {
				return events, fmt.Errorf("save account %q: %w", id, err)
			}
			metrics.TokenDeductions.WithLabelValues("spent").Inc()
			ok = true
			return append(events, s.event(EventTokenDeducted, acct)), nil
		default:
			metrics.TokenDeductions.WithLabelValues("denied").Inc()
			return append(events, s.event(EventTokenDenied, acct)), nil
		}
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *Service) IsPremium(ctx context.Context, id string) (bool, error) {
	acct, err := s.GetAccount(ctx, id)
	if err != nil {
		return false, err
	}
	return acct.Tier == TierPremium, nil
}

// Seed stores accts unless a record with the same identifier exists.
func (s *Service) Seed(ctx context.Context, accts ...Account) error {
	for _, a := range accts {
		if !a.Tier.Valid() {
			return fmt.Errorf("seed %q: %w: %q", a.Identifier, ErrUnknownTier, string(a.Tier))
		}
		if a.JoinedAt.IsZero() {
			a.JoinedAt = s.now()
		}
		if _, _, err := s.store.GetOrCreate(ctx, a); err != nil {
			return fmt.Errorf("seed %q: %w", a.Identifier, err)
		}
	}
	return nil
}

// DemoAccounts are the fixture accounts available for demos.
func DemoAccounts(joined time.Time) []Account {
	return []Account{
		{Identifier: "demo@bizy.com", Tier: TierBasic, Tokens: 5, JoinedAt: joined},
		{Identifier: "vip@bizy.com", Tier: TierPremium, Tokens: UnlimitedTokens, JoinedAt: joined},
	}
}

func (s *Service) event(typ EventType, acct Account) Event {
	return Event{
		Type:       typ,
		Identifier: acct.Identifier,
		Tier:       acct.Tier,
		Tokens:     acct.Tokens,
		At:         s.now(),
	}
}

func (s *Service) emit(ctx context.Context, ev Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("failed to publish account event")
	}
}
