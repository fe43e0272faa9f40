// Package propertytest provides an in-memory property store for tests of
// the components that lock and move properties.
package propertytest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"propertyhub/db"
	"propertyhub/errutil"
	"propertyhub/property"
)

// Store satisfies the registry surface used by the offer ledger, the
// agreement manager, the inquiry tracker and the coordinator. Writes are
// not transactional.
type Store struct {
	mu    sync.Mutex
	props map[string]property.Property
	locks map[string]int
	now   time.Time
}

func NewStore() *Store {
	return &Store{
		props: map[string]property.Property{},
		locks: map[string]int{},
		now:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Add stores p, filling in an id when it has none.
func (s *Store) Add(p property.Property) property.Property {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.SellerID == "" {
		p.SellerID = uuid.NewString()
	}
	if p.Title == "" {
		p.Title = "Listing " + p.ID[:8]
	}
	p.CreatedAt, p.UpdatedAt = s.now, s.now
	s.props[p.ID] = p
	return p
}

// Sale adds a SALE listing in the given status.
func (s *Store) Sale(status property.Status) property.Property {
	price := int64(3_500_000_000)
	return s.Add(property.Property{Kind: property.KindSale, Status: status, Price: &price})
}

// Rent adds a RENT listing in the given status.
func (s *Store) Rent(status property.Status) property.Property {
	rent := int64(6_000_000)
	return s.Add(property.Property{Kind: property.KindRent, Status: status, RentAmount: &rent})
}

func (s *Store) Lock(_ context.Context, _ db.Querier, id string) (property.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.props[id]
	if !ok {
		return property.Property{}, oops.Code("PROPERTY_NOT_FOUND").With("property_id", id).Wrap(errutil.ErrNotFound)
	}
	s.locks[id]++
	return p, nil
}

func (s *Store) WriteStatus(_ context.Context, _ db.Querier, id string, status property.Status) (property.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.props[id]
	if !ok {
		return property.Property{}, oops.Code("PROPERTY_NOT_FOUND").With("property_id", id).Wrap(errutil.ErrNotFound)
	}
	p.Status = status
	p.UpdatedAt = s.now
	s.props[id] = p
	return p, nil
}

func (s *Store) Get(ctx context.Context, id string) (property.Property, error) {
	return s.Lock(ctx, nil, id)
}

// Status returns the stored status of id.
func (s *Store) Status(id string) property.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.props[id].Status
}

// Locks returns how many times id was locked.
func (s *Store) Locks(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks[id]
}
