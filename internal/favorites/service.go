package favorites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/battery-swap/internal/lease"
	"github.com/example/battery-swap/internal/models"
	"github.com/example/battery-swap/internal/observability"
)

var ErrInvalidArgument = errors.New("user and station are required")

// StationLookup confirms a station exists before it is remembered.
type StationLookup interface {
	Station(stationID string) (models.Station, error)
}

// Service manages favorite and recently viewed stations. Toggles for the
// same user and station never overlap: a second one arriving while the
// first is in flight is rejected with lease.ErrOperationInProgress. Leases
// must be shared (lease.Redis) when several replicas serve the same sets.
type Service struct {
	Favorites   Membership
	Recents     RecentList
	Stations    StationLookup // optional
	Leases      lease.Locker  // defaults to an in-process lease.Set
	RecentLimit int
	Logger      *slog.Logger

	once sync.Once
}

func (s *Service) init() {
	s.once.Do(func() {
		if s.Leases == nil {
			s.Leases = lease.NewSet()
		}
		if s.Logger == nil {
			s.Logger = slog.Default()
		}
		if s.RecentLimit <= 0 {
			s.RecentLimit = 10
		}
	})
}

// Toggle flips membership of stationID in the user's favorites and returns
// the new membership.
func (s *Service) Toggle(ctx context.Context, userID, stationID string) (bool, error) {
	s.init()
	if userID == "" || stationID == "" {
		return false, ErrInvalidArgument
	}
	release, err := s.Leases.Acquire(ctx, lease.Key("favorite", userID, stationID))
	if errors.Is(err, lease.ErrOperationInProgress) {
		observability.FavoriteTogglesTotal.WithLabelValues("in_progress").Inc()
		return false, err
	}
	if err != nil {
		observability.FavoriteTogglesTotal.WithLabelValues("error").Inc()
		return false, err
	}
	defer release()

	member, err := s.Favorites.Contains(ctx, userID, stationID)
	if err != nil {
		return false, fmt.Errorf("read favorite: %w", err)
	}
	if member {
		err = s.Favorites.Remove(ctx, userID, stationID)
	} else {
		if err = s.checkStation(stationID); err != nil {
			return false, err
		}
		err = s.Favorites.Add(ctx, userID, stationID)
	}
	if err != nil {
		observability.FavoriteTogglesTotal.WithLabelValues("error").Inc()
		return member, fmt.Errorf("write favorite: %w", err)
	}
	observability.FavoriteTogglesTotal.WithLabelValues("ok").Inc()
	s.Logger.Debug("favorite toggled", "user", userID, "station", stationID, "member", !member)
	return !member, nil
}

// ClearAll empties the user's favorites. Clearing an empty set succeeds.
func (s *Service) ClearAll(ctx context.Context, userID string) error {
	s.init()
	if userID == "" {
		return ErrInvalidArgument
	}
	return s.Favorites.Clear(ctx, userID)
}

func (s *Service) List(ctx context.Context, userID string) ([]string, error) {
	return s.Favorites.Members(ctx, userID)
}

// Viewed records a station detail view in the user's recents.
func (s *Service) Viewed(ctx context.Context, userID, stationID string) error {
	s.init()
	if userID == "" || stationID == "" {
		return ErrInvalidArgument
	}
	if err := s.checkStation(stationID); err != nil {
		return err
	}
	return s.Recents.Push(ctx, userID, stationID, s.RecentLimit)
}

func (s *Service) Recent(ctx context.Context, userID string) ([]string, error) {
	return s.Recents.List(ctx, userID)
}

func (s *Service) ClearRecent(ctx context.Context, userID string) error {
	return s.Recents.Clear(ctx, userID)
}

func (s *Service) checkStation(stationID string) error {
	if s.Stations == nil {
		return nil
	}
	_, err := s.Stations.Station(stationID)
	return err
}
