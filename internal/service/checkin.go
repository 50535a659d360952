package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pairlink/chat-backend/internal/model"
	"github.com/pairlink/chat-backend/internal/store"
	"github.com/pairlink/chat-backend/pkg/logger"
)

// Default check-in slot for users who enabled check-ins without
// picking a time or timezone.
const (
	defaultCheckinHour     = 10
	defaultCheckinMinute   = 0
	defaultCheckinTimezone = "America/Los_Angeles"
)

// CheckinNotifier sends the daily nudge.
type CheckinNotifier interface {
	NotifyCheckin(ctx context.Context, userID, body string)
}

// CheckinService schedules and sends daily check-in notifications.
// A cron tick every minute scans users with registered devices and
// fires for those whose local time matches their chosen slot, at
// most once per local day.
type CheckinService struct {
	store    store.Store
	notifier CheckinNotifier
	logger   *logger.Logger
	cron     *cron.Cron

	now func() time.Time
}

// NewCheckinService creates a new check-in scheduler.
func NewCheckinService(st store.Store, notifier CheckinNotifier, log *logger.Logger) *CheckinService {
	return &CheckinService{
		store:    st,
		notifier: notifier,
		logger:   log.Named("checkin"),
		cron:     cron.New(),
		now:      time.Now,
	}
}

// Start begins the minutely scan. It is a no-op without a notifier.
func (s *CheckinService) Start() error {
	if s.notifier == nil {
		s.logger.Info("check-in scheduler disabled: no notifier configured")
		return nil
	}
	if _, err := s.cron.AddFunc("* * * * *", s.tick); err != nil {
		return fmt.Errorf("failed to schedule check-in scan: %w", err)
	}
	s.cron.Start()
	s.logger.Info("check-in scheduler started")
	return nil
}

// Stop halts the scheduler and waits for a running scan to finish.
func (s *CheckinService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// SetPreference updates a user's check-in settings.
func (s *CheckinService) SetPreference(ctx context.Context, userID string, req *model.SetCheckinRequest) (*model.CheckinPreference, error) {
	if req.Hour != nil && (*req.Hour < 0 || *req.Hour > 23) {
		return nil, fmt.Errorf("hour out of range: %d", *req.Hour)
	}
	if req.Minute != nil && (*req.Minute < 0 || *req.Minute > 59) {
		return nil, fmt.Errorf("minute out of range: %d", *req.Minute)
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return nil, fmt.Errorf("unknown timezone %q", req.Timezone)
		}
	}

	pref := &model.CheckinPreference{
		UserID:   userID,
		Enabled:  req.Enabled,
		Hour:     req.Hour,
		Minute:   req.Minute,
		Timezone: req.Timezone,
	}
	if err := s.store.SetCheckinPreference(ctx, pref); err != nil {
		return nil, err
	}
	return pref, nil
}

// GetPreference returns a user's check-in settings, defaulting to
// disabled when none are stored.
func (s *CheckinService) GetPreference(ctx context.Context, userID string) (*model.CheckinPreference, error) {
	pref, err := s.store.GetCheckinPreference(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &model.CheckinPreference{UserID: userID}, nil
	}
	return pref, err
}

func (s *CheckinService) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
	defer cancel()

	users, err := s.store.ListUsersWithTokens(ctx)
	if err != nil {
		s.logger.Error("check-in scan failed to list users", zap.Error(err))
		return
	}
	for _, userID := range users {
		s.maybeSend(ctx, userID)
	}
}

// maybeSend fires the check-in for one user when their local time
// matches the configured slot and none was sent today.
func (s *CheckinService) maybeSend(ctx context.Context, userID string) {
	pref, err := s.store.GetCheckinPreference(ctx, userID)
	if err != nil || !pref.Enabled {
		return
	}

	tz := pref.Timezone
	if tz == "" {
		tz = defaultCheckinTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	local := s.now().In(loc)

	hour, minute := defaultCheckinHour, defaultCheckinMinute
	if pref.Hour != nil {
		hour = *pref.Hour
	}
	if pref.Minute != nil {
		minute = *pref.Minute
	}
	if local.Hour() != hour || local.Minute() != minute {
		return
	}

	today := local.Format("2006-01-02")
	if pref.LastSentDate == today {
		return
	}
	if err := s.store.MarkCheckinSent(ctx, userID, today); err != nil {
		s.logger.Warn("failed to mark check-in sent", zap.String("user_id", userID), zap.Error(err))
		return
	}

	s.notifier.NotifyCheckin(ctx, userID, s.checkinBody(ctx, userID))
	s.logger.Info("check-in sent", zap.String("user_id", userID))
}

// checkinBody personalizes the nudge with the user's first name when
// one is on file.
func (s *CheckinService) checkinBody(ctx context.Context, userID string) string {
	name, err := s.store.DisplayName(ctx, userID)
	if err != nil || name == "" {
		return "Take a minute to check in with each other today."
	}
	first := strings.Fields(name)[0]
	return fmt.Sprintf("Hi %s, take a minute to check in with each other today.", first)
}
