package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"pharmaflow/backend/internal/domain"
)

func (s *Service) ListStaff(ctx context.Context) ([]domain.StaffProfile, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	staff := make([]domain.StaffProfile, 0, len(users))
	for _, user := range users {
		if user.Role == domain.RoleStaff {
			staff = append(staff, user.Profile())
		}
	}
	return staff, nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (domain.StaffProfile, error) {
	userID = strings.TrimSpace(userID)
	if _, err := authorizeUser(ctx, userID); err != nil {
		return domain.StaffProfile{}, err
	}
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return domain.StaffProfile{}, err
	}
	return user.Profile(), nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, req domain.ProfileUpdateRequest) (domain.StaffProfile, error) {
	userID = strings.TrimSpace(userID)
	if _, err := authorizeUser(ctx, userID); err != nil {
		return domain.StaffProfile{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return domain.StaffProfile{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return domain.StaffProfile{}, fmt.Errorf("%w: invalid email", ErrInvalidInput)
		}
	}

	user, err := s.repo.UpdateUserProfile(ctx, userID, req)
	if err != nil {
		return domain.StaffProfile{}, err
	}
	return user.Profile(), nil
}

// CheckIn records today's attendance for the target user, replacing an
// earlier check-in of the same day.
func (s *Service) CheckIn(ctx context.Context, req domain.CheckInRequest) (*domain.Attendance, error) {
	userID, err := s.attendanceTarget(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status == "" {
		status = domain.AttendancePresent
	}
	switch status {
	case domain.AttendancePresent, domain.AttendanceAbsent, domain.AttendanceLeave:
	default:
		return nil, fmt.Errorf("%w: unknown attendance status %q", ErrInvalidInput, req.Status)
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	return s.repo.UpsertCheckIn(ctx, domain.Attendance{
		UserID:   user.ID,
		Username: user.Username,
		Date:     now.Format(domain.DayLayout),
		Status:   status,
		CheckIn:  &now,
	})
}

func (s *Service) CheckOut(ctx context.Context, req domain.CheckOutRequest) (*domain.Attendance, error) {
	userID, err := s.attendanceTarget(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	return s.repo.SetCheckOut(ctx, userID, now.Format(domain.DayLayout), now)
}

func (s *Service) AttendanceRecords(ctx context.Context, userID string) ([]domain.Attendance, error) {
	userID = strings.TrimSpace(userID)
	if _, err := authorizeUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.ListAttendanceByUser(ctx, userID, recordsPerUser)
}

// AttendanceReport covers the last thirty calendar days including today.
func (s *Service) AttendanceReport(ctx context.Context) ([]domain.Attendance, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	since := s.now().UTC().AddDate(0, 0, -(reportDays - 1)).Format(domain.DayLayout)
	return s.repo.ListAttendanceSince(ctx, since)
}

func (s *Service) attendanceTarget(ctx context.Context, requested string) (string, error) {
	userID := strings.TrimSpace(requested)
	if userID == "" {
		actor, ok := ActorFromContext(ctx)
		if !ok || actor.UserID == "" {
			return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
		}
		userID = actor.UserID
	}
	if _, err := authorizeUser(ctx, userID); err != nil {
		return "", err
	}
	return userID, nil
}
