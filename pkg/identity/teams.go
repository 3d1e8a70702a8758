package identity

import (
	"context"
	"errors"
	"fmt"

	"teamboard-backend/pkg/database"
	"teamboard-backend/pkg/events"
	"teamboard-backend/pkg/models"
	"teamboard-backend/pkg/utils"
)

// inviteCodeAttempts bounds retries on invite code collisions
const inviteCodeAttempts = 10

// ErrInviteCodeExhausted means no unused invite code was found
var ErrInviteCodeExhausted = errors.New("could not generate a unique invite code")

// CreateTeam inserts a team owned by ownerID with a fresh invite code.
// It does not touch the owner's team_id.
func (s *Service) CreateTeam(ctx context.Context, ownerID int64, name, description string) (models.Team, error) {
	fields := models.Record{
		"name":     name,
		"owner_id": ownerID,
	}
	if description != "" {
		fields["description"] = description
	}

	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		code, err := utils.GenerateInviteCode()
		if err != nil {
			return models.Team{}, fmt.Errorf("generate invite code: %w", err)
		}
		fields["invite_code"] = code

		record, err := s.store.Insert(ctx, models.TableTeams, fields)
		if errors.Is(err, database.ErrDuplicate) {
			continue
		}
		if err != nil {
			return models.Team{}, err
		}

		s.log.WithContext(ctx).Info("team created", "team_id", record.ID(), "owner_id", ownerID)
		s.publish(ctx, events.SubjectTeamCreated, ownerID, map[string]interface{}{
			"team_id":  record.ID(),
			"owner_id": ownerID,
			"name":     name,
		})
		return models.AsTeam(record), nil
	}
	return models.Team{}, ErrInviteCodeExhausted
}

// RegenerateInviteCode assigns a new unique invite code to teamID
func (s *Service) RegenerateInviteCode(ctx context.Context, teamID int64) (string, error) {
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		code, err := utils.GenerateInviteCode()
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}

		_, err = s.store.Update(ctx, models.TableTeams, database.Conditions{"id": teamID}, models.Record{"invite_code": code})
		if errors.Is(err, database.ErrDuplicate) {
			continue
		}
		if err != nil {
			return "", err
		}
		return code, nil
	}
	return "", ErrInviteCodeExhausted
}
