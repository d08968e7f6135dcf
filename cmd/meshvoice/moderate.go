package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/meshvoice/internal/adapters/relayclient"
	"github.com/dkeye/meshvoice/internal/app/session"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newModerateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "moderate <room> <user> <kick|force-mute|force-deafen>",
		Short: "Apply one moderation action and leave",
		Long: `moderate registers presence in the room as the configured user, applies the
action and clears presence again. force-mute and force-deafen toggle the
current flag of the target.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := domain.ParseRoomKey(args[0])
			if err != nil {
				return err
			}
			target, err := domain.ParseUserID(args[1])
			if err != nil {
				return err
			}
			action, err := session.ParseAction(args[2])
			if err != nil {
				return err
			}
			self, err := domain.ParseUserID(c.cfg.Session.UserID)
			if err != nil {
				return fmt.Errorf("--user is required: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			return moderate(ctx, c.cfg.Session.RelayURL, room, self, target, action)
		},
	}
}

func moderate(ctx context.Context, relayURL string, room domain.RoomKey, self, target domain.UserID, action session.Action) error {
	client, err := relayclient.New(relayURL, relayclient.Options{})
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.SetPresence(ctx, room, self, true, false); err != nil {
		return err
	}
	defer func() {
		if err := client.ClearPresence(context.Background(), room, self); err != nil {
			log.Warn().Err(err).Str("module", "cmd.moderate").Msg("clear presence")
		}
	}()

	rows, err := client.ListParticipants(ctx, room)
	if err != nil {
		return err
	}
	var row *domain.Participant
	for i := range rows {
		if rows[i].UserID == target {
			row = &rows[i]
		}
	}
	if row == nil {
		return fmt.Errorf("%w: %s is not in %s", domain.ErrNotFound, target, room)
	}

	switch action {
	case session.ActionKick:
		err = client.KickParticipant(ctx, room, target)
	case session.ActionForceMute:
		err = client.ForceParticipantState(ctx, room, target, !row.ForcedMuted, row.ForcedDeafened)
	case session.ActionForceDeafen:
		err = client.ForceParticipantState(ctx, room, target, row.ForcedMuted, !row.ForcedDeafened)
	}
	if err != nil {
		return err
	}
	log.Info().Str("module", "cmd.moderate").Str("room", string(room)).Str("target", string(target)).Str("action", string(action)).Msg("applied")
	return nil
}
