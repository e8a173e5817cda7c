package scanrig

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Dispatch performs one intent. Capture operations are detached from ctx
// cancellation so that quitting never interrupts a camera mid-capture.
func (s *Session) Dispatch(ctx context.Context, in Intent) (Report, error) {
	opCtx := context.WithoutCancel(ctx)
	var (
		rep Report
		err error
	)
	switch in.Kind {
	case IntentCaptureBoth:
		rep, err = s.coord.CaptureBoth(opCtx)
	case IntentCapturePrimary:
		rep, err = s.coord.CaptureRole(opCtx, RolePrimary)
	case IntentCaptureSecondary:
		rep, err = s.coord.CaptureRole(opCtx, RoleSecondary)
	case IntentToggleMode:
		mode := s.coord.ToggleMode()
		log.Info().Str("mode", string(mode)).Msg("capture mode changed")
		return Report{}, nil
	case IntentToggleVerify:
		verify := s.coord.ToggleVerify()
		log.Info().Bool("verify_identities", verify).Msg("identity verification changed")
		return Report{}, nil
	case IntentJump:
		next, jumpErr := s.coord.JumpTo(in.Number)
		if jumpErr != nil {
			return Report{}, jumpErr
		}
		log.Info().Int("requested", in.Number).Int("next_image", next).Msg("image sequence moved")
		return Report{}, nil
	case IntentQuit:
		return Report{}, nil
	default:
		return Report{}, errors.Errorf("dispatch: unknown intent %d", in.Kind)
	}
	s.record(rep, err)
	return rep, err
}

// Run consumes intents one at a time until IntentQuit arrives, the channel is
// closed or ctx is canceled. Operation failures are logged and the loop keeps
// going so the operator can retry immediately.
func (s *Session) Run(ctx context.Context, intents <-chan Intent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-intents:
			if !ok {
				return nil
			}
			if in.Kind == IntentQuit {
				log.Info().Str("source", in.Source).Msg("quit requested")
				return nil
			}
			rep, err := s.Dispatch(ctx, in)
			if err != nil {
				ev := log.Warn().Err(err).Str("intent", in.Kind.String()).Str("source", in.Source)
				if kind := KindOf(err); kind != "" {
					ev = ev.Str("error_kind", string(kind))
				}
				ev.Msg("operation failed")
				continue
			}
			if rep.OperationID != "" {
				log.Info().
					Str("intent", in.Kind.String()).
					Str("operation_id", rep.OperationID).
					Int("first_image", rep.Start).
					Int("images", len(rep.Outcomes)).
					Int("next_image", s.seq.Peek()).
					Msg("capture done")
			}
		}
	}
}
