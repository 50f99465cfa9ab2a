package service

import (
	"context"

	"leverage/internal/models"
	"leverage/pkg/utils"
)

// AuditService - хранилище жизненного цикла позиций
//
// Пишет переходы state machine вместе со снимком позиции,
// отдаёт историю и позиции для восстановления после перезапуска.
type AuditService struct {
	transitions TransitionRepositoryInterface
	positions   PositionRepositoryInterface
	log         *utils.Logger
}

// NewAuditService создает новый экземпляр AuditService
func NewAuditService(transitions TransitionRepositoryInterface, positions PositionRepositoryInterface, log *utils.Logger) *AuditService {
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &AuditService{transitions: transitions, positions: positions, log: log.WithComponent("audit")}
}

// Record сохраняет переход и снимок позиции
func (s *AuditService) Record(ctx context.Context, rec models.TransitionRecord, pos models.Position) error {
	if err := s.transitions.Record(ctx, rec, pos); err != nil {
		return err
	}
	s.log.Debug("transition recorded",
		utils.PositionID(rec.PositionID),
		utils.String("from", string(rec.From)),
		utils.String("to", string(rec.To)),
	)
	return nil
}

// Transitions - история переходов позиции
func (s *AuditService) Transitions(ctx context.Context, positionID string) ([]models.TransitionRecord, error) {
	return s.transitions.ListByPosition(ctx, positionID)
}

// StoredPosition - позиция из хранилища (для позиций прошлых запусков)
func (s *AuditService) StoredPosition(ctx context.Context, id string) (*models.Position, error) {
	return s.positions.GetByID(ctx, id)
}

// ListActive - незавершённые позиции для восстановления
func (s *AuditService) ListActive(ctx context.Context) ([]models.Position, error) {
	return s.positions.ListActive(ctx)
}
