package persistence

import (
	"context"
	"time"

	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type ProgressMessagePo struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	ProcessID string `gorm:"column:process_id;index"`
	StepID    string `gorm:"column:step_id"`
	Type      string `gorm:"column:type"`
	Text      string `gorm:"column:text"`
	Timestamp int64  `gorm:"column:timestamp"` // unix milliseconds
}

func (ProgressMessagePo) TableName() string {
	return "progress_message"
}

type QueryProgressMessageParams struct {
	ProcessID     *string  `json:"process_id"`
	StepID        *string  `json:"step_id"`
	TypeIn        []string `json:"type_in"`
	IDGreaterThan *int64   `json:"id_greater_than"`
	Limit         int      `json:"limit"` // 0 for no limit
}

// ProgressMessageRepo progress messages of the steps, kept per process instance
type ProgressMessageRepo struct {
	baseRepo
}

var _ process.ProgressMessageService = (*ProgressMessageRepo)(nil)

func NewProgressMessageRepo(db *gorm.DB) *ProgressMessageRepo {
	return &ProgressMessageRepo{baseRepo{db: db}}
}

func (r *ProgressMessageRepo) Add(ctx context.Context, message *process.ProgressMessage) error {
	if message == nil {
		return errors.New("progress message is nil")
	}
	timestamp := message.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	po := &ProgressMessagePo{
		ProcessID: message.ProcessID,
		StepID:    message.StepID,
		Type:      string(message.Type),
		Text:      message.Text,
		Timestamp: timestamp.UnixMilli(),
	}
	if err := r.getDBWithContext(ctx).Create(po).Error; err != nil {
		return errors.WithMessagef(err, "create progress message failed, processID: %s, stepID: %s", message.ProcessID, message.StepID)
	}
	message.ID = po.ID
	return nil
}

// Query messages in insertion order
func (r *ProgressMessageRepo) Query(ctx context.Context, params *QueryProgressMessageParams) ([]*process.ProgressMessage, error) {
	if params == nil {
		return nil, errors.New("query params is nil")
	}
	db := r.getDBWithContext(ctx).Model(&ProgressMessagePo{})
	if params.ProcessID != nil {
		db = db.Where("process_id = ?", *params.ProcessID)
	}
	if params.StepID != nil {
		db = db.Where("step_id = ?", *params.StepID)
	}
	if len(params.TypeIn) > 0 {
		db = db.Where("type IN ?", params.TypeIn)
	}
	if params.IDGreaterThan != nil {
		db = db.Where("id > ?", *params.IDGreaterThan)
	}
	if params.Limit > 0 {
		db = db.Limit(params.Limit)
	}
	pos := make([]*ProgressMessagePo, 0)
	if err := db.Order("id ASC").Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "query progress messages failed")
	}
	ret := make([]*process.ProgressMessage, 0, len(pos))
	for _, po := range pos {
		ret = append(ret, &process.ProgressMessage{
			ID:        po.ID,
			ProcessID: po.ProcessID,
			StepID:    po.StepID,
			Type:      process.ProgressMessageType(po.Type),
			Text:      po.Text,
			Timestamp: time.UnixMilli(po.Timestamp),
		})
	}
	return ret, nil
}

// DeleteByProcess removes the messages of a finished process instance
func (r *ProgressMessageRepo) DeleteByProcess(ctx context.Context, processID string) (int64, error) {
	result := r.getDBWithContext(ctx).Where("process_id = ?", processID).Delete(&ProgressMessagePo{})
	if result.Error != nil {
		return 0, errors.WithMessagef(result.Error, "delete progress messages failed, processID: %s", processID)
	}
	return result.RowsAffected, nil
}
