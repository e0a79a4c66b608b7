package repository

import (
	"edu_stats_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AggregationRepository 汇总结果表，(batch_code, aggregation_level, school_code) 唯一
type AggregationRepository struct {
	DB *gorm.DB
}

func NewAggregationRepository(db *gorm.DB) *AggregationRepository {
	return &AggregationRepository{DB: db}
}

// Upsert 按唯一键插入或覆盖
func (r *AggregationRepository) Upsert(agg *model.StatisticalAggregation) error {
	return r.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "batch_code"}, {Name: "aggregation_level"}, {Name: "school_code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"school_name", "statistics_data", "calculation_status", "run_id",
			"total_students", "total_schools", "calculation_millis", "updated_at",
		}),
	}).Create(agg).Error
}

// MarkStatus 只更新计算状态与 run_id，记录不存在时先建占位行
func (r *AggregationRepository) MarkStatus(batchCode string, level model.AggregationLevel, schoolCode string, status model.CalculationStatus, runID string) error {
	return r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "batch_code"}, {Name: "aggregation_level"}, {Name: "school_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"calculation_status", "run_id", "updated_at"}),
	}).Create(&model.StatisticalAggregation{
		BatchCode:         batchCode,
		AggregationLevel:  level,
		SchoolCode:        schoolCode,
		CalculationStatus: status,
		RunID:             runID,
	}).Error
}

func (r *AggregationRepository) Find(batchCode string, level model.AggregationLevel, schoolCode string) (*model.StatisticalAggregation, error) {
	var agg model.StatisticalAggregation
	err := r.DB.Where("batch_code = ? AND aggregation_level = ? AND school_code = ?", batchCode, level, schoolCode).
		First(&agg).Error
	return &agg, err
}

// AggregationListRow 列表不返回 statistics_data
type AggregationListRow struct {
	BatchCode         string                  `json:"batch_code"`
	AggregationLevel  model.AggregationLevel  `json:"aggregation_level"`
	SchoolCode        string                  `json:"school_code"`
	SchoolName        string                  `json:"school_name"`
	CalculationStatus model.CalculationStatus `json:"calculation_status"`
	RunID             string                  `json:"run_id"`
	TotalStudents     int                     `json:"total_students"`
	CalculationMillis int64                   `json:"calculation_millis"`
}

func (r *AggregationRepository) List(batchCode string, page, limit int) ([]AggregationListRow, int64, error) {
	var total int64
	query := r.DB.Model(&model.StatisticalAggregation{}).Where("batch_code = ?", batchCode)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []AggregationListRow
	dbQuery := r.DB.Model(&model.StatisticalAggregation{}).
		Select("batch_code, aggregation_level, school_code, school_name, calculation_status, run_id, total_students, calculation_millis").
		Where("batch_code = ?", batchCode)
	if limit > 0 {
		offset := (page - 1) * limit
		dbQuery = dbQuery.Offset(offset).Limit(limit)
	}
	err := dbQuery.Order("aggregation_level desc, school_code").Scan(&rows).Error
	return rows, total, err
}
