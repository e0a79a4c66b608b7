package repository

import (
	"edu_stats_backend/internal/model"

	"gorm.io/gorm"
)

// ScoreRepository 批次的只读数据源：得分明细、题目满分、维度映射、问卷作答与量表字典
type ScoreRepository struct {
	DB *gorm.DB
}

func NewScoreRepository(db *gorm.DB) *ScoreRepository {
	return &ScoreRepository{DB: db}
}

type subjectRow struct {
	SubjectName string
	SubjectType model.SubjectType
	GradeLevel  string
}

// Subjects 批次内全部科目，考试与问卷一起返回，按科目名排序
func (r *ScoreRepository) Subjects(batchCode string) ([]model.SubjectInfo, error) {
	var rows []subjectRow
	err := r.DB.Model(&model.ScoreRecord{}).
		Select("subject_name, subject_type, MAX(grade_level) AS grade_level").
		Where("batch_code = ?", batchCode).
		Group("subject_name, subject_type").
		Order("subject_name").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	type maxRow struct {
		SubjectName string
		MaxScore    float64
	}
	var maxes []maxRow
	err = r.DB.Model(&model.QuestionConfig{}).
		Select("subject_name, SUM(max_score) AS max_score").
		Where("batch_code = ?", batchCode).
		Group("subject_name").
		Scan(&maxes).Error
	if err != nil {
		return nil, err
	}
	maxBySubject := make(map[string]float64, len(maxes))
	for _, m := range maxes {
		maxBySubject[m.SubjectName] = m.MaxScore
	}

	subjects := make([]model.SubjectInfo, 0, len(rows))
	for _, row := range rows {
		t := row.SubjectType
		if !t.Valid() {
			t = model.SubjectExam
		}
		subjects = append(subjects, model.SubjectInfo{
			Name:       row.SubjectName,
			Type:       t,
			MaxScore:   maxBySubject[row.SubjectName],
			GradeLevel: row.GradeLevel,
		})
	}
	return subjects, nil
}

// Schools 批次内全部学校，按学校代码排序
func (r *ScoreRepository) Schools(batchCode string) ([]model.School, error) {
	var schools []model.School
	err := r.DB.Model(&model.ScoreRecord{}).
		Select("school_code AS code, MAX(school_name) AS name").
		Where("batch_code = ?", batchCode).
		Group("school_code").
		Order("school_code").
		Scan(&schools).Error
	return schools, err
}

func (r *ScoreRepository) BatchExists(batchCode string) (bool, error) {
	var count int64
	err := r.DB.Model(&model.ScoreRecord{}).Where("batch_code = ?", batchCode).Limit(1).Count(&count).Error
	return count > 0, err
}

func (r *ScoreRepository) ScoreRecords(filter model.ScoreFilter) ([]model.ScoreRecord, error) {
	query := r.DB.Where("batch_code = ?", filter.BatchCode)
	if filter.SubjectName != "" {
		query = query.Where("subject_name = ?", filter.SubjectName)
	}
	if filter.SchoolCode != "" {
		query = query.Where("school_code = ?", filter.SchoolCode)
	}
	if len(filter.QuestionIDs) > 0 {
		query = query.Where("question_id IN ?", filter.QuestionIDs)
	}
	var records []model.ScoreRecord
	err := query.Order("student_id, question_id").Find(&records).Error
	return records, err
}

func (r *ScoreRepository) QuestionConfigs(batchCode, subjectName string) ([]model.QuestionConfig, error) {
	var configs []model.QuestionConfig
	err := r.DB.Where("batch_code = ? AND subject_name = ?", batchCode, subjectName).
		Order("question_id").
		Find(&configs).Error
	return configs, err
}

// DimensionMappings 只返回批次内有得分记录的题目的映射
func (r *ScoreRepository) DimensionMappings(batchCode string, dimensionTypes []string) ([]model.DimensionMapping, error) {
	scored := r.DB.Model(&model.ScoreRecord{}).
		Distinct("question_id").
		Where("batch_code = ?", batchCode)

	query := r.DB.Where("question_id IN (?)", scored).
		Where("batch_code = ? OR batch_code = ''", batchCode)
	if len(dimensionTypes) > 0 {
		query = query.Where("dimension_type IN ?", dimensionTypes)
	}
	var mappings []model.DimensionMapping
	err := query.Order("dimension_type, hierarchy_level, dimension_value").Find(&mappings).Error
	return mappings, err
}

// SubjectDimensionMappings 某科目的维度映射
func (r *ScoreRepository) SubjectDimensionMappings(batchCode, subjectName string) ([]model.DimensionMapping, error) {
	var mappings []model.DimensionMapping
	err := r.DB.Where("batch_code = ? AND subject_name = ?", batchCode, subjectName).
		Order("dimension_type, hierarchy_level, dimension_value").
		Find(&mappings).Error
	return mappings, err
}

func (r *ScoreRepository) OptionResponses(filter model.ScoreFilter) ([]model.OptionResponse, error) {
	query := r.DB.Where("batch_code = ? AND subject_name = ?", filter.BatchCode, filter.SubjectName)
	if filter.SchoolCode != "" {
		query = query.Where("school_code = ?", filter.SchoolCode)
	}
	var rows []model.OptionResponse
	err := query.Order("student_id, question_id").Find(&rows).Error
	return rows, err
}

func (r *ScoreRepository) ScaleOptions(instrumentType string, scaleLevel int) ([]model.ScaleOption, error) {
	var opts []model.ScaleOption
	err := r.DB.Where("instrument_type = ? AND scale_level = ?", instrumentType, scaleLevel).
		Order("option_level").
		Find(&opts).Error
	return opts, err
}

// Import 在一个事务内写入批次数据
func (r *ScoreRepository) Import(f *Fixture) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		for _, rows := range []any{f.Records, f.QuestionConfigs, f.DimensionMappings, f.OptionResponses, f.ScaleOptions} {
			if err := createInBatches(tx, rows); err != nil {
				return err
			}
		}
		return nil
	})
}

func createInBatches(tx *gorm.DB, rows any) error {
	switch v := rows.(type) {
	case []model.ScoreRecord:
		if len(v) == 0 {
			return nil
		}
	case []model.QuestionConfig:
		if len(v) == 0 {
			return nil
		}
	case []model.DimensionMapping:
		if len(v) == 0 {
			return nil
		}
	case []model.OptionResponse:
		if len(v) == 0 {
			return nil
		}
	case []model.ScaleOption:
		if len(v) == 0 {
			return nil
		}
	}
	return tx.CreateInBatches(rows, 500).Error
}
