package model

// OptionResponse 问卷单题作答选项
type OptionResponse struct {
	ID             uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	BatchCode      string `gorm:"size:50;index:idx_qqs_batch_subject" json:"batch_code"`
	SubjectName    string `gorm:"size:100;index:idx_qqs_batch_subject" json:"subject_name"`
	StudentID      string `gorm:"size:64" json:"student_id"`
	SchoolID       string `gorm:"column:school_code;size:64;index" json:"school_id"`
	QuestionID     string `gorm:"size:64" json:"question_id"`
	InstrumentType string `gorm:"size:50" json:"instrument_type"`
	ScaleLevel     int    `json:"scale_level"`
	OptionLevel    int    `json:"option_level"`
	OptionLabel    string `gorm:"size:100" json:"option_label"`
}

func (OptionResponse) TableName() string {
	return "questionnaire_question_scores"
}

// ScaleOption 量表选项标签字典
type ScaleOption struct {
	ID             uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	InstrumentType string `gorm:"size:50;index:idx_scale_opt" json:"instrument_type"`
	ScaleLevel     int    `gorm:"index:idx_scale_opt" json:"scale_level"`
	OptionLevel    int    `json:"option_level"`
	OptionLabel    string `gorm:"size:100" json:"option_label"`
}

func (ScaleOption) TableName() string {
	return "questionnaire_scale_options"
}

// SurveyResponseSet 单个学生的问卷作答，Raw 保留原始选项，Transformed 为正向化后的等级
type SurveyResponseSet struct {
	StudentID       string         `json:"student_id"`
	SchoolID        string         `json:"school_id,omitempty"`
	Raw             map[string]int `json:"raw"`
	Transformed     map[string]int `json:"transformed,omitempty"`
	ResponseSeconds *float64       `json:"response_seconds,omitempty"`
}

// Answer 返回题目作答，优先使用正向化结果
func (r *SurveyResponseSet) Answer(questionID string, transformed bool) (int, bool) {
	if transformed && r.Transformed != nil {
		v, ok := r.Transformed[questionID]
		return v, ok
	}
	v, ok := r.Raw[questionID]
	return v, ok
}

// ResponseSets 按学生聚合作答明细，保持首次出现的顺序
func ResponseSets(rows []OptionResponse) []*SurveyResponseSet {
	index := make(map[string]*SurveyResponseSet)
	var sets []*SurveyResponseSet
	for _, row := range rows {
		set, ok := index[row.StudentID]
		if !ok {
			set = &SurveyResponseSet{
				StudentID: row.StudentID,
				SchoolID:  row.SchoolID,
				Raw:       make(map[string]int),
			}
			index[row.StudentID] = set
			sets = append(sets, set)
		}
		set.Raw[row.QuestionID] = row.OptionLevel
	}
	return sets
}
