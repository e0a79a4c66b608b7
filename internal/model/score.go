package model

// SubjectType 科目类型，考试与问卷在输出中合并为同一个列表
type SubjectType string

const (
	SubjectExam          SubjectType = "exam"
	SubjectQuestionnaire SubjectType = "questionnaire"
)

func (t SubjectType) Valid() bool {
	return t == SubjectExam || t == SubjectQuestionnaire
}

// ScoreRecord 学生单题得分明细，上游清洗后只读
type ScoreRecord struct {
	ID          uint        `gorm:"primaryKey;autoIncrement" json:"-"`
	BatchCode   string      `gorm:"size:50;index:idx_score_batch_subject" json:"batch_code"`
	SubjectName string      `gorm:"size:100;index:idx_score_batch_subject" json:"subject_name"`
	SubjectType SubjectType `gorm:"size:20" json:"subject_type"`
	StudentID   string      `gorm:"size:64;index" json:"student_id"`
	QuestionID  string      `gorm:"size:64" json:"question_id"`
	Score       float64     `json:"score"`
	MaxScore    float64     `json:"max_score"`
	SchoolID    string      `gorm:"column:school_code;size:64;index" json:"school_id"`
	SchoolName  string      `gorm:"size:200" json:"school_name"`
	GradeLevel  string      `gorm:"size:20" json:"grade_level"`
}

func (ScoreRecord) TableName() string {
	return "student_score_detail"
}

// QuestionConfig 题目满分配置
type QuestionConfig struct {
	ID          uint        `gorm:"primaryKey;autoIncrement" json:"-"`
	BatchCode   string      `gorm:"size:50;index:idx_qc_batch_subject" json:"batch_code"`
	SubjectName string      `gorm:"size:100;index:idx_qc_batch_subject" json:"subject_name"`
	SubjectType SubjectType `gorm:"size:20" json:"subject_type"`
	QuestionID  string      `gorm:"size:64" json:"question_id"`
	MaxScore    float64     `json:"max_score"`
}

func (QuestionConfig) TableName() string {
	return "subject_question_config"
}

// SubjectInfo 批次内的一个科目
type SubjectInfo struct {
	Name       string      `json:"subject_name"`
	Type       SubjectType `json:"type"`
	MaxScore   float64     `json:"max_score"`
	GradeLevel string      `json:"grade_level,omitempty"`
}

type School struct {
	Code string `json:"school_code"`
	Name string `json:"school_name"`
}

// ScoreFilter 得分明细查询条件，空字段表示不过滤
type ScoreFilter struct {
	BatchCode   string
	SubjectName string
	SchoolCode  string
	QuestionIDs []string
}
