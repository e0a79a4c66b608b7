package survey

import (
	"edu_stats_backend/internal/engine"
	"edu_stats_backend/internal/model"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New()
	require.NoError(t, Register(e))
	return e
}

func respondent(id string, answers map[string]int) *model.SurveyResponseSet {
	return &model.SurveyResponseSet{StudentID: id, Raw: answers}
}

func TestReverseTwiceIsIdentity(t *testing.T) {
	for _, width := range []int{3, 4, 5, 7, 10} {
		rev := ReverseTable(width)
		for lvl := 1; lvl <= width; lvl++ {
			once, ok := rev.Apply(lvl)
			require.True(t, ok)
			twice, ok := rev.Apply(once)
			require.True(t, ok)
			assert.Equal(t, lvl, twice, "width %d level %d", width, lvl)
		}
	}
	assert.Equal(t, ScaleTable{1: 5, 2: 4, 3: 3, 4: 2, 5: 1}, DefaultScale.Reverse)
	assert.Equal(t, "中性", DefaultScale.Labels[3])
}

func TestScaleTransformation(t *testing.T) {
	e := newEngine(t)
	dims := []Dimension{
		{Code: "D1", Name: "学习兴趣", ForwardQuestions: []string{"q1", "q2"}, ReverseQuestions: []string{"q3"}},
	}
	responses := []*model.SurveyResponseSet{
		respondent("s1", map[string]int{"q1": 5, "q2": 4, "q3": 1, "q9": 2}),
		respondent("s2", map[string]int{"q1": 2, "q2": 2, "q3": 4, "q9": 3}),
	}

	res, err := e.Calculate(engine.ScaleTransform, engine.Input{Responses: responses}, engine.Config{KeyDimensions: dims})
	require.NoError(t, err)

	assert.Equal(t, 1, responses[0].Raw["q3"], "raw answers stay untouched")
	assert.Equal(t, 5, responses[0].Transformed["q3"])
	assert.Equal(t, 2, responses[1].Transformed["q3"])
	assert.Equal(t, 3, responses[1].Transformed["q9"], "unassigned question treated as forward")

	summary := res["transformation_summary"].(map[string]*QuestionTransform)
	assert.Equal(t, Reverse, summary["q3"].Type)
	assert.Equal(t, 2, summary["q3"].ValidCount)
	assert.Equal(t, map[int]int{5: 1, 2: 1}, summary["q3"].TransformedDistribution)

	warnings := res["warnings"].([]string)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "q9")

	scores := res["dimension_scores"].(map[string]DimensionScore)
	assert.Equal(t, 2, scores["D1"].Count)
	assert.InDelta(t, 14.0/3, scores["D1"].Max, 1e-9)
	assert.InDelta(t, 2.0, scores["D1"].Min, 1e-9)
	assert.Equal(t, 3, scores["D1"].QuestionsCount)
}

func TestScaleTransformationOutOfScaleAnswers(t *testing.T) {
	responses := []*model.SurveyResponseSet{respondent("s1", map[string]int{"q1": 9, "q2": 3})}
	summary, warnings := Transform(responses, map[string]Direction{"q1": Forward, "q2": Reverse}, DefaultScale)

	assert.Equal(t, 1, summary["q1"].InvalidCount)
	_, ok := responses[0].Transformed["q1"]
	assert.False(t, ok)
	assert.Equal(t, 3, responses[0].Transformed["q2"])
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "outside the scale")
}

func TestScaleTransformationConfigErrors(t *testing.T) {
	e := newEngine(t)
	in := engine.Input{Responses: []*model.SurveyResponseSet{respondent("s1", map[string]int{"q1": 1})}}

	_, err := e.Calculate(engine.ScaleTransform, in, engine.Config{})
	var cfgErr *engine.ConfigError
	require.True(t, errors.As(err, &cfgErr))

	conflicting := []Dimension{
		{Code: "A", ForwardQuestions: []string{"q1"}},
		{Code: "B", ReverseQuestions: []string{"q1"}},
	}
	_, err = e.Calculate(engine.ScaleTransform, in, engine.Config{KeyDimensions: conflicting})
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Error(), "both forward and reverse")
}

func TestAggregateDimensionsUsesQuestionWeights(t *testing.T) {
	responses := []*model.SurveyResponseSet{
		{StudentID: "s1", Transformed: map[string]int{"q1": 5, "q2": 2, "q3": 4}},
		{StudentID: "s2", Transformed: map[string]int{"q1": 3, "q2": 3, "q3": 1}},
		{StudentID: "s3", Transformed: map[string]int{"q1": 1, "q2": 4, "q3": 2}},
	}
	dims := []Dimension{
		{Code: "A", ForwardQuestions: []string{"q1", "q2"}, QuestionWeights: map[string]float64{"q1": 2}},
		{Code: "B", ForwardQuestions: []string{"q3"}, Weight: 0.5},
	}
	a := AggregateDimensions(responses, dims)

	assert.InDelta(t, 4.0, a.StudentScore["A"]["s1"], 1e-9)
	assert.InDelta(t, 3.0, a.StudentScore["A"]["s2"], 1e-9)
	assert.InDelta(t, 2.0, a.StudentScore["A"]["s3"], 1e-9)
	assert.Equal(t, 0.5, a.Scores["B"].Weight)
	assert.InDelta(t, 7.0/6, a.Scores["B"].WeightedMean, 1e-9)

	require.Len(t, a.Correlations, 1)
	assert.Equal(t, 3, a.Correlations[0].SampleSize)
	assert.Equal(t, "A", a.Overall.HighestDimension)
	assert.Equal(t, "B", a.Overall.LowestDimension)
}

func TestCorrelationStrength(t *testing.T) {
	assert.Equal(t, "weak", CorrelationStrength(0.29))
	assert.Equal(t, "moderate", CorrelationStrength(-0.3))
	assert.Equal(t, "moderate", CorrelationStrength(0.6))
	assert.Equal(t, "strong", CorrelationStrength(0.61))

	c := correlate("A", "B", map[string]float64{"s1": 1, "s2": 1}, map[string]float64{"s1": 2, "s2": 3})
	assert.Equal(t, "undefined", c.Strength)
	assert.Equal(t, 0.0, c.Correlation)
}

func TestFrequencyAnalysis(t *testing.T) {
	e := newEngine(t)
	responses := []*model.SurveyResponseSet{
		respondent("s1", map[string]int{"q1": 1, "q2": 5}),
		respondent("s2", map[string]int{"q1": 2, "q2": 5}),
		respondent("s3", map[string]int{"q2": 4}),
	}
	res, err := e.Calculate(engine.FrequencyAnalysis, engine.Input{Responses: responses}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"q1", "q2"}, res["questions"])
	freqs := res["question_frequencies"].(map[string]QuestionFrequency)
	q1 := freqs["q1"]
	assert.Equal(t, map[int]int{1: 1, 2: 1}, q1.Frequencies)
	assert.Equal(t, 2, q1.ValidResponses)
	assert.Equal(t, 1, q1.MissingCount)
	assert.InDelta(t, 1.0/3, q1.MissingRate, 1e-9)
	assert.Equal(t, []int{1, 2}, q1.Levels())

	total := 0.0
	for _, p := range freqs["q2"].Percentages {
		total += p
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Equal(t, 5.0, freqs["q2"].Statistics.Mode)

	summary := res["overall_summary"].(FrequencySummary)
	assert.Equal(t, 6, summary.TotalPossibleResponses)
	assert.Equal(t, 5, summary.TotalValidResponses)
	assert.Equal(t, map[int]int{1: 1, 2: 1, 4: 1, 5: 2}, summary.OptionDistribution)
}

func TestFrequencyRejectsEmptyResponses(t *testing.T) {
	e := newEngine(t)
	_, err := e.Calculate(engine.FrequencyAnalysis, engine.Input{}, nil)
	var vErr *engine.ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestSurveyQuality(t *testing.T) {
	e := newEngine(t)
	questions := []string{"q01", "q02", "q03", "q04", "q05", "q06", "q07", "q08", "q09", "q10"}
	good := map[string]int{}
	flat := map[string]int{}
	for i, q := range questions {
		good[q] = []int{1, 2, 3, 4, 5, 4, 3, 2, 1, 2}[i]
		flat[q] = 3
	}
	responses := []*model.SurveyResponseSet{respondent("good", good), respondent("flat", flat)}

	res, err := e.Calculate(engine.SurveyQuality, engine.Input{Responses: responses}, engine.Config{engine.KeyQuestions: questions})
	require.NoError(t, err)

	summary := res["quality_summary"].(QualitySummary)
	assert.Equal(t, 2, summary.TotalResponses)
	assert.Equal(t, 1, summary.ValidResponses)
	assert.Equal(t, 0.5, summary.ValidityRate)
	assert.Equal(t, 2, summary.QualityIssues)

	flags := res["quality_flags"].(map[string]FlagStat)
	assert.Equal(t, 1, flags[FlagStraightLine].Count)
	assert.Equal(t, 1, flags[FlagNoVariance].Count)
	assert.Equal(t, 0, flags[FlagLowCompletion].Count)

	respondents := res["respondent_flags"].([]RespondentQuality)
	require.Len(t, respondents, 1)
	assert.Equal(t, "flat", respondents[0].StudentID)
	assert.ElementsMatch(t, []string{FlagStraightLine, FlagNoVariance}, respondents[0].Flags)

	recs := res["recommendations"].([]string)
	assert.Contains(t, recs, "发现 50.0% 的直线响应，建议增加反向题目或注意力检查题")
}

func TestAssessRespondentThresholds(t *testing.T) {
	rules := QualityRules{ResponseTimeMin: 30, ResponseTimeMax: 1800, StraightLineMax: 3, CompletionRateMin: 0.8, VarianceThreshold: 0.1}
	questions := []string{"q1", "q2", "q3", "q4", "q5"}

	rq := AssessRespondent(respondent("s", map[string]int{"q1": 2, "q2": 2}), questions, rules, 1, 5)
	assert.Equal(t, []string{FlagLowCompletion}, rq.Flags, "fewer than three answers skip run and variance checks")
	assert.False(t, rq.Valid)

	fast := 12.0
	r := respondent("s", map[string]int{"q1": 1, "q2": 5, "q3": 1, "q4": 5, "q5": 1})
	r.ResponseSeconds = &fast
	rq = AssessRespondent(r, questions, rules, 1, 5)
	assert.True(t, rq.Valid, "response time is advisory")
	assert.Contains(t, rq.Flags, FlagTooFast)
	assert.ElementsMatch(t, []string{PatternAlternating, PatternExtremeOnly}, rq.Patterns)

	rq = AssessRespondent(respondent("s", map[string]int{"q1": 1, "q2": 2, "q3": 3, "q4": 4, "q5": 5}), questions, rules, 1, 5)
	assert.Equal(t, []string{PatternAscending}, rq.Patterns)
}

func TestGenericLabels(t *testing.T) {
	rows := func(levels ...int) []model.OptionResponse {
		var out []model.OptionResponse
		for _, l := range levels {
			out = append(out, model.OptionResponse{OptionLevel: l})
		}
		return out
	}
	labels, err := GenericLabels{}.Labels(LabelQuery{Rows: rows(0, 1, 2, 3, 4)})
	require.NoError(t, err)
	assert.Equal(t, "非常不满意", labels[0])
	assert.Equal(t, "非常满意", labels[4])

	labels, _ = GenericLabels{}.Labels(LabelQuery{Rows: rows(1, 2, 4)})
	assert.Equal(t, map[int]string{1: "不满意", 2: "一般", 3: "满意"}, labels)

	labels, _ = GenericLabels{}.Labels(LabelQuery{Rows: rows(1, 2, 3, 4, 5, 6)})
	assert.Empty(t, labels)
}

func TestLabelResolverFallsBack(t *testing.T) {
	rows := []model.OptionResponse{
		{InstrumentType: "satisfaction", ScaleLevel: 4, OptionLevel: 1, OptionLabel: "差"},
		{InstrumentType: "satisfaction", ScaleLevel: 4, OptionLevel: 1, OptionLabel: "差"},
		{InstrumentType: "satisfaction", ScaleLevel: 4, OptionLevel: 1, OptionLabel: "较差"},
		{InstrumentType: "satisfaction", ScaleLevel: 4, OptionLevel: 2, OptionLabel: "好"},
	}
	failing := DictionaryLabels{Lookup: func(string, int) ([]model.ScaleOption, error) {
		return nil, errors.New("db down")
	}}
	r := NewLabelResolver(failing, InferredLabels{}, GenericLabels{})
	assert.Equal(t, map[int]string{1: "差", 2: "好"}, r.Resolve(LabelQuery{Rows: rows}))

	var gotType string
	var gotLevel int
	dict := DictionaryLabels{Lookup: func(kind string, level int) ([]model.ScaleOption, error) {
		gotType, gotLevel = kind, level
		return []model.ScaleOption{{OptionLevel: 1, OptionLabel: "非常不满意"}}, nil
	}}
	r = NewLabelResolver(dict, InferredLabels{})
	assert.Equal(t, map[int]string{1: "非常不满意"}, r.Resolve(LabelQuery{Rows: rows}))
	assert.Equal(t, "satisfaction", gotType)
	assert.Equal(t, 4, gotLevel)
}
