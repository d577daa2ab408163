package model

// Question is a single video assessment prompt. The order of questions in a
// QuestionSet drives numbering and navigation.
type Question struct {
	Text         string `json:"question"`
	RelatedSkill string `json:"relatedSkill,omitempty"`
}

// QuestionSet is the payload returned by the evaluation API for one course.
type QuestionSet struct {
	CourseID    string     `json:"courseId"`
	CourseTitle string     `json:"courseTitle"`
	Questions   []Question `json:"videoQuestions"`
}

// Len returns the number of questions in the set.
func (qs *QuestionSet) Len() int {
	if qs == nil {
		return 0
	}
	return len(qs.Questions)
}
